package backup

import (
	"github.com/Aman-CERP/amanfacet/internal/config"
	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// FromConfig builds the object store selected by cfg.Store.
func FromConfig(cfg config.BackupConfig) (ObjectStore, error) {
	switch cfg.Store {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "s3":
		return NewS3Store(S3Options{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	case "minio":
		return NewMinIOStore(MinIOOptions{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, amerrors.ConfigError("unknown backup store", nil).WithDetail("store", cfg.Store)
	}
}
