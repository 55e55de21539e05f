package backup

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// ErrObjectNotFound is returned by Get for a missing key.
var ErrObjectNotFound = amerrors.Sentinel(amerrors.ErrCodeNotFound, "backup object not found")

// Object is one stored archive.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// ObjectStore is the storage behind export and restore. Keys use forward
// slashes regardless of platform.
type ObjectStore interface {
	// Put stores size bytes from body under key, replacing any object.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// Get opens the object under key; ErrObjectNotFound when absent.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// List returns the objects whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Object, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

func notFound(key string, cause error) error {
	return amerrors.New(amerrors.ErrCodeNotFound, ErrObjectNotFound.Message, cause).WithDetail("key", key)
}

func storeError(op, key string, cause error) error {
	return amerrors.New(amerrors.ErrCodeObjectStore, op+" failed", cause).
		WithDetail("operation", op).
		WithDetail("key", key)
}

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates root if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, amerrors.ConfigError("backup directory is required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "create backup directory", err).WithDetail("path", root)
	}
	return &LocalStore{root: root}, nil
}

// Root returns the store directory.
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) file(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", amerrors.New(amerrors.ErrCodeInvalidInput, "invalid object key", nil).WithDetail("key", key)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// Put writes to a temp file in the target directory and renames it into
// place, so readers never see a partial archive.
func (s *LocalStore) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dst, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return storeError("put", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return storeError("put", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := body.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		return storeError("put", key, err)
	}
	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return storeError("put", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return storeError("put", key, err)
	}
	if err := tmp.Close(); err != nil {
		return storeError("put", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return storeError("put", key, err)
	}
	return nil
}

// Get opens the file for key.
func (s *LocalStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.file(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notFound(key, err)
	}
	if err != nil {
		return nil, storeError("get", key, err)
	}
	return f, nil
}

// List walks the root and returns files whose key has prefix.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, Object{Key: key, Size: info.Size(), Modified: info.ModTime()})
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, storeError("list", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the file for key.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.file(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storeError("delete", key, err)
	}
	return nil
}
