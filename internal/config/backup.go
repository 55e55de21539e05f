package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

const (
	// MaxBackups is the number of config backups kept.
	MaxBackups = 3

	// BackupSuffix precedes the timestamp in backup file names.
	BackupSuffix = ".bak"

	backupStamp = "20060102-150405.000000000"
)

// BackupUserConfig copies the user config to a timestamped sibling
// (config.yaml.bak.<stamp>) and prunes all but the newest MaxBackups.
// It returns "" and no error when there is no user config.
func BackupUserConfig() (string, error) {
	return backupFile(GetUserConfigPath(), time.Now())
}

// ListUserConfigBackups returns the user config backups, newest first.
func ListUserConfigBackups() ([]string, error) {
	return listBackups(GetUserConfigPath())
}

// RestoreUserConfig replaces the user config with backupPath, backing up
// the current file first.
func RestoreUserConfig(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return amerrors.New(amerrors.ErrCodeNotFound, "config backup not found", err).WithDetail("path", backupPath)
	}

	// A backup that no longer parses would leave the CLI unusable.
	candidate := NewConfig()
	if err := candidate.decodeFile(backupPath); err != nil {
		return err
	}

	path := GetUserConfigPath()
	if _, err := backupFile(path, time.Now()); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return amerrors.New(amerrors.ErrCodeFilePermission, "failed to write restored config", err).WithDetail("path", path)
	}
	return nil
}

func backupFile(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "failed to read config for backup", err).WithDetail("path", path)
	}

	dst := fmt.Sprintf("%s%s.%s", path, BackupSuffix, now.UTC().Format(backupStamp))
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", amerrors.New(amerrors.ErrCodeFilePermission, "failed to write config backup", err).WithDetail("path", dst)
	}

	backups, err := listBackups(path)
	if err == nil && len(backups) > MaxBackups {
		for _, old := range backups[MaxBackups:] {
			_ = os.Remove(old)
		}
	}
	return dst, nil
}

// listBackups orders by the embedded timestamp, which sorts lexically.
func listBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, amerrors.New(amerrors.ErrCodeFilePermission, "failed to list config directory", err).WithDetail("path", dir)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}
