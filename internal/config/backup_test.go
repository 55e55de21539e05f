package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

func TestBackupUserConfig_NoConfig(t *testing.T) {
	isolate(t)
	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestBackupUserConfig_CopiesContent(t *testing.T) {
	// Given: a user config
	isolate(t)
	content := "version: 1\nsearch:\n  max_page_size: 5\n"
	writeFile(t, GetUserConfigPath(), content)

	// When: backing it up
	path, err := BackupUserConfig()
	require.NoError(t, err)

	// Then: the backup sits next to it with identical bytes
	assert.Equal(t, GetUserConfigDir(), filepath.Dir(path))
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestBackupFile_KeepsNewest(t *testing.T) {
	// Given: a config backed up five times at increasing times
	isolate(t)
	writeFile(t, GetUserConfigPath(), "version: 1\n")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var made []string
	for i := 0; i < 5; i++ {
		p, err := backupFile(GetUserConfigPath(), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		made = append(made, p)
	}

	// Then: only the newest MaxBackups remain, newest first
	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Equal(t, []string{made[4], made[3], made[2]}, backups)
	assert.NoFileExists(t, made[0])
}

func TestRestoreUserConfig(t *testing.T) {
	// Given: a backup of an old config and a newer current config
	isolate(t)
	writeFile(t, GetUserConfigPath(), "search:\n  max_page_size: 5\n")
	old, err := BackupUserConfig()
	require.NoError(t, err)
	writeFile(t, GetUserConfigPath(), "search:\n  max_page_size: 9\n")

	// When: restoring
	require.NoError(t, RestoreUserConfig(old))

	// Then: the old content is back and the replaced one was backed up
	cfg, err := LoadUserConfig()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Search.MaxPageSize)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 2)
}

func TestRestoreUserConfig_Errors(t *testing.T) {
	isolate(t)

	err := RestoreUserConfig(filepath.Join(t.TempDir(), "nope.bak"))
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeNotFound, amerrors.GetCode(err))

	broken := filepath.Join(t.TempDir(), "config.yaml.bak.x")
	writeFile(t, broken, "search: [\n")
	err = RestoreUserConfig(broken)
	require.Error(t, err)
	assert.Equal(t, amerrors.ErrCodeConfigInvalid, amerrors.GetCode(err))
	assert.False(t, UserConfigExists())
}
