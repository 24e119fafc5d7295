package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBackupUserConfig_NoConfigReturnsEmptyPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.Empty(t, backupPath)
}

func TestBackupUserConfig_CopiesExistingConfigVerbatim(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	content := "version: 1\nembeddings:\n  provider: ollama\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	require.True(t, filepath.IsAbs(backupPath))

	got, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	require.Equal(t, content, string(got))
}

func TestBackupUserConfig_KeepsOnlyNewestMaxBackups(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte("version: 1\n"), 0644))

	for i := 0; i < MaxBackups+2; i++ {
		_, err := BackupUserConfig()
		require.NoError(t, err)
	}

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig_WritesBackupContentToConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := GetUserConfigPath()
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	original := "version: 1\nfusion:\n  rrf_constant: 60\n"
	require.NoError(t, os.WriteFile(configPath, []byte(original), 0644))

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte("version: 2\n"), 0644))
	require.NoError(t, RestoreUserConfig(backupPath))

	got, err := os.ReadFile(configPath)
	require.NoError(t, err)
	require.Equal(t, original, string(got))
}

func TestRestoreUserConfig_RejectsMissingBackupFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	err := RestoreUserConfig(filepath.Join(t.TempDir(), "nonexistent.bak.20200101-000000"))
	require.Error(t, err)
}
