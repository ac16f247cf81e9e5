package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("ORGANIZER_DATA_DIR", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.json")

	// Missing file yields defaults
	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.InstanceID)

	cfg.WatchPath = filepath.Join(t.TempDir(), "inbox")
	cfg.StatusAddr = "127.0.0.1:8089"
	require.NoError(t, cfg.Save(configPath))
	assert.FileExists(t, configPath)

	cfg2, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, cfg.WatchPath, cfg2.WatchPath)
	assert.Equal(t, cfg.StatusAddr, cfg2.StatusAddr)
	assert.Equal(t, cfg.InstanceID, cfg2.InstanceID, "instanceId changed after save/load")
}

func TestConfigDefaults(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("ORGANIZER_DATA_DIR", dataDir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultIgnored, cfg.Ignored)
	assert.True(t, cfg.IgnoreInitial)
	assert.Equal(t, 2*time.Second, cfg.StabilityThreshold())
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, filepath.Join(dataDir, "organizer.log"), cfg.LogFilePath)
	assert.Equal(t, 10, cfg.LogMaxSizeMB)
	assert.Empty(t, cfg.StatusAddr)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	t.Setenv("ORGANIZER_DATA_DIR", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"pollIntervalMs": 250}`), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, 2*time.Second, cfg.StabilityThreshold())
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Setenv("ORGANIZER_DATA_DIR", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte("{"), 0600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_WatchPathFromEnv(t *testing.T) {
	t.Setenv("ORGANIZER_DATA_DIR", t.TempDir())
	watch := t.TempDir()
	t.Setenv("ORGANIZER_WATCH_PATH", watch)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, watch, cfg.WatchPath)
}

func TestValidate(t *testing.T) {
	t.Setenv("ORGANIZER_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	cfg.WatchPath = t.TempDir()
	assert.NoError(t, cfg.Validate())

	cfg.WatchPath = "relative/dir"
	cfg.Ignored = "("
	cfg.PollIntervalMs = -1
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watchPath must be absolute")
	assert.Contains(t, err.Error(), "invalid ignored pattern")
	assert.Contains(t, err.Error(), "pollIntervalMs")
}
