package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadClean(t *testing.T) *Config {
	t.Helper()
	viper.Reset()
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadClean(t)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, "data/hark.db", cfg.Store.Path)
	assert.Equal(t, "data/uploads", cfg.Upload.Dir)
	assert.Equal(t, int64(500*1024*1024), cfg.Upload.MaxFileSize)

	assert.Equal(t, time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Worker.ErrorBackoff)
	assert.Empty(t, cfg.Worker.ID)

	assert.Equal(t, 30*time.Second, cfg.Sweeper.Interval)
	assert.Equal(t, 3600*time.Second, cfg.Sweeper.TaskTimeout)
	assert.Equal(t, 300*time.Second, cfg.Sweeper.HeartbeatTimeout)

	assert.Equal(t, "small", cfg.Engine.ModelSize)
	assert.Equal(t, "cpu", cfg.Engine.Device)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)

	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverride(t *testing.T) {
	os.Setenv("HARK_LOGLEVEL", "debug")
	defer os.Unsetenv("HARK_LOGLEVEL")

	cfg := loadClean(t)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_EnvOverrideStorePath(t *testing.T) {
	os.Setenv("HARK_STORE.PATH", "/var/lib/hark/hark.db")
	defer os.Unsetenv("HARK_STORE.PATH")

	// No env key replacer is configured, so the nested key store.path maps to
	// HARK_STORE.PATH with the dot kept; check the value viper resolves
	viper.Reset()
	_, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hark/hark.db", viper.GetString("store.path"))
}
