package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("STOREFRONT_TOKEN", "secret-token")

	yamlContent := `
database:
  path: "test.db"
storefront:
  base_url: "https://shop.example.com/"
  access_token: "${STOREFRONT_TOKEN}"
sync:
  session_duration: 90
  max_sync_duration: 2m
  lock_backend: redis
  event_label: "Studio session"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "secret-token", cfg.Storefront.AccessToken)
	assert.Equal(t, "https://shop.example.com", cfg.Storefront.BaseURL)
	assert.Equal(t, 90, cfg.Sync.SessionDuration)
	assert.Equal(t, 2*time.Minute, cfg.Sync.MaxSyncDuration)
	assert.Equal(t, LockBackendRedis, cfg.Sync.LockBackend)
	assert.Equal(t, "Studio session", cfg.Sync.EventLabel)

	// defaults
	assert.Equal(t, 15, cfg.Sync.BufferTime)
	assert.Equal(t, "Asia/Manila", cfg.Sync.Timezone)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, 5, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Minute, cfg.Sync.RetryBaseDelay)
	assert.Equal(t, 24*time.Hour, cfg.Sync.RetryMaxDelay)
	assert.Equal(t, 5*time.Minute, cfg.Sync.SyncInterval)
	assert.Equal(t, "primary", cfg.Google.CalendarID)
	assert.Equal(t, 3, cfg.Storefront.MaxRetries)
	assert.Equal(t, 2.0, cfg.Storefront.RPS)
	assert.True(t, cfg.Sync.IsEnabled())
	assert.Equal(t, 90*time.Minute, cfg.Sync.Session())
	assert.Equal(t, 15*time.Minute, cfg.Sync.Buffer())

	var s SyncConfig
	ApplySyncDefaults(&s)
	assert.Equal(t, "Session", s.EventLabel)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		var c Config
		c.Database.Path = "sync.db"
		ApplySyncDefaults(&c.Sync)
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown lock backend", mutate: func(c *Config) { c.Sync.LockBackend = "etcd" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Sync.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "negative interval", mutate: func(c *Config) { c.Sync.SyncInterval = -time.Second }, wantErr: true},
		{name: "max below base", mutate: func(c *Config) { c.Sync.RetryMaxDelay = time.Second }, wantErr: true},
		{name: "jitter out of range", mutate: func(c *Config) { c.Sync.RetryJitter = 1.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSyncEnabledFlag(t *testing.T) {
	off := false
	assert.False(t, SyncConfig{Enabled: &off}.IsEnabled())
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	assert.Equal(t, DefaultConfigPath, PathFromEnv())
	t.Setenv("CONFIG_PATH", "/etc/sync.yaml")
	assert.Equal(t, "/etc/sync.yaml", PathFromEnv())
}
