package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controlroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  env: development\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 60*time.Minute, cfg.Auth.AccessTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.RefreshTTL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.GuestTTL)
	assert.Equal(t, 64, cfg.Realtime.BufferSize)
	assert.Equal(t, time.Duration(0), cfg.Session.IdleTimeout)
	assert.Equal(t, "controlroom:events", cfg.Redis.Channel)
	assert.Same(t, cfg, Get())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
session:
  idle_timeout: 30m
auth:
  guest:
    require_on_rest: true
`)
	t.Setenv("CONTROLROOM_LOG_LEVEL", "debug")
	t.Setenv("CONTROLROOM_AUTH_ACCESS_TTL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	assert.True(t, cfg.Auth.Guest.RequireOnREST)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 15*time.Minute, cfg.Auth.AccessTTL)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:      AppConfig{Env: "production"},
			Database: DatabaseConfig{Driver: "postgres"},
			Auth:     AuthConfig{Secret: "0123456789abcdef0123456789abcdef"},
			Realtime: RealtimeConfig{BufferSize: 8},
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("short secret in production", func(t *testing.T) {
		cfg := base()
		cfg.Auth.Secret = "short"
		assert.Error(t, cfg.Validate())
	})

	t.Run("short secret in development", func(t *testing.T) {
		cfg := base()
		cfg.App.Env = "development"
		cfg.Auth.Secret = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base()
		cfg.Database.Driver = "oracle"
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative idle timeout", func(t *testing.T) {
		cfg := base()
		cfg.Session.IdleTimeout = -time.Second
		assert.Error(t, cfg.Validate())
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.RateLimit.VerifyCasePerHour)
	assert.Equal(t, "@every 1m", cfg.Session.ExpirySchedule)
	assert.True(t, cfg.IsDev())
}
