package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, 6, cfg.App.CodeLength)
	assert.Equal(t, ":8080", cfg.App.Addr)
	assert.Equal(t, 256, cfg.QRCode.Size)
	assert.Equal(t, "media", cfg.Media.Root)
	assert.Empty(t, cfg.App.CORSOrigins)
	assert.False(t, cfg.App.IsProduction())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_DSN", ":memory:")
	t.Setenv("BASE_URL", "https://sho.rt/")
	t.Setenv("APP_ENV", "production")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("CLEANUP_INTERVAL", "15m")
	t.Setenv("CORS_ORIGINS", "https://admin.example.com,https://ops.example.com")
	t.Setenv("MEDIA_ROOT", "/var/lib/clickurl/media")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageDriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, ":memory:", cfg.Storage.SQLiteDSN)
	assert.Equal(t, "https://sho.rt", cfg.App.BaseURL)
	assert.True(t, cfg.App.IsProduction())
	assert.Equal(t, 6543, cfg.Postgres.Port)
	assert.Equal(t, 15*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, []string{"https://admin.example.com", "https://ops.example.com"}, cfg.App.CORSOrigins)
	assert.Equal(t, "/var/lib/clickurl/media", cfg.Media.Root)
}

func TestLoad_ExpiredLinkSweeperOffByDefault(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Zero(t, cfg.Cleanup.Interval)
}

func TestLoad_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "mongo")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestLoad_RejectsCodeLength(t *testing.T) {
	t.Setenv("APP_CODE_LENGTH", "2")

	_, err := Load()
	require.Error(t, err)
}
