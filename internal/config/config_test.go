package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ATO_CONFIG", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, 2*time.Second, cfg.Rates.LookupTimeout)
	assert.Equal(t, 15*time.Second, cfg.Analysis.FetchTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ATO_CONFIG", "")
	t.Setenv("ATO_SERVER_PORT", "9090")
	t.Setenv("ATO_DATABASE_DRIVER", "memory")
	t.Setenv("ATO_RATES_LOOKUP_TIMEOUT", "500ms")
	t.Setenv("ATO_SERVER_ALLOWED_ORIGINS", "https://app.example.com,https://admin.example.com")
	t.Setenv("DATABASE_URL", "postgres://localhost/ato")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 500*time.Millisecond, cfg.Rates.LookupTimeout)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "postgres://localhost/ato", cfg.Database.DSN)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[log]\nlevel = \"debug\"\nformat = \"json\"\n"), 0o600))
	t.Setenv("ATO_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("ATO_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitDBRequiresDSN(t *testing.T) {
	_, err := InitDB(DatabaseConfig{})
	assert.ErrorContains(t, err, "dsn is empty")
}
