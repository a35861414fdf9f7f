package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, time.Monday, cfg.WeekStartDay())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
db:
  driver: memory
timezone: Europe/Paris
week_start: SU
cors_origins: ["https://a.example"]
repair_interval: 15m
`), 0o600))
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_PROMETHEUS_ENDPOINT_ENABLED", "yes")
	t.Setenv("APP_CORS_ORIGINS", "https://b.example, https://c.example")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, DriverMemory, cfg.DB.Driver)
	assert.Equal(t, "Europe/Paris", cfg.Timezone)
	assert.Equal(t, time.Sunday, cfg.WeekStartDay())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.PrometheusEnabled)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.RepairInterval)
}

func TestRepairIntervalFromEnv(t *testing.T) {
	t.Setenv("APP_REPAIR_INTERVAL", "2m")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.RepairInterval)
}

func TestNormalizeFallsBack(t *testing.T) {
	cfg := &Config{DB: DBConfig{Driver: "oracle"}, WeekStart: "someday"}

	cfg.Normalize()

	assert.Equal(t, DriverSQLite, cfg.DB.Driver)
	assert.Equal(t, "monday", cfg.WeekStart)
	assert.Equal(t, "UTC", cfg.Timezone)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DB.Driver = DriverPostgres
	assert.Error(t, cfg.Validate())

	cfg.DB.PostgresDSN = "postgres://localhost/calendar"
	assert.NoError(t, cfg.Validate())

	cfg.Timezone = "Nowhere/Land"
	assert.Error(t, cfg.Validate())
}

func TestInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)

	assert.Error(t, err)
}
