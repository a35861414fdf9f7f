// Package config loads server configuration from an optional YAML file,
// then APP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/warp/calendar-engine/calendar"
)

// Supported storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DBConfig selects and configures the store.
type DBConfig struct {
	// Driver is one of "sqlite" (default), "postgres", "memory".
	Driver string `yaml:"driver" json:"driver"`

	// SQLitePath is the database file. ":memory:" keeps it in RAM.
	SQLitePath string `yaml:"sqlite_path" json:"sqlite_path"`

	// PostgresDSN is a pgx connection string.
	PostgresDSN string `yaml:"postgres_dsn" json:"postgres_dsn"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	DB DBConfig `yaml:"db" json:"db"`

	// Timezone is the IANA zone applied to events created without one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the default week start for rules ("monday" or "sunday").
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// PrometheusEnabled exposes /metrics.
	PrometheusEnabled bool `yaml:"prometheus_enabled" json:"prometheus_enabled"`

	// CORSOrigins are the allowed browser origins.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// SeedSamples loads the demo series on startup when the store is empty.
	SeedSamples bool `yaml:"seed_samples" json:"seed_samples"`

	// RepairInterval is how often events without instances are republished.
	// Zero disables the background pass.
	RepairInterval time.Duration `yaml:"repair_interval" json:"repair_interval"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		Listen: ":8080",
		DB: DBConfig{
			Driver:     DriverSQLite,
			SQLitePath: "calendar.db",
		},
		Timezone:       "UTC",
		WeekStart:      "monday",
		LogLevel:       "INFO",
		CORSOrigins:    []string{"*"},
		RepairInterval: time.Hour,
	}
}

// Normalize fills in missing values and falls back on unknown ones.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	switch c.DB.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		c.DB.Driver = def.DB.Driver
	}
	if c.DB.SQLitePath == "" {
		c.DB.SQLitePath = def.DB.SQLitePath
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if _, ok := weekdayByName[c.WeekStart]; !ok {
		// Two-letter codes ("MO") are accepted too.
		if wd, err := calendar.ParseWeekday(c.WeekStart); err == nil {
			c.WeekStart = strings.ToLower(wd.String())
		} else {
			c.WeekStart = def.WeekStart
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = def.CORSOrigins
	}
	if c.RepairInterval < 0 {
		c.RepairInterval = 0
	}
}

// Validate reports settings that cannot be normalized away.
func (c *Config) Validate() error {
	if c.DB.Driver == DriverPostgres && c.DB.PostgresDSN == "" {
		return errors.New("db.postgres_dsn (or APP_DB_DSN) is required for the postgres driver")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// WeekStartDay returns the configured week start. Call after Normalize.
func (c *Config) WeekStartDay() time.Weekday {
	if wd, ok := weekdayByName[c.WeekStart]; ok {
		return wd
	}
	return time.Monday
}

var weekdayByName = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

// Load reads the YAML file at path when given, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = getenvDefault("APP_LISTEN_ADDR", cfg.Listen)
	cfg.DB.Driver = getenvDefault("APP_DB_DRIVER", cfg.DB.Driver)
	cfg.DB.SQLitePath = getenvDefault("APP_SQLITE_PATH", cfg.DB.SQLitePath)
	cfg.DB.PostgresDSN = getenvDefault("APP_DB_DSN", cfg.DB.PostgresDSN)
	cfg.Timezone = getenvDefault("APP_TIMEZONE", cfg.Timezone)
	cfg.WeekStart = getenvDefault("APP_WEEK_START", cfg.WeekStart)
	cfg.LogLevel = getenvDefault("APP_LOG_LEVEL", cfg.LogLevel)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	cfg.SeedSamples = getenvBool("APP_SEED_SAMPLES", cfg.SeedSamples)
	cfg.RepairInterval = getenvDuration("APP_REPAIR_INTERVAL", cfg.RepairInterval)
	if origins := getenvList("APP_CORS_ORIGINS"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getenvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
