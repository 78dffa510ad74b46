// Package config loads settings from defaults, an optional YAML file,
// .env files and the environment, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"

	SourceInnertube = "innertube"
	SourceWatch     = "watch"
)

// ErrMissingAPIKey is returned by RequireAPIKey when no key is configured.
var ErrMissingAPIKey = errors.New("missing API key, set YT_KEY")

type Config struct {
	APIKey      string            `yaml:"api_key"`
	OutputDir   string            `yaml:"output_dir"`
	Database    DatabaseConfig    `yaml:"database"`
	Log         LogConfig         `yaml:"log"`
	Quota       QuotaConfig       `yaml:"quota"`
	Retry       RetryConfig       `yaml:"retry"`
	API         APIConfig         `yaml:"api"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
	Server      ServerConfig      `yaml:"server"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Dir        string `yaml:"dir"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type QuotaConfig struct {
	DailyLimit int64  `yaml:"daily_limit"`
	Timezone   string `yaml:"timezone"`
	RedisURL   string `yaml:"redis_url"`
}

type RetryConfig struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type APIConfig struct {
	PageSize          int           `yaml:"page_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type TranscriptsConfig struct {
	Source    string   `yaml:"source"`
	Languages []string `yaml:"languages"`
	Refetch   bool     `yaml:"refetch"`
}

func Default() *Config {
	return &Config{
		OutputDir: "output",
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			DSN:    "output/tubescriber.db",
		},
		Log: LogConfig{
			Dir:        ".logs",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Quota: QuotaConfig{
			DailyLimit: 10_000,
			Timezone:   "America/Los_Angeles",
		},
		Retry: RetryConfig{
			Attempts:       3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		API: APIConfig{
			PageSize:          50,
			RequestsPerSecond: 5,
			Burst:             5,
			Timeout:           30 * time.Second,
		},
		Transcripts: TranscriptsConfig{
			Source:    SourceInnertube,
			Languages: []string{"en"},
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Load builds the configuration, path is an optional YAML file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	loadEnvFiles()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return errors.Wrapf(err, "parsing config file %q", path)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.APIKey = getEnv("YT_KEY", getEnv("API_KEY", c.APIKey))
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)

	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		c.Database.Driver = DriverPostgres
		c.Database.DSN = dsn
	}
	c.Database.DSN = getEnv("DB_DSN", c.Database.DSN)
	c.Database.Driver = getEnv("DB_DRIVER", driverFor(c.Database.DSN, c.Database.Driver))

	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	c.Quota.DailyLimit = int64(getEnvAsInt("QUOTA_DAILY_LIMIT", int(c.Quota.DailyLimit)))
	c.Quota.Timezone = getEnv("QUOTA_TIMEZONE", c.Quota.Timezone)
	c.Quota.RedisURL = getEnv("REDIS_URL", c.Quota.RedisURL)

	c.Retry.Attempts = getEnvAsInt("RETRY_ATTEMPTS", c.Retry.Attempts)
	c.Retry.InitialBackoff = getEnvAsDuration("RETRY_INITIAL_BACKOFF", c.Retry.InitialBackoff)
	c.Retry.MaxBackoff = getEnvAsDuration("RETRY_MAX_BACKOFF", c.Retry.MaxBackoff)

	c.API.PageSize = getEnvAsInt("PAGE_SIZE", c.API.PageSize)
	c.API.RequestsPerSecond = getEnvAsFloat("API_RPS", c.API.RequestsPerSecond)
	c.API.Burst = getEnvAsInt("API_BURST", c.API.Burst)
	c.API.Timeout = getEnvAsDuration("HTTP_TIMEOUT", c.API.Timeout)

	c.Transcripts.Source = getEnv("TRANSCRIPT_SOURCE", c.Transcripts.Source)
	c.Transcripts.Languages = getEnvAsStringSlice("TRANSCRIPT_LANGUAGES", c.Transcripts.Languages)
	c.Transcripts.Refetch = getEnvAsBool("TRANSCRIPT_REFETCH", c.Transcripts.Refetch)

	c.Server.Addr = getEnv("ADDR", c.Server.Addr)
}

// driverFor picks postgres for postgres URLs and keeps fallback otherwise.
func driverFor(dsn, fallback string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DriverPostgres
	}
	return fallback
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database dsn must not be empty")
	}
	if c.OutputDir == "" {
		return errors.New("output dir must not be empty")
	}
	if c.Quota.DailyLimit <= 0 {
		return errors.Errorf("quota daily limit must be positive, got %d", c.Quota.DailyLimit)
	}
	if _, err := time.LoadLocation(c.Quota.Timezone); err != nil {
		return errors.Wrapf(err, "quota timezone %q", c.Quota.Timezone)
	}
	if c.Retry.Attempts < 1 {
		return errors.Errorf("retry attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.InitialBackoff < 0 || c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		return errors.Errorf("invalid retry backoff %s..%s", c.Retry.InitialBackoff, c.Retry.MaxBackoff)
	}
	if c.API.PageSize < 1 || c.API.PageSize > 50 {
		return errors.Errorf("page size must be between 1 and 50, got %d", c.API.PageSize)
	}
	if c.API.RequestsPerSecond <= 0 || c.API.Burst < 1 {
		return errors.New("api rate limit must be positive")
	}
	switch c.Transcripts.Source {
	case SourceInnertube, SourceWatch:
	default:
		return errors.Errorf("unsupported transcript source %q", c.Transcripts.Source)
	}
	if len(c.Transcripts.Languages) == 0 {
		return errors.New("at least one transcript language is required")
	}
	return nil
}

// RequireAPIKey is checked by commands that talk to the remote API.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Location returns the time zone the quota window is counted in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
