// Package config loads compsearch settings from defaults, a YAML file,
// COMPSEARCH_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g.
// COMPSEARCH_STORE_BACKEND overrides store.backend.
const EnvPrefix = "COMPSEARCH"

// Config is the full set of compsearch settings.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Store    StoreConfig    `mapstructure:"store"`
	Expand   ExpandConfig   `mapstructure:"expand"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Progress ProgressConfig `mapstructure:"progress"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// CatalogConfig selects the entity catalog.
type CatalogConfig struct {
	// Path to a .cue, .json or .yaml catalog. Empty uses the built-in catalog.
	Path string `mapstructure:"path"`
}

// StoreConfig selects and tunes the frontier backend.
type StoreConfig struct {
	// Backend is one of ValidBackends().
	Backend string `mapstructure:"backend"`
	// Path is the SQLite file or Badger directory.
	Path string `mapstructure:"path"`
	// DSN is the PostgreSQL connection string.
	DSN string `mapstructure:"dsn"`
	// Timeout bounds every individual store call.
	Timeout time.Duration `mapstructure:"timeout"`
	// InMemory keeps sqlite or badger data in RAM only.
	InMemory bool `mapstructure:"in_memory"`
	// SyncWrites fsyncs each badger commit.
	SyncWrites bool `mapstructure:"sync_writes"`
	// MaxConns caps the PostgreSQL pool.
	MaxConns int `mapstructure:"max_conns"`
}

// ExpandConfig tunes the expansion run.
type ExpandConfig struct {
	MaxSize   int `mapstructure:"max_size"`
	PageSize  int `mapstructure:"page_size"`
	BatchSize int `mapstructure:"batch_size"`
	Workers   int `mapstructure:"workers"`
	Writers   int `mapstructure:"writers"`
}

// RetryConfig bounds retries of transient store failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// ScoringConfig tunes the scoring pass.
type ScoringConfig struct {
	// Weights maps trait name to per-threshold weights.
	// Viper lowercases map keys, so trait names are matched case-insensitively.
	Weights map[string][]float64 `mapstructure:"weights"`
	// WeightsFile is a YAML file with the same shape as Weights.
	// Entries in Weights take precedence.
	WeightsFile string `mapstructure:"weights_file"`
	PageSize    int    `mapstructure:"page_size"`
	Workers     int    `mapstructure:"workers"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr to serve /metrics on, e.g. ":9090". Empty disables the endpoint.
	Addr string `mapstructure:"addr"`
}

// ProgressConfig controls progress event publishing.
type ProgressConfig struct {
	// RedisAddr enables publishing to Redis pub/sub when set.
	RedisAddr string `mapstructure:"redis_addr"`
	Channel   string `mapstructure:"channel"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	// Stdout writes spans as JSON to stderr.
	Stdout bool `mapstructure:"stdout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:  BackendSQLite,
			Path:     "compsearch.db",
			Timeout:  30 * time.Second,
			MaxConns: 8,
		},
		Expand: ExpandConfig{
			MaxSize:   4,
			PageSize:  10000,
			BatchSize: 1000,
			Workers:   4,
			Writers:   1,
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		Scoring: ScoringConfig{
			PageSize: 10000,
			Workers:  4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Progress: ProgressConfig{
			Channel: "compsearch:progress",
		},
	}
}

// New returns a viper instance with defaults registered and environment
// binding enabled.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("catalog.path", d.Catalog.Path)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.timeout", d.Store.Timeout)
	v.SetDefault("store.in_memory", d.Store.InMemory)
	v.SetDefault("store.sync_writes", d.Store.SyncWrites)
	v.SetDefault("store.max_conns", d.Store.MaxConns)

	v.SetDefault("expand.max_size", d.Expand.MaxSize)
	v.SetDefault("expand.page_size", d.Expand.PageSize)
	v.SetDefault("expand.batch_size", d.Expand.BatchSize)
	v.SetDefault("expand.workers", d.Expand.Workers)
	v.SetDefault("expand.writers", d.Expand.Writers)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)

	v.SetDefault("scoring.weights_file", d.Scoring.WeightsFile)
	v.SetDefault("scoring.page_size", d.Scoring.PageSize)
	v.SetDefault("scoring.workers", d.Scoring.Workers)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("progress.redis_addr", d.Progress.RedisAddr)
	v.SetDefault("progress.channel", d.Progress.Channel)

	v.SetDefault("tracing.stdout", d.Tracing.Stdout)
}

// ReadFile merges the YAML config file at path into v.
func ReadFile(v *viper.Viper, path string) error {
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from v into a Config struct and validates it.
// Validation failures are returned as ValidationErrors.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
