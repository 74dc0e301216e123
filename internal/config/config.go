// Package config loads cardwatch settings from config.yaml, .env and the
// environment, and installs the global logger.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Check   CheckConfig   `yaml:"check" mapstructure:"check"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CatalogConfig configures the Scryfall client.
type CatalogConfig struct {
	BaseURL          string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent        string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec       float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst            int     `yaml:"burst" mapstructure:"burst"`
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
	BatchSize        int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// Timeout returns the HTTP client timeout.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// CheckConfig configures reconciliation passes.
type CheckConfig struct {
	Workers         int `yaml:"workers" mapstructure:"workers"`
	ItemTimeoutSecs int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	IntervalMins    int `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// ItemTimeout bounds a single catalog lookup inside a pass.
func (c CheckConfig) ItemTimeout() time.Duration {
	return time.Duration(c.ItemTimeoutSecs) * time.Second
}

// Interval is the delay between passes in watch mode.
func (c CheckConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMins) * time.Minute
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables still win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CARDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cardwatch.db")
	v.SetDefault("catalog.base_url", "https://api.scryfall.com")
	v.SetDefault("catalog.user_agent", "cardwatch/1.0")
	v.SetDefault("catalog.timeout_secs", 10)
	v.SetDefault("catalog.rate_per_sec", 10.0)
	v.SetDefault("catalog.burst", 1)
	v.SetDefault("catalog.max_attempts", 3)
	v.SetDefault("catalog.initial_backoff_ms", 250)
	v.SetDefault("catalog.max_backoff_ms", 5000)
	v.SetDefault("catalog.failure_threshold", 5)
	v.SetDefault("catalog.reset_timeout_secs", 30)
	v.SetDefault("catalog.batch_size", 75)
	v.SetDefault("check.workers", 4)
	v.SetDefault("check.item_timeout_secs", 10)
	v.SetDefault("check.interval_mins", 360)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, eris.New("store.database_url is required for postgres"))
		}
	default:
		errs = append(errs, eris.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Catalog.BaseURL == "" {
		errs = append(errs, eris.New("catalog.base_url is required"))
	}
	if c.Catalog.TimeoutSecs < 1 {
		errs = append(errs, eris.New("catalog.timeout_secs must be at least 1"))
	}
	if c.Catalog.BatchSize < 0 || c.Catalog.BatchSize > 75 {
		errs = append(errs, eris.New("catalog.batch_size must be between 0 and 75"))
	}
	if c.Check.Workers < 1 {
		errs = append(errs, eris.New("check.workers must be at least 1"))
	}
	if c.Check.ItemTimeoutSecs < 1 {
		errs = append(errs, eris.New("check.item_timeout_secs must be at least 1"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, eris.New("server.port must be between 1 and 65535"))
	}
	return errors.Join(errs...)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
