package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	Review         ReviewConfig         `yaml:"review" mapstructure:"review"`
	Interpretation InterpretationConfig `yaml:"interpretation" mapstructure:"interpretation"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Diagnostics    DiagnosticsConfig    `yaml:"diagnostics" mapstructure:"diagnostics"`
	Otel           OtelConfig           `yaml:"otel" mapstructure:"otel"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ReviewConfig tunes the review pipeline.
type ReviewConfig struct {
	MaxSuggestions int `yaml:"max_suggestions" mapstructure:"max_suggestions"`
	MaxDetected    int `yaml:"max_detected" mapstructure:"max_detected"`
	CanonicalTotal int `yaml:"canonical_total" mapstructure:"canonical_total"`
}

// InterpretationConfig configures the interpretation service client.
type InterpretationConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Token       string  `yaml:"token" mapstructure:"token"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
}

// ServerConfig configures the HTTP review server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// DiagnosticsConfig configures where diagnostic events are delivered.
type DiagnosticsConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
	Persist    bool   `yaml:"persist" mapstructure:"persist"`
	// DocumentHistory is how many documents the server remembers emitted
	// diagnostics for.
	DocumentHistory int `yaml:"document_history" mapstructure:"document_history"`
}

// OtelConfig configures OpenTelemetry tracing.
type OtelConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("review.max_suggestions", 5)
	v.SetDefault("review.max_detected", 3)
	v.SetDefault("review.canonical_total", 30)
	v.SetDefault("interpretation.timeout_secs", 30)
	v.SetDefault("interpretation.rate_per_sec", 5.0)
	v.SetDefault("interpretation.burst", 5)
	v.SetDefault("interpretation.max_retries", 3)
	v.SetDefault("diagnostics.persist", true)
	v.SetDefault("diagnostics.document_history", 1024)
	v.SetDefault("otel.service_name", "record-review")
	v.SetDefault("otel.sample_ratio", 1.0)

	// Read config file (optional)
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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "review", "mcp":
	case "fetch":
		if c.Interpretation.BaseURL == "" {
			errs = append(errs, "interpretation.base_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Diagnostics.DocumentHistory < 1 {
			errs = append(errs, "diagnostics.document_history must be > 0")
		}
	case "diagnostics":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Review.MaxSuggestions < 1 || c.Review.MaxSuggestions > 20 {
		errs = append(errs, fmt.Sprintf("review.max_suggestions must be between 1 and 20, got %d", c.Review.MaxSuggestions))
	}
	if c.Review.MaxDetected < 0 || c.Review.MaxDetected > 20 {
		errs = append(errs, fmt.Sprintf("review.max_detected must be between 0 and 20, got %d", c.Review.MaxDetected))
	}
	if c.Review.CanonicalTotal < 1 {
		errs = append(errs, "review.canonical_total must be > 0")
	}
	if c.Interpretation.RatePerSec < 0 {
		errs = append(errs, "interpretation.rate_per_sec must be >= 0")
	}
	if c.Otel.Enabled && (c.Otel.SampleRatio < 0 || c.Otel.SampleRatio > 1) {
		errs = append(errs, "otel.sample_ratio must be between 0 and 1")
	}
	switch c.Store.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
