package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/magefree/eventprobe-go/internal/capture"
	"github.com/spf13/viper"
)

// Config is the root configuration for the event probe.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Capture CaptureConfig `mapstructure:"capture"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Demo    DemoConfig    `mapstructure:"demo"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json or console
}

// CaptureConfig controls registry behavior.
type CaptureConfig struct {
	// RetainLogs keeps an event's invocations readable after unregister.
	RetainLogs bool `mapstructure:"retain_logs"`
}

// MetricsConfig controls Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// DemoConfig sizes the harness run in cmd/eventprobe.
type DemoConfig struct {
	Workers        int `mapstructure:"workers"`
	FiresPerWorker int `mapstructure:"fires_per_worker"`
}

const envPrefix = "EVENTPROBE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("capture.retain_logs", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "eventprobe")
	v.SetDefault("demo.workers", 8)
	v.SetDefault("demo.fires_per_worker", 100)
}

// Load reads configuration from path, environment variables prefixed with
// EVENTPROBE_ and defaults, in that order of precedence from lowest to
// highest: defaults, file, environment. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return errors.New("metrics.namespace: required when metrics are enabled")
	}
	if c.Demo.Workers <= 0 {
		return fmt.Errorf("demo.workers: must be positive, got %d", c.Demo.Workers)
	}
	if c.Demo.FiresPerWorker <= 0 {
		return fmt.Errorf("demo.fires_per_worker: must be positive, got %d", c.Demo.FiresPerWorker)
	}
	return nil
}

// RegistryOptions maps the capture settings onto registry options.
func (c *Config) RegistryOptions() []capture.Option {
	return []capture.Option{
		capture.WithRetainLogs(c.Capture.RetainLogs),
	}
}
