// Package config provides YAML-based configuration loading for the carotene CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	carotene "github.com/carotene/carotene.go"
	"github.com/carotene/carotene.go/pkg/connection"
	"github.com/carotene/carotene.go/pkg/stream"
)

// Config is the root CLI configuration.
type Config struct {
	// Address is the server URL, ws(s):// or http(s)://.
	Address string `mapstructure:"address"`
	UserID  string `mapstructure:"user_id"`
	Token   string `mapstructure:"token"`

	Transports        TransportsConfig `mapstructure:"transports"`
	Backoff           BackoffConfig    `mapstructure:"backoff"`
	HeartbeatInterval time.Duration    `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration    `mapstructure:"poll_interval"`
	HTTPTimeout       time.Duration    `mapstructure:"http_timeout"`

	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type TransportsConfig struct {
	DisableWebSocket  bool `mapstructure:"disable_websocket"`
	EnableEventSource bool `mapstructure:"enable_eventsource"`
	DisablePolling    bool `mapstructure:"disable_polling"`
	// WebSocketEngine is "gorilla" or "gws".
	WebSocketEngine string `mapstructure:"websocket_engine"`
}

type BackoffConfig struct {
	Min time.Duration `mapstructure:"min"`
	Max time.Duration `mapstructure:"max"`
	// Jitter is the maximum random deviation as a fraction of the delay. 0 disables it.
	Jitter float64 `mapstructure:"jitter"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: text, json or console
	Format string `mapstructure:"format"`
	// Output: stdout, stderr or a file path
	Output string `mapstructure:"output"`

	// Rotation applies when Output is a file.
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

type MetricsConfig struct {
	// Listen is the address of the Prometheus endpoint. Empty disables it.
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
}

// Default returns a Config populated with the client defaults.
func Default() *Config {
	return &Config{
		Address: "ws://localhost:8080/stream",
		Transports: TransportsConfig{
			WebSocketEngine: carotene.EngineGorilla,
		},
		Backoff: BackoffConfig{
			Min: stream.DefaultMinBackoff,
			Max: stream.DefaultMaxBackoff,
		},
		HeartbeatInterval: stream.DefaultHeartbeatInterval,
		PollInterval:      connection.DefaultPollInterval,
		HTTPTimeout:       connection.DefaultHTTPTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// the usual locations. Environment variables use the prefix CAROTENE and
// `.`/`-` are replaced with `_`.
// Example: CAROTENE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CAROTENE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("address", cfg.Address)
	v.SetDefault("user_id", cfg.UserID)
	v.SetDefault("token", cfg.Token)
	v.SetDefault("transports.disable_websocket", cfg.Transports.DisableWebSocket)
	v.SetDefault("transports.enable_eventsource", cfg.Transports.EnableEventSource)
	v.SetDefault("transports.disable_polling", cfg.Transports.DisablePolling)
	v.SetDefault("transports.websocket_engine", cfg.Transports.WebSocketEngine)
	v.SetDefault("backoff.min", cfg.Backoff.Min)
	v.SetDefault("backoff.max", cfg.Backoff.Max)
	v.SetDefault("backoff.jitter", cfg.Backoff.Jitter)
	v.SetDefault("heartbeat_interval", cfg.HeartbeatInterval)
	v.SetDefault("poll_interval", cfg.PollInterval)
	v.SetDefault("http_timeout", cfg.HTTPTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.output", cfg.Log.Output)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	if path == "" {
		path = os.Getenv("CAROTENE_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("carotene")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".carotene"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the log settings and checks the client settings.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch c.Log.Format {
	case "":
		c.Log.Format = "text"
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}

	return c.Client().Validate()
}

// Client translates the configuration into client settings.
// Logger and Metrics are left for the caller.
func (c *Config) Client() *carotene.Config {
	cfg := carotene.NewConfig(c.Address)
	cfg.UserID = c.UserID
	cfg.Token = c.Token
	cfg.DisableWebSocket = c.Transports.DisableWebSocket
	cfg.EnableEventSource = c.Transports.EnableEventSource
	cfg.DisablePolling = c.Transports.DisablePolling
	cfg.WebSocketEngine = c.Transports.WebSocketEngine
	cfg.MinBackoff = c.Backoff.Min
	cfg.MaxBackoff = c.Backoff.Max
	cfg.BackoffJitter = c.Backoff.Jitter
	cfg.HeartbeatInterval = c.HeartbeatInterval
	cfg.PollInterval = c.PollInterval
	cfg.HTTPTimeout = c.HTTPTimeout
	return cfg
}
