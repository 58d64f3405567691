// Package config provides YAML-based configuration loading for weftmesh.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the application
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Echo configures the echo responder
	Echo EchoConfig `mapstructure:"echo"`

	// Probe configures the ping client
	Probe ProbeConfig `mapstructure:"probe"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EchoConfig configures the echo responder.
type EchoConfig struct {
	// Listeners are tunnel URLs to bind, for example ws://0.0.0.0:7787
	Listeners []string `mapstructure:"listeners"`
}

// ProbeConfig configures the ping client.
type ProbeConfig struct {
	// Target is the tunnel URL to probe
	Target string `mapstructure:"target"`
	// Count of probes to send
	Count int `mapstructure:"count"`
	// IntervalMS between probes
	IntervalMS int `mapstructure:"interval_ms"`
	// PayloadLen is the random padding size in bytes
	PayloadLen int `mapstructure:"payload_len"`
	// IPVersion: both, 4, or 6
	IPVersion string `mapstructure:"ip_version"`
	// Encoding: cbor or json
	Encoding string `mapstructure:"encoding"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName: "weftmesh",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/weftmesh.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Echo: EchoConfig{
			Listeners: []string{"ws://0.0.0.0:7787"},
		},
		Probe: ProbeConfig{
			Count:      4,
			IntervalMS: 1000,
			PayloadLen: 56,
			IPVersion:  "both",
			Encoding:   "cbor",
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix WEFTMESH and `.`/`-` are replaced with `_`.
// Example: WEFTMESH_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("WEFTMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("echo.listeners", cfg.Echo.Listeners)
	v.SetDefault("probe.target", cfg.Probe.Target)
	v.SetDefault("probe.count", cfg.Probe.Count)
	v.SetDefault("probe.interval_ms", cfg.Probe.IntervalMS)
	v.SetDefault("probe.payload_len", cfg.Probe.PayloadLen)
	v.SetDefault("probe.ip_version", cfg.Probe.IPVersion)
	v.SetDefault("probe.encoding", cfg.Probe.Encoding)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("WEFTMESH_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `weftmesh`
		v.SetConfigName("weftmesh")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".weftmesh"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if len(c.Echo.Listeners) == 0 {
		c.Echo.Listeners = []string{"ws://0.0.0.0:7787"}
	}

	switch strings.ToLower(strings.TrimSpace(c.Probe.Encoding)) {
	case "cbor", "json":
		// ok
	default:
		return fmt.Errorf("invalid probe.encoding: %q", c.Probe.Encoding)
	}
	switch strings.TrimSpace(c.Probe.IPVersion) {
	case "", "both", "4", "6":
		// ok
	default:
		return fmt.Errorf("invalid probe.ip_version: %q", c.Probe.IPVersion)
	}
	if c.Probe.Count <= 0 {
		return fmt.Errorf("invalid probe.count: %d", c.Probe.Count)
	}
	if c.Probe.IntervalMS <= 0 {
		return fmt.Errorf("invalid probe.interval_ms: %d", c.Probe.IntervalMS)
	}
	if c.Probe.PayloadLen < 0 {
		return fmt.Errorf("invalid probe.payload_len: %d", c.Probe.PayloadLen)
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
