// Package config loads usagemon settings from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. USAGEMON_ENGINE_POLL_INTERVAL.
const EnvPrefix = "USAGEMON"

// DefaultDataDir holds the store, key and log file.
const DefaultDataDir = "~/.usagemon"

// Config is the full daemon and CLI configuration, one section per concern.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sampler  SamplerConfig  `mapstructure:"sampler"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// StorageConfig selects the store backend and where its files live.
type StorageConfig struct {
	Type    string `mapstructure:"type"` // "sqlcipher" or "bolt"
	DataDir string `mapstructure:"data_dir"`
}

// EngineConfig tunes the decision loop. ForegroundWindow is how long a
// sample keeps its app in the foreground; zero derives it from the sampler
// interval.
type EngineConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	TickTimeout      time.Duration `mapstructure:"tick_timeout"`
	ForegroundWindow time.Duration `mapstructure:"foreground_window"`
	BlockCooldown    time.Duration `mapstructure:"block_cooldown"`
	WarnCooldown     time.Duration `mapstructure:"warn_cooldown"`
	WarnPercent      int           `mapstructure:"warn_percent"`
	SelfPackage      string        `mapstructure:"self_package"`
}

// SamplerConfig controls how often foreground samples are recorded and how
// long they are kept.
type SamplerConfig struct {
	Interval  time.Duration `mapstructure:"interval"` // 0 = engine.poll_interval
	Retention time.Duration `mapstructure:"retention"`
}

// DispatchConfig picks what happens when an app hits its limit.
type DispatchConfig struct {
	Mode string `mapstructure:"mode"` // "kill", "notify" or "log"
}

// LoggingConfig sets the daemon log level and file.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty = <data_dir>/usagemon.log
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the metrics server
}

// DefaultConfigPath returns ~/.usagemon/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ExpandHome(DefaultDataDir), "config.yaml")
}

// Load reads configPath (default path when empty), applies USAGEMON_*
// environment overrides and validates the result. A missing file is not an
// error; defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	v.SetConfigFile(configPath)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.type", "sqlcipher")
	v.SetDefault("storage.data_dir", DefaultDataDir)

	v.SetDefault("engine.poll_interval", "2s")
	v.SetDefault("engine.tick_timeout", "1500ms")
	v.SetDefault("engine.foreground_window", "0s")
	v.SetDefault("engine.block_cooldown", "3s")
	v.SetDefault("engine.warn_cooldown", "5m")
	v.SetDefault("engine.warn_percent", 80)
	v.SetDefault("engine.self_package", "usagemon")

	v.SetDefault("sampler.interval", "0s")
	v.SetDefault("sampler.retention", "336h")

	v.SetDefault("dispatch.mode", "kill")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("metrics.addr", "")
}

func (c *Config) normalize() {
	c.Storage.DataDir = ExpandHome(c.Storage.DataDir)
	if c.Sampler.Interval == 0 {
		c.Sampler.Interval = c.Engine.PollInterval
	}
	if c.Engine.ForegroundWindow == 0 {
		c.Engine.ForegroundWindow = c.Sampler.Interval * 3 / 2
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(c.Storage.DataDir, "usagemon.log")
	} else {
		c.Logging.File = ExpandHome(c.Logging.File)
	}
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "sqlcipher", "bolt":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}

	positive := []struct {
		name string
		d    time.Duration
	}{
		{"engine.poll_interval", c.Engine.PollInterval},
		{"engine.tick_timeout", c.Engine.TickTimeout},
		{"engine.foreground_window", c.Engine.ForegroundWindow},
		{"engine.block_cooldown", c.Engine.BlockCooldown},
		{"engine.warn_cooldown", c.Engine.WarnCooldown},
		{"sampler.interval", c.Sampler.Interval},
		{"sampler.retention", c.Sampler.Retention},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.d)
		}
	}
	if c.Engine.TickTimeout >= c.Engine.PollInterval {
		return fmt.Errorf("engine.tick_timeout (%s) must be shorter than engine.poll_interval (%s)",
			c.Engine.TickTimeout, c.Engine.PollInterval)
	}
	// Samples stop the moment an app is killed; a longer window keeps the
	// dead app in the foreground and re-triggers blocks.
	if c.Engine.ForegroundWindow < c.Sampler.Interval || c.Engine.ForegroundWindow > 2*c.Sampler.Interval {
		return fmt.Errorf("engine.foreground_window (%s) must be between sampler.interval (%s) and twice it",
			c.Engine.ForegroundWindow, c.Sampler.Interval)
	}
	if c.Engine.WarnPercent <= 0 || c.Engine.WarnPercent >= 100 {
		return fmt.Errorf("engine.warn_percent must be between 1 and 99, got %d", c.Engine.WarnPercent)
	}
	if c.Engine.SelfPackage == "" {
		return fmt.Errorf("engine.self_package is required")
	}

	switch c.Dispatch.Mode {
	case "kill", "notify", "log":
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Dispatch.Mode)
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
