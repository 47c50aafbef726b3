package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"vermont/core/errors"
)

// LoggingConfig controls the application logger.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// ThreadsConfig bounds and times the worker threads.
type ThreadsConfig struct {
	MaxConcurrent      int `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	JoinTimeoutSeconds int `mapstructure:"join_timeout_seconds" yaml:"join_timeout_seconds"`
}

// Config holds the application's configuration settings.
type Config struct {
	Environment string                            `mapstructure:"environment" yaml:"environment"`
	Logging     LoggingConfig                     `mapstructure:"logging" yaml:"logging"`
	Threads     ThreadsConfig                     `mapstructure:"threads" yaml:"threads"`
	Modules     map[string]map[string]interface{} `mapstructure:"modules" yaml:"modules"` // Generic configuration for modules, decoded by each module
}

var (
	hooksMu           sync.Mutex
	configChangeHooks []func(*Config)
)

// AddConfigChangeHook registers a function to be called when the configuration file changes.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	configChangeHooks = append(configChangeHooks, hook)
}

func notifyConfigChange(cfg *Config) {
	hooksMu.Lock()
	hooks := append([]func(*Config){}, configChangeHooks...)
	hooksMu.Unlock()
	for _, hook := range hooks {
		hook(cfg)
	}
}

func newViper(paths []string) *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/vermont")

	v.AutomaticEnv()
	v.SetEnvPrefix("VERMONT") // e.g. VERMONT_THREADS_MAX_CONCURRENT
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
	v.SetDefault("threads.max_concurrent", 16)
	v.SetDefault("threads.join_timeout_seconds", 10)
	return v
}

// LoadConfig loads the configuration from config.yaml found in paths (searched
// first) or the default locations, environment variables and defaults. When a
// file was found it is watched and registered hooks run on every change.
func LoadConfig(paths ...string) (*Config, error) {
	v := newViper(paths)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated Config
			if err := v.Unmarshal(&updated); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("failed to re-unmarshal config: %w", err))
				return
			}
			if err := updated.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("ignoring invalid config change in %s: %w", e.Name, err))
				return
			}
			notifyConfigChange(&updated)
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// Module returns the raw configuration map for a module, or nil.
func (c *Config) Module(name string) map[string]interface{} {
	if c.Modules == nil {
		return nil
	}
	return c.Modules[name]
}

// GenerateMinimalConfig creates a minimal config with essential settings.
func GenerateMinimalConfig() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:       "info",
			Development: true,
		},
		Threads: ThreadsConfig{
			MaxConcurrent:      16,
			JoinTimeoutSeconds: 10,
		},
		Modules: map[string]map[string]interface{}{
			"dbwriter": {
				"hostname":       "localhost",
				"port":           3306,
				"dbname":         "flows.db",
				"user":           "vermont",
				"buffer_records": 100,
				"columns": []string{
					"first_switched",
					"source_address",
					"destination_address",
					"protocol",
					"octets",
					"observation_domain_id",
				},
				"table":         "flows",
				"poll_interval": "100ms",
			},
		},
	}
}

// SaveGeneratedConfig saves a generated config to a file.
func SaveGeneratedConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
		// valid
	default:
		return fmt.Errorf("%w: invalid environment: %q", errors.ErrInvalidInput, c.Environment)
	}
	if c.Threads.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: threads.max_concurrent must be positive, got %d", errors.ErrInvalidInput, c.Threads.MaxConcurrent)
	}
	if c.Threads.JoinTimeoutSeconds <= 0 {
		return fmt.Errorf("%w: threads.join_timeout_seconds must be positive, got %d", errors.ErrInvalidInput, c.Threads.JoinTimeoutSeconds)
	}
	return nil
}
