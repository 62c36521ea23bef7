package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Default values shared by the loader and the init template.
const (
	DefaultStepTimeout    = "300s"
	DefaultMaxRetries     = 1
	DefaultPersistRetries = 5
	DefaultPersistBackoff = "500ms"
	DefaultRepeatLimit    = 50
	DefaultStatePath      = ".triage/state/state.db"
	DefaultServerAddr     = ":8080"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "TRIAGE",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "TRIAGE",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (TRIAGE_*)
// 3. Project config (.triage.yaml in current directory)
// 4. User config (~/.config/triage/config.yaml)
// 5. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName(".triage")
		l.v.SetConfigType("yaml")

		// Project config takes precedence over user config
		l.v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			l.v.AddConfigPath(filepath.Join(home, ".config", "triage"))
		}
	}

	// Read config file (ignore not found)
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	l.v.SetDefault("state.backend", "sqlite")
	l.v.SetDefault("state.path", DefaultStatePath)
	l.v.SetDefault("state.backup_path", "")
	l.v.SetDefault("state.dsn", "")
	l.v.SetDefault("state.lock_ttl", "1h")

	l.v.SetDefault("engine.step_timeout", DefaultStepTimeout)
	l.v.SetDefault("engine.max_retries", DefaultMaxRetries)
	l.v.SetDefault("engine.persist_retries", DefaultPersistRetries)
	l.v.SetDefault("engine.persist_backoff", DefaultPersistBackoff)
	l.v.SetDefault("engine.repeat_limit", DefaultRepeatLimit)
	l.v.SetDefault("engine.resume_on_start", true)

	l.v.SetDefault("agents.mode", "demo")
	l.v.SetDefault("agents.endpoint", "")
	l.v.SetDefault("agents.request_timeout", "120s")
	l.v.SetDefault("agents.rate_limit", 0)
	l.v.SetDefault("agents.burst", 1)

	l.v.SetDefault("evaluation.enabled", false)
	l.v.SetDefault("evaluation.path", "")
	l.v.SetDefault("evaluation.concurrency", 2)
	l.v.SetDefault("evaluation.timeout", "120s")

	l.v.SetDefault("server.addr", DefaultServerAddr)
	l.v.SetDefault("server.cors_origins", []string{})
	l.v.SetDefault("server.shutdown_timeout", "15s")
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}

// AllSettings returns all settings as a map.
func (l *Loader) AllSettings() map[string]interface{} {
	return l.v.AllSettings()
}
