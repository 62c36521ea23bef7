package config

import (
	"time"
)

// Config holds all application configuration.
type Config struct {
	Log    LogConfig             `mapstructure:"log" yaml:"log"`
	State  StateConfig           `mapstructure:"state" yaml:"state"`
	Engine EngineConfig          `mapstructure:"engine" yaml:"engine"`
	Steps  map[string]StepConfig `mapstructure:"steps" yaml:"steps,omitempty"`
	Agents AgentsConfig          `mapstructure:"agents" yaml:"agents"`
	Server ServerConfig          `mapstructure:"server" yaml:"server"`

	Evaluation EvaluationConfig `mapstructure:"evaluation" yaml:"evaluation"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file,omitempty"`
}

// StateConfig configures state persistence.
type StateConfig struct {
	// Backend is one of sqlite, json, memory, postgres.
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Path       string `mapstructure:"path" yaml:"path"`
	BackupPath string `mapstructure:"backup_path" yaml:"backup_path,omitempty"`
	DSN        string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	LockTTL    string `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	// StepTimeout bounds every agent call unless a step overrides it.
	StepTimeout string `mapstructure:"step_timeout" yaml:"step_timeout"`
	// MaxRetries is the default retry budget per step.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// PersistRetries is how many times a runner retries a loop iteration
	// that failed on the state store before giving up.
	PersistRetries int    `mapstructure:"persist_retries" yaml:"persist_retries"`
	PersistBackoff string `mapstructure:"persist_backoff" yaml:"persist_backoff"`
	// RepeatLimit caps the entries a single repeat command may append.
	RepeatLimit int `mapstructure:"repeat_limit" yaml:"repeat_limit"`
	// ResumeOnStart relaunches unfinished workflows when the server starts.
	ResumeOnStart bool `mapstructure:"resume_on_start" yaml:"resume_on_start"`
}

// StepConfig overrides engine defaults for one step, keyed by step name.
type StepConfig struct {
	Timeout    string `mapstructure:"timeout" yaml:"timeout,omitempty"`
	MaxRetries *int   `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

// AgentsConfig configures how steps reach the agents.
type AgentsConfig struct {
	// Mode is http (remote agent service) or demo (built-in canned agents).
	Mode           string            `mapstructure:"mode" yaml:"mode"`
	Endpoint       string            `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	RequestTimeout string            `mapstructure:"request_timeout" yaml:"request_timeout"`
	Headers        map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	// RateLimit caps calls per second to each agent; 0 disables throttling.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int     `mapstructure:"burst" yaml:"burst"`
}

// EvaluationConfig configures the toxicity and hallucination checks run on
// completed workflows by `triage serve`.
type EvaluationConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path of the results file; empty keeps it next to the state store.
	Path        string `mapstructure:"path" yaml:"path,omitempty"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	Timeout     string `mapstructure:"timeout" yaml:"timeout"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `mapstructure:"addr" yaml:"addr"`
	CORSOrigins     []string `mapstructure:"cors_origins" yaml:"cors_origins,omitempty"`
	ShutdownTimeout string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Duration parses a validated duration field, returning fallback when the
// value is empty or malformed.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
