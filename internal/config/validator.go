package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateState(&cfg.State)
	v.validateEngine(&cfg.Engine)
	v.validateSteps(cfg.Steps)
	v.validateAgents(&cfg.Agents)
	v.validateEvaluation(&cfg.Evaluation)
	v.validateServer(&cfg.Server)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	if cfg.File != "" && !isValidPath(cfg.File) {
		v.addError("log.file", cfg.File, "invalid file path")
	}
}

func (v *Validator) validateState(cfg *StateConfig) {
	switch strings.ToLower(cfg.Backend) {
	case "", "sqlite", "json":
		if cfg.Path == "" {
			v.addError("state.path", cfg.Path, "path required")
		} else if !isValidPath(cfg.Path) {
			v.addError("state.path", cfg.Path, "invalid path")
		}
	case "memory":
	case "postgres":
		if cfg.DSN == "" {
			v.addError("state.dsn", "", "dsn required for postgres backend")
		}
	default:
		v.addError("state.backend", cfg.Backend, "must be one of: sqlite, json, memory, postgres")
	}

	v.validateDuration("state.lock_ttl", cfg.LockTTL, true)
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	v.validateDuration("engine.step_timeout", cfg.StepTimeout, false)
	v.validateDuration("engine.persist_backoff", cfg.PersistBackoff, true)

	if cfg.MaxRetries < 0 {
		v.addError("engine.max_retries", cfg.MaxRetries, "must be non-negative")
	}
	if cfg.PersistRetries < 0 {
		v.addError("engine.persist_retries", cfg.PersistRetries, "must be non-negative")
	}
	if cfg.RepeatLimit < 1 {
		v.addError("engine.repeat_limit", cfg.RepeatLimit, "must be at least 1")
	}
}

func (v *Validator) validateSteps(steps map[string]StepConfig) {
	for name, sc := range steps {
		field := "steps." + name
		id, err := core.ParseStepID(name)
		if err != nil || !id.Valid() {
			v.addError(field, name, "unknown step")
			continue
		}
		if sc.Timeout != "" {
			v.validateDuration(field+".timeout", sc.Timeout, false)
		}
		if sc.MaxRetries != nil && *sc.MaxRetries < 0 {
			v.addError(field+".max_retries", *sc.MaxRetries, "must be non-negative")
		}
	}
}

func (v *Validator) validateAgents(cfg *AgentsConfig) {
	switch cfg.Mode {
	case "demo":
	case "http":
		if cfg.Endpoint == "" {
			v.addError("agents.endpoint", cfg.Endpoint, "endpoint required for http mode")
		} else if u, err := url.Parse(cfg.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("agents.endpoint", cfg.Endpoint, "must be an absolute URL")
		}
	default:
		v.addError("agents.mode", cfg.Mode, "must be one of: demo, http")
	}
	v.validateDuration("agents.request_timeout", cfg.RequestTimeout, true)
	if cfg.RateLimit < 0 {
		v.addError("agents.rate_limit", cfg.RateLimit, "must be non-negative")
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		v.addError("agents.burst", cfg.Burst, "must be at least 1 when rate_limit is set")
	}
}

func (v *Validator) validateEvaluation(cfg *EvaluationConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Concurrency < 1 {
		v.addError("evaluation.concurrency", cfg.Concurrency, "must be at least 1")
	}
	v.validateDuration("evaluation.timeout", cfg.Timeout, true)
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Addr == "" {
		v.addError("server.addr", cfg.Addr, "address required")
	}
	v.validateDuration("server.shutdown_timeout", cfg.ShutdownTimeout, true)
}

func (v *Validator) validateDuration(field, value string, allowEmpty bool) {
	if value == "" {
		if !allowEmpty {
			v.addError(field, value, "duration required")
		}
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		v.addError(field, value, "invalid duration format")
		return
	}
	if d <= 0 {
		v.addError(field, value, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
