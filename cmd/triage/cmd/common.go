package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/adapters/agent"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/adapters/state"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/tui"
)

const (
	defaultRequestTimeout  = 120 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	eventBufferSize        = 256
	runnerPollInterval     = 100 * time.Millisecond
)

// loadConfig loads and validates configuration using the global viper
// instance so persistent flag bindings apply.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr unless log.file is
// set, so command output on stdout stays machine readable.
func newLogger(cfg *config.Config) (*logging.Logger, func() error, error) {
	var out io.Writer = os.Stderr
	closeFn := func() error { return nil }

	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o750); err != nil {
			return nil, nil, fmt.Errorf("creating log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		out = f
		closeFn = f.Close
	}

	level := cfg.Log.Level
	if viper.GetBool("quiet") {
		level = "error"
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  cfg.Log.Format,
		Output:  out,
		Secrets: configSecrets(cfg),
	}), closeFn, nil
}

// configSecrets returns the credentials held by cfg: agent header values
// and the store DSN password.
func configSecrets(cfg *config.Config) []string {
	var secrets []string
	for _, v := range cfg.Agents.Headers {
		secrets = append(secrets, v)
	}
	if u, err := url.Parse(cfg.State.DSN); err == nil && u.User != nil {
		if pw, ok := u.User.Password(); ok {
			secrets = append(secrets, pw)
		}
	}
	return secrets
}

// newInvoker selects the agent transport named by agents.mode.
func newInvoker(cfg *config.Config, logger *logging.Logger) (core.AgentInvoker, error) {
	switch cfg.Agents.Mode {
	case "", "demo":
		return agent.NewDemoInvoker(), nil
	case "http":
		return agent.NewHTTPInvoker(agent.HTTPConfig{
			Endpoint:  cfg.Agents.Endpoint,
			Timeout:   config.Duration(cfg.Agents.RequestTimeout, defaultRequestTimeout),
			Headers:   cfg.Agents.Headers,
			RateLimit: agent.RateLimit{
				PerSecond: cfg.Agents.RateLimit,
				Burst:     cfg.Agents.Burst,
			},
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported agents.mode %q", cfg.Agents.Mode)
	}
}

// runtime holds the collaborators shared by every command that touches
// workflows.
type runtime struct {
	cfg       *config.Config
	logger    *logging.Logger
	store     core.StateStore
	bus       *events.EventBus
	memory    *diagnostics.MemoryCollector
	telemetry *diagnostics.Telemetry
	invoker   core.AgentInvoker
	engine    *workflow.Engine
	closeLog  func() error
}

// openRuntime loads configuration and wires the store, agents and engine.
func openRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:       cfg,
		logger:    logger,
		bus:       events.New(eventBufferSize),
		memory:    diagnostics.NewMemoryCollector(),
		telemetry: diagnostics.NewTelemetry(),
		closeLog:  closeLog,
	}

	rt.store, err = state.NewStore(ctx, state.StoreOptions{
		Backend:    cfg.State.Backend,
		Path:       cfg.State.Path,
		BackupPath: cfg.State.BackupPath,
		DSN:        cfg.State.DSN,
		LockTTL:    config.Duration(cfg.State.LockTTL, 0),
	})
	if err != nil {
		rt.bus.Close()
		_ = closeLog()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	rt.invoker, err = newInvoker(cfg, logger)
	if err != nil {
		rt.closeResources()
		return nil, err
	}

	engineCfg, err := workflow.ConfigFromApp(cfg)
	if err != nil {
		rt.closeResources()
		return nil, err
	}

	metrics, err := workflow.NewMetrics(rt.telemetry.Meter(workflow.MeterName))
	if err != nil {
		rt.closeResources()
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}

	rt.engine, err = workflow.New(engineCfg, workflow.Deps{
		Store:   rt.store,
		Invoker: rt.invoker,
		Events:  rt.bus,
		Logger:  logger,
		Metrics: metrics,
		Memory:  rt.memory,
	})
	if err != nil {
		rt.closeResources()
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	logger.Debug("runtime ready",
		"backend", cfg.State.Backend,
		"agents", cfg.Agents.Mode,
	)
	return rt, nil
}

// Close stops runners, backs up the store when it supports it and releases
// resources. Runners still working when ctx ends are abandoned; their
// instances continue on the next start.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.engine != nil {
		if err := rt.engine.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b, ok := rt.store.(state.Backuper); ok {
		if err := b.Backup(ctx); err != nil {
			rt.logger.Warn("state backup failed", "error", err)
		} else {
			rt.logger.Debug("state backed up", "path", b.BackupPath())
		}
	}
	if err := rt.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping telemetry: %w", err))
	}
	if err := rt.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (rt *runtime) closeResources() error {
	var errs []error
	if err := rt.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing state store: %w", err))
	}
	rt.bus.Close()
	if err := rt.closeLog(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// shutdownTimeout returns the configured grace period for runners.
func (rt *runtime) shutdownTimeout() time.Duration {
	return config.Duration(rt.cfg.Server.ShutdownTimeout, defaultShutdownTimeout)
}

// closeWithTimeout closes rt within the configured grace period.
func (rt *runtime) closeWithTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), rt.shutdownTimeout())
	defer cancel()
	return rt.Close(ctx)
}

// newRenderer picks the output mode from --output, falling back to terminal
// detection.
func newRenderer(cmd *cobra.Command, output string) (*tui.Renderer, error) {
	detector := tui.NewDetector().NoColor(viper.GetBool("no_color"))
	if output != "" {
		mode, ok := tui.ParseOutputMode(output)
		if !ok {
			return nil, fmt.Errorf("unknown output mode %q (rich, plain, json, yaml, quiet)", output)
		}
		detector.ForceMode(mode)
	} else if viper.GetBool("quiet") {
		detector.ForceMode(tui.ModeQuiet)
	}
	return tui.NewRenderer(cmd.OutOrStdout(), detector.Detect()), nil
}

// follower watches one instance. Subscribe before issuing the command so no
// transition is missed.
type follower struct {
	rt      *runtime
	id      core.WorkflowID
	updates <-chan events.Event
	done    <-chan events.Event
	stop    sync.Once
}

func newFollower(rt *runtime, id core.WorkflowID) *follower {
	return &follower{
		rt:      rt,
		id:      id,
		updates: rt.bus.SubscribeFiltered(events.Filter{
			Workflow: string(id),
			Types:    []string{events.TypeWorkflowStateUpdated, events.TypeStepFailed},
		}),
		done: rt.bus.SubscribePriorityFiltered(events.Filter{
			Workflow: string(id),
			Types:    []string{events.TypeWorkflowCompleted, events.TypeWorkflowInterrupted, events.TypePersistenceFailed},
		}),
	}
}

// Wait blocks until the instance ends, its runner stops, or ctx ends.
// Progress lines go to progress when it is non-nil.
func (f *follower) Wait(ctx context.Context, progress io.Writer) {
	defer f.Stop()

	ticker := time.NewTicker(runnerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case ev, ok := <-f.updates:
			if !ok {
				return
			}
			if progress != nil {
				printProgress(progress, ev)
			}
		case <-ticker.C:
			if f.rt.engine.Running() == 0 {
				return
			}
		}
	}
}

// Stop releases the subscriptions. The priority subscription blocks
// publishers of the followed workflow, so every follower must be stopped.
func (f *follower) Stop() {
	f.stop.Do(func() {
		f.rt.bus.Unsubscribe(f.updates)
		f.rt.bus.Unsubscribe(f.done)
	})
}

func printProgress(w io.Writer, ev events.Event) {
	switch e := ev.(type) {
	case events.WorkflowStateUpdatedEvent:
		next := e.Step
		if next == "" {
			next = "done"
		}
		fmt.Fprintf(w, "  %-24s %s -> %s\n", e.Completed, e.Status, next)
	case events.StepFailedEvent:
		fmt.Fprintf(w, "  %-24s attempt %d failed (%s -> %s): %s\n", e.Step, e.Attempt, e.Decision, e.Next, e.Error)
	}
}
