package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/api"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/config"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/evaluation"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/incidents"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage API server",
	Long: `Start the HTTP API for triage workflows and the incident dashboard.

On startup the incident projection is rebuilt from the state store and,
unless engine.resume_on_start is false, every unfinished workflow is resumed
from its last committed step. With evaluation.enabled, completed workflows
are checked by the toxicity and hallucination evaluators and the results are
served under /evaluations.

Examples:
  # Start with defaults (:8080)
  triage serve

  # Bind a different address
  triage serve --addr 127.0.0.1:9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Address to listen on (default: server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.closeWithTimeout(); closeErr != nil {
			rt.logger.Warn("shutdown incomplete", "error", closeErr)
		}
	}()

	addr := serveAddr
	if addr == "" {
		addr = rt.cfg.Server.Addr
	}
	if addr == "" {
		addr = config.DefaultServerAddr
	}

	registry := incidents.NewRegistry(rt.logger)
	restored, err := registry.Rebuild(ctx, rt.store)
	if err != nil {
		return fmt.Errorf("rebuilding incident registry: %w", err)
	}
	rt.logger.Debug("incident registry rebuilt", "incidents", restored)

	diskPath := rt.cfg.State.Path
	opts := []api.ServerOption{
		api.WithLogger(rt.logger),
		api.WithEventBus(rt.bus),
		api.WithSystemMetrics(diagnostics.NewSystemMetricsCollector(diskPath, rt.memory)),
		api.WithTelemetry(rt.telemetry),
		api.WithCORSOrigins(rt.cfg.Server.CORSOrigins),
		api.WithVersion(appVersion),
		api.WithIDGenerator(uuid.NewString),
	}

	var evaluator *evaluation.Evaluator
	if rt.cfg.Evaluation.Enabled {
		ev, store, err := rt.openEvaluation()
		if err != nil {
			return err
		}
		evaluator = ev
		opts = append(opts, api.WithEvaluations(store))
	}
	server := api.NewServer(rt.engine, registry, opts...)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(gctx, rt.bus)
	})

	g.Go(func() error {
		return server.ListenAndServe(gctx, addr, rt.shutdownTimeout())
	})

	if evaluator != nil {
		g.Go(func() error {
			n, err := evaluator.Backfill(gctx, rt.store)
			if err != nil {
				rt.logger.Warn("evaluation backfill stopped", "evaluated", n, "error", err)
			} else if n > 0 {
				rt.logger.Info("evaluation backfill finished", "evaluated", n)
			}
			return evaluator.Run(gctx, rt.bus, rt.store, rt.cfg.Evaluation.Concurrency)
		})
	}

	if rt.cfg.Engine.ResumeOnStart {
		g.Go(func() error {
			n, err := rt.engine.ResumeAll(gctx)
			if err != nil {
				return fmt.Errorf("resuming workflows: %w", err)
			}
			rt.logger.Info("startup resume finished", "resumed", n)
			return nil
		})
	}

	rt.logger.Info("server started",
		"addr", addr,
		"backend", rt.cfg.State.Backend,
		"agents", rt.cfg.Agents.Mode,
		"version", appVersion,
	)

	err = g.Wait()
	rt.logger.Info("server stopped")
	if err != nil && !isContextDone(err) {
		return err
	}
	return nil
}

func isContextDone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
