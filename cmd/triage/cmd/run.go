package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [incident]",
	Short: "Triage an incident and wait for the result",
	Long: `Start a triage workflow for an incident and follow it to completion.

The incident text is taken from the arguments, or from stdin when no
arguments are given. Interrupting the command leaves the workflow at its
last committed step; 'triage resume <id>' continues it.

Examples:
  triage run "checkout latency above 2s for 10 minutes"
  echo "db connection errors" | triage run --id inc-42 --output json`,
	RunE: runRun,
}

var (
	runID     string
	runOutput string
	runDetach bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runID, "id", "", "Workflow id (default: generated)")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Output mode (rich, plain, json, yaml, quiet)")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "Return once the workflow is persisted; serve or resume continues it")
}

func runRun(cmd *cobra.Command, args []string) error {
	incident, err := incidentText(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	renderer, err := newRenderer(cmd, runOutput)
	if err != nil {
		return err
	}

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

	id := core.WorkflowID(runID)
	if id == "" {
		id = core.WorkflowID(uuid.NewString())
	}

	f := newFollower(rt, id)
	ack, err := rt.engine.Start(ctx, id, incident)
	if err != nil {
		f.Stop()
		return err
	}
	if runDetach {
		f.Stop()
		return renderer.Ack(id, ack)
	}

	f.Wait(ctx, progressWriter(cmd, renderer))
	return showState(ctx, rt, renderer, id)
}

// showState prints the current view of id.
func showState(ctx context.Context, rt *runtime, renderer *tui.Renderer, id core.WorkflowID) error {
	// The caller's context may already be cancelled by a signal; reads must
	// still reach the store.
	view, err := rt.engine.GetState(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	return renderer.State(id, view)
}

// incidentText joins args, or reads r when there are none.
func incidentText(r io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading incident from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("incident text is required")
	}
	return text, nil
}

// progressWriter returns where step progress goes: stderr for human output,
// nowhere for structured or quiet output.
func progressWriter(cmd *cobra.Command, renderer *tui.Renderer) io.Writer {
	switch renderer.Mode() {
	case tui.ModeRich, tui.ModePlain:
		return cmd.ErrOrStderr()
	default:
		return nil
	}
}
