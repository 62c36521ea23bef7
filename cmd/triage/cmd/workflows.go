package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service/workflow"
)

var stateCmd = &cobra.Command{
	Use:   "state <id>",
	Short: "Show the state of a workflow",
	Long: `Show the persisted state of a workflow: status, pending step, stage
outputs and context size. Unknown ids report the EMPTY status.`,
	Args: cobra.ExactArgs(1),
	RunE: runState,
}

var conversationsCmd = &cobra.Command{
	Use:     "conversations <id>",
	Aliases: []string{"conv", "log"},
	Short:   "Show the conversation log of a workflow",
	Args:    cobra.ExactArgs(1),
	RunE:    runConversations,
}

var repeatCmd = &cobra.Command{
	Use:   "repeat <id>",
	Short: "Append notes to a workflow and pause it",
	Long: `Append a message to the conversation log of a workflow and pause it.
The message is repeated --times times (clamped to the configured limit).
A paused workflow continues only after 'triage resume'.`,
	Args: cobra.ExactArgs(1),
	RunE: runRepeat,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused or unfinished workflow and wait for it",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var failCmd = &cobra.Command{
	Use:   "fail <id>",
	Short: "Force an unfinished workflow into the interrupt step",
	Long: `Record a forced failure on the pending step of a workflow and send it
straight to interrupt, the path a step takes once its retries are spent.
The command waits until the workflow is INTERRUPTED unless --detach is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runFail,
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workflows, newest first",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var (
	workflowsOutput string
	repeatMessage   string
	repeatTimes     int
	resumeDetach    bool
	failDetach      bool
)

func init() {
	for _, c := range []*cobra.Command{stateCmd, conversationsCmd, repeatCmd, resumeCmd, failCmd, listCmd} {
		c.Flags().StringVarP(&workflowsOutput, "output", "o", "", "Output mode (rich, plain, json, yaml, quiet)")
		rootCmd.AddCommand(c)
	}
	repeatCmd.Flags().StringVarP(&repeatMessage, "message", "m", "", "Note to append (default: a demo note)")
	repeatCmd.Flags().IntVarP(&repeatTimes, "times", "n", 1, "How many times to append the note")
	resumeCmd.Flags().BoolVar(&resumeDetach, "detach", false, "Return once the runner is launched")
	failCmd.Flags().BoolVar(&failDetach, "detach", false, "Return once the failure is recorded")
}

func runState(cmd *cobra.Command, args []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.closeWithTimeout() //nolint:errcheck // read-only command

	return showState(cmd.Context(), rt, renderer, core.WorkflowID(args[0]))
}

func runConversations(cmd *cobra.Command, args []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.closeWithTimeout() //nolint:errcheck // read-only command

	entries, err := rt.engine.GetConversations(cmd.Context(), core.WorkflowID(args[0]))
	if err != nil {
		return err
	}
	return renderer.Conversations(entries)
}

func runRepeat(cmd *cobra.Command, args []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.closeWithTimeout(); closeErr != nil {
			rt.logger.Warn("shutdown incomplete", "error", closeErr)
		}
	}()

	id := core.WorkflowID(args[0])
	ack, err := rt.engine.Repeat(cmd.Context(), id, repeatMessage, repeatTimes)
	if err != nil {
		return err
	}
	return renderer.Ack(id, ack)
}

func runResume(cmd *cobra.Command, args []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
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

	id := core.WorkflowID(args[0])
	f := newFollower(rt, id)
	ack, err := rt.engine.Resume(ctx, id)
	if err != nil {
		f.Stop()
		return err
	}
	if resumeDetach || ack != workflow.AckResumed {
		f.Stop()
		return renderer.Ack(id, ack)
	}

	f.Wait(ctx, progressWriter(cmd, renderer))
	return showState(ctx, rt, renderer, id)
}

func runFail(cmd *cobra.Command, args []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
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

	id := core.WorkflowID(args[0])
	f := newFollower(rt, id)
	ack, err := rt.engine.ForceFail(ctx, id)
	if err != nil {
		f.Stop()
		return err
	}
	if failDetach {
		f.Stop()
		return renderer.Ack(id, ack)
	}

	f.Wait(ctx, progressWriter(cmd, renderer))
	return showState(ctx, rt, renderer, id)
}

func runList(cmd *cobra.Command, _ []string) error {
	renderer, err := newRenderer(cmd, workflowsOutput)
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer rt.closeWithTimeout() //nolint:errcheck // read-only command

	list, err := rt.engine.List(cmd.Context())
	if err != nil {
		return err
	}
	return renderer.Workflows(list)
}
