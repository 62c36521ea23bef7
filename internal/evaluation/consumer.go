package evaluation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
)

// Run evaluates every workflow that completes while ctx is live, with at
// most concurrency evaluations in flight. Completion events carry only the
// id, so the final state is read back from states.
func (e *Evaluator) Run(ctx context.Context, bus *events.EventBus, states core.StateStore, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	completed := bus.SubscribePriority(events.TypeWorkflowCompleted)
	defer bus.Unsubscribe(completed)

	var g errgroup.Group
	g.SetLimit(concurrency)
	defer func() { _ = g.Wait() }()

	e.logger.Debug("evaluation consumer running", "concurrency", concurrency)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-completed:
			if !ok {
				return nil
			}
			id := core.WorkflowID(ev.WorkflowID())
			g.Go(func() error {
				if err := e.evaluateStored(ctx, states, id); err != nil {
					e.logger.WithWorkflow(string(id)).Warn("evaluation skipped", "error", err)
				}
				return nil
			})
		}
	}
}

// Backfill evaluates completed workflows that have no result yet, such as
// those that finished while the consumer was not running. It returns how
// many were evaluated.
func (e *Evaluator) Backfill(ctx context.Context, states core.StateStore) (int, error) {
	summaries, err := states.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing workflows: %w", err)
	}
	n := 0
	for _, s := range summaries {
		if s.Status != core.StatusCompleted {
			continue
		}
		existing, err := e.store.Get(ctx, s.WorkflowID)
		if err != nil {
			return n, err
		}
		if existing != nil {
			continue
		}
		if err := e.evaluateStored(ctx, states, s.WorkflowID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (e *Evaluator) evaluateStored(ctx context.Context, states core.StateStore, id core.WorkflowID) error {
	rec, err := states.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("loading workflow %s: %w", id, err)
	}
	if rec == nil {
		return fmt.Errorf("workflow %s not found", id)
	}
	_, err = e.Evaluate(ctx, rec.State)
	return err
}
