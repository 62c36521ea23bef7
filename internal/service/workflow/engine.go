// Package workflow implements the durable incident triage engine: a fixed
// step table driven by per-instance runners that persist every transition
// with a compare-and-swap write before the next step starts.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/diagnostics"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/service"
)

// Ack is the reply to an accepted command.
type Ack string

const (
	AckStarted Ack = "started"
	AckOK      Ack = "ok"
	AckNoState Ack = "no-state"
	AckResumed Ack = "resumed"
	AckFailed  Ack = "triggered"
)

const (
	// DefaultRepeatLimit caps the entries a single repeat command appends.
	DefaultRepeatLimit = 50

	// MaxWorkflowIDLength bounds caller supplied ids.
	MaxWorkflowIDLength = 256

	// commandAttempts bounds re-reads when a command races a runner.
	commandAttempts = 5

	startedEntry = "Service triage session started"
	demoFallback = "demo note"
)

// Config holds engine tunables.
type Config struct {
	Registry       RegistryConfig
	PersistRetries int
	PersistBackoff time.Duration
	RepeatLimit    int
}

// Deps are the engine collaborators. Store and Invoker are required.
type Deps struct {
	Store   core.StateStore
	Invoker core.AgentInvoker
	Events  events.Publisher
	Logger  *logging.Logger
	Metrics *Metrics
	Memory  *diagnostics.MemoryCollector
	Now     func() time.Time
}

// Engine coordinates workflow instances. At most one runner drives an
// instance inside a process; version checks on every write fence runners in
// other processes.
type Engine struct {
	store       core.StateStore
	invoker     core.AgentInvoker
	registry    *Registry
	events      events.Publisher
	logger      *logging.Logger
	metrics     *Metrics
	memory      *diagnostics.MemoryCollector
	persist     *service.RetryPolicy
	now         func() time.Time
	repeatLimit int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners map[core.WorkflowID]*runState
	closed  bool
}

// runState tracks a live runner. kicked asks the runner to take another
// pass before exiting, so a resume that races the runner's exit is not lost.
type runState struct {
	kicked bool
}

// New creates an engine. Runners start only through Start, Resume or
// ResumeAll.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("workflow engine: state store is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("workflow engine: agent invoker is required")
	}

	registry, err := NewRegistry(cfg.Registry)
	if err != nil {
		return nil, err
	}

	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		if deps.Metrics, err = NewMetrics(nil); err != nil {
			return nil, fmt.Errorf("creating engine metrics: %w", err)
		}
	}
	if deps.Memory == nil {
		deps.Memory = diagnostics.NewMemoryCollector()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PersistRetries <= 0 {
		cfg.PersistRetries = 5
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 500 * time.Millisecond
	}
	if cfg.RepeatLimit <= 0 {
		cfg.RepeatLimit = DefaultRepeatLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       deps.Store,
		invoker:     deps.Invoker,
		registry:    registry,
		events:      deps.Events,
		logger:      deps.Logger.WithComponent("engine"),
		metrics:     deps.Metrics,
		memory:      deps.Memory,
		persist:     service.PersistRetryPolicy(cfg.PersistRetries, cfg.PersistBackoff),
		now:         deps.Now,
		repeatLimit: cfg.RepeatLimit,
		ctx:         ctx,
		cancel:      cancel,
		runners:     make(map[core.WorkflowID]*runState),
	}, nil
}

// Registry returns the step table.
func (e *Engine) Registry() *Registry { return e.registry }

// =============================================================================
// Commands
// =============================================================================

// Start creates a new instance and launches its runner. It returns once the
// initial record is durable; step failures are never reported here.
func (e *Engine) Start(ctx context.Context, id core.WorkflowID, incident string) (Ack, error) {
	if err := validateStart(id, incident); err != nil {
		return "", err
	}

	existing, err := e.store.Load(ctx, id)
	if err != nil {
		return "", core.ErrPersistenceUnavailable("load", err)
	}
	if existing != nil {
		return "", rejectExisting(existing)
	}

	now := e.now()
	st := core.NewWorkflowState(id, now).
		WithIncident(incident).
		AddConversation(core.RoleSystem, startedEntry).
		AddConversation(core.RoleUser, incident).
		WithStatus(core.StatusPrepared)
	rec := &core.Record{
		State:     st,
		Step:      core.StepClassify,
		Attempts:  map[core.StepID]int{},
		UpdatedAt: now,
	}

	if err := e.store.Create(ctx, rec); err != nil {
		if !core.IsConflict(err) {
			return "", core.ErrPersistenceUnavailable("create", err)
		}
		// Lost a race with another start for the same id.
		if cur, lerr := e.store.Load(ctx, id); lerr == nil && cur != nil {
			return "", rejectExisting(cur)
		}
		return "", core.ErrAlreadyActive(id, core.StatusPrepared)
	}

	e.logger.WithWorkflow(string(id)).Info("workflow started", "incident", preview(incident, 100))
	e.events.Publish(events.NewWorkflowStartedEvent(string(id), incident))
	e.launch(id)
	return AckStarted, nil
}

// GetState returns the latest committed snapshot, or the EMPTY view for an
// id that was never started. Only store failures are errors.
func (e *Engine) GetState(ctx context.Context, id core.WorkflowID) (StateView, error) {
	rec, err := e.store.Load(ctx, id)
	if err != nil {
		return StateView{}, core.ErrPersistenceUnavailable("load", err)
	}
	mem := e.memory.Snapshot()
	if rec == nil {
		return EmptyStateView(mem), nil
	}
	return NewStateView(rec, mem), nil
}

// GetConversations returns every conversation entry after the opening system
// entry, in append order. Unknown ids yield an empty list.
func (e *Engine) GetConversations(ctx context.Context, id core.WorkflowID) ([]core.ConversationEntry, error) {
	rec, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, core.ErrPersistenceUnavailable("load", err)
	}
	if rec == nil || len(rec.State.Conversation) <= 1 {
		return []core.ConversationEntry{}, nil
	}
	out := make([]core.ConversationEntry, len(rec.State.Conversation)-1)
	copy(out, rec.State.Conversation[1:])
	return out, nil
}

// Repeat appends synthetic demo entries and pauses the instance without
// advancing steps. A runner mid-step loses its write to the version check
// and stops on its next read.
func (e *Engine) Repeat(ctx context.Context, id core.WorkflowID, message string, times int) (Ack, error) {
	if strings.TrimSpace(message) == "" {
		message = demoFallback
	}
	n := times
	if n < 1 {
		n = 1
	}
	if n > e.repeatLimit {
		n = e.repeatLimit
	}

	var lastVersion int64
	for i := 0; i < commandAttempts; i++ {
		rec, err := e.store.Load(ctx, id)
		if err != nil {
			return "", core.ErrPersistenceUnavailable("load", err)
		}
		if rec == nil {
			return AckNoState, nil
		}
		if rec.Ended() {
			return "", core.ErrTerminalState(id, rec.State.Status)
		}

		out := rec.Clone()
		for k := 1; k <= n; k++ {
			out.State = out.State.AddConversation(core.RoleSystem, fmt.Sprintf("[DEMO] %s (%d/%d)", message, k, n))
		}
		out.Paused = true

		lastVersion = rec.Version
		if err := e.store.Save(ctx, out, rec.Version); err != nil {
			if core.IsConflict(err) {
				continue
			}
			return "", core.ErrPersistenceUnavailable("save", err)
		}

		e.logger.WithWorkflow(string(id)).Info("workflow paused by repeat", "entries", n)
		e.events.Publish(events.NewWorkflowPausedEvent(string(id), n))
		return AckOK, nil
	}
	return "", core.ErrVersionConflict(id, lastVersion)
}

// Resume clears the paused flag and relaunches the runner of an unfinished
// instance.
func (e *Engine) Resume(ctx context.Context, id core.WorkflowID) (Ack, error) {
	var lastVersion int64
	for i := 0; i < commandAttempts; i++ {
		rec, err := e.store.Load(ctx, id)
		if err != nil {
			return "", core.ErrPersistenceUnavailable("load", err)
		}
		if rec == nil {
			return "", core.ErrWorkflowNotFound(id)
		}
		if rec.Ended() {
			return "", core.ErrTerminalState(id, rec.State.Status)
		}

		if rec.Paused {
			out := rec.Clone()
			out.Paused = false
			lastVersion = rec.Version
			if err := e.store.Save(ctx, out, rec.Version); err != nil {
				if core.IsConflict(err) {
					continue
				}
				return "", core.ErrPersistenceUnavailable("save", err)
			}
		}

		e.logger.WithWorkflow(string(id)).Info("workflow resumed", "step", rec.Step.String())
		e.events.Publish(events.NewWorkflowResumedEvent(string(id), rec.Step.String()))
		e.launch(id)
		return AckResumed, nil
	}
	return "", core.ErrVersionConflict(id, lastVersion)
}

// errForcedFailure is the failure recorded by ForceFail.
var errForcedFailure = errors.New("failure forced by operator")

// ForceFail sends an unfinished instance straight to interrupt, as if its
// pending step had exhausted its recovery budget, and launches the runner to
// commit it. A runner mid-step is fenced by the version check.
func (e *Engine) ForceFail(ctx context.Context, id core.WorkflowID) (Ack, error) {
	var lastVersion int64
	for i := 0; i < commandAttempts; i++ {
		rec, err := e.store.Load(ctx, id)
		if err != nil {
			return "", core.ErrPersistenceUnavailable("load", err)
		}
		if rec == nil {
			return "", core.ErrWorkflowNotFound(id)
		}
		if rec.Ended() {
			return "", core.ErrTerminalState(id, rec.State.Status)
		}

		pending := rec.Step
		out := rec.Clone()
		out.Step = core.StepInterrupt
		out.Paused = false
		out.LastError = core.ErrRecoveryExhausted(pending.String(), out.Attempts[pending], errForcedFailure).Error()
		out.State = out.State.AddConversation(core.RoleSystem,
			fmt.Sprintf("[%s] Step %s failed: %s - continuing with %s",
				e.now().Format("15:04:05.000"), pending, errForcedFailure, core.StepInterrupt))

		lastVersion = rec.Version
		if err := e.store.Save(ctx, out, rec.Version); err != nil {
			if core.IsConflict(err) {
				continue
			}
			return "", core.ErrPersistenceUnavailable("save", err)
		}

		e.logger.WithWorkflow(string(id)).Warn("failure forced", "step", pending.String())
		e.events.Publish(events.NewStepFailedEvent(string(id), pending.String(), out.Attempts[pending],
			string(ActionFailover), core.StepInterrupt.String(), errForcedFailure, false))
		e.launch(id)
		return AckFailed, nil
	}
	return "", core.ErrVersionConflict(id, lastVersion)
}

// ResumeAll relaunches runners for every unfinished, unpaused instance. It
// is called at startup to continue work interrupted by a crash.
func (e *Engine) ResumeAll(ctx context.Context) (int, error) {
	ids, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, core.ErrPersistenceUnavailable("list", err)
	}
	launched := 0
	for _, id := range ids {
		if e.launch(id) {
			launched++
			e.events.Publish(events.NewWorkflowResumedEvent(string(id), ""))
		}
	}
	if launched > 0 {
		e.logger.Info("resumed unfinished workflows", "count", launched)
	}
	return launched, nil
}

// List returns summaries of every instance, newest first.
func (e *Engine) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	out, err := e.store.List(ctx)
	if err != nil {
		return nil, core.ErrPersistenceUnavailable("list", err)
	}
	return out, nil
}

// Running returns the number of live runners.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runners)
}

// Shutdown stops accepting launches, cancels in-flight steps and waits for
// runners to exit. Cancelled steps do not count as failed attempts; their
// instances continue from the same step on the next ResumeAll.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for runners: %w", ctx.Err())
	}
}

// =============================================================================
// Runners
// =============================================================================

func (e *Engine) launch(id core.WorkflowID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}
	if rs, ok := e.runners[id]; ok {
		rs.kicked = true
		return false
	}
	e.runners[id] = &runState{}
	e.wg.Add(1)
	go e.run(id)
	return true
}

// release removes the runner for id unless it was kicked in the meantime.
func (e *Engine) release(id core.WorkflowID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs := e.runners[id]
	if rs != nil && rs.kicked && !e.closed {
		rs.kicked = false
		return true
	}
	delete(e.runners, id)
	return false
}

func (e *Engine) run(id core.WorkflowID) {
	defer e.wg.Done()
	logger := e.logger.WithWorkflow(string(id))
	for {
		e.drive(id, logger)
		if !e.release(id) {
			return
		}
	}
}

// drive executes steps until the instance ends, pauses or the store stays
// unavailable past the persist retry budget.
func (e *Engine) drive(id core.WorkflowID, logger *logging.Logger) {
	for e.ctx.Err() == nil {
		var it iteration
		err := e.persist.ExecuteWithNotify(e.ctx, func(ctx context.Context) error {
			var ierr error
			it, ierr = e.iterate(ctx, id, logger)
			return ierr
		}, func(attempt int, err error, delay time.Duration) {
			logger.Warn("state store unavailable, retrying iteration",
				"attempt", attempt,
				"delay", delay,
				"error", err)
		})
		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			logger.Error("runner stopped: state store unavailable",
				"step", it.step.String(),
				"error", err)
			e.events.PublishPriority(events.NewPersistenceFailedEvent(string(id), it.step.String(), err))
			return
		}
		if !it.more {
			return
		}
	}
}

type iteration struct {
	step core.StepID
	more bool
}

// iterate runs one load, execute, persist cycle.
func (e *Engine) iterate(ctx context.Context, id core.WorkflowID, logger *logging.Logger) (iteration, error) {
	rec, err := e.store.Load(ctx, id)
	if err != nil {
		e.metrics.persistenceError(ctx, "load")
		return iteration{}, core.ErrPersistenceUnavailable("load", err)
	}
	if rec == nil || rec.Paused || rec.Ended() {
		return iteration{}, nil
	}

	it := iteration{step: rec.Step}
	def, ok := e.registry.Lookup(rec.Step)
	if !ok {
		return it, core.ErrState(core.CodeUnknownStep, fmt.Sprintf("workflow %s has no definition for step %q", id, rec.Step))
	}
	stepLog := logger.WithStep(def.ID.String())

	start := time.Now()
	next, timedOut, failure := e.execute(ctx, def, rec, stepLog)
	if ctx.Err() != nil {
		// Shutting down: the attempt does not count.
		return it, nil
	}
	elapsed := time.Since(start)

	if failure == nil {
		failure = checkTransition(rec.State, next)
	}

	var (
		out      *core.Record
		decision Decision
	)
	if failure == nil {
		out = rec.Clone()
		out.State = next
		out.Step = def.Next
		if def.ID != core.StepInterrupt {
			out.LastError = ""
		}
	} else {
		out, decision = e.applyRecovery(rec, def, failure)
	}

	if err := e.store.Save(ctx, out, rec.Version); err != nil {
		if core.IsConflict(err) {
			stepLog.Warn("write fenced by a newer version, re-reading", "version", rec.Version)
			e.metrics.fenced(ctx, def.ID)
			it.more = true
			return it, nil
		}
		e.metrics.persistenceError(ctx, "save")
		return it, core.ErrPersistenceUnavailable("save", err)
	}

	if failure == nil {
		e.committedSuccess(ctx, rec, out, def, elapsed, stepLog)
	} else {
		e.committedFailure(ctx, out, def, decision, failure, timedOut, elapsed, stepLog)
	}

	it.more = !out.Ended()
	return it, nil
}

type stepOutcome struct {
	state core.WorkflowState
	err   error
}

// execute runs the step body under its timeout. The body runs in its own
// goroutine; once the timeout fires its result is dropped unread.
func (e *Engine) execute(ctx context.Context, def StepDefinition, rec *core.Record, logger *logging.Logger) (core.WorkflowState, bool, error) {
	stepCtx, cancel := context.WithTimeout(ctx, def.Timeout)
	defer cancel()

	env := StepEnv{
		State:     rec.State.Clone(),
		Invoker:   e.invoker,
		Logger:    logger,
		Now:       e.now,
		LastError: rec.LastError,
	}

	done := make(chan stepOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepOutcome{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		st, err := def.Func(stepCtx, env)
		done <- stepOutcome{state: st, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			timedOut := errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
			return rec.State, timedOut, out.err
		}
		return out.state, false, nil
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return rec.State, false, ctx.Err()
		}
		return rec.State, true, core.ErrTimeout(fmt.Sprintf("step %s exceeded %s", def.ID, def.Timeout))
	}
}

// applyRecovery applies the recovery policy to a failed attempt.
func (e *Engine) applyRecovery(rec *core.Record, def StepDefinition, failure error) (*core.Record, Decision) {
	attempts := rec.Attempts[def.ID] + 1
	decision := def.Policy.Evaluate(def.ID, attempts)

	out := rec.Clone()
	if out.Attempts == nil {
		out.Attempts = make(map[core.StepID]int)
	}
	out.Attempts[def.ID] = attempts

	stamp := e.now().Format("15:04:05.000")
	reason := e.logger.Sanitize(failure.Error())

	switch decision.Action {
	case ActionRetry:
		out.LastError = core.ErrStepExecution(def.ID.String(), failure).Error()
		out.State = out.State.AddConversation(core.RoleSystem,
			fmt.Sprintf("[%s] Step %s failed (attempt %d of %d): %s - retrying",
				stamp, def.ID, attempts, def.Policy.MaxRetries+1, reason))
	default:
		out.LastError = core.ErrRecoveryExhausted(def.ID.String(), attempts, failure).Error()
		out.Step = decision.Next
		out.State = out.State.AddConversation(core.RoleSystem,
			fmt.Sprintf("[%s] Step %s failed after %d attempts: %s - continuing with %s",
				stamp, def.ID, attempts, reason, decision.Next))
	}
	out.LastError = e.logger.Sanitize(out.LastError)
	return out, decision
}

func (e *Engine) committedSuccess(ctx context.Context, prev, out *core.Record, def StepDefinition, elapsed time.Duration, logger *logging.Logger) {
	e.metrics.stepCompleted(ctx, def.ID, elapsed)
	logger.Info("step committed",
		"status", string(out.State.Status),
		"next", out.Step.String(),
		"version", out.Version,
		"duration", elapsed)

	id := string(out.ID())
	ev := events.NewWorkflowStateUpdatedEvent(id, string(out.State.Status), out.Step.String(), def.ID.String(), out.Version)
	if c, err := core.ParseClassification(out.State.ClassificationJSON); err == nil {
		ev.Service = c.Service
		ev.Severity = string(c.Severity)
	}
	ev.HighRisk = core.ParseRemediation(out.State.RemediationText).HighRisk()
	e.events.Publish(ev)

	switch def.ID {
	case core.StepFinalize:
		e.metrics.workflowFinished(ctx, out.State.Status)
		e.events.PublishPriority(events.NewWorkflowCompletedEvent(id, out.UpdatedAt.Sub(out.State.CreatedAt)))
	case core.StepInterrupt:
		e.metrics.workflowFinished(ctx, out.State.Status)
		logger.Warn("workflow interrupted", "reason", prev.LastError)
		e.events.PublishPriority(events.NewWorkflowInterruptedEvent(id, def.ID.String(), prev.LastError))
	}
}

func (e *Engine) committedFailure(ctx context.Context, out *core.Record, def StepDefinition, decision Decision, failure error, timedOut bool, elapsed time.Duration, logger *logging.Logger) {
	e.metrics.stepFailed(ctx, def.ID, elapsed, decision, timedOut)
	logger.Warn("step failed",
		"attempt", out.Attempts[def.ID],
		"decision", string(decision.Action),
		"next", decision.Next.String(),
		"timed_out", timedOut,
		"error", failure)
	e.events.Publish(events.NewStepFailedEvent(string(out.ID()), def.ID.String(), out.Attempts[def.ID],
		string(decision.Action), decision.Next.String(), failure, timedOut))
}

// =============================================================================
// Helpers
// =============================================================================

// checkTransition rejects step results that would break state invariants.
func checkTransition(prev, next core.WorkflowState) error {
	switch {
	case next.WorkflowID != prev.WorkflowID:
		return core.ErrState(core.CodeInvalidTransition, "step changed the workflow id")
	case next.Incident != prev.Incident:
		return core.ErrState(core.CodeInvalidTransition, "step changed the incident")
	case len(next.Conversation) < len(prev.Conversation):
		return core.ErrState(core.CodeInvalidTransition, "step dropped conversation entries")
	case next.Status != prev.Status && !prev.Status.CanAdvanceTo(next.Status):
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("status cannot move from %s to %s", prev.Status, next.Status))
	}
	return nil
}

func rejectExisting(rec *core.Record) error {
	if rec.Ended() {
		return core.ErrTerminalState(rec.ID(), rec.State.Status)
	}
	return core.ErrAlreadyActive(rec.ID(), rec.State.Status)
}

func validateStart(id core.WorkflowID, incident string) error {
	if strings.TrimSpace(string(id)) == "" {
		return core.ErrValidation(core.CodeEmptyWorkflowID, "workflow id is required")
	}
	if len(id) > MaxWorkflowIDLength {
		return core.ErrValidation(core.CodeInvalidWorkflowID,
			fmt.Sprintf("workflow id exceeds %d characters", MaxWorkflowIDLength))
	}
	if strings.IndexFunc(string(id), unicode.IsControl) >= 0 {
		return core.ErrValidation(core.CodeInvalidWorkflowID, "workflow id contains control characters")
	}
	if strings.TrimSpace(incident) == "" {
		return core.ErrValidation(core.CodeEmptyIncident, "incident description is required")
	}
	if len(incident) > core.MaxIncidentLength {
		return core.ErrValidation(core.CodeIncidentTooLong,
			fmt.Sprintf("incident exceeds %d characters", core.MaxIncidentLength))
	}
	return nil
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
