// Package incidents maintains the dashboard projection of triage workflows:
// one record per incident with service, severity, assigned team and
// progress, kept current from the engine's event stream.
package incidents

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/events"
	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/logging"
)

// Assigned teams.
const (
	TeamSREOnCall = "SRE-ONCALL"
	TeamPayments  = "PAYMENTS-TEAM"
	TeamSecurity  = "SECURITY-TEAM"
	TeamDatabase  = "DATABASE-TEAM"
	TeamPlatform  = "PLATFORM-TEAM"
)

const (
	// MaxTitleLength bounds incident titles.
	MaxTitleLength = 100

	unknown  = "unknown"
	untitled = "Unknown incident"
)

// Incident is the dashboard view of one workflow.
type Incident struct {
	ID                 string      `json:"incidentId" yaml:"incident_id"`
	Status             core.Status `json:"status" yaml:"status"`
	Service            string      `json:"service" yaml:"service"`
	Severity           string      `json:"severity" yaml:"severity"`
	Title              string      `json:"title" yaml:"title"`
	CreatedAt          time.Time   `json:"createdAt" yaml:"created_at"`
	UpdatedAt          time.Time   `json:"updatedAt" yaml:"updated_at"`
	RequiresEscalation bool        `json:"requiresEscalation" yaml:"requires_escalation"`
	HighRisk           bool        `json:"highRisk" yaml:"high_risk"`
	Progress           int         `json:"progress" yaml:"progress"`
	Team               string      `json:"assignedTeam" yaml:"assigned_team"`
	Active             bool        `json:"active" yaml:"active"`
	Paused             bool        `json:"paused" yaml:"paused"`
	LastError          string      `json:"lastError,omitempty" yaml:"last_error,omitempty"`
}

// Stats aggregates the registry for dashboards.
type Stats struct {
	Total           int     `json:"totalIncidents"`
	Active          int     `json:"activeIncidents"`
	P1              int     `json:"p1Count"`
	P2              int     `json:"p2Count"`
	Escalations     int     `json:"escalations"`
	AverageProgress float64 `json:"averageProgress"`
}

// Registry is an in-memory, concurrency-safe incident projection.
type Registry struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
	logger    *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{
		incidents: make(map[string]*Incident),
		logger:    logger.WithComponent("incidents"),
	}
}

// Rebuild seeds the registry from every record in store. It is called once
// at startup before events start flowing.
func (r *Registry) Rebuild(ctx context.Context, store core.StateStore) (int, error) {
	summaries, err := store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing workflows: %w", err)
	}
	n := 0
	for _, s := range summaries {
		rec, err := store.Load(ctx, s.WorkflowID)
		if err != nil {
			return n, fmt.Errorf("loading workflow %s: %w", s.WorkflowID, err)
		}
		if rec == nil {
			continue
		}
		r.Upsert(FromRecord(rec))
		n++
	}
	return n, nil
}

// Run applies bus events until ctx is cancelled. Terminal events arrive on a
// priority subscription so a busy dashboard never misses a completion.
func (r *Registry) Run(ctx context.Context, bus *events.EventBus) error {
	updates := bus.Subscribe(
		events.TypeWorkflowStarted,
		events.TypeWorkflowStateUpdated,
		events.TypeWorkflowPaused,
		events.TypeWorkflowResumed,
		events.TypeStepFailed,
	)
	defer bus.Unsubscribe(updates)
	terminal := bus.SubscribePriority(events.TypeWorkflowCompleted, events.TypeWorkflowInterrupted)
	defer bus.Unsubscribe(terminal)

	r.logger.Debug("incident projection running")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-terminal:
			if !ok {
				return nil
			}
			r.Apply(ev)
		case ev, ok := <-updates:
			if !ok {
				return nil
			}
			r.Apply(ev)
		}
	}
}

// Apply folds one event into the registry.
func (r *Registry) Apply(ev events.Event) {
	id := ev.WorkflowID()
	if id == "" || !tracked(ev) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inc := r.incidents[id]
	if inc == nil {
		inc = &Incident{
			ID:        id,
			Status:    core.StatusInitiated,
			Service:   unknown,
			Severity:  unknown,
			Title:     untitled,
			CreatedAt: ev.Timestamp(),
			Active:    true,
		}
		r.incidents[id] = inc
	}

	switch e := ev.(type) {
	case events.WorkflowStartedEvent:
		inc.Title = Title(e.Incident)
		inc.CreatedAt = e.Timestamp()
		advance(inc, core.StatusPrepared)
	case events.WorkflowStateUpdatedEvent:
		if e.Service != "" {
			inc.Service = e.Service
		}
		if e.Severity != "" {
			inc.Severity = e.Severity
		}
		inc.HighRisk = inc.HighRisk || e.HighRisk
		advance(inc, core.Status(e.Status))
	case events.StepFailedEvent:
		inc.LastError = e.Error
	case events.WorkflowPausedEvent:
		inc.Paused = true
	case events.WorkflowResumedEvent:
		inc.Paused = false
	case events.WorkflowCompletedEvent:
		advance(inc, core.StatusCompleted)
	case events.WorkflowInterruptedEvent:
		inc.LastError = e.Reason
		advance(inc, core.StatusInterrupted)
	}

	inc.UpdatedAt = ev.Timestamp()
	derive(inc)
}

// Upsert replaces the incident with the same id.
func (r *Registry) Upsert(inc Incident) {
	derive(&inc)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incidents[inc.ID] = &inc
}

// Remove deletes an incident and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.incidents[id]; !ok {
		return false
	}
	delete(r.incidents, id)
	return true
}

// Get returns the incident with id.
func (r *Registry) Get(id string) (Incident, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inc, ok := r.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return *inc, true
}

// All returns every incident, most recently updated first.
func (r *Registry) All() []Incident {
	return r.filter(func(*Incident) bool { return true })
}

// Active returns incidents whose workflow has not ended.
func (r *Registry) Active() []Incident {
	return r.filter(func(i *Incident) bool { return i.Active })
}

// ByService returns incidents for service, ignoring case.
func (r *Registry) ByService(service string) []Incident {
	return r.filter(func(i *Incident) bool { return strings.EqualFold(i.Service, service) })
}

// BySeverity returns incidents with severity, ignoring case.
func (r *Registry) BySeverity(severity string) []Incident {
	return r.filter(func(i *Incident) bool { return strings.EqualFold(i.Severity, severity) })
}

// Critical returns active incidents that are P1 or need escalation.
func (r *Registry) Critical() []Incident {
	return r.filter(func(i *Incident) bool {
		return i.Active && (strings.EqualFold(i.Severity, string(core.SeverityP1)) || i.RequiresEscalation)
	})
}

// Stats aggregates the registry.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	progress := 0
	for _, i := range r.incidents {
		s.Total++
		if i.Active {
			s.Active++
		}
		switch strings.ToUpper(i.Severity) {
		case string(core.SeverityP1):
			s.P1++
		case string(core.SeverityP2):
			s.P2++
		}
		if i.RequiresEscalation {
			s.Escalations++
		}
		progress += i.Progress
	}
	if s.Total > 0 {
		s.AverageProgress = float64(progress) / float64(s.Total)
	}
	return s
}

func (r *Registry) filter(keep func(*Incident) bool) []Incident {
	r.mu.RLock()
	out := make([]Incident, 0, len(r.incidents))
	for _, i := range r.incidents {
		if keep(i) {
			out = append(out, *i)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool {
		if !out[a].UpdatedAt.Equal(out[b].UpdatedAt) {
			return out[a].UpdatedAt.After(out[b].UpdatedAt)
		}
		return out[a].ID < out[b].ID
	})
	return out
}

// FromRecord projects a persisted record.
func FromRecord(rec *core.Record) Incident {
	st := rec.State
	inc := Incident{
		ID:        string(st.WorkflowID),
		Status:    st.Status,
		Service:   unknown,
		Severity:  unknown,
		Title:     Title(st.Incident),
		CreatedAt: st.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
		HighRisk:  core.ParseRemediation(st.RemediationText).HighRisk(),
		Paused:    rec.Paused,
		LastError: rec.LastError,
	}
	if c, err := core.ParseClassification(st.ClassificationJSON); err == nil {
		inc.Service = c.Service
		inc.Severity = string(c.Severity)
	}
	return inc
}

// Title returns the first line of the first MaxTitleLength bytes of an
// incident description.
func Title(incident string) string {
	if strings.TrimSpace(incident) == "" {
		return untitled
	}
	title := incident
	if len(title) > MaxTitleLength {
		title = title[:MaxTitleLength]
	}
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// AssignTeam routes P1 incidents to on-call and everything else by service.
func AssignTeam(service, severity string) string {
	if strings.EqualFold(severity, string(core.SeverityP1)) {
		return TeamSREOnCall
	}
	s := strings.ToLower(service)
	switch {
	case strings.Contains(s, "payment"):
		return TeamPayments
	case strings.Contains(s, "auth"):
		return TeamSecurity
	case strings.Contains(s, "database"), s == "db", strings.HasPrefix(s, "db-"):
		return TeamDatabase
	default:
		return TeamPlatform
	}
}

func tracked(ev events.Event) bool {
	switch ev.(type) {
	case events.WorkflowStartedEvent, events.WorkflowStateUpdatedEvent, events.StepFailedEvent,
		events.WorkflowPausedEvent, events.WorkflowResumedEvent,
		events.WorkflowCompletedEvent, events.WorkflowInterruptedEvent:
		return true
	}
	return false
}

// advance moves the status forward; out-of-order updates are ignored.
func advance(inc *Incident, next core.Status) {
	if next == inc.Status || !inc.Status.CanAdvanceTo(next) {
		return
	}
	inc.Status = next
}

func derive(inc *Incident) {
	inc.Progress = inc.Status.Progress()
	inc.Active = !inc.Status.IsTerminal()
	inc.RequiresEscalation = strings.EqualFold(inc.Severity, string(core.SeverityP1))
	inc.Team = AssignTeam(inc.Service, inc.Severity)
	if inc.UpdatedAt.IsZero() {
		inc.UpdatedAt = inc.CreatedAt
	}
}
