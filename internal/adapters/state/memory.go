package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// MemoryStore keeps records in process memory. Records are cloned on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[core.WorkflowID]*core.Record
	now     func() time.Time

	// saveHook, when set, runs before every Save and can inject failures.
	saveHook func(rec *core.Record) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[core.WorkflowID]*core.Record),
		now:     time.Now,
	}
}

// SetSaveHook installs a function called before each Save. A non-nil return
// aborts the save with that error.
func (s *MemoryStore) SetSaveHook(hook func(rec *core.Record) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveHook = hook
}

// Create implements core.StateStore.
func (s *MemoryStore) Create(_ context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID()]; ok {
		return core.ErrVersionConflict(rec.ID(), 0)
	}
	stored := prepareSave(rec, 0, s.now())
	s.records[rec.ID()] = stored
	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// Load implements core.StateStore.
func (s *MemoryStore) Load(_ context.Context, id core.WorkflowID) (*core.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

// Save implements core.StateStore.
func (s *MemoryStore) Save(_ context.Context, rec *core.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveHook != nil {
		if err := s.saveHook(rec); err != nil {
			return err
		}
	}

	current, ok := s.records[rec.ID()]
	if !ok || current.Version != expectedVersion {
		return core.ErrVersionConflict(rec.ID(), expectedVersion)
	}
	stored := prepareSave(rec, expectedVersion, s.now())
	s.records[rec.ID()] = stored
	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListActive implements core.StateStore.
func (s *MemoryStore) ListActive(_ context.Context) ([]core.WorkflowID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []core.WorkflowID
	for id, rec := range s.records {
		if isActive(rec) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// List implements core.StateStore.
func (s *MemoryStore) List(_ context.Context) ([]core.WorkflowSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]core.WorkflowSummary, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, core.Summarize(rec))
	}
	sortSummaries(out)
	return out, nil
}

// Close implements core.StateStore.
func (s *MemoryStore) Close() error { return nil }

// sortSummaries orders summaries newest first, breaking ties by id.
func sortSummaries(out []core.WorkflowSummary) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].WorkflowID < out[j].WorkflowID
	})
}

var _ core.StateStore = (*MemoryStore)(nil)
