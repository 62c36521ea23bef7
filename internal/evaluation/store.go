package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// Store keeps one Result per workflow. Saving a workflow again replaces its
// previous result.
type Store interface {
	Save(ctx context.Context, r Result) error
	// Get returns nil, nil when the workflow has not been evaluated.
	Get(ctx context.Context, id core.WorkflowID) (*Result, error)
	// List returns every result, newest first.
	List(ctx context.Context) ([]Result, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[core.WorkflowID]Result
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[core.WorkflowID]Result)}
}

func (s *MemoryStore) Save(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.WorkflowID] = r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id core.WorkflowID) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Result, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sortResults(out)
	return out, nil
}

// FileStore persists every result in one JSON document, replaced atomically
// on each save.
type FileStore struct {
	path string
	mem  *MemoryStore
	mu   sync.Mutex
}

type fileDocument struct {
	Results []Result `json:"results"`
}

// NewFileStore opens the results file at path, creating its directory. A
// missing file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating evaluation directory: %w", err)
	}
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading evaluations: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, core.ErrState(core.CodeStateCorrupted, "evaluation file is not valid JSON").WithCause(err)
	}
	for _, r := range doc.Results {
		s.mem.results[r.WorkflowID] = r
	}
	return s, nil
}

// Path returns the results file.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Save(ctx context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, _ := s.mem.Get(ctx, r.WorkflowID)
	_ = s.mem.Save(ctx, r)

	all, _ := s.mem.List(ctx)
	data, err := json.MarshalIndent(fileDocument{Results: all}, "", "  ")
	if err == nil {
		err = renameio.WriteFile(s.path, data, 0o600)
	}
	if err != nil {
		// Keep memory in step with the file.
		if prev != nil {
			_ = s.mem.Save(ctx, *prev)
		} else {
			s.mem.mu.Lock()
			delete(s.mem.results, r.WorkflowID)
			s.mem.mu.Unlock()
		}
		return fmt.Errorf("writing evaluations: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id core.WorkflowID) (*Result, error) {
	return s.mem.Get(ctx, id)
}

func (s *FileStore) List(ctx context.Context) ([]Result, error) {
	return s.mem.List(ctx)
}
