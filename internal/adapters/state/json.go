package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

const (
	recordFileExt = ".json"
	lockFileName  = ".lock"
)

// JSONStore implements core.StateStore with one JSON file per workflow in a
// directory. The directory is owned by a single process through a lock file;
// within that process the version check is made under a mutex.
type JSONStore struct {
	dir      string
	lockPath string
	lockTTL  time.Duration
	mu       sync.Mutex
	now      func() time.Time
}

// JSONStoreOption configures the store.
type JSONStoreOption func(*JSONStore)

// WithLockTTL sets the age after which a lock left by a dead process is
// considered stale.
func WithLockTTL(ttl time.Duration) JSONStoreOption {
	return func(s *JSONStore) {
		s.lockTTL = ttl
	}
}

// NewJSONStore opens the store rooted at dir and takes its lock.
func NewJSONStore(dir string, opts ...JSONStoreOption) (*JSONStore, error) {
	s := &JSONStore{
		dir:      dir,
		lockPath: filepath.Join(dir, lockFileName),
		lockTTL:  time.Hour,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	return s, nil
}

// Create implements core.StateStore.
func (s *JSONStore) Create(_ context.Context, rec *core.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.pathFor(rec.ID())); err == nil {
		return core.ErrVersionConflict(rec.ID(), 0)
	}
	stored := prepareSave(rec, 0, s.now())
	if err := s.write(stored); err != nil {
		return err
	}
	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// Load implements core.StateStore.
func (s *JSONStore) Load(_ context.Context, id core.WorkflowID) (*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(s.pathFor(id))
}

// Save implements core.StateStore.
func (s *JSONStore) Save(_ context.Context, rec *core.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(s.pathFor(rec.ID()))
	if err != nil {
		return err
	}
	if current == nil || current.Version != expectedVersion {
		return core.ErrVersionConflict(rec.ID(), expectedVersion)
	}
	stored := prepareSave(rec, expectedVersion, s.now())
	if err := s.write(stored); err != nil {
		return err
	}
	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListActive implements core.StateStore.
func (s *JSONStore) ListActive(_ context.Context) ([]core.WorkflowID, error) {
	recs, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var ids []core.WorkflowID
	for _, rec := range recs {
		if isActive(rec) {
			ids = append(ids, rec.ID())
		}
	}
	return ids, nil
}

// List implements core.StateStore.
func (s *JSONStore) List(_ context.Context) ([]core.WorkflowSummary, error) {
	recs, err := s.readAll()
	if err != nil {
		return nil, err
	}
	out := make([]core.WorkflowSummary, 0, len(recs))
	for _, rec := range recs {
		out = append(out, core.Summarize(rec))
	}
	sortSummaries(out)
	return out, nil
}

// Close releases the directory lock.
func (s *JSONStore) Close() error {
	return s.releaseLock()
}

// Dir returns the state directory.
func (s *JSONStore) Dir() string {
	return s.dir
}

func (s *JSONStore) pathFor(id core.WorkflowID) string {
	return filepath.Join(s.dir, url.PathEscape(string(id))+recordFileExt)
}

func (s *JSONStore) write(rec *core.Record) error {
	payload, checksum, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	envelope := recordEnvelope{
		Version:   rec.Version,
		Checksum:  checksum,
		UpdatedAt: rec.UpdatedAt,
		Record:    payload,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := atomicWriteFile(s.pathFor(rec.ID()), data, 0o600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func (s *JSONStore) read(path string) (*core.Record, error) {
	data, err := readScoped(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var envelope struct {
		Version  int64           `json:"version"`
		Checksum string          `json:"checksum"`
		Record   json.RawMessage `json:"record"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("unmarshaling envelope: %w", err)
	}
	// The checksum covers the compact encoding, not the indented file bytes.
	var compact bytes.Buffer
	if err := json.Compact(&compact, envelope.Record); err != nil {
		return nil, fmt.Errorf("compacting record: %w", err)
	}
	rec, err := decodeRecord(compact.Bytes(), envelope.Checksum)
	if err != nil {
		return nil, err
	}
	rec.Version = envelope.Version
	return rec, nil
}

func (s *JSONStore) readAll() ([]*core.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}
	var out []*core.Record
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != recordFileExt {
			continue
		}
		rec, err := s.read(filepath.Join(s.dir, e.Name()))
		if err != nil || rec == nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *JSONStore) acquireLock() error {
	if data, err := os.ReadFile(s.lockPath); err == nil {
		var info lockInfo
		if err := json.Unmarshal(data, &info); err == nil {
			if time.Since(info.AcquiredAt) < s.lockTTL && processExists(info.PID) && info.PID != os.Getpid() {
				return core.ErrState("LOCK_ACQUIRE_FAILED",
					fmt.Sprintf("state directory locked by PID %d since %s", info.PID, info.AcquiredAt))
			}
		}
		// Stale lock, remove it
		_ = os.Remove(s.lockPath)
	}

	hostname, _ := os.Hostname()
	data, err := json.Marshal(lockInfo{
		PID:        os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshaling lock info: %w", err)
	}

	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return core.ErrState("LOCK_ACQUIRE_FAILED", "lock file created by another process")
		}
		return fmt.Errorf("creating lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		_ = os.Remove(s.lockPath)
		return fmt.Errorf("writing lock file: %w", err)
	}
	return nil
}

func (s *JSONStore) releaseLock() error {
	data, err := os.ReadFile(s.lockPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Already released
		}
		return fmt.Errorf("reading lock file: %w", err)
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("parsing lock info: %w", err)
	}
	if info.PID != os.Getpid() {
		return core.ErrState("LOCK_RELEASE_FAILED", "lock owned by different process")
	}
	return os.Remove(s.lockPath)
}

var _ core.StateStore = (*JSONStore)(nil)

// readScoped opens path through an os.Root on its directory so a crafted
// record name cannot escape the state directory.
func readScoped(path string) ([]byte, error) {
	dir, name := filepath.Split(filepath.Clean(path))
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid state file path %q", path)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
