package state

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

func newTestRecord(id core.WorkflowID) *core.Record {
	st := core.NewWorkflowState(id, time.Now().UTC()).
		WithIncident("DB outage in eu-west").
		WithStatus(core.StatusPrepared).
		AddConversation(core.RoleSystem, "Service triage session started").
		AddConversation(core.RoleUser, "DB outage in eu-west")
	return &core.Record{
		State:    st,
		Step:     core.StepClassify,
		Attempts: map[core.StepID]int{},
	}
}

// runStoreSuite exercises the StateStore contract against a fresh store.
func runStoreSuite(t *testing.T, open func(t *testing.T) core.StateStore) {
	ctx := context.Background()

	t.Run("load missing returns nil", func(t *testing.T) {
		s := open(t)
		rec, err := s.Load(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("create then load", func(t *testing.T) {
		s := open(t)
		rec := newTestRecord("wf-1")
		require.NoError(t, s.Create(ctx, rec))
		assert.Equal(t, int64(1), rec.Version)

		got, err := s.Load(ctx, "wf-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, core.StepClassify, got.Step)
		assert.Equal(t, core.StatusPrepared, got.State.Status)
		assert.Equal(t, rec.State.Conversation, got.State.Conversation)
		assert.NotNil(t, got.Attempts)
	})

	t.Run("create twice conflicts", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Create(ctx, newTestRecord("wf-dup")))
		err := s.Create(ctx, newTestRecord("wf-dup"))
		require.Error(t, err)
		assert.True(t, core.IsConflict(err))
	})

	t.Run("save with current version advances", func(t *testing.T) {
		s := open(t)
		rec := newTestRecord("wf-cas")
		require.NoError(t, s.Create(ctx, rec))

		rec.State = rec.State.WithClassification(`{"service":"db","severity":"P1"}`).WithStatus(core.StatusClassified)
		rec.Step = core.StepGatherEvidence
		rec.Attempts[core.StepClassify] = 1
		require.NoError(t, s.Save(ctx, rec, 1))
		assert.Equal(t, int64(2), rec.Version)

		got, err := s.Load(ctx, "wf-cas")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, core.StepGatherEvidence, got.Step)
		assert.Equal(t, 1, got.Attempts[core.StepClassify])
		assert.Contains(t, got.State.ClassificationJSON, "db")
	})

	t.Run("stale version is fenced", func(t *testing.T) {
		s := open(t)
		rec := newTestRecord("wf-stale")
		require.NoError(t, s.Create(ctx, rec))

		first := rec.Clone()
		first.Step = core.StepGatherEvidence
		require.NoError(t, s.Save(ctx, first, 1))

		late := rec.Clone()
		late.Step = core.StepInterrupt
		err := s.Save(ctx, late, 1)
		require.Error(t, err)
		assert.True(t, core.IsConflict(err))

		got, err := s.Load(ctx, "wf-stale")
		require.NoError(t, err)
		assert.Equal(t, core.StepGatherEvidence, got.Step)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("save of unknown id conflicts", func(t *testing.T) {
		s := open(t)
		err := s.Save(ctx, newTestRecord("ghost"), 1)
		require.Error(t, err)
		assert.True(t, core.IsConflict(err))
	})

	t.Run("concurrent saves admit one writer per version", func(t *testing.T) {
		s := open(t)
		rec := newTestRecord("wf-race")
		require.NoError(t, s.Create(ctx, rec))

		const writers = 8
		var (
			wg  sync.WaitGroup
			mu  sync.Mutex
			won int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c := rec.Clone()
				if err := s.Save(ctx, c, 1); err == nil {
					mu.Lock()
					won++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, won)
	})

	t.Run("list active skips ended and paused", func(t *testing.T) {
		s := open(t)
		active := newTestRecord("a-active")
		require.NoError(t, s.Create(ctx, active))

		paused := newTestRecord("b-paused")
		require.NoError(t, s.Create(ctx, paused))
		paused.Paused = true
		require.NoError(t, s.Save(ctx, paused, paused.Version))

		done := newTestRecord("c-done")
		require.NoError(t, s.Create(ctx, done))
		done.State = done.State.WithStatus(core.StatusCompleted)
		done.Step = core.StepNone
		require.NoError(t, s.Save(ctx, done, done.Version))

		ids, err := s.ListActive(ctx)
		require.NoError(t, err)
		assert.Equal(t, []core.WorkflowID{"a-active"}, ids)

		all, err := s.List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) core.StateStore {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) core.StateStore {
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestJSONStore(t *testing.T) {
	t.Parallel()
	runStoreSuite(t, func(t *testing.T) core.StateStore {
		s, err := NewJSONStore(filepath.Join(t.TempDir(), "state"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	rec := newTestRecord("wf-reopen")
	require.NoError(t, s.Create(ctx, rec))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx, "wf-reopen")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.State.Incident, got.State.Incident)
}

func TestSQLiteStore_Backup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewSQLiteStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Create(ctx, newTestRecord("wf-bak")))

	require.NoError(t, s.Backup(ctx))
	info, err := os.Stat(s.BackupPath())
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))

	// A second backup replaces the first.
	require.NoError(t, s.Backup(ctx))
}

func TestSQLiteStore_BackupOutsideStateDir(t *testing.T) {
	t.Parallel()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"),
		WithSQLiteBackupPath(filepath.Join(t.TempDir(), "elsewhere.bak")))
	require.NoError(t, err)
	defer s.Close()

	err = s.Backup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes state directory")
}

func TestJSONStore_DetectsCorruption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewJSONStore(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Create(ctx, newTestRecord("wf-bad")))

	path := s.pathFor("wf-bad")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte("DB outage"), []byte("XX outage"), 1)
	require.NoError(t, os.WriteFile(path, tampered, 0o600))

	_, err = s.Load(ctx, "wf-bad")
	require.Error(t, err)
	var domErr *core.DomainError
	require.ErrorAs(t, err, &domErr)
	assert.Equal(t, core.CodeStateCorrupted, domErr.Code)
}

func TestJSONStore_EscapesIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewJSONStore(dir)
	require.NoError(t, err)
	defer s.Close()

	rec := newTestRecord("../escape/attempt")
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Load(ctx, "../escape/attempt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, filepath.Clean(dir), filepath.Dir(s.pathFor(rec.ID())))
}

func TestJSONStore_RefusesSymlinkOutsideDir(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"version":1}`), 0o600))

	s, err := NewJSONStore(dir)
	require.NoError(t, err)
	defer s.Close()

	if err := os.Symlink(outside, s.pathFor("wf-link")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	_, err = s.Load(ctx, "wf-link")
	require.Error(t, err)

	_, err = readScoped(string(filepath.Separator))
	require.Error(t, err)
}

func TestJSONStore_LockHeldByLiveProcess(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	lock := []byte(`{"pid":1,"hostname":"other","acquired_at":"` + time.Now().Format(time.RFC3339Nano) + `"}`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), lock, 0o600))

	if !processExists(1) {
		t.Skip("pid 1 not visible")
	}
	_, err := NewJSONStore(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_ACQUIRE_FAILED")
}

func TestNewStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name        string
		opts        func(dir string) StoreOptions
		wantType    string
		errContains string
	}{
		{
			name:     "empty backend defaults to sqlite",
			opts:     func(dir string) StoreOptions { return StoreOptions{Path: filepath.Join(dir, "state.json")} },
			wantType: "*state.SQLiteStore",
		},
		{
			name:     "SQLite backend (mixed case)",
			opts:     func(dir string) StoreOptions { return StoreOptions{Backend: "SQLite", Path: filepath.Join(dir, "s.db")} },
			wantType: "*state.SQLiteStore",
		},
		{
			name:     "json backend",
			opts:     func(dir string) StoreOptions { return StoreOptions{Backend: "json", Path: dir} },
			wantType: "*state.JSONStore",
		},
		{
			name:     "memory backend",
			opts:     func(string) StoreOptions { return StoreOptions{Backend: "memory"} },
			wantType: "*state.MemoryStore",
		},
		{
			name:        "postgres without dsn",
			opts:        func(string) StoreOptions { return StoreOptions{Backend: "postgres"} },
			errContains: "requires a dsn",
		},
		{
			name:        "unsupported backend",
			opts:        func(string) StoreOptions { return StoreOptions{Backend: "unknown"} },
			errContains: "unsupported state backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(ctx, tt.opts(t.TempDir()))
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, tt.wantType, fmt.Sprintf("%T", s))
		})
	}
}
