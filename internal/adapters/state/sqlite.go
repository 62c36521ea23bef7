package state

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.StateStore with SQLite storage. Writes are
// fenced by a conditional UPDATE on the version column, so several processes
// may share one database file.
type SQLiteStore struct {
	dbPath     string
	backupPath string
	db         *sql.DB
	mu         sync.Mutex // guards backup against concurrent backups
	now        func() time.Time
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// WithSQLiteBackupPath sets the backup file path.
func WithSQLiteBackupPath(path string) SQLiteStoreOption {
	return func(s *SQLiteStore) {
		s.backupPath = path
	}
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{
		dbPath:     dbPath,
		backupPath: dbPath + ".bak",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// WAL lets readers proceed while a step transition is being written.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrate runs pending migrations.
func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}

	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Create implements core.StateStore.
func (s *SQLiteStore) Create(ctx context.Context, rec *core.Record) error {
	stored := prepareSave(rec, 0, s.now())
	payload, checksum, err := encodeRecord(stored)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (
			id, version, status, step, paused, record, checksum, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		string(stored.ID()), stored.Version, string(stored.State.Status), stored.Step.String(),
		boolToInt(stored.Paused), string(payload), checksum,
		stored.State.CreatedAt.UnixNano(), stored.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking insert: %w", err)
	}
	if n == 0 {
		return core.ErrVersionConflict(rec.ID(), 0)
	}

	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// Load implements core.StateStore.
func (s *SQLiteStore) Load(ctx context.Context, id core.WorkflowID) (*core.Record, error) {
	var (
		version  int64
		payload  string
		checksum string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT version, record, checksum FROM workflows WHERE id = ?", string(id),
	).Scan(&version, &payload, &checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading workflow %s: %w", id, err)
	}

	rec, err := decodeRecord([]byte(payload), checksum)
	if err != nil {
		return nil, fmt.Errorf("decoding workflow %s: %w", id, err)
	}
	rec.Version = version
	return rec, nil
}

// Save implements core.StateStore.
func (s *SQLiteStore) Save(ctx context.Context, rec *core.Record, expectedVersion int64) error {
	stored := prepareSave(rec, expectedVersion, s.now())
	payload, checksum, err := encodeRecord(stored)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET
			version = ?, status = ?, step = ?, paused = ?,
			record = ?, checksum = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		stored.Version, string(stored.State.Status), stored.Step.String(), boolToInt(stored.Paused),
		string(payload), checksum, stored.UpdatedAt.UnixNano(),
		string(stored.ID()), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if n == 0 {
		return core.ErrVersionConflict(rec.ID(), expectedVersion)
	}

	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListActive implements core.StateStore.
func (s *SQLiteStore) ListActive(ctx context.Context) ([]core.WorkflowID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM workflows
		WHERE step != '' AND paused = 0 AND status NOT IN (?, ?)
		ORDER BY created_at, id
	`, string(core.StatusCompleted), string(core.StatusInterrupted))
	if err != nil {
		return nil, fmt.Errorf("querying active workflows: %w", err)
	}
	defer rows.Close()

	var ids []core.WorkflowID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workflow id: %w", err)
		}
		ids = append(ids, core.WorkflowID(id))
	}
	return ids, rows.Err()
}

// List implements core.StateStore.
func (s *SQLiteStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT version, record, checksum FROM workflows ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []core.WorkflowSummary
	for rows.Next() {
		var (
			version  int64
			payload  string
			checksum string
		)
		if err := rows.Scan(&version, &payload, &checksum); err != nil {
			return nil, fmt.Errorf("scanning workflow: %w", err)
		}
		rec, err := decodeRecord([]byte(payload), checksum)
		if err != nil {
			// Skip corrupted rows rather than hiding every other workflow.
			continue
		}
		rec.Version = version
		out = append(out, core.Summarize(rec))
	}
	return out, rows.Err()
}

// Backup writes a consistent copy of the database to the backup path.
func (s *SQLiteStore) Backup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureWithinStateDir(s.backupPath); err != nil {
		return err
	}
	// VACUUM INTO refuses to overwrite an existing file.
	if err := os.Remove(s.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing previous backup: %w", err)
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(s.backupPath, "'", "''")))
	if err != nil {
		// Fallback to file copy if VACUUM INTO not supported
		return s.copyFile(s.dbPath, s.backupPath)
	}
	return nil
}

// BackupPath returns the backup file path.
func (s *SQLiteStore) BackupPath() string {
	return s.backupPath
}

func (s *SQLiteStore) copyFile(src, dst string) error {
	if err := s.ensureWithinStateDir(src); err != nil {
		return err
	}
	if err := s.ensureWithinStateDir(dst); err != nil {
		return err
	}
	// #nosec G304 -- src path validated to be within state directory
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source file: %w", err)
	}
	defer srcFile.Close()

	// #nosec G304 -- dst path validated to be within state directory
	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("creating destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copying file: %w", err)
	}

	return dstFile.Sync()
}

func (s *SQLiteStore) ensureWithinStateDir(path string) error {
	baseAbs, err := filepath.Abs(filepath.Dir(s.dbPath))
	if err != nil {
		return fmt.Errorf("resolving state directory: %w", err)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	rel, err := filepath.Rel(baseAbs, pathAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("path escapes state directory")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ core.StateStore = (*SQLiteStore)(nil)
