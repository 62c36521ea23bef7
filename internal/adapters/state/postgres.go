package state

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

//go:embed migrations/postgres_001_initial_schema.sql
var postgresMigrationV1 string

// PostgresStore implements core.StateStore on PostgreSQL. Several engine
// processes may share one database; the version column fences their writes.
type PostgresStore struct {
	db  *pgxpool.Pool
	own bool
	now func() time.Time
}

// NewPostgresStore wraps an existing pool and applies the schema. The caller
// keeps ownership of the pool.
func NewPostgresStore(ctx context.Context, db *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresStore connects to dsn and applies the schema. Close releases
// the pool.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s, err := NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.own = true
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresMigrationV1); err != nil {
		return fmt.Errorf("applying migration v1: %w", err)
	}
	return nil
}

// Create implements core.StateStore.
func (s *PostgresStore) Create(ctx context.Context, rec *core.Record) error {
	stored := prepareSave(rec, 0, s.now())
	payload, checksum, err := encodeRecord(stored)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		INSERT INTO triage_workflows (
			id, version, status, step, paused, record, checksum, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`,
		string(stored.ID()), stored.Version, string(stored.State.Status), stored.Step.String(),
		stored.Paused, string(payload), checksum, stored.State.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrVersionConflict(rec.ID(), 0)
	}

	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// Load implements core.StateStore.
func (s *PostgresStore) Load(ctx context.Context, id core.WorkflowID) (*core.Record, error) {
	var (
		version  int64
		payload  string
		checksum string
	)
	err := s.db.QueryRow(ctx,
		"SELECT version, record, checksum FROM triage_workflows WHERE id = $1", string(id),
	).Scan(&version, &payload, &checksum)
	if errors.Is(err, pgx.ErrNoRows) {
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
func (s *PostgresStore) Save(ctx context.Context, rec *core.Record, expectedVersion int64) error {
	stored := prepareSave(rec, expectedVersion, s.now())
	payload, checksum, err := encodeRecord(stored)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE triage_workflows SET
			version = $1, status = $2, step = $3, paused = $4,
			record = $5, checksum = $6, updated_at = $7
		WHERE id = $8 AND version = $9`,
		stored.Version, string(stored.State.Status), stored.Step.String(), stored.Paused,
		string(payload), checksum, stored.UpdatedAt,
		string(stored.ID()), expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrVersionConflict(rec.ID(), expectedVersion)
	}

	rec.Version = stored.Version
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

// ListActive implements core.StateStore.
func (s *PostgresStore) ListActive(ctx context.Context) ([]core.WorkflowID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM triage_workflows
		WHERE step <> '' AND NOT paused AND status NOT IN ($1, $2)
		ORDER BY created_at, id`,
		string(core.StatusCompleted), string(core.StatusInterrupted))
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
func (s *PostgresStore) List(ctx context.Context) ([]core.WorkflowSummary, error) {
	rows, err := s.db.Query(ctx,
		"SELECT version, record, checksum FROM triage_workflows ORDER BY created_at DESC, id")
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
			continue
		}
		rec.Version = version
		out = append(out, core.Summarize(rec))
	}
	return out, rows.Err()
}

// Close releases the pool when the store opened it.
func (s *PostgresStore) Close() error {
	if s.own {
		s.db.Close()
	}
	return nil
}

var _ core.StateStore = (*PostgresStore)(nil)
