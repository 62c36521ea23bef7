package state

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// Supported backends.
const (
	BackendSQLite   = "sqlite"
	BackendJSON     = "json"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// StoreOptions configures store creation.
type StoreOptions struct {
	// Backend selects the implementation. Empty means sqlite.
	Backend string

	// Path is the SQLite database file or the JSON state directory.
	Path string

	// BackupPath is the path to store SQLite backups (optional).
	// If empty, the backend default is used ("<db>.bak").
	BackupPath string

	// DSN is the PostgreSQL connection string.
	DSN string

	// LockTTL is the duration after which a JSON directory lock is
	// considered stale. If zero, the backend default is used.
	LockTTL time.Duration
}

// NewStore creates the StateStore selected by opts.
func NewStore(ctx context.Context, opts StoreOptions) (core.StateStore, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", BackendSQLite:
		path := opts.Path
		// Ensure path has .db extension for SQLite
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		var sqliteOpts []SQLiteStoreOption
		if strings.TrimSpace(opts.BackupPath) != "" {
			sqliteOpts = append(sqliteOpts, WithSQLiteBackupPath(opts.BackupPath))
		}
		return NewSQLiteStore(path, sqliteOpts...)

	case BackendJSON:
		var jsonOpts []JSONStoreOption
		if opts.LockTTL > 0 {
			jsonOpts = append(jsonOpts, WithLockTTL(opts.LockTTL))
		}
		return NewJSONStore(opts.Path, jsonOpts...)

	case BackendMemory:
		return NewMemoryStore(), nil

	case BackendPostgres:
		if strings.TrimSpace(opts.DSN) == "" {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		return OpenPostgresStore(ctx, opts.DSN)

	default:
		return nil, fmt.Errorf("unsupported state backend: %q", opts.Backend)
	}
}

// Backuper is implemented by stores that can write a point-in-time copy.
type Backuper interface {
	Backup(ctx context.Context) error
	BackupPath() string
}
