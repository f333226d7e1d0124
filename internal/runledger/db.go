package runledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/G-TechSD/Claudia-Coder-sub001/internal/logging"
)

// RunsDBFileName is the ledger database within the data directory.
const RunsDBFileName = "runs.db"

// schema bootstraps the single ledger table. The UNIQUE constraint on
// (packet_id, iteration) backs the contiguous-iteration invariant: a
// racing allocator loses the insert instead of silently duplicating.
const schema = `
CREATE TABLE IF NOT EXISTS packet_runs (
	id           TEXT PRIMARY KEY,
	packet_id    TEXT NOT NULL,
	project_id   TEXT NOT NULL,
	iteration    INTEGER NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	output       TEXT NOT NULL DEFAULT '',
	exit_code    INTEGER,
	rating       INTEGER,
	comment      TEXT NOT NULL DEFAULT '',
	UNIQUE (packet_id, iteration)
);
CREATE INDEX IF NOT EXISTS idx_packet_runs_packet ON packet_runs (packet_id, iteration);
CREATE INDEX IF NOT EXISTS idx_packet_runs_project_status ON packet_runs (project_id, status);
`

// DB wraps the SQLite connection holding the run ledger.
type DB struct {
	*sql.DB
	logger *logging.Logger
}

// Config contains database configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// BusyTimeoutMs is the busy timeout in milliseconds.
	BusyTimeoutMs int
}

// DefaultConfig returns the default database configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:          path,
		MaxOpenConns:  10,
		BusyTimeoutMs: 5000,
	}
}

// Open opens the ledger database, creating the file and schema as
// needed.
func Open(cfg Config, logger *logging.Logger) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeoutMs)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	wrapped := newDB(db, logger)
	if err := wrapped.init(); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

// OpenInMemory opens an in-memory ledger (for testing).
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}

	// Keep a single connection open so the in-memory DB stays consistent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	wrapped := newDB(db, nil)
	if err := wrapped.init(); err != nil {
		db.Close()
		return nil, err
	}
	return wrapped, nil
}

func newDB(db *sql.DB, logger *logging.Logger) *DB {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &DB{DB: db, logger: logger.WithComponent("runledger")}
}

// init applies the schema.
func (db *DB) init() error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// Transaction executes a function within a database transaction.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck verifies the database is accessible.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}
