// ABOUTME: SQLite backend for conversation blobs using modernc.org/sqlite
// ABOUTME: One row per blob key in the blobs table, schema created on open

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Backend storing each blob as a row keyed by name
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
// Parent directories are created if needed. ":memory:" is accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and matches the
	// one-writer access pattern of the blob.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// Migration: track blob size for the readiness report
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('blobs') WHERE name = 'size'`).Scan(&exists)
	if err != nil {
		if _, err := s.db.Exec(`ALTER TABLE blobs ADD COLUMN size INTEGER NOT NULL DEFAULT 0`); err != nil {
			return fmt.Errorf("adding size column to blobs: %w", err)
		}
		s.logger.Info("applied migration", "column", "size", "table", "blobs")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks that the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Blob returns the blob stored under key
func (s *SQLiteStore) Blob(key string) Blob {
	return &sqliteBlob{store: s, key: key}
}

// TotalSize returns the summed size of all stored blobs in bytes
func (s *SQLiteStore) TotalSize(ctx context.Context) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM blobs`).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing blob sizes: %w", err)
	}
	return total, nil
}

type sqliteBlob struct {
	store *SQLiteStore
	key   string
}

// Load returns the blob contents, or nil when the key has never been written
func (b *sqliteBlob) Load(ctx context.Context) ([]byte, error) {
	var data []byte
	err := b.store.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, b.key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying blob: %w", err)
	}
	return data, nil
}

// Save replaces the blob contents.
// Uses INSERT OR REPLACE to handle both insert and update cases.
func (b *sqliteBlob) Save(ctx context.Context, data []byte) error {
	query := `
		INSERT OR REPLACE INTO blobs (key, data, updated_at, size)
		VALUES (?, ?, ?, ?)
	`
	_, err := b.store.db.ExecContext(ctx, query,
		b.key,
		data,
		time.Now().UTC().Format(time.RFC3339),
		len(data),
	)
	if err != nil {
		return fmt.Errorf("saving blob: %w", err)
	}

	b.store.logger.Debug("saved blob", "key", b.key, "size", len(data))
	return nil
}

// Ensure SQLiteStore implements Backend
var _ Backend = (*SQLiteStore)(nil)
