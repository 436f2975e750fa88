package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed Store: breakpoint snapshots in a single-file
// database.
//
// Designed for:
//   - Development and single-host clusters with zero setup
//   - Runs where every rank lives on the same machine
//   - Prototyping before moving to MySQLStore
//
// The store auto-migrates its schema on first use and enables WAL mode so
// several ranks can write their dumps concurrently.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// an in-memory database that vanishes on Close.
//
// Example:
//
//	s, err := store.NewSQLiteStore("./breakpoints.db")
//	if err != nil { ... }
//	defer func() { _ = s.Close() }()
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS breakpoint_snapshots (
		run_id    TEXT    NOT NULL,
		date      INTEGER NOT NULL,
		proc_rank INTEGER NOT NULL,
		snapshot  BLOB    NOT NULL,
		saved_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, date, proc_rank)
	);
	CREATE TABLE IF NOT EXISTS named_checkpoints (
		name      TEXT    NOT NULL,
		proc_rank INTEGER NOT NULL,
		snapshot  BLOB    NOT NULL,
		saved_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (name, proc_rank)
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate sqlite store: %w", err)
	}
	return nil
}

func (s *SQLiteStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

// SaveSnapshot implements Store.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, runID string, date uint64, rank int, snapshot []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breakpoint_snapshots (run_id, date, proc_rank, snapshot)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, date, proc_rank) DO UPDATE SET snapshot = excluded.snapshot`,
		runID, int64(date), rank, snapshot) // #nosec G115 -- dates stay far below int64 range
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *SQLiteStore) LoadLatest(ctx context.Context, runID string, rank int) ([]byte, uint64, error) {
	if err := s.guard(); err != nil {
		return nil, 0, err
	}
	var snapshot []byte
	var date int64
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot, date FROM breakpoint_snapshots
		WHERE run_id = ? AND proc_rank = ?
		ORDER BY date DESC LIMIT 1`,
		runID, rank).Scan(&snapshot, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load latest snapshot: %w", err)
	}
	return snapshot, uint64(date), nil
}

// LoadSnapshot implements Store.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string, date uint64, rank int) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM breakpoint_snapshots
		WHERE run_id = ? AND date = ? AND proc_rank = ?`,
		runID, int64(date), rank).Scan(&snapshot) // #nosec G115
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	return snapshot, nil
}

// SaveNamed implements Store.
func (s *SQLiteStore) SaveNamed(ctx context.Context, name string, rank int, snapshot []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO named_checkpoints (name, proc_rank, snapshot)
		VALUES (?, ?, ?)
		ON CONFLICT (name, proc_rank) DO UPDATE SET snapshot = excluded.snapshot`,
		name, rank, snapshot)
	if err != nil {
		return fmt.Errorf("save named checkpoint: %w", err)
	}
	return nil
}

// LoadNamed implements Store.
func (s *SQLiteStore) LoadNamed(ctx context.Context, name string, rank int) ([]byte, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM named_checkpoints WHERE name = ? AND proc_rank = ?`,
		name, rank).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load named checkpoint: %w", err)
	}
	return snapshot, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
