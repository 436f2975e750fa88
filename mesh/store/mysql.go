package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL-backed Store for clusters whose ranks run on
// different hosts but share one database for breakpoints.
//
// The DSN follows go-sql-driver conventions, e.g.
//
//	user:pass@tcp(db.internal:3306)/agentmesh?parseTime=true
//
// The store auto-migrates its schema on first use and verifies connectivity
// before returning. The rank column is named proc_rank because RANK is a
// reserved word in MySQL 8.
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore opens a MySQL-backed store at dsn.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql store: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql store: %w", err)
	}
	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS breakpoint_snapshots (
			run_id    VARCHAR(64)  NOT NULL,
			date      BIGINT       NOT NULL,
			proc_rank INT          NOT NULL,
			snapshot  LONGBLOB     NOT NULL,
			saved_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (run_id, date, proc_rank)
		)`,
		`CREATE TABLE IF NOT EXISTS named_checkpoints (
			name      VARCHAR(128) NOT NULL,
			proc_rank INT          NOT NULL,
			snapshot  LONGBLOB     NOT NULL,
			saved_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (name, proc_rank)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate mysql store: %w", err)
		}
	}
	return nil
}

func (s *MySQLStore) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

// SaveSnapshot implements Store.
func (s *MySQLStore) SaveSnapshot(ctx context.Context, runID string, date uint64, rank int, snapshot []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breakpoint_snapshots (run_id, date, proc_rank, snapshot)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot)`,
		runID, int64(date), rank, snapshot) // #nosec G115 -- dates stay far below int64 range
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadLatest implements Store.
func (s *MySQLStore) LoadLatest(ctx context.Context, runID string, rank int) ([]byte, uint64, error) {
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
func (s *MySQLStore) LoadSnapshot(ctx context.Context, runID string, date uint64, rank int) ([]byte, error) {
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
func (s *MySQLStore) SaveNamed(ctx context.Context, name string, rank int, snapshot []byte) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO named_checkpoints (name, proc_rank, snapshot)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE snapshot = VALUES(snapshot)`,
		name, rank, snapshot)
	if err != nil {
		return fmt.Errorf("save named checkpoint: %w", err)
	}
	return nil
}

// LoadNamed implements Store.
func (s *MySQLStore) LoadNamed(ctx context.Context, name string, rank int) ([]byte, error) {
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
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
