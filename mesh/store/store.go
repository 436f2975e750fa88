// Package store provides persistence backends for breakpoint snapshots.
//
// A breakpoint captures one rank's shard of the distributed graph as a byte
// dump (see the mesh package's Dump/Load). Each rank saves its own dump; a
// run is restored by loading the dump for every rank at the same date and
// following up with one Synchronize.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested run, rank, or checkpoint does not
// exist.
var ErrNotFound = errors.New("not found")

// Store persists breakpoint snapshots.
//
// Implementations:
// - MemoryStore: in-process, for tests and short-lived runs.
// - SQLiteStore: single-file database, zero setup.
// - MySQLStore: shared database for clusters whose ranks outlive one host.
type Store interface {
	// SaveSnapshot persists one rank's dump for (runID, date). Saving the
	// same (runID, date, rank) twice overwrites.
	SaveSnapshot(ctx context.Context, runID string, date uint64, rank int, snapshot []byte) error

	// LoadLatest retrieves the most recent snapshot a rank saved for a
	// run, and the date it was taken at. Returns ErrNotFound when the
	// rank never saved one.
	LoadLatest(ctx context.Context, runID string, rank int) (snapshot []byte, date uint64, err error)

	// LoadSnapshot retrieves the snapshot a rank saved at an exact date.
	LoadSnapshot(ctx context.Context, runID string, date uint64, rank int) ([]byte, error)

	// SaveNamed persists a named checkpoint for a rank, independent of any
	// run. Overwrites on name collision.
	SaveNamed(ctx context.Context, name string, rank int, snapshot []byte) error

	// LoadNamed retrieves a named checkpoint.
	LoadNamed(ctx context.Context, name string, rank int) ([]byte, error)

	// Close releases backend resources.
	Close() error
}
