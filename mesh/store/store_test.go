package store

import (
	"context"
	"errors"
	"testing"
)

// storeContract runs the behavior every Store implementation must satisfy.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, _, err := s.LoadLatest(ctx, "missing", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadLatest on empty store: %v, want ErrNotFound", err)
	}

	if err := s.SaveSnapshot(ctx, "run-1", 5, 0, []byte("five")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, "run-1", 9, 0, []byte("nine")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if err := s.SaveSnapshot(ctx, "run-1", 9, 1, []byte("other-rank")); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	snapshot, date, err := s.LoadLatest(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if date != 9 || string(snapshot) != "nine" {
		t.Errorf("LoadLatest = (%q, %d), want (nine, 9)", snapshot, date)
	}

	snapshot, err = s.LoadSnapshot(ctx, "run-1", 5, 0)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if string(snapshot) != "five" {
		t.Errorf("LoadSnapshot(5) = %q", snapshot)
	}
	if _, err := s.LoadSnapshot(ctx, "run-1", 6, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadSnapshot missing date: %v", err)
	}

	// Overwrite on the same key.
	if err := s.SaveSnapshot(ctx, "run-1", 9, 0, []byte("nine-v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	snapshot, _ = s.LoadSnapshot(ctx, "run-1", 9, 0)
	if string(snapshot) != "nine-v2" {
		t.Errorf("overwritten snapshot = %q", snapshot)
	}

	if err := s.SaveNamed(ctx, "before-experiment", 0, []byte("named")); err != nil {
		t.Fatalf("SaveNamed: %v", err)
	}
	snapshot, err = s.LoadNamed(ctx, "before-experiment", 0)
	if err != nil || string(snapshot) != "named" {
		t.Errorf("LoadNamed = (%q, %v)", snapshot, err)
	}
	if _, err := s.LoadNamed(ctx, "before-experiment", 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadNamed wrong rank: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	storeContract(t, s)
}

func TestMemoryStoreCopiesSnapshots(t *testing.T) {
	s := NewMemoryStore()
	buf := []byte("original")
	if err := s.SaveSnapshot(context.Background(), "r", 1, 0, buf); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	buf[0] = 'X'
	got, _, err := s.LoadLatest(context.Background(), "r", 0)
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if string(got) != "original" {
		t.Errorf("stored snapshot aliased the caller's buffer: %q", got)
	}
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() { _ = s.Close() }()
	storeContract(t, s)
}

func TestSQLiteStoreClosedGuard(t *testing.T) {
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.SaveSnapshot(context.Background(), "r", 1, 0, []byte("x")); err == nil {
		t.Error("SaveSnapshot on a closed store succeeded")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
