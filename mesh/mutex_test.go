package mesh

import (
	"errors"
	"testing"
)

func TestGhostMutexProtocol(t *testing.T) {
	g := singleGraph(t)
	n := g.BuildNode(5)
	m := n.Mutex()

	v, err := m.Read()
	if err != nil || v != 5 {
		t.Fatalf("Read = %d, %v", v, err)
	}
	if m.LockedShared() != 1 {
		t.Errorf("shared count = %d during read, want 1", m.LockedShared())
	}
	if err := m.ReleaseRead(); err != nil {
		t.Fatalf("ReleaseRead: %v", err)
	}

	v, err = m.Acquire()
	if err != nil || v != 5 {
		t.Fatalf("Acquire = %d, %v", v, err)
	}
	if !m.Locked() {
		t.Error("not locked during acquire")
	}
	if err := m.ReleaseAcquire(9); err != nil {
		t.Fatalf("ReleaseAcquire: %v", err)
	}
	if n.Data() != 9 {
		t.Errorf("data = %d after release, want 9", n.Data())
	}
	if m.Locked() {
		t.Error("still locked after release")
	}
}

func TestGhostMutexStateViolations(t *testing.T) {
	g := singleGraph(t)
	n := g.BuildNode(0)
	m := n.Mutex()

	if err := m.ReleaseRead(); !errors.Is(err, ErrStateViolation) {
		t.Errorf("ReleaseRead without Read: %v", err)
	}
	if err := m.ReleaseAcquire(1); !errors.Is(err, ErrStateViolation) {
		t.Errorf("ReleaseAcquire without Acquire: %v", err)
	}
	if err := m.Unlock(); !errors.Is(err, ErrStateViolation) {
		t.Errorf("Unlock without Lock: %v", err)
	}
	if err := m.UnlockShared(); !errors.Is(err, ErrStateViolation) {
		t.Errorf("UnlockShared without LockShared: %v", err)
	}

	if err := m.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := m.Lock(); !errors.Is(err, ErrStateViolation) {
		t.Errorf("second Lock by same holder: %v", err)
	}
	if err := m.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestPerceptionBoundary(t *testing.T) {
	g := singleGraph(t)
	agent := g.BuildNode(0)
	neighbor := g.BuildNode(5)
	stranger := g.BuildNode(9)
	if _, err := g.Link(agent, neighbor, 0); err != nil {
		t.Fatalf("Link: %v", err)
	}

	err := WithPerception(agent, neighbor, 0, func(v int64) error {
		if v != 5 {
			t.Errorf("perceived %d, want 5", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("in-field perception: %v", err)
	}

	if err := WithPerception(agent, stranger, 0, func(int64) error { return nil }); !errors.Is(err, ErrOutOfField) {
		t.Errorf("out-of-field perception: %v, want ErrOutOfField", err)
	}
	// Same node, wrong layer: still out of field.
	if err := WithPerception(agent, neighbor, 4, func(int64) error { return nil }); !errors.Is(err, ErrOutOfField) {
		t.Errorf("wrong-layer perception: %v, want ErrOutOfField", err)
	}
}

func TestGuardsReleaseOnError(t *testing.T) {
	g := singleGraph(t)
	n := g.BuildNode(3)
	boom := errors.New("task failed")

	if err := WithRead(n, func(int64) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithRead error = %v", err)
	}
	if n.Mutex().LockedShared() != 0 {
		t.Error("read guard leaked a shared hold on error")
	}

	if err := WithAcquire(n, func(int64) (int64, error) { return 99, boom }); !errors.Is(err, boom) {
		t.Fatalf("WithAcquire error = %v", err)
	}
	if n.Mutex().Locked() {
		t.Error("acquire guard leaked the exclusive hold on error")
	}
	if n.Data() != 3 {
		t.Errorf("failed acquire published %d, want original 3", n.Data())
	}

	if err := WithLock(n, func() error { return nil }); err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if err := WithSharedLock(n, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("WithSharedLock error = %v", err)
	}
	if n.Mutex().LockedShared() != 0 {
		t.Error("shared-lock guard leaked on error")
	}
}
