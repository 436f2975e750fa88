package mesh

// Guards pair a mutex claim with its release around a function body, so task
// code cannot forget the release half of the protocol.

// WithRead runs fn with a shared read view of n's data.
func WithRead[T any](n *Node[T], fn func(data T) error) error {
	data, err := n.Mutex().Read()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		_ = n.Mutex().ReleaseRead()
		return err
	}
	return n.Mutex().ReleaseRead()
}

// WithAcquire runs fn with exclusive access to n's data and publishes the
// value fn returns. If fn fails, the original value is republished so the
// exclusive hold is always released.
func WithAcquire[T any](n *Node[T], fn func(data T) (T, error)) error {
	data, err := n.Mutex().Acquire()
	if err != nil {
		return err
	}
	updated, err := fn(data)
	if err != nil {
		_ = n.Mutex().ReleaseAcquire(data)
		return err
	}
	return n.Mutex().ReleaseAcquire(updated)
}

// WithLock runs fn under n's exclusive advisory lock.
func WithLock[T any](n *Node[T], fn func() error) error {
	if err := n.Mutex().Lock(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = n.Mutex().Unlock()
		return err
	}
	return n.Mutex().Unlock()
}

// WithPerception runs fn with a read view of target, but only if target is
// an out-neighbor of from at layer. An agent inspecting beyond its
// neighborhood gets ErrOutOfField, surfaced to the caller and never retried.
func WithPerception[T any](from, target *Node[T], layer int32, fn func(data T) error) error {
	for _, e := range from.Outgoing(layer) {
		if e.Target() == target {
			return WithRead(target, fn)
		}
	}
	return ErrOutOfField
}

// WithSharedLock runs fn under n's shared advisory lock.
func WithSharedLock[T any](n *Node[T], fn func() error) error {
	if err := n.Mutex().LockShared(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		_ = n.Mutex().UnlockShared()
		return err
	}
	return n.Mutex().UnlockShared()
}
