package mesh

import (
	"fmt"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// pendingRequest is one queued claim on a hard-sync mutex. granted flips when
// the server dequeues a LOCAL request; remote requests are answered with a
// reply message instead.
type pendingRequest struct {
	req     mutexRequest
	granted bool
}

// mutexServer answers mutex requests targeting this process's Local nodes.
//
// Per node it keeps a FIFO queue of pending claims plus the current holder
// state (exclusive flag, shared count) on the node's hardMutex. Requests are
// served strictly in submission order: a new request is granted immediately
// only when the queue is empty and the holder state allows it, and every
// release re-serves the queue head-first. The owner's own thread participates
// through the same queue under the pseudo source rank localSource, so local
// and remote claimants interleave fairly.
type mutexServer[T any] struct {
	g       *Graph[T]
	epoch   transport.Epoch
	mutexes map[DistributedID]*hardMutex[T]
}

func newMutexServer[T any](g *Graph[T]) *mutexServer[T] {
	return &mutexServer[T]{g: g, mutexes: map[DistributedID]*hardMutex[T]{}}
}

// Manage registers the mutex of a node that became Local here.
func (s *mutexServer[T]) Manage(id DistributedID, m *hardMutex[T]) {
	s.mutexes[id] = m
}

// Remove forgets the mutex of a node leaving this process.
func (s *mutexServer[T]) Remove(id DistributedID) {
	delete(s.mutexes, id)
}

// Epoch implements requestServer.
func (s *mutexServer[T]) Epoch() transport.Epoch { return s.epoch }

// ToggleEpoch implements requestServer.
func (s *mutexServer[T]) ToggleEpoch() { s.epoch = s.epoch.Toggle() }

// HandleIncomingRequests drains and serves every mutex request currently
// waiting under this epoch's tag. Nonblocking; returns after the queue of
// arrived messages is empty.
func (s *mutexServer[T]) HandleIncomingRequests() error {
	tag := transport.NewTag(s.epoch, transport.MutexReq)
	for {
		st, ok, err := s.g.tp.Probe(transport.AnySource, tag)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, _, err := s.g.tp.Recv(st.Source, tag)
		if err != nil {
			return err
		}
		req, err := unpackMutexRequest(payload)
		if err != nil {
			return fmt.Errorf("mutex request from rank %d: %w", st.Source, err)
		}
		if err := s.handle(req, payload); err != nil {
			return err
		}
	}
}

func (s *mutexServer[T]) handle(req mutexRequest, payload *pack.Pack) error {
	m, ok := s.mutexes[req.id]
	if !ok {
		return s.forward(req, payload)
	}
	switch req.kind {
	case reqRead, reqAcquire, reqLock, reqLockShared:
		m.queue = append(m.queue, &pendingRequest{req: req})
		return s.serveQueue(m)
	case reqReleaseRead, reqUnlockShared:
		return s.releaseShared(m)
	case reqUnlock:
		return s.releaseExclusive(m)
	case reqReleaseAcquire:
		data, err := unpackData(payload, s.g.codec)
		if err != nil {
			return fmt.Errorf("release-acquire for %v: %w", req.id, err)
		}
		m.node.setData(data)
		return s.releaseExclusive(m)
	default:
		return fmt.Errorf("%w: mutex request kind %d", ErrStateViolation, req.kind)
	}
}

// forward re-routes a request for a node that is no longer Local here, one
// hop toward the owner this process currently records. A request for an id
// nobody here has ever heard of can only be traffic from a closed epoch.
func (s *mutexServer[T]) forward(req mutexRequest, payload *pack.Pack) error {
	owner, known := s.g.lm.Location(req.id)
	if !known || owner == s.g.tp.Rank() {
		return fmt.Errorf("%w: mutex request for %v from rank %d", ErrTerminationViolation, req.id, req.source)
	}
	payload.Rewind()
	forwarded, err := payload.Read(payload.Remaining())
	if err != nil {
		return err
	}
	return s.g.tp.Send(pack.FromBytes(forwarded), owner, transport.NewTag(s.epoch, transport.MutexReq))
}

func (s *mutexServer[T]) releaseShared(m *hardMutex[T]) error {
	if m.shared == 0 {
		return fmt.Errorf("%w: shared release on %v with no shared holder", ErrStateViolation, m.node.ID())
	}
	m.shared--
	return s.serveQueue(m)
}

func (s *mutexServer[T]) releaseExclusive(m *hardMutex[T]) error {
	if !m.locked {
		return fmt.Errorf("%w: exclusive release on %v with no holder", ErrStateViolation, m.node.ID())
	}
	m.locked = false
	return s.serveQueue(m)
}

// serveQueue grants queued requests head-first until the head cannot be
// satisfied. Shared claims (READ, LOCK_SHARED) need no exclusive holder;
// exclusive claims (ACQUIRE, LOCK) additionally need a zero shared count.
func (s *mutexServer[T]) serveQueue(m *hardMutex[T]) error {
	for len(m.queue) > 0 {
		head := m.queue[0]
		switch head.req.kind {
		case reqRead, reqLockShared:
			if m.locked {
				return nil
			}
			m.shared++
		case reqAcquire, reqLock:
			if m.locked || m.shared > 0 {
				return nil
			}
			m.locked = true
		}
		m.queue = m.queue[1:]
		if head.req.source == localSource {
			head.granted = true
			continue
		}
		reply := pack.New()
		if head.req.kind == reqRead || head.req.kind == reqAcquire {
			packData(reply, s.g.codec, m.node.Data())
		}
		tag := transport.NewTag(s.epoch, transport.MutexReply)
		if err := s.g.tp.Send(reply, head.req.source, tag); err != nil {
			return err
		}
	}
	return nil
}

// linkServer applies link and unlink requests targeting this process's
// replicas. Hard-sync link traffic is immediate on the sender side; it is
// consumed here whenever this process polls, and the linker's termination
// guarantees nothing is left in flight when synchronize returns.
type linkServer[T any] struct {
	g     *Graph[T]
	epoch transport.Epoch
}

func newLinkServer[T any](g *Graph[T]) *linkServer[T] {
	// The link server starts on the opposite parity from the mutex server.
	// Both toggle once per synchronize, so the two termination waves stay
	// on disjoint token tags forever.
	return &linkServer[T]{g: g, epoch: transport.Odd}
}

// Epoch implements requestServer.
func (s *linkServer[T]) Epoch() transport.Epoch { return s.epoch }

// ToggleEpoch implements requestServer.
func (s *linkServer[T]) ToggleEpoch() { s.epoch = s.epoch.Toggle() }

// HandleIncomingRequests drains every link and unlink message currently
// waiting under this epoch's tags.
func (s *linkServer[T]) HandleIncomingRequests() error {
	if err := s.handleLinks(); err != nil {
		return err
	}
	return s.handleUnlinks()
}

func (s *linkServer[T]) handleLinks() error {
	tag := transport.NewTag(s.epoch, transport.Link)
	for {
		st, ok, err := s.g.tp.Probe(transport.AnySource, tag)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, _, err := s.g.tp.Recv(st.Source, tag)
		if err != nil {
			return err
		}
		rec, err := unpackEdgeRecord(payload, s.g.codec)
		if err != nil {
			return fmt.Errorf("link from rank %d: %w", st.Source, err)
		}
		if _, err := s.g.importEdgeRecord(rec); err != nil {
			return err
		}
	}
}

func (s *linkServer[T]) handleUnlinks() error {
	tag := transport.NewTag(s.epoch, transport.Unlink)
	for {
		st, ok, err := s.g.tp.Probe(transport.AnySource, tag)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		payload, _, err := s.g.tp.Recv(st.Source, tag)
		if err != nil {
			return err
		}
		id, err := UnpackID(payload)
		if err != nil {
			return fmt.Errorf("unlink from rank %d: %w", st.Source, err)
		}
		e, ok := s.g.edges[id]
		if !ok {
			continue
		}
		src, tgt := e.Source(), e.Target()
		s.g.eraseEdgeReplica(e)
		s.g.clearIfOrphan(src)
		s.g.clearIfOrphan(tgt)
	}
}
