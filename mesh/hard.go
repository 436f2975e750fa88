package mesh

import (
	"runtime"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// HardSyncMode is the on-demand, request/response sync mode.
//
// Every mutex operation on a Distant node goes to the owner over the wire and
// blocks until the owner's server grants it; link and unlink cross process
// boundaries immediately. Synchronize proves that no request is left in
// flight anywhere, using the token-ring termination algorithm — once for the
// link server, then once for the mutex server — and toggles the epoch parity
// that separates this round's traffic from the next.
//
// Blocking is cooperative: a caller waiting for a reply keeps draining this
// process's own servers, so mutual waits between processes resolve instead of
// deadlocking.
func HardSyncMode[T any](g *Graph[T]) SyncMode[T] {
	mode := &hardSyncMode[T]{g: g}
	mode.mutexServer = newMutexServer(g)
	mode.linkServer = newLinkServer(g)
	// One termination wave per server: a wave's color must only be
	// whitened by its own token, or in-flight traffic for the second
	// server could lose the blackness protecting it during the first
	// server's termination.
	mode.mutexTerm = &termination{tp: g.tp}
	mode.linkTerm = &termination{tp: g.tp}
	mode.client = &mutexClient[T]{mode: mode}
	mode.linker = &hardLinker[T]{mode: mode}
	mode.dataSync = &hardDataSync[T]{mode: mode}

	// The mutex server answers for exactly the nodes that are Local here;
	// track that set as ownership moves.
	g.lm.OnSetLocal(func(n *Node[T]) {
		if m, ok := n.Mutex().(*hardMutex[T]); ok {
			mode.mutexServer.Manage(n.ID(), m)
		}
	})
	g.lm.OnSetDistant(func(n *Node[T]) {
		mode.mutexServer.Remove(n.ID())
	})
	return mode
}

type hardSyncMode[T any] struct {
	g           *Graph[T]
	mutexServer *mutexServer[T]
	linkServer  *linkServer[T]
	mutexTerm   *termination
	linkTerm    *termination
	client      *mutexClient[T]
	linker      *hardLinker[T]
	dataSync    *hardDataSync[T]
}

func (mode *hardSyncMode[T]) BindMutex(n *Node[T]) {
	n.setMutex(&hardMutex[T]{node: n, mode: mode})
}

func (mode *hardSyncMode[T]) UnbindMutex(n *Node[T]) {
	mode.mutexServer.Remove(n.ID())
	n.setMutex(nil)
}

func (mode *hardSyncMode[T]) Linker() SyncLinker[T] { return mode.linker }

func (mode *hardSyncMode[T]) DataSync() DataSync { return mode.dataSync }

// poll drives both servers once. Every cooperative wait in this mode runs it
// so that this process keeps answering peers while blocked.
func (mode *hardSyncMode[T]) poll() error {
	if err := mode.mutexServer.HandleIncomingRequests(); err != nil {
		return err
	}
	return mode.linkServer.HandleIncomingRequests()
}

// localClaim queues a claim from this process's own thread on one of its
// Local nodes and waits for the server to grant it in FIFO order.
func (mode *hardSyncMode[T]) localClaim(m *hardMutex[T], kind mutexRequestKind) error {
	p := &pendingRequest{req: mutexRequest{id: m.node.ID(), source: localSource, kind: kind}}
	m.queue = append(m.queue, p)
	if err := mode.mutexServer.serveQueue(m); err != nil {
		return err
	}
	for !p.granted {
		if err := mode.poll(); err != nil {
			return err
		}
		runtime.Gosched()
	}
	return nil
}

// hardMutex is the hard-sync mutex. On a Local node it claims through the
// owner-side queue; on a Distant node it routes to the owner through the
// mutex client.
type hardMutex[T any] struct {
	node *Node[T]
	mode *hardSyncMode[T]

	locked bool
	shared int
	queue  []*pendingRequest
}

func (m *hardMutex[T]) Read() (T, error) {
	if m.node.State() == Local {
		if err := m.mode.localClaim(m, reqRead); err != nil {
			var zero T
			return zero, err
		}
		return m.node.data, nil
	}
	c := m.mode.client
	if err := c.request(reqRead, m.node.ID(), m.node.Location(), nil); err != nil {
		var zero T
		return zero, err
	}
	value, err := c.awaitDataReply(m.node.Location())
	if err != nil {
		return value, err
	}
	m.node.setData(value)
	return value, nil
}

func (m *hardMutex[T]) ReleaseRead() error {
	if m.node.State() == Local {
		return m.mode.mutexServer.releaseShared(m)
	}
	return m.mode.client.request(reqReleaseRead, m.node.ID(), m.node.Location(), nil)
}

func (m *hardMutex[T]) Acquire() (T, error) {
	if m.node.State() == Local {
		if err := m.mode.localClaim(m, reqAcquire); err != nil {
			var zero T
			return zero, err
		}
		return m.node.data, nil
	}
	c := m.mode.client
	if err := c.request(reqAcquire, m.node.ID(), m.node.Location(), nil); err != nil {
		var zero T
		return zero, err
	}
	value, err := c.awaitDataReply(m.node.Location())
	if err != nil {
		return value, err
	}
	m.node.setData(value)
	return value, nil
}

func (m *hardMutex[T]) ReleaseAcquire(updated T) error {
	if m.node.State() == Local {
		m.node.setData(updated)
		return m.mode.mutexServer.releaseExclusive(m)
	}
	m.node.setData(updated)
	return m.mode.client.request(reqReleaseAcquire, m.node.ID(), m.node.Location(), &updated)
}

func (m *hardMutex[T]) Lock() error {
	if m.node.State() == Local {
		return m.mode.localClaim(m, reqLock)
	}
	c := m.mode.client
	if err := c.request(reqLock, m.node.ID(), m.node.Location(), nil); err != nil {
		return err
	}
	return c.awaitAck(m.node.Location())
}

func (m *hardMutex[T]) Unlock() error {
	if m.node.State() == Local {
		return m.mode.mutexServer.releaseExclusive(m)
	}
	return m.mode.client.request(reqUnlock, m.node.ID(), m.node.Location(), nil)
}

func (m *hardMutex[T]) LockShared() error {
	if m.node.State() == Local {
		return m.mode.localClaim(m, reqLockShared)
	}
	c := m.mode.client
	if err := c.request(reqLockShared, m.node.ID(), m.node.Location(), nil); err != nil {
		return err
	}
	return c.awaitAck(m.node.Location())
}

func (m *hardMutex[T]) UnlockShared() error {
	if m.node.State() == Local {
		return m.mode.mutexServer.releaseShared(m)
	}
	return m.mode.client.request(reqUnlockShared, m.node.ID(), m.node.Location(), nil)
}

func (m *hardMutex[T]) LockedShared() int { return m.shared }

func (m *hardMutex[T]) Locked() bool { return m.locked }

// mutexClient sends mutex requests to owner processes and waits for replies,
// polling this process's own servers in between.
type mutexClient[T any] struct {
	mode *hardSyncMode[T]
}

// request ships one mutex request to the owner. data is non-nil only for
// RELEASE_ACQUIRE, whose payload carries the written value. Every send
// blackens this process for the termination algorithm.
func (c *mutexClient[T]) request(kind mutexRequestKind, id DistributedID, location int, data *T) error {
	payload := pack.New()
	packMutexRequest(payload, mutexRequest{id: id, source: c.mode.g.tp.Rank(), kind: kind})
	if kind == reqReleaseAcquire {
		packData(payload, c.mode.g.codec, *data)
	}
	c.mode.mutexTerm.blacken()
	tag := transport.NewTag(c.mode.mutexServer.Epoch(), transport.MutexReq)
	return c.mode.g.tp.Send(payload, location, tag)
}

func (c *mutexClient[T]) awaitReply(location int) (*pack.Pack, error) {
	tag := transport.NewTag(c.mode.mutexServer.Epoch(), transport.MutexReply)
	for {
		_, ok, err := c.mode.g.tp.Probe(location, tag)
		if err != nil {
			return nil, err
		}
		if ok {
			payload, _, err := c.mode.g.tp.Recv(location, tag)
			return payload, err
		}
		if err := c.mode.poll(); err != nil {
			return nil, err
		}
		runtime.Gosched()
	}
}

func (c *mutexClient[T]) awaitDataReply(location int) (T, error) {
	payload, err := c.awaitReply(location)
	if err != nil {
		var zero T
		return zero, err
	}
	return unpackData(payload, c.mode.g.codec)
}

func (c *mutexClient[T]) awaitAck(location int) error {
	_, err := c.awaitReply(location)
	return err
}

// hardLinker ships link and unlink requests to the owner of each Distant
// endpoint as they happen; Synchronize proves delivery with one termination
// over the link server.
type hardLinker[T any] struct {
	mode *hardSyncMode[T]
}

func (l *hardLinker[T]) distantOwners(e *Edge[T]) []int {
	var owners []int
	if e.Source().State() == Distant {
		owners = append(owners, e.Source().Location())
	}
	if e.Target().State() == Distant && (len(owners) == 0 || owners[0] != e.Target().Location()) {
		owners = append(owners, e.Target().Location())
	}
	return owners
}

func (l *hardLinker[T]) Link(e *Edge[T]) error {
	owners := l.distantOwners(e)
	if len(owners) == 0 {
		return nil
	}
	payload := pack.New()
	packEdgeRecord(payload, l.mode.g.codec, edgeRecordOf(e))
	tag := transport.NewTag(l.mode.linkServer.Epoch(), transport.Link)
	for _, owner := range owners {
		l.mode.linkTerm.blacken()
		if err := l.mode.g.tp.Send(payload, owner, tag); err != nil {
			return err
		}
	}
	return nil
}

func (l *hardLinker[T]) Unlink(e *Edge[T]) error {
	owners := l.distantOwners(e)
	if len(owners) == 0 {
		return nil
	}
	payload := pack.New()
	e.ID().PackTo(payload)
	tag := transport.NewTag(l.mode.linkServer.Epoch(), transport.Unlink)
	for _, owner := range owners {
		l.mode.linkTerm.blacken()
		if err := l.mode.g.tp.Send(payload, owner, tag); err != nil {
			return err
		}
	}
	return nil
}

func (l *hardLinker[T]) Synchronize() error {
	return l.mode.linkTerm.Terminate(l.mode.linkServer, l.mode.poll)
}

// hardDataSync bounds the data half of a hard synchronize: by the time the
// mutex server's termination completes, every read, acquire, and release has
// been answered, so there is nothing left to transfer.
type hardDataSync[T any] struct {
	mode *hardSyncMode[T]
}

func (d *hardDataSync[T]) Synchronize() error {
	return d.mode.mutexTerm.Terminate(d.mode.mutexServer, d.mode.poll)
}
