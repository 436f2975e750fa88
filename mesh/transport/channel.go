package transport

import (
	"fmt"
	"sync"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// Cluster is an in-process Transport fabric: a fixed set of rank endpoints
// connected by in-memory queues, with one goroutine per rank driving its
// endpoint. It exists so that every distributed scenario in this module can
// run (and be tested) inside a single OS process with real message passing and
// no shared graph state between ranks.
//
// Usage:
//
//	cluster := transport.NewCluster(4)
//	for rank := 0; rank < 4; rank++ {
//	    go func(rank int) {
//	        tp := cluster.Endpoint(rank)
//	        // build a graph over tp and run the simulation
//	    }(rank)
//	}
//
// Delivery between any pair of ranks is FIFO. Queues are unbounded, so sends
// never block; Recv blocks until a matching message arrives.
type Cluster struct {
	size      int
	endpoints []*Endpoint

	barrierMu   sync.Mutex
	barrierCond *sync.Cond
	barrierIn   int
	barrierGen  uint64
}

// NewCluster creates a fabric of size connected endpoints.
func NewCluster(size int) *Cluster {
	if size < 1 {
		panic("transport: cluster size must be >= 1")
	}
	c := &Cluster{size: size}
	c.barrierCond = sync.NewCond(&c.barrierMu)
	for rank := 0; rank < size; rank++ {
		ep := &Endpoint{cluster: c, rank: rank}
		ep.cond = sync.NewCond(&ep.mu)
		c.endpoints = append(c.endpoints, ep)
	}
	return c
}

// Endpoint returns the Transport for one rank. Each endpoint must be driven by
// a single goroutine.
func (c *Cluster) Endpoint(rank int) *Endpoint {
	return c.endpoints[rank]
}

// envelope is one queued message.
type envelope struct {
	source  int
	tag     Tag
	payload *pack.Pack
}

// Endpoint is one rank's view of a Cluster.
type Endpoint struct {
	cluster *Cluster
	rank    int

	mu    sync.Mutex
	cond  *sync.Cond
	inbox []envelope
}

// Rank implements Transport.
func (e *Endpoint) Rank() int { return e.rank }

// Size implements Transport.
func (e *Endpoint) Size() int { return e.cluster.size }

// Send implements Transport. The payload is cloned at send time so the sender
// may reuse its Pack immediately.
func (e *Endpoint) Send(p *pack.Pack, dest int, tag Tag) error {
	if dest < 0 || dest >= e.cluster.size {
		return fmt.Errorf("%w: send to rank %d of %d", ErrTransport, dest, e.cluster.size)
	}
	target := e.cluster.endpoints[dest]
	target.mu.Lock()
	target.inbox = append(target.inbox, envelope{source: e.rank, tag: tag, payload: p.Clone()})
	target.mu.Unlock()
	target.cond.Broadcast()
	return nil
}

// SendNonblocking implements Transport. Channel sends complete inline.
func (e *Endpoint) SendNonblocking(p *pack.Pack, dest int, tag Tag) (Handle, error) {
	err := e.Send(p, dest, tag)
	return completedHandle{err: err}, err
}

func matches(env envelope, source int, tag Tag) bool {
	if source != AnySource && env.source != source {
		return false
	}
	if tag != AnyTag && env.tag != tag {
		return false
	}
	return true
}

// Recv implements Transport. It blocks until a message matching (source, tag)
// is available and removes it from the queue.
func (e *Endpoint) Recv(source int, tag Tag) (*pack.Pack, Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for {
		for i, env := range e.inbox {
			if matches(env, source, tag) {
				e.inbox = append(e.inbox[:i], e.inbox[i+1:]...)
				st := Status{Source: env.source, Tag: env.tag, Len: env.payload.Len()}
				return env.payload, st, nil
			}
		}
		e.cond.Wait()
	}
}

// Probe implements Transport. It scans the queue without consuming.
func (e *Endpoint) Probe(source int, tag Tag) (Status, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, env := range e.inbox {
		if matches(env, source, tag) {
			return Status{Source: env.source, Tag: env.tag, Len: env.payload.Len()}, true, nil
		}
	}
	return Status{}, false, nil
}

// Barrier implements Transport with a generation-counted central barrier.
func (e *Endpoint) Barrier() error {
	c := e.cluster
	c.barrierMu.Lock()
	defer c.barrierMu.Unlock()
	gen := c.barrierGen
	c.barrierIn++
	if c.barrierIn == c.size {
		c.barrierIn = 0
		c.barrierGen++
		c.barrierCond.Broadcast()
		return nil
	}
	for gen == c.barrierGen {
		c.barrierCond.Wait()
	}
	return nil
}

// AllToAll implements Transport over point-to-point sends.
func (e *Endpoint) AllToAll(out map[int][]*pack.Pack) (map[int][]*pack.Pack, error) {
	return allToAllOver(e, out)
}

// Gather implements Transport over point-to-point sends.
func (e *Endpoint) Gather(p *pack.Pack, root int) ([]*pack.Pack, error) {
	return gatherOver(e, p, root)
}

// AllReduce implements Transport as a gather at rank 0 followed by a
// broadcast of the folded result.
func (e *Endpoint) AllReduce(p *pack.Pack, op func(a, b *pack.Pack) *pack.Pack) (*pack.Pack, error) {
	return allReduceOver(e, p, op)
}
