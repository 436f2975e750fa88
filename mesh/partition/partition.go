// Package partition provides load-balancing strategies for the distributed
// graph.
//
// A balancer consumes this process's Local nodes and produces a PartitionMap
// assigning each node a target rank; mesh.Graph.Distribute applies it. The
// graph treats every balancer as a black box that may use node weights as
// hints. mesh.StaticLoadBalancing (in the core package) is the degenerate
// strategy that moves nothing.
package partition

import (
	"github.com/dshills/agentmesh-go/mesh"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// RoundRobin spreads nodes over ranks by id, ignoring weights. Deterministic
// and purely local: every process computes its share without communication,
// and the same node always maps to the same rank.
type RoundRobin[T any] struct {
	size int
}

// NewRoundRobin creates a RoundRobin balancer over the transport's rank
// count.
func NewRoundRobin[T any](tp transport.Transport) *RoundRobin[T] {
	return &RoundRobin[T]{size: tp.Size()}
}

// Balance implements mesh.LoadBalancing.
func (r *RoundRobin[T]) Balance(nodes mesh.NodeMap[T]) (mesh.PartitionMap, error) {
	p := make(mesh.PartitionMap, len(nodes))
	for id := range nodes {
		p[id] = int((uint64(uint32(id.Rank)) + id.Counter) % uint64(r.size)) // #nosec G115 -- rank fits uint32
	}
	return p, nil
}
