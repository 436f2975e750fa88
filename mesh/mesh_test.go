package mesh

import (
	"sync"
	"testing"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// i64Codec is the payload codec every graph test runs with: agents carrying
// a single counter.
type i64Codec struct{}

func (i64Codec) Size(int64) int            { return 8 }
func (i64Codec) Put(p *pack.Pack, v int64) { p.PutInt64(v) }
func (i64Codec) Get(p *pack.Pack) (int64, error) {
	return p.GetInt64()
}

// runCluster spins up one goroutine per rank, each with its own graph shard
// over a shared channel cluster, and waits for all of them.
func runCluster(t *testing.T, size int, mode SyncModeBuilder[int64], body func(t *testing.T, g *Graph[int64])) {
	t.Helper()
	cluster := transport.NewCluster(size)
	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			g := NewGraph[int64](cluster.Endpoint(rank), i64Codec{}, mode)
			body(t, g)
		}(rank)
	}
	wg.Wait()
}

// singleGraph builds a one-rank ghost graph for tests that never leave the
// process.
func singleGraph(t *testing.T) *Graph[int64] {
	t.Helper()
	cluster := transport.NewCluster(1)
	return NewGraph[int64](cluster.Endpoint(0), i64Codec{}, GhostMode[int64])
}

// checkShardInvariants asserts the per-process invariants that must hold
// after every synchronize:
//   - local and distant sets partition the known nodes
//   - every Local node's recorded location is this rank
//   - edge state is Local exactly when both endpoints are Local
//   - adjacency is mirrored: an edge appears on both endpoints
func checkShardInvariants(t *testing.T, g *Graph[int64]) {
	t.Helper()
	lm := g.Locations()
	for id := range lm.LocalNodes() {
		if _, dup := lm.DistantNodes()[id]; dup {
			t.Errorf("node %v is both local and distant", id)
		}
		if loc, _ := lm.Location(id); loc != g.Transport().Rank() {
			t.Errorf("local node %v recorded at rank %d", id, loc)
		}
	}
	for id, n := range g.Nodes() {
		local := n.State() == Local
		if _, inLocal := lm.LocalNodes()[id]; inLocal != local {
			t.Errorf("node %v state %v disagrees with location sets", id, n.State())
		}
	}
	for id, e := range g.Edges() {
		wantLocal := e.Source().State() == Local && e.Target().State() == Local
		if (e.State() == Local) != wantLocal {
			t.Errorf("edge %v state %v with endpoints %v/%v",
				id, e.State(), e.Source().State(), e.Target().State())
		}
		if !containsEdge(e.Source().Outgoing(e.Layer()), e) {
			t.Errorf("edge %v missing from source adjacency", id)
		}
		if !containsEdge(e.Target().Incoming(e.Layer()), e) {
			t.Errorf("edge %v missing from target adjacency", id)
		}
	}
}

func containsEdge(edges []*Edge[int64], e *Edge[int64]) bool {
	for _, candidate := range edges {
		if candidate == e {
			return true
		}
	}
	return false
}

// ownerTally records, across ranks, which process claims each node as Local.
type ownerTally struct {
	mu     sync.Mutex
	owners map[DistributedID][]int
}

func newOwnerTally() *ownerTally {
	return &ownerTally{owners: map[DistributedID][]int{}}
}

func (o *ownerTally) record(g *Graph[int64]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range g.Locations().LocalNodes() {
		o.owners[id] = append(o.owners[id], g.Transport().Rank())
	}
}

func (o *ownerTally) assertUnique(t *testing.T) {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, ranks := range o.owners {
		if len(ranks) != 1 {
			t.Errorf("node %v claimed local by ranks %v", id, ranks)
		}
	}
}
