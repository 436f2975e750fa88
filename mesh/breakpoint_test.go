package mesh

import (
	"sync"
	"testing"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

func TestBreakpointRoundTripSingleRank(t *testing.T) {
	g := singleGraph(t)
	a := g.BuildWeightedNode(11, 2)
	b := g.BuildNode(22)
	if _, err := g.Link(a, b, 0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := g.Link(b, b, 4); err != nil {
		t.Fatalf("Link self: %v", err)
	}

	dump := pack.New()
	g.Dump(dump)

	restored := singleGraph(t)
	if err := restored.Load(dump); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(restored.Nodes()) != 2 || len(restored.Edges()) != 2 {
		t.Fatalf("restored %d nodes, %d edges; want 2 and 2", len(restored.Nodes()), len(restored.Edges()))
	}
	ra, err := restored.Node(a.ID())
	if err != nil {
		t.Fatalf("restored node a: %v", err)
	}
	if ra.Data() != 11 || ra.Weight() != 2 || ra.State() != Local {
		t.Errorf("restored a = (%d, %f, %v)", ra.Data(), ra.Weight(), ra.State())
	}
	rb, _ := restored.Node(b.ID())
	if len(rb.Incoming(0)) != 1 || len(rb.Incoming(4)) != 1 || len(rb.Outgoing(4)) != 1 {
		t.Error("restored adjacency does not match the dump")
	}
	checkShardInvariants(t, restored)

	// Fresh ids must not collide with anything the dump contained.
	fresh := restored.BuildNode(0)
	if fresh.ID() == a.ID() || fresh.ID() == b.ID() {
		t.Errorf("id %v reused after load", fresh.ID())
	}
}

func TestBreakpointLoadRequiresEmptyGraph(t *testing.T) {
	g := singleGraph(t)
	g.BuildNode(0)
	dump := pack.New()
	g.Dump(dump)

	occupied := singleGraph(t)
	occupied.BuildNode(1)
	if err := occupied.Load(dump); err == nil {
		t.Error("Load into a non-empty graph succeeded")
	}
}

// A two-rank cluster dumps both shards, restores them into a fresh cluster,
// and the Local/Distant split plus the locations map come back from owner
// comparisons alone. After one synchronize, Distant reads are meaningful.
func TestBreakpointRoundTripCluster(t *testing.T) {
	const size = 2
	first := transport.NewCluster(size)
	second := transport.NewCluster(size)
	dumps := make([]*pack.Pack, size)

	var wg sync.WaitGroup
	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			g := NewGraph[int64](first.Endpoint(rank), i64Codec{}, GhostMode[int64])
			n0ID, _ := twoRankRing(t, g)
			if rank == 0 {
				n0, _ := g.Node(n0ID)
				if err := WithAcquire(n0, func(int64) (int64, error) { return 321, nil }); err != nil {
					t.Errorf("write: %v", err)
				}
			}
			dump := pack.New()
			g.Dump(dump)
			dumps[rank] = dump
		}(rank)
	}
	wg.Wait()
	if t.Failed() {
		t.FailNow()
	}

	for rank := 0; rank < size; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			g := NewGraph[int64](second.Endpoint(rank), i64Codec{}, GhostMode[int64])
			if err := g.Load(dumps[rank]); err != nil {
				t.Errorf("rank %d: Load: %v", rank, err)
				return
			}
			if len(g.Locations().LocalNodes()) != 1 || len(g.Locations().DistantNodes()) != 1 {
				t.Errorf("rank %d: restored split %d/%d, want 1/1", rank,
					len(g.Locations().LocalNodes()), len(g.Locations().DistantNodes()))
			}
			checkShardInvariants(t, g)

			if err := g.Synchronize(); err != nil {
				t.Errorf("rank %d: Synchronize: %v", rank, err)
				return
			}
			if rank == 1 {
				n0, err := g.Node(DistributedID{Rank: 0, Counter: 0})
				if err != nil {
					t.Errorf("restored n0: %v", err)
					return
				}
				if n0.Data() != 321 {
					t.Errorf("post-load read = %d, want 321", n0.Data())
				}
			}
		}(rank)
	}
	wg.Wait()
}
