package mesh

import (
	"errors"
	"testing"
)

// Single process, single node: build, self-link, run one date with a task
// that increments the payload.
func TestSingleProcessSingleNode(t *testing.T) {
	g := singleGraph(t)
	n := g.BuildNode(0)
	if _, err := g.Link(n, n, 0); err != nil {
		t.Fatalf("Link: %v", err)
	}

	sched := NewScheduler()
	job := NewJob()
	job.Add(TaskFunc(func() error {
		return WithAcquire(n, func(v int64) (int64, error) { return v + 1, nil })
	}))
	sched.Schedule(0, job)
	rt := NewRuntime(sched, WithRunID("single"))
	if err := rt.Run(1); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := n.Data(); got != 1 {
		t.Errorf("data = %d, want 1", got)
	}
	if len(g.Nodes()) != 1 || len(g.Edges()) != 1 {
		t.Errorf("graph has %d nodes, %d edges; want 1 and 1", len(g.Nodes()), len(g.Edges()))
	}
	checkShardInvariants(t, g)
}

func TestRemoveNodeRestoresState(t *testing.T) {
	g := singleGraph(t)
	anchor := g.BuildNode(7)
	nodesBefore := len(g.Nodes())
	edgesBefore := len(g.Edges())

	n := g.BuildNode(0)
	if _, err := g.Link(anchor, n, 0); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if _, err := g.Link(n, n, 3); err != nil {
		t.Fatalf("Link self: %v", err)
	}
	if err := g.RemoveNode(n); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}

	if len(g.Nodes()) != nodesBefore || len(g.Edges()) != edgesBefore {
		t.Errorf("graph has %d nodes, %d edges; want %d and %d",
			len(g.Nodes()), len(g.Edges()), nodesBefore, edgesBefore)
	}
	if len(anchor.Outgoing(0)) != 0 {
		t.Error("anchor kept adjacency to a removed node")
	}
	if _, err := g.Node(n.ID()); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("lookup of removed node: %v, want ErrUnknownNode", err)
	}
}

func TestCallbackRegistries(t *testing.T) {
	g := singleGraph(t)
	var events []string
	g.OnInsertNode(func(*Node[int64]) { events = append(events, "insert_node") })
	g.OnEraseNode(func(*Node[int64]) { events = append(events, "erase_node") })
	g.OnInsertEdge(func(*Edge[int64]) { events = append(events, "insert_edge") })
	g.OnEraseEdge(func(*Edge[int64]) { events = append(events, "erase_edge") })
	g.OnSetLocal(func(*Node[int64]) { events = append(events, "set_local") })

	n := g.BuildNode(0)
	e, _ := g.Link(n, n, 0)
	_ = g.Unlink(e)
	_ = g.RemoveNode(n)

	want := []string{"set_local", "insert_node", "insert_edge", "erase_edge", "erase_node"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestUnknownLookups(t *testing.T) {
	g := singleGraph(t)
	ghost := DistributedID{Rank: 9, Counter: 9}
	if _, err := g.Node(ghost); !errors.Is(err, ErrUnknownNode) {
		t.Errorf("Node: %v, want ErrUnknownNode", err)
	}
	if _, err := g.Edge(ghost); !errors.Is(err, ErrUnknownEdge) {
		t.Errorf("Edge: %v, want ErrUnknownEdge", err)
	}
}

// twoRankRing reproduces the two-process ring: rank 0 builds n0 and n1 with
// edges both ways, then the cluster distributes n1 to rank 1.
func twoRankRing(t *testing.T, g *Graph[int64]) (n0ID, n1ID DistributedID) {
	t.Helper()
	n0ID = DistributedID{Rank: 0, Counter: 0}
	n1ID = DistributedID{Rank: 0, Counter: 1}
	partition := PartitionMap{}
	if g.Transport().Rank() == 0 {
		n0 := g.BuildNode(100)
		n1 := g.BuildNode(101)
		if _, err := g.Link(n0, n1, 0); err != nil {
			t.Fatalf("Link n0->n1: %v", err)
		}
		if _, err := g.Link(n1, n0, 0); err != nil {
			t.Fatalf("Link n1->n0: %v", err)
		}
		partition[n0ID] = 0
		partition[n1ID] = 1
	}
	if err := g.Distribute(partition); err != nil {
		t.Fatalf("Distribute: %v", err)
	}
	return n0ID, n1ID
}

func TestTwoProcessRing(t *testing.T) {
	tally := newOwnerTally()
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)

		localID, distantID := n0ID, n1ID
		if g.Transport().Rank() == 1 {
			localID, distantID = n1ID, n0ID
		}
		local, err := g.Node(localID)
		if err != nil {
			t.Fatalf("rank %d: local node: %v", g.Transport().Rank(), err)
		}
		if local.State() != Local {
			t.Errorf("rank %d: node %v state %v, want LOCAL", g.Transport().Rank(), localID, local.State())
		}
		distant, err := g.Node(distantID)
		if err != nil {
			t.Fatalf("rank %d: distant node: %v", g.Transport().Rank(), err)
		}
		if distant.State() != Distant {
			t.Errorf("rank %d: node %v state %v, want DISTANT", g.Transport().Rank(), distantID, distant.State())
		}

		// Two edges, each Distant here (one endpoint is always remote).
		if len(g.Edges()) != 2 {
			t.Errorf("rank %d: %d edges, want 2", g.Transport().Rank(), len(g.Edges()))
		}
		for id, e := range g.Edges() {
			if e.State() != Distant {
				t.Errorf("rank %d: edge %v state %v, want DISTANT", g.Transport().Rank(), id, e.State())
			}
		}
		checkShardInvariants(t, g)
		tally.record(g)
	})
	tally.assertUnique(t)
}

// Ghost data refresh: a directed ring over four ranks; every owner writes
// rank+10; after one synchronize every replica shows the owner's value.
func TestGhostDataRefresh(t *testing.T) {
	const size = 4
	runCluster(t, size, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		rank := g.Transport().Rank()
		partition := PartitionMap{}
		if rank == 0 {
			ring := make([]*Node[int64], size)
			for i := range ring {
				ring[i] = g.BuildNode(0)
				partition[ring[i].ID()] = i
			}
			for i := range ring {
				if _, err := g.Link(ring[i], ring[(i+1)%size], 0); err != nil {
					t.Fatalf("Link: %v", err)
				}
			}
		}
		if err := g.Distribute(partition); err != nil {
			t.Fatalf("Distribute: %v", err)
		}

		if len(g.Locations().LocalNodes()) != 1 {
			t.Fatalf("rank %d: %d local nodes, want 1", rank, len(g.Locations().LocalNodes()))
		}
		for _, n := range g.Locations().LocalNodes() {
			if err := WithAcquire(n, func(int64) (int64, error) { return int64(rank + 10), nil }); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}

		for id, replica := range g.Locations().DistantNodes() {
			want := int64(replica.Location() + 10)
			if err := WithRead(replica, func(v int64) error {
				if v != want {
					t.Errorf("rank %d: replica %v = %d, want %d", rank, id, v, want)
				}
				return nil
			}); err != nil {
				t.Errorf("read: %v", err)
			}
		}
		checkShardInvariants(t, g)
	})
}

// Ghost writes stay invisible to peers until the next synchronize.
func TestGhostWriteVisibilityBoundary(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)
		rank := g.Transport().Rank()

		// Both ranks settle caches once so the baseline is known.
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}
		if rank == 0 {
			n0, _ := g.Node(n0ID)
			if err := WithAcquire(n0, func(int64) (int64, error) { return 777, nil }); err != nil {
				t.Fatalf("write: %v", err)
			}
		}
		if rank == 1 {
			replica, _ := g.Node(n0ID)
			if replica.Data() != 100 {
				t.Errorf("stale read = %d, want pre-write 100", replica.Data())
			}
		}
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}
		if rank == 1 {
			replica, _ := g.Node(n0ID)
			if replica.Data() != 777 {
				t.Errorf("post-sync read = %d, want 777", replica.Data())
			}
		}
		_ = n1ID
	})
}

// Rebalance: starting from the two-rank ring, swap ownership. Exactly the
// two nodes and two edges remain, and every process agrees n0 is at rank 1
// and n1 at rank 0.
func TestRebalanceSwap(t *testing.T) {
	tally := newOwnerTally()
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)
		rank := g.Transport().Rank()

		swap := PartitionMap{}
		if rank == 0 {
			swap[n0ID] = 1
		} else {
			swap[n1ID] = 0
		}
		if err := g.Distribute(swap); err != nil {
			t.Fatalf("swap Distribute: %v", err)
		}

		if len(g.Nodes()) != 2 || len(g.Edges()) != 2 {
			t.Errorf("rank %d: %d nodes, %d edges; want 2 and 2", rank, len(g.Nodes()), len(g.Edges()))
		}
		if loc, ok := g.Locations().Location(n0ID); !ok || loc != 1 {
			t.Errorf("rank %d: location(n0) = %d,%v; want 1", rank, loc, ok)
		}
		if loc, ok := g.Locations().Location(n1ID); !ok || loc != 0 {
			t.Errorf("rank %d: location(n1) = %d,%v; want 0", rank, loc, ok)
		}
		wantLocal := n1ID
		if rank == 1 {
			wantLocal = n0ID
		}
		n, err := g.Node(wantLocal)
		if err != nil || n.State() != Local {
			t.Errorf("rank %d: node %v not LOCAL after swap (%v)", rank, wantLocal, err)
		}
		checkShardInvariants(t, g)
		tally.record(g)
	})
	tally.assertUnique(t)
}

// Applying the same partition twice changes nothing the second time.
func TestDistributeIdempotent(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)
		rank := g.Transport().Rank()

		nodesBefore, edgesBefore := len(g.Nodes()), len(g.Edges())
		localBefore := len(g.Locations().LocalNodes())

		again := PartitionMap{}
		if rank == 0 {
			again[n0ID] = 0
		} else {
			again[n1ID] = 1
		}
		if err := g.Distribute(again); err != nil {
			t.Fatalf("second Distribute: %v", err)
		}

		if len(g.Nodes()) != nodesBefore || len(g.Edges()) != edgesBefore {
			t.Errorf("rank %d: topology changed: %d/%d nodes, %d/%d edges",
				rank, len(g.Nodes()), nodesBefore, len(g.Edges()), edgesBefore)
		}
		if len(g.Locations().LocalNodes()) != localBefore {
			t.Errorf("rank %d: local set changed on idempotent distribute", rank)
		}
		checkShardInvariants(t, g)
	})
}

// A cross-boundary unlink erases the edge replica on the peer at the next
// synchronize, and drops replicas left without any incident edge.
func TestGhostUnlinkMigration(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)
		rank := g.Transport().Rank()

		if rank == 0 {
			n0, _ := g.Node(n0ID)
			out := n0.Outgoing(0)
			if len(out) != 1 {
				t.Fatalf("rank 0: n0 outgoing = %d", len(out))
			}
			if err := g.Unlink(out[0]); err != nil {
				t.Fatalf("Unlink: %v", err)
			}
		}
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}

		if len(g.Edges()) != 1 {
			t.Errorf("rank %d: %d edges after unlink, want 1", rank, len(g.Edges()))
		}
		// The reverse edge still ties both nodes, so both replicas stay.
		if len(g.Nodes()) != 2 {
			t.Errorf("rank %d: %d nodes, want 2", rank, len(g.Nodes()))
		}

		// Drop the remaining edge from rank 1; the distant replicas become
		// orphans on both sides.
		if rank == 1 {
			n1, _ := g.Node(n1ID)
			out := n1.Outgoing(0)
			if len(out) != 1 {
				t.Fatalf("rank 1: n1 outgoing = %d", len(out))
			}
			if err := g.Unlink(out[0]); err != nil {
				t.Fatalf("Unlink: %v", err)
			}
		}
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}
		if len(g.Edges()) != 0 {
			t.Errorf("rank %d: %d edges, want 0", rank, len(g.Edges()))
		}
		if len(g.Locations().DistantNodes()) != 0 {
			t.Errorf("rank %d: %d distant replicas survived as orphans",
				rank, len(g.Locations().DistantNodes()))
		}
		if len(g.Locations().LocalNodes()) != 1 {
			t.Errorf("rank %d: %d local nodes, want 1", rank, len(g.Locations().LocalNodes()))
		}
		checkShardInvariants(t, g)
	})
}

// A ghost-mode link created against a Distant endpoint reaches the owner at
// the next synchronize.
func TestGhostLinkMigration(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		n0ID, n1ID := twoRankRing(t, g)
		rank := g.Transport().Rank()

		if rank == 0 {
			n0, _ := g.Node(n0ID)
			n1, _ := g.Node(n1ID) // Distant replica here
			if _, err := g.Link(n0, n1, 2); err != nil {
				t.Fatalf("Link on layer 2: %v", err)
			}
		}
		if err := g.Synchronize(); err != nil {
			t.Fatalf("Synchronize: %v", err)
		}

		if len(g.Edges()) != 3 {
			t.Errorf("rank %d: %d edges, want 3", rank, len(g.Edges()))
		}
		if rank == 1 {
			n1, _ := g.Node(n1ID)
			if len(n1.Incoming(2)) != 1 {
				t.Errorf("rank 1: imported edge missing from layer 2 adjacency")
			}
		}
		checkShardInvariants(t, g)
	})
}

func TestStaticLoadBalancingMovesNothing(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		twoRankRing(t, g)
		localBefore := len(g.Locations().LocalNodes())
		if err := g.Balance(StaticLoadBalancing[int64]{}); err != nil {
			t.Fatalf("Balance: %v", err)
		}
		if len(g.Locations().LocalNodes()) != localBefore {
			t.Errorf("rank %d: static balance moved nodes", g.Transport().Rank())
		}
		checkShardInvariants(t, g)
	})
}

func TestClusterAnalysis(t *testing.T) {
	runCluster(t, 2, GhostMode[int64], func(t *testing.T, g *Graph[int64]) {
		twoRankRing(t, g)
		nodes, err := TotalNodes(g)
		if err != nil {
			t.Fatalf("TotalNodes: %v", err)
		}
		if nodes != 2 {
			t.Errorf("TotalNodes = %d, want 2", nodes)
		}
		edges, err := TotalEdges(g)
		if err != nil {
			t.Fatalf("TotalEdges: %v", err)
		}
		if edges != 2 {
			t.Errorf("TotalEdges = %d, want 2", edges)
		}
	})
}
