package partition

import (
	"fmt"
	"sort"

	"github.com/dshills/agentmesh-go/mesh"
	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// Greedy is a weight-aware balancer: rank 0 gathers every node's weight,
// assigns heavy nodes first to the currently lightest rank, and fans the
// resulting partition back out. Collective and blocking: every process must
// call Balance (or BalanceFixed) together.
//
// BalanceFixed additionally honors a pinning map: pinned nodes are charged to
// their pinned rank before anything else is placed.
type Greedy[T any] struct {
	tp transport.Transport
}

// NewGreedy creates a Greedy balancer over tp.
func NewGreedy[T any](tp transport.Transport) *Greedy[T] {
	return &Greedy[T]{tp: tp}
}

// Balance implements mesh.LoadBalancing.
func (g *Greedy[T]) Balance(nodes mesh.NodeMap[T]) (mesh.PartitionMap, error) {
	return g.BalanceFixed(nodes, nil)
}

type weightedNode struct {
	id     mesh.DistributedID
	weight float32
	pinned bool
	pin    int32
}

// BalanceFixed implements mesh.FixedVerticesLoadBalancing.
func (g *Greedy[T]) BalanceFixed(nodes mesh.NodeMap[T], fixed mesh.PartitionMap) (mesh.PartitionMap, error) {
	local := make([]weightedNode, 0, len(nodes))
	for id, n := range nodes {
		wn := weightedNode{id: id, weight: n.Weight()}
		if pin, ok := fixed[id]; ok {
			wn.pinned = true
			wn.pin = int32(pin)
		}
		local = append(local, wn)
	}
	sort.Slice(local, func(i, j int) bool { return local[i].id.Less(local[j].id) })

	payload := pack.New()
	pack.PutSeq(payload, local, func(p *pack.Pack, wn weightedNode) {
		wn.id.PackTo(p)
		p.PutFloat32(wn.weight)
		p.PutBool(wn.pinned)
		p.PutInt32(wn.pin)
	})
	gathered, err := g.tp.Gather(payload, 0)
	if err != nil {
		return nil, err
	}

	// Rank 0 solves; everyone else receives the solution below.
	out := map[int][]*pack.Pack{}
	if g.tp.Rank() == 0 {
		var all []weightedNode
		for source, p := range gathered {
			decoded, err := pack.GetSeq(p, func(p *pack.Pack) (weightedNode, error) {
				var wn weightedNode
				var err error
				if wn.id, err = mesh.UnpackID(p); err != nil {
					return wn, err
				}
				if wn.weight, err = p.GetFloat32(); err != nil {
					return wn, err
				}
				if wn.pinned, err = p.GetBool(); err != nil {
					return wn, err
				}
				wn.pin, err = p.GetInt32()
				return wn, err
			})
			if err != nil {
				return nil, fmt.Errorf("greedy balance: gather from rank %d: %w", source, err)
			}
			all = append(all, decoded...)
		}
		solution := solve(all, g.tp.Size())
		encoded := pack.New()
		pack.PutSeq(encoded, solution, func(p *pack.Pack, a assignment) {
			a.id.PackTo(p)
			p.PutInt32(a.rank)
		})
		for dest := 0; dest < g.tp.Size(); dest++ {
			out[dest] = []*pack.Pack{encoded.Clone()}
		}
	}
	in, err := g.tp.AllToAll(out)
	if err != nil {
		return nil, err
	}

	partition := mesh.PartitionMap{}
	for _, p := range in[0] {
		decoded, err := pack.GetSeq(p, func(p *pack.Pack) (assignment, error) {
			var a assignment
			var err error
			if a.id, err = mesh.UnpackID(p); err != nil {
				return a, err
			}
			a.rank, err = p.GetInt32()
			return a, err
		})
		if err != nil {
			return nil, fmt.Errorf("greedy balance: solution decode: %w", err)
		}
		for _, a := range decoded {
			partition[a.id] = int(a.rank)
		}
	}
	return partition, nil
}

type assignment struct {
	id   mesh.DistributedID
	rank int32
}

// solve places pinned nodes first, then the rest heaviest-first onto the
// lightest rank. Ties break toward the lower rank, and the input order is
// fixed by id, so the solution is deterministic.
func solve(all []weightedNode, size int) []assignment {
	loads := make([]float64, size)
	solution := make([]assignment, 0, len(all))

	for _, wn := range all {
		if !wn.pinned {
			continue
		}
		rank := int(wn.pin)
		if rank < 0 || rank >= size {
			rank = 0
		}
		loads[rank] += float64(wn.weight)
		solution = append(solution, assignment{id: wn.id, rank: int32(rank)})
	}

	free := make([]weightedNode, 0, len(all))
	for _, wn := range all {
		if !wn.pinned {
			free = append(free, wn)
		}
	}
	sort.SliceStable(free, func(i, j int) bool { return free[i].weight > free[j].weight })
	for _, wn := range free {
		lightest := 0
		for rank := 1; rank < size; rank++ {
			if loads[rank] < loads[lightest] {
				lightest = rank
			}
		}
		loads[lightest] += float64(wn.weight)
		solution = append(solution, assignment{id: wn.id, rank: int32(lightest)})
	}
	return solution
}
