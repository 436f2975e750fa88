package mesh

import (
	"github.com/dshills/agentmesh-go/mesh/pack"
)

// Cluster-wide graph statistics. All of these are collective: every process
// must call them together, outside of any mutex operation.

func sumReduce(a, b *pack.Pack) *pack.Pack {
	av, _ := a.GetUint64()
	bv, _ := b.GetUint64()
	folded := pack.New()
	folded.PutUint64(av + bv)
	return folded
}

func allReduceSum[T any](g *Graph[T], local uint64) (uint64, error) {
	payload := pack.New()
	payload.PutUint64(local)
	folded, err := g.tp.AllReduce(payload, sumReduce)
	if err != nil {
		return 0, err
	}
	return folded.GetUint64()
}

// TotalNodes returns the number of distinct nodes in the whole distributed
// graph: the sum of Local node counts over all processes.
func TotalNodes[T any](g *Graph[T]) (uint64, error) {
	return allReduceSum(g, uint64(len(g.lm.LocalNodes())))
}

// TotalEdges returns the number of distinct edges in the whole distributed
// graph. Each edge is counted once, on the process where its source is
// Local, so replicas never double-count.
func TotalEdges[T any](g *Graph[T]) (uint64, error) {
	count := uint64(0)
	for _, e := range g.edges {
		if e.Source().State() == Local {
			count++
		}
	}
	return allReduceSum(g, count)
}

// TotalWeight returns the sum of Local node weights over all processes,
// scaled to an integer microweight so the reduction stays exact.
func TotalWeight[T any](g *Graph[T]) (float64, error) {
	local := uint64(0)
	for _, n := range g.lm.LocalNodes() {
		local += uint64(n.Weight() * 1e6)
	}
	sum, err := allReduceSum(g, local)
	if err != nil {
		return 0, err
	}
	return float64(sum) / 1e6, nil
}
