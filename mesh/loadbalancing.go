package mesh

// PartitionMap assigns each node id a target owner rank. Nodes absent from
// the map stay where they are.
type PartitionMap map[DistributedID]int

// NodeMap is the view of nodes a partitioner consumes.
type NodeMap[T any] map[DistributedID]*Node[T]

// LoadBalancing produces a partition from this process's Local nodes. The
// core treats the partitioner as a black box: implementations may use node
// and edge weights as hints, and may be collective (every process calls
// Balance together, once per load-balancing step).
type LoadBalancing[T any] interface {
	Balance(nodes NodeMap[T]) (PartitionMap, error)
}

// FixedVerticesLoadBalancing additionally honors a pinning map: pinned nodes
// are assigned exactly the rank the pin dictates.
type FixedVerticesLoadBalancing[T any] interface {
	LoadBalancing[T]
	BalanceFixed(nodes NodeMap[T], fixed PartitionMap) (PartitionMap, error)
}

// StaticLoadBalancing returns the current owner for every node: applying it
// moves nothing. Schedule it to opt out of rebalancing for a time step while
// keeping the load-balancing job in place.
type StaticLoadBalancing[T any] struct{}

// Balance implements LoadBalancing.
func (StaticLoadBalancing[T]) Balance(nodes NodeMap[T]) (PartitionMap, error) {
	partition := make(PartitionMap, len(nodes))
	for id, n := range nodes {
		partition[id] = n.Location()
	}
	return partition, nil
}
