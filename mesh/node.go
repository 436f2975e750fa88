package mesh

// LocationState classifies one replica of a node or edge on one process.
type LocationState uint8

// Replica classifications.
//
// A node is Local on exactly one process (its owner) and Distant on every
// process that holds any edge incident to it. On a Distant replica the data
// payload is a cached snapshot whose freshness is defined by the active sync
// mode. An edge is Local when both its endpoints are Local, Distant otherwise.
const (
	Local LocationState = iota
	Distant
)

func (s LocationState) String() string {
	if s == Local {
		return "LOCAL"
	}
	return "DISTANT"
}

// Node is one graph vertex carrying an application data payload of type T.
//
// The payload is opaque to the core: tasks read it through Mutex().Read and
// mutate it through Mutex().Acquire / ReleaseAcquire, and the active sync mode
// decides what those mean for a Distant replica. Adjacency is indexed by an
// integer layer; multiple edges between the same pair of nodes are allowed as
// long as they differ by layer or by id.
type Node[T any] struct {
	id       DistributedID
	weight   float32
	data     T
	state    LocationState
	location int
	mutex    Mutex[T]

	incoming map[int32][]*Edge[T]
	outgoing map[int32][]*Edge[T]
}

func newNode[T any](id DistributedID, data T, weight float32) *Node[T] {
	return &Node[T]{
		id:       id,
		weight:   weight,
		data:     data,
		incoming: map[int32][]*Edge[T]{},
		outgoing: map[int32][]*Edge[T]{},
	}
}

// ID returns the node's distributed identity.
func (n *Node[T]) ID() DistributedID { return n.id }

// Weight returns the load-balancing weight hint.
func (n *Node[T]) Weight() float32 { return n.weight }

// SetWeight updates the load-balancing weight hint.
func (n *Node[T]) SetWeight(w float32) { n.weight = w }

// State returns this replica's classification on this process.
func (n *Node[T]) State() LocationState { return n.state }

func (n *Node[T]) setState(s LocationState) { n.state = s }

// Location returns the rank this process currently believes owns the node.
// Authoritative after UpdateLocations; between collectives it may lag.
func (n *Node[T]) Location() int { return n.location }

func (n *Node[T]) setLocation(rank int) { n.location = rank }

// Mutex returns the node's access mutex. Its behavior is defined by the sync
// mode the graph was built with.
func (n *Node[T]) Mutex() Mutex[T] { return n.mutex }

func (n *Node[T]) setMutex(m Mutex[T]) { n.mutex = m }

// Data returns the replica's current payload without any synchronization.
// Callers must hold a read or shared lock; prefer Mutex().Read or the
// WithRead helper.
func (n *Node[T]) Data() T { return n.data }

func (n *Node[T]) setData(data T) { n.data = data }

// Incoming returns the incoming edges at layer, in insertion order. The
// returned slice is the node's own storage; callers must not modify it.
func (n *Node[T]) Incoming(layer int32) []*Edge[T] { return n.incoming[layer] }

// Outgoing returns the outgoing edges at layer, in insertion order.
func (n *Node[T]) Outgoing(layer int32) []*Edge[T] { return n.outgoing[layer] }

// InNeighbors returns the source node of every incoming edge at layer.
// A neighbor reached through several edges appears once per edge.
func (n *Node[T]) InNeighbors(layer int32) []*Node[T] {
	edges := n.incoming[layer]
	neighbors := make([]*Node[T], 0, len(edges))
	for _, e := range edges {
		neighbors = append(neighbors, e.Source())
	}
	return neighbors
}

// OutNeighbors returns the target node of every outgoing edge at layer.
func (n *Node[T]) OutNeighbors(layer int32) []*Node[T] {
	edges := n.outgoing[layer]
	neighbors := make([]*Node[T], 0, len(edges))
	for _, e := range edges {
		neighbors = append(neighbors, e.Target())
	}
	return neighbors
}

// Layers returns every layer that currently carries at least one edge
// incident to this node.
func (n *Node[T]) Layers() []int32 {
	seen := map[int32]struct{}{}
	for layer := range n.incoming {
		if len(n.incoming[layer]) > 0 {
			seen[layer] = struct{}{}
		}
	}
	for layer := range n.outgoing {
		if len(n.outgoing[layer]) > 0 {
			seen[layer] = struct{}{}
		}
	}
	layers := make([]int32, 0, len(seen))
	for layer := range seen {
		layers = append(layers, layer)
	}
	return layers
}

// degree returns the total number of incident edge entries across all layers.
// A self-loop counts twice (once in, once out).
func (n *Node[T]) degree() int {
	d := 0
	for _, edges := range n.incoming {
		d += len(edges)
	}
	for _, edges := range n.outgoing {
		d += len(edges)
	}
	return d
}

func (n *Node[T]) linkIn(e *Edge[T]) {
	n.incoming[e.layer] = append(n.incoming[e.layer], e)
}

func (n *Node[T]) linkOut(e *Edge[T]) {
	n.outgoing[e.layer] = append(n.outgoing[e.layer], e)
}

func removeEdge[T any](edges []*Edge[T], e *Edge[T]) []*Edge[T] {
	for i, candidate := range edges {
		if candidate == e {
			return append(edges[:i], edges[i+1:]...)
		}
	}
	return edges
}

func (n *Node[T]) unlinkIn(e *Edge[T]) {
	n.incoming[e.layer] = removeEdge(n.incoming[e.layer], e)
}

func (n *Node[T]) unlinkOut(e *Edge[T]) {
	n.outgoing[e.layer] = removeEdge(n.outgoing[e.layer], e)
}
