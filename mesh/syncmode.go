package mesh

// DataSync settles the data half of a synchronization: after Synchronize
// returns on every process, reads of Distant replicas observe whatever
// freshness contract the mode defines.
type DataSync interface {
	Synchronize() error
}

// SyncLinker routes edge creation and removal that crosses process
// boundaries. Ghost mode buffers both until the next Synchronize; hard sync
// sends them immediately and uses Synchronize only to prove every in-flight
// request has been served.
type SyncLinker[T any] interface {
	// Link routes a freshly created edge with at least one Distant endpoint.
	Link(e *Edge[T]) error

	// Unlink routes the removal of an edge with at least one Distant
	// endpoint.
	Unlink(e *Edge[T]) error

	// Synchronize settles all buffered or in-flight link activity.
	// Collective.
	Synchronize() error
}

// SyncMode bundles the three mode-specific policies a graph needs: the mutex
// each node carries, the linker, and the data synchronizer. Modes form a
// closed set; a graph is built with exactly one.
type SyncMode[T any] interface {
	// BindMutex attaches a mode-specific mutex to a node entering the
	// graph.
	BindMutex(n *Node[T])

	// UnbindMutex detaches mode state from a node leaving the graph.
	UnbindMutex(n *Node[T])

	// Linker returns the mode's edge router.
	Linker() SyncLinker[T]

	// DataSync returns the mode's data synchronizer.
	DataSync() DataSync
}

// SyncModeBuilder constructs a mode bound to a graph. Pass one of GhostMode
// or HardSyncMode to NewGraph.
type SyncModeBuilder[T any] func(*Graph[T]) SyncMode[T]
