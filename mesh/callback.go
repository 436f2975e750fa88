package mesh

// NodeCallback observes a node lifecycle event.
type NodeCallback[T any] func(*Node[T])

// EdgeCallback observes an edge lifecycle event.
type EdgeCallback[T any] func(*Edge[T])

// callbackRegistry is an append-only list of observers. Registration happens
// during setup; during a run callbacks are invoked but never added. Callbacks
// run synchronously at the point of the event, in registration order.
type callbackRegistry[F any] struct {
	callbacks []F
}

func (r *callbackRegistry[F]) register(cb F) {
	r.callbacks = append(r.callbacks, cb)
}

func invokeNodeCallbacks[T any](r *callbackRegistry[NodeCallback[T]], n *Node[T]) {
	for _, cb := range r.callbacks {
		cb(n)
	}
}

func invokeEdgeCallbacks[T any](r *callbackRegistry[EdgeCallback[T]], e *Edge[T]) {
	for _, cb := range r.callbacks {
		cb(e)
	}
}
