package mesh

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/agentmesh-go/mesh/emit"
	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// Graph is one process's shard of the distributed graph.
//
// Every process holds the nodes it owns (Local), cached replicas of nodes its
// edges reach on other processes (Distant), and every edge incident to either.
// All cross-process traffic — reads and writes of Distant data, edges crossing
// a boundary, migration — goes through the sync mode the graph was built with.
//
// Typical setup:
//
//	g := mesh.NewGraph(tp, codec, mesh.GhostMode[Agent])
//	n := g.BuildNode(Agent{Energy: 10})
//	...
//	if err := g.Synchronize(); err != nil { ... }
//
// Collective operations (Synchronize, Distribute, Balance) must be called on
// every process, outside of any mutex operation.
type Graph[T any] struct {
	tp    transport.Transport
	codec pack.Codec[T]
	lm    *LocationManager[T]
	mode  SyncMode[T]

	nodes map[DistributedID]*Node[T]
	edges map[DistributedID]*Edge[T]

	nodeIDs idFactory
	edgeIDs idFactory

	insertNodeCallbacks callbackRegistry[NodeCallback[T]]
	eraseNodeCallbacks  callbackRegistry[NodeCallback[T]]
	insertEdgeCallbacks callbackRegistry[EdgeCallback[T]]
	eraseEdgeCallbacks  callbackRegistry[EdgeCallback[T]]

	emitter emit.Emitter
	metrics *Metrics
	tracer  trace.Tracer
}

// graphConfig collects the optional collaborators before they are applied.
type graphConfig struct {
	emitter emit.Emitter
	metrics *Metrics
	tracer  trace.Tracer
}

// GraphOption configures optional graph collaborators.
type GraphOption func(*graphConfig)

// WithEmitter routes graph lifecycle events to an emitter.
func WithEmitter(e emit.Emitter) GraphOption {
	return func(c *graphConfig) { c.emitter = e }
}

// WithMetrics attaches a Prometheus metrics set.
func WithMetrics(m *Metrics) GraphOption {
	return func(c *graphConfig) { c.metrics = m }
}

// WithTracer wraps Synchronize and Distribute in OpenTelemetry spans.
func WithTracer(t trace.Tracer) GraphOption {
	return func(c *graphConfig) { c.tracer = t }
}

// NewGraph creates this process's shard over tp, encoding payloads with codec
// and synchronizing through the mode built by buildMode (GhostMode or
// HardSyncMode).
func NewGraph[T any](tp transport.Transport, codec pack.Codec[T], buildMode SyncModeBuilder[T], opts ...GraphOption) *Graph[T] {
	cfg := graphConfig{emitter: emit.NewNullEmitter()}
	for _, opt := range opts {
		opt(&cfg)
	}
	g := &Graph[T]{
		tp:      tp,
		codec:   codec,
		lm:      NewLocationManager[T](tp),
		nodes:   map[DistributedID]*Node[T]{},
		edges:   map[DistributedID]*Edge[T]{},
		nodeIDs: idFactory{rank: int32(tp.Rank())},
		edgeIDs: idFactory{rank: int32(tp.Rank())},
		emitter: cfg.emitter,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
	}
	g.mode = buildMode(g)
	return g
}

// Transport returns the transport the graph runs on.
func (g *Graph[T]) Transport() transport.Transport { return g.tp }

// Locations returns the location manager.
func (g *Graph[T]) Locations() *LocationManager[T] { return g.lm }

// Nodes returns every node replica held here, Local and Distant. The map is
// the graph's own storage; callers must not modify it.
func (g *Graph[T]) Nodes() map[DistributedID]*Node[T] { return g.nodes }

// Edges returns every edge replica held here.
func (g *Graph[T]) Edges() map[DistributedID]*Edge[T] { return g.edges }

// Node looks up a node replica by id.
func (g *Graph[T]) Node(id DistributedID) (*Node[T], error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownNode, id)
	}
	return n, nil
}

// Edge looks up an edge replica by id.
func (g *Graph[T]) Edge(id DistributedID) (*Edge[T], error) {
	e, ok := g.edges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEdge, id)
	}
	return e, nil
}

// OnInsertNode registers an observer for node insertion (build or import).
func (g *Graph[T]) OnInsertNode(cb NodeCallback[T]) { g.insertNodeCallbacks.register(cb) }

// OnEraseNode registers an observer for node removal.
func (g *Graph[T]) OnEraseNode(cb NodeCallback[T]) { g.eraseNodeCallbacks.register(cb) }

// OnInsertEdge registers an observer for edge insertion (link or import).
func (g *Graph[T]) OnInsertEdge(cb EdgeCallback[T]) { g.insertEdgeCallbacks.register(cb) }

// OnEraseEdge registers an observer for edge removal.
func (g *Graph[T]) OnEraseEdge(cb EdgeCallback[T]) { g.eraseEdgeCallbacks.register(cb) }

// OnSetLocal registers an observer on the location manager.
func (g *Graph[T]) OnSetLocal(cb NodeCallback[T]) { g.lm.OnSetLocal(cb) }

// OnSetDistant registers an observer on the location manager.
func (g *Graph[T]) OnSetDistant(cb NodeCallback[T]) { g.lm.OnSetDistant(cb) }

// BuildNode creates a Local node owned by this process with weight 1.
func (g *Graph[T]) BuildNode(data T) *Node[T] {
	return g.BuildWeightedNode(data, 1)
}

// BuildWeightedNode creates a Local node with an explicit load-balancing
// weight.
func (g *Graph[T]) BuildWeightedNode(data T, weight float32) *Node[T] {
	n := newNode(g.nodeIDs.newID(), data, weight)
	g.mode.BindMutex(n)
	g.nodes[n.ID()] = n
	g.lm.AddManaged(n, g.tp.Rank())
	g.lm.SetLocal(n)
	invokeNodeCallbacks(&g.insertNodeCallbacks, n)
	g.observeCounts()
	return n
}

// Link creates an edge from src to tgt at layer with weight 1. If either
// endpoint is Distant the edge is routed through the sync linker: buffered
// until the next Synchronize under ghost, shipped immediately under hard
// sync. Insert callbacks fire here; the peer process fires its own on import.
func (g *Graph[T]) Link(src, tgt *Node[T], layer int32) (*Edge[T], error) {
	e := &Edge[T]{
		id:     g.edgeIDs.newID(),
		layer:  layer,
		weight: 1,
		src:    src,
		tgt:    tgt,
	}
	src.linkOut(e)
	tgt.linkIn(e)
	e.refreshState()
	g.edges[e.ID()] = e
	invokeEdgeCallbacks(&g.insertEdgeCallbacks, e)
	if g.metrics != nil {
		g.metrics.links.Inc()
	}
	if err := g.mode.Linker().Link(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Unlink removes an edge. The removal is routed through the sync linker so
// the owner of each Distant endpoint erases its replica too.
func (g *Graph[T]) Unlink(e *Edge[T]) error {
	if _, ok := g.edges[e.ID()]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownEdge, e.ID())
	}
	if err := g.mode.Linker().Unlink(e); err != nil {
		return err
	}
	src, tgt := e.Source(), e.Target()
	g.eraseEdgeReplica(e)
	g.clearIfOrphan(src)
	g.clearIfOrphan(tgt)
	if g.metrics != nil {
		g.metrics.unlinks.Inc()
	}
	return nil
}

// RemoveNode unlinks every incident edge, then erases the node.
func (g *Graph[T]) RemoveNode(n *Node[T]) error {
	if _, ok := g.nodes[n.ID()]; !ok {
		return fmt.Errorf("%w: %v", ErrUnknownNode, n.ID())
	}
	for _, e := range g.incidentEdges(n) {
		if _, ok := g.edges[e.ID()]; !ok {
			continue
		}
		if err := g.Unlink(e); err != nil {
			return err
		}
	}
	if _, ok := g.nodes[n.ID()]; ok {
		g.eraseNodeReplica(n)
	}
	return nil
}

// incidentEdges returns every edge touching n, across all layers, each once.
func (g *Graph[T]) incidentEdges(n *Node[T]) []*Edge[T] {
	seen := map[DistributedID]struct{}{}
	var edges []*Edge[T]
	collect := func(list []*Edge[T]) {
		for _, e := range list {
			if _, dup := seen[e.ID()]; dup {
				continue
			}
			seen[e.ID()] = struct{}{}
			edges = append(edges, e)
		}
	}
	for _, list := range n.incoming {
		collect(list)
	}
	for _, list := range n.outgoing {
		collect(list)
	}
	return edges
}

// eraseEdgeReplica removes an edge and its two adjacency entries, firing the
// erase-edge observers.
func (g *Graph[T]) eraseEdgeReplica(e *Edge[T]) {
	delete(g.edges, e.ID())
	e.Source().unlinkOut(e)
	e.Target().unlinkIn(e)
	invokeEdgeCallbacks(&g.eraseEdgeCallbacks, e)
}

// eraseNodeReplica removes a node from every structure, firing the erase-node
// observers.
func (g *Graph[T]) eraseNodeReplica(n *Node[T]) {
	delete(g.nodes, n.ID())
	g.lm.RemoveManaged(n)
	g.mode.UnbindMutex(n)
	invokeNodeCallbacks(&g.eraseNodeCallbacks, n)
	g.observeCounts()
}

// clearIfOrphan erases a Distant replica that no local edge references
// anymore. Local nodes are never cleared implicitly.
func (g *Graph[T]) clearIfOrphan(n *Node[T]) {
	if n.State() != Distant {
		return
	}
	if _, ok := g.nodes[n.ID()]; !ok {
		return
	}
	if n.degree() > 0 {
		return
	}
	g.eraseNodeReplica(n)
}

// resolveEndpoint returns the replica for an edge endpoint, creating a
// Distant cache seeded with the wire snapshot when the node is unknown here.
func (g *Graph[T]) resolveEndpoint(id DistributedID, owner int, data T) *Node[T] {
	if n, ok := g.nodes[id]; ok {
		return n
	}
	n := newNode(id, data, 1)
	g.mode.BindMutex(n)
	g.nodes[id] = n
	g.lm.AddManaged(n, owner)
	g.lm.SetDistant(n, owner)
	invokeNodeCallbacks(&g.insertNodeCallbacks, n)
	g.observeCounts()
	return n
}

// importEdgeRecord installs an edge received from a peer. Duplicates by id
// are dropped: the same edge legitimately arrives from both endpoints' origin
// processes during one Distribute.
func (g *Graph[T]) importEdgeRecord(rec edgeRecord[T]) (*Edge[T], error) {
	if e, ok := g.edges[rec.id]; ok {
		return e, nil
	}
	src := g.resolveEndpoint(rec.srcID, int(rec.srcOwner), rec.srcData)
	tgt := g.resolveEndpoint(rec.tgtID, int(rec.tgtOwner), rec.tgtData)
	e := &Edge[T]{
		id:     rec.id,
		layer:  rec.layer,
		weight: rec.weight,
		src:    src,
		tgt:    tgt,
	}
	src.linkOut(e)
	tgt.linkIn(e)
	e.refreshState()
	g.edges[e.ID()] = e
	invokeEdgeCallbacks(&g.insertEdgeCallbacks, e)
	return e, nil
}

// importNodeRecord installs a node that now belongs to this process. An
// existing Distant replica is upgraded in place; an unknown id becomes a
// fresh Local node.
func (g *Graph[T]) importNodeRecord(rec nodeRecord[T]) *Node[T] {
	if n, ok := g.nodes[rec.id]; ok {
		n.setData(rec.data)
		n.SetWeight(rec.weight)
		if n.State() == Distant {
			g.lm.SetLocal(n)
			g.refreshIncidentEdges(n)
		}
		return n
	}
	n := newNode(rec.id, rec.data, rec.weight)
	g.mode.BindMutex(n)
	g.nodes[rec.id] = n
	g.lm.AddManaged(n, g.tp.Rank())
	g.lm.SetLocal(n)
	invokeNodeCallbacks(&g.insertNodeCallbacks, n)
	g.observeCounts()
	return n
}

func (g *Graph[T]) refreshIncidentEdges(n *Node[T]) {
	for _, e := range g.incidentEdges(n) {
		e.refreshState()
	}
}

// Synchronize settles all pending cross-process activity under the active
// sync mode: the linker first, then the data synchronizer. Collective; must
// be called outside of any mutex operation.
func (g *Graph[T]) Synchronize() error {
	span := g.startSpan("synchronize")
	defer span.End()
	start := time.Now()

	if err := g.mode.Linker().Synchronize(); err != nil {
		return err
	}
	if err := g.mode.DataSync().Synchronize(); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.synchronizeLatency.Observe(float64(time.Since(start).Milliseconds()))
	}
	g.emitter.Emit(emit.Event{
		Rank: g.tp.Rank(),
		Msg:  "synchronize",
		Meta: map[string]interface{}{
			"local_nodes":   len(g.lm.LocalNodes()),
			"distant_nodes": len(g.lm.DistantNodes()),
			"edges":         len(g.edges),
		},
	})
	return nil
}

// Distribute migrates nodes (with their induced subgraph) according to
// partition and reconciles ownership cluster-wide. Collective. Nodes absent
// from the partition stay where they are. Distribute is self-sufficient: it
// ends with UpdateLocations and a full Synchronize, so no prior or following
// synchronize is required around it.
func (g *Graph[T]) Distribute(partition PartitionMap) error {
	span := g.startSpan("distribute")
	defer span.End()
	start := time.Now()

	// Settle pending link traffic first, so the export snapshot below never
	// races with edges still buffered or in flight.
	if err := g.mode.Linker().Synchronize(); err != nil {
		return err
	}

	exports := map[int][]*Node[T]{}
	exported := map[DistributedID]int{}
	for _, id := range sortedIDs(g.lm.LocalNodes()) {
		target, ok := partition[id]
		if !ok || target == g.tp.Rank() {
			continue
		}
		exports[target] = append(exports[target], g.lm.LocalNodes()[id])
		exported[id] = target
	}

	out := map[int][]*pack.Pack{}
	for target, nodes := range exports {
		out[target] = []*pack.Pack{g.packExport(nodes)}
	}
	in, err := g.tp.AllToAll(out)
	if err != nil {
		return err
	}

	g.applyExportRemovals(exported)

	if err := g.importDistribution(in); err != nil {
		return err
	}
	if err := g.lm.UpdateLocations(g.lm.LocalNodes()); err != nil {
		return err
	}
	if err := g.Synchronize(); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.migrations.Add(float64(len(exported)))
		g.metrics.distributeLatency.Observe(float64(time.Since(start).Milliseconds()))
	}
	g.emitter.Emit(emit.Event{
		Rank: g.tp.Rank(),
		Msg:  "distribute",
		Meta: map[string]interface{}{"exported": len(exported)},
	})
	return nil
}

// packExport serializes a batch of migrating nodes: node records first, then
// every edge incident to any of them that is present here, deduplicated.
func (g *Graph[T]) packExport(nodes []*Node[T]) *pack.Pack {
	payload := pack.New()
	pack.PutSeq(payload, nodes, func(p *pack.Pack, n *Node[T]) {
		packNodeRecord(p, g.codec, nodeRecord[T]{id: n.ID(), weight: n.Weight(), data: n.Data()})
	})
	seen := map[DistributedID]struct{}{}
	var records []edgeRecord[T]
	for _, n := range nodes {
		for _, e := range g.incidentEdges(n) {
			if _, dup := seen[e.ID()]; dup {
				continue
			}
			seen[e.ID()] = struct{}{}
			records = append(records, edgeRecordOf(e))
		}
	}
	pack.PutSeq(payload, records, func(p *pack.Pack, rec edgeRecord[T]) {
		packEdgeRecord(p, g.codec, rec)
	})
	return payload
}

// applyExportRemovals reclassifies or erases the replicas of nodes that were
// just shipped away. An exported node keeps a Distant replica here only while
// an edge still ties it to a node that remains Local; edges whose endpoints
// both leave are dropped outright.
func (g *Graph[T]) applyExportRemovals(exported map[DistributedID]int) {
	for id, target := range exported {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		for _, e := range g.incidentEdges(n) {
			if _, present := g.edges[e.ID()]; !present {
				continue
			}
			other := e.Source()
			if other == n {
				other = e.Target()
			}
			_, otherLeaves := exported[other.ID()]
			if other.State() == Local && !otherLeaves {
				continue
			}
			g.eraseEdgeReplica(e)
			if other != n {
				g.clearIfOrphan(other)
			}
		}
		if n.degree() > 0 {
			g.lm.SetDistant(n, target)
			g.refreshIncidentEdges(n)
		} else {
			g.eraseNodeReplica(n)
		}
	}
}

// importDistribution applies received migration payloads in two passes —
// every node record from every source first, then every edge record — so
// that edge endpoints are always resolvable.
func (g *Graph[T]) importDistribution(in map[int][]*pack.Pack) error {
	type decoded struct {
		nodes []nodeRecord[T]
		edges []edgeRecord[T]
	}
	var batches []decoded
	for source := 0; source < g.tp.Size(); source++ {
		for _, payload := range in[source] {
			nodes, err := pack.GetSeq(payload, func(p *pack.Pack) (nodeRecord[T], error) {
				return unpackNodeRecord(p, g.codec)
			})
			if err != nil {
				return fmt.Errorf("distribute import from rank %d: %w", source, err)
			}
			edges, err := pack.GetSeq(payload, func(p *pack.Pack) (edgeRecord[T], error) {
				return unpackEdgeRecord(p, g.codec)
			})
			if err != nil {
				return fmt.Errorf("distribute import from rank %d: %w", source, err)
			}
			batches = append(batches, decoded{nodes: nodes, edges: edges})
		}
	}
	for _, batch := range batches {
		for _, rec := range batch.nodes {
			g.importNodeRecord(rec)
		}
	}
	for _, batch := range batches {
		for _, rec := range batch.edges {
			if _, err := g.importEdgeRecord(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Balance asks lb for a fresh partition of this process's nodes and applies
// it. Collective.
func (g *Graph[T]) Balance(lb LoadBalancing[T]) error {
	partition, err := lb.Balance(g.lm.LocalNodes())
	if err != nil {
		return err
	}
	return g.Distribute(partition)
}

func (g *Graph[T]) observeCounts() {
	if g.metrics == nil {
		return
	}
	g.metrics.localNodes.Set(float64(len(g.lm.LocalNodes())))
	g.metrics.distantNodes.Set(float64(len(g.lm.DistantNodes())))
}

// startSpan opens a tracing span when a tracer is configured; otherwise it
// returns a no-op span.
func (g *Graph[T]) startSpan(name string) trace.Span {
	if g.tracer == nil {
		return trace.SpanFromContext(context.Background())
	}
	_, span := g.tracer.Start(context.Background(), name,
		trace.WithAttributes(attribute.Int("mesh.rank", g.tp.Rank())))
	return span
}
