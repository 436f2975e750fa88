package mesh

import (
	"fmt"
	"sort"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// Breakpoint persistence. Dump captures one process's shard — Local nodes,
// every edge replica held here, and the locations map — as a length-prefixed
// sequence of node records, then edge records, then the locations map, in the
// same record layout used on the wire. Every process dumps its own shard;
// together the dumps describe the whole distributed graph.
//
// Load rebuilds the shard into an empty graph and re-establishes the
// Local/Distant classification by comparing each recorded owner rank with
// this process's rank. Distant payloads in a loaded graph are the snapshots
// taken at dump time: a Synchronize is required before any read of a Distant
// node returns meaningful data.

// Dump appends this process's shard to p.
func (g *Graph[T]) Dump(p *pack.Pack) {
	locals := sortedIDs(g.lm.LocalNodes())
	pack.PutSeq(p, locals, func(p *pack.Pack, id DistributedID) {
		n := g.lm.LocalNodes()[id]
		packNodeRecord(p, g.codec, nodeRecord[T]{id: id, weight: n.Weight(), data: n.Data()})
	})

	edgeIDs := make([]DistributedID, 0, len(g.edges))
	for id := range g.edges {
		edgeIDs = append(edgeIDs, id)
	}
	sortIDs(edgeIDs)
	pack.PutSeq(p, edgeIDs, func(p *pack.Pack, id DistributedID) {
		packEdgeRecord(p, g.codec, edgeRecordOf(g.edges[id]))
	})

	locations := make(map[DistributedID]int, len(g.lm.locations))
	for id, rank := range g.lm.locations {
		locations[id] = rank
	}
	pack.PutSeq(p, sortedLocationIDs(locations), func(p *pack.Pack, id DistributedID) {
		id.PackTo(p)
		p.PutInt32(int32(locations[id]))
	})
}

// Load rebuilds a shard dumped by Dump. The graph must be empty.
func (g *Graph[T]) Load(p *pack.Pack) error {
	if len(g.nodes) != 0 || len(g.edges) != 0 {
		return fmt.Errorf("%w: load into non-empty graph", ErrStateViolation)
	}

	nodes, err := pack.GetSeq(p, func(p *pack.Pack) (nodeRecord[T], error) {
		return unpackNodeRecord(p, g.codec)
	})
	if err != nil {
		return fmt.Errorf("breakpoint nodes: %w", err)
	}
	for _, rec := range nodes {
		g.importNodeRecord(rec)
	}

	edges, err := pack.GetSeq(p, func(p *pack.Pack) (edgeRecord[T], error) {
		return unpackEdgeRecord(p, g.codec)
	})
	if err != nil {
		return fmt.Errorf("breakpoint edges: %w", err)
	}
	for _, rec := range edges {
		if _, err := g.importEdgeRecord(rec); err != nil {
			return err
		}
	}

	type locationEntry struct {
		id   DistributedID
		rank int32
	}
	entries, err := pack.GetSeq(p, func(p *pack.Pack) (locationEntry, error) {
		id, err := UnpackID(p)
		if err != nil {
			return locationEntry{}, err
		}
		rank, err := p.GetInt32()
		return locationEntry{id: id, rank: rank}, err
	})
	if err != nil {
		return fmt.Errorf("breakpoint locations: %w", err)
	}
	for _, entry := range entries {
		n, ok := g.nodes[entry.id]
		if !ok {
			continue
		}
		if int(entry.rank) == g.tp.Rank() {
			if n.State() != Local {
				g.lm.SetLocal(n)
			}
		} else if n.State() != Distant || n.Location() != int(entry.rank) {
			g.lm.SetDistant(n, int(entry.rank))
		}
	}
	for _, n := range g.nodes {
		g.refreshIncidentEdges(n)
	}

	// Keep id allocation monotonic past everything the dump contains.
	for id := range g.nodes {
		if id.Rank == int32(g.tp.Rank()) && id.Counter >= g.nodeIDs.next {
			g.nodeIDs.next = id.Counter + 1
		}
	}
	for id := range g.edges {
		if id.Rank == int32(g.tp.Rank()) && id.Counter >= g.edgeIDs.next {
			g.edgeIDs.next = id.Counter + 1
		}
	}
	return nil
}

func sortIDs(ids []DistributedID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

func sortedLocationIDs(locations map[DistributedID]int) []DistributedID {
	ids := make([]DistributedID, 0, len(locations))
	for id := range locations {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}
