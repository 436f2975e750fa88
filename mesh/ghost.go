package mesh

import (
	"fmt"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// GhostMode is the epoch-batched, eventually consistent sync mode.
//
// Between two Synchronize calls, reads of Distant nodes return the snapshot
// taken at the most recent Synchronize; writes to Local nodes are visible
// immediately on this process and become visible to others at the next
// Synchronize. Link and unlink requests from this process are buffered and
// migrate in one batch.
//
// Synchronize runs three phases:
//  1. Link migration: buffered edges whose source or target is Distant travel
//     to that endpoint's owner and are imported there.
//  2. Unlink migration: buffered removals travel to the Distant endpoint's
//     owner; recipients erase the edge and drop endpoint replicas that end up
//     orphaned.
//  3. Data refresh: every process asks each owner for the current data and
//     weight of its Distant replicas; owners answer with the authoritative
//     value and recipients overwrite their caches. One request round and one
//     reply round.
//
// Link/unlink ordering between the same pair of processes is preserved;
// cross-pair ordering is unspecified.
func GhostMode[T any](g *Graph[T]) SyncMode[T] {
	mode := &ghostMode[T]{}
	mode.linker = &ghostLinker[T]{g: g}
	mode.data = &ghostDataSync[T]{g: g}
	return mode
}

type ghostMode[T any] struct {
	linker *ghostLinker[T]
	data   *ghostDataSync[T]
}

func (m *ghostMode[T]) BindMutex(n *Node[T])   { n.setMutex(&ghostMutex[T]{node: n}) }
func (m *ghostMode[T]) UnbindMutex(n *Node[T]) { n.setMutex(nil) }
func (m *ghostMode[T]) Linker() SyncLinker[T]  { return m.linker }
func (m *ghostMode[T]) DataSync() DataSync     { return m.data }

// unlinkNotice remembers enough of an erased edge to tell the Distant
// endpoint owners, after the edge itself is gone from this process.
type unlinkNotice struct {
	id     DistributedID
	owners []int
}

type ghostLinker[T any] struct {
	g *Graph[T]

	linkBuffer   []*Edge[T]
	unlinkBuffer []unlinkNotice
}

func (l *ghostLinker[T]) Link(e *Edge[T]) error {
	l.linkBuffer = append(l.linkBuffer, e)
	return nil
}

func (l *ghostLinker[T]) Unlink(e *Edge[T]) error {
	// An edge linked and unlinked inside the same epoch never leaves this
	// process.
	for i, pending := range l.linkBuffer {
		if pending == e {
			l.linkBuffer = append(l.linkBuffer[:i], l.linkBuffer[i+1:]...)
			return nil
		}
	}
	notice := unlinkNotice{id: e.ID()}
	if e.Source().State() == Distant {
		notice.owners = append(notice.owners, e.Source().Location())
	}
	if e.Target().State() == Distant && e.Target().Location() != e.Source().Location() {
		notice.owners = append(notice.owners, e.Target().Location())
	}
	l.unlinkBuffer = append(l.unlinkBuffer, notice)
	return nil
}

func (l *ghostLinker[T]) Synchronize() error {
	if err := l.migrateLinks(); err != nil {
		return err
	}
	if err := l.migrateUnlinks(); err != nil {
		return err
	}
	return nil
}

func (l *ghostLinker[T]) migrateLinks() error {
	g := l.g
	out := map[int][]*pack.Pack{}
	for _, e := range l.linkBuffer {
		rec := edgeRecordOf(e)
		payload := pack.New()
		packEdgeRecord(payload, g.codec, rec)
		if e.Source().State() == Distant {
			out[e.Source().Location()] = append(out[e.Source().Location()], payload)
		}
		if e.Target().State() == Distant && e.Target().Location() != e.Source().Location() {
			out[e.Target().Location()] = append(out[e.Target().Location()], payload.Clone())
		}
	}
	l.linkBuffer = nil

	in, err := g.tp.AllToAll(out)
	if err != nil {
		return err
	}
	for source := 0; source < g.tp.Size(); source++ {
		for _, payload := range in[source] {
			rec, err := unpackEdgeRecord(payload, g.codec)
			if err != nil {
				return fmt.Errorf("link migration from rank %d: %w", source, err)
			}
			if _, err := g.importEdgeRecord(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *ghostLinker[T]) migrateUnlinks() error {
	g := l.g
	out := map[int][]*pack.Pack{}
	for _, notice := range l.unlinkBuffer {
		for _, owner := range notice.owners {
			payload := pack.New()
			notice.id.PackTo(payload)
			out[owner] = append(out[owner], payload)
		}
	}
	l.unlinkBuffer = nil

	in, err := g.tp.AllToAll(out)
	if err != nil {
		return err
	}
	for source := 0; source < g.tp.Size(); source++ {
		for _, payload := range in[source] {
			id, err := UnpackID(payload)
			if err != nil {
				return fmt.Errorf("unlink migration from rank %d: %w", source, err)
			}
			e, ok := g.edges[id]
			if !ok {
				// Already erased here; unlink is idempotent across
				// replicas.
				continue
			}
			src, tgt := e.Source(), e.Target()
			g.eraseEdgeReplica(e)
			g.clearIfOrphan(src)
			g.clearIfOrphan(tgt)
		}
	}
	return nil
}

type ghostDataSync[T any] struct {
	g *Graph[T]
}

func (d *ghostDataSync[T]) Synchronize() error {
	g := d.g

	// Request round: one id list per owner, covering every Distant replica
	// held here.
	requests := map[int]*pack.Pack{}
	for _, id := range sortedIDs(g.lm.DistantNodes()) {
		owner := g.lm.DistantNodes()[id].Location()
		payload, ok := requests[owner]
		if !ok {
			payload = pack.New()
			requests[owner] = payload
		}
		id.PackTo(payload)
	}
	out := map[int][]*pack.Pack{}
	for owner, payload := range requests {
		out[owner] = []*pack.Pack{payload}
	}
	in, err := g.tp.AllToAll(out)
	if err != nil {
		return err
	}

	// Reply round: one NodeUpdate per requested id, straight from the
	// authoritative replica.
	replies := map[int][]*pack.Pack{}
	for source := 0; source < g.tp.Size(); source++ {
		for _, payload := range in[source] {
			reply := pack.New()
			for payload.Remaining() > 0 {
				id, err := UnpackID(payload)
				if err != nil {
					return fmt.Errorf("data request from rank %d: %w", source, err)
				}
				n, ok := g.lm.LocalNodes()[id]
				if !ok {
					return fmt.Errorf("data request from rank %d for %v: %w", source, id, ErrUnknownNode)
				}
				packNodeUpdate(reply, g.codec, id, n.Data(), n.Weight())
			}
			replies[source] = []*pack.Pack{reply}
		}
	}
	updates, err := g.tp.AllToAll(replies)
	if err != nil {
		return err
	}
	for source := 0; source < g.tp.Size(); source++ {
		for _, payload := range updates[source] {
			for payload.Remaining() > 0 {
				id, data, weight, err := unpackNodeUpdate(payload, g.codec)
				if err != nil {
					return fmt.Errorf("data update from rank %d: %w", source, err)
				}
				n, ok := g.lm.DistantNodes()[id]
				if !ok {
					return fmt.Errorf("data update from rank %d for %v: %w", source, id, ErrUnknownNode)
				}
				n.setData(data)
				n.SetWeight(weight)
			}
		}
	}
	return nil
}
