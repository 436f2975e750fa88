package mesh

import (
	"fmt"
	"sort"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// LocationManager tracks, for every node id this process knows, the rank that
// currently owns it, and maintains the disjoint Local / Distant node sets.
//
// The two sets partition the nodes held here: a node enters the local set when
// it is built on this process or lands here through a Distribute import, moves
// to the distant set when migrated away, and is dropped when no local edge
// references it anymore. The locations map covers the union of both sets.
type LocationManager[T any] struct {
	tp transport.Transport

	local     map[DistributedID]*Node[T]
	distant   map[DistributedID]*Node[T]
	locations map[DistributedID]int

	setLocalCallbacks   callbackRegistry[NodeCallback[T]]
	setDistantCallbacks callbackRegistry[NodeCallback[T]]
}

// NewLocationManager creates an empty manager bound to tp.
func NewLocationManager[T any](tp transport.Transport) *LocationManager[T] {
	return &LocationManager[T]{
		tp:        tp,
		local:     map[DistributedID]*Node[T]{},
		distant:   map[DistributedID]*Node[T]{},
		locations: map[DistributedID]int{},
	}
}

// OnSetLocal registers an observer invoked whenever a node becomes Local here.
// Registration is append-only during setup.
func (lm *LocationManager[T]) OnSetLocal(cb NodeCallback[T]) {
	lm.setLocalCallbacks.register(cb)
}

// OnSetDistant registers an observer invoked whenever a node becomes Distant
// here.
func (lm *LocationManager[T]) OnSetDistant(cb NodeCallback[T]) {
	lm.setDistantCallbacks.register(cb)
}

// LocalNodes returns the nodes owned by this process. The map is the
// manager's own storage; callers must not modify it.
func (lm *LocationManager[T]) LocalNodes() map[DistributedID]*Node[T] { return lm.local }

// DistantNodes returns the cached replicas held here.
func (lm *LocationManager[T]) DistantNodes() map[DistributedID]*Node[T] { return lm.distant }

// Location returns the owner rank this process currently records for id.
func (lm *LocationManager[T]) Location(id DistributedID) (int, bool) {
	rank, ok := lm.locations[id]
	return rank, ok
}

// AddManaged starts tracking a node with its initial owner. The node is not
// placed in either set; SetLocal or SetDistant must follow.
func (lm *LocationManager[T]) AddManaged(n *Node[T], initialOwner int) {
	lm.locations[n.ID()] = initialOwner
	n.setLocation(initialOwner)
}

// RemoveManaged forgets a node entirely: both sets and the locations map.
func (lm *LocationManager[T]) RemoveManaged(n *Node[T]) {
	delete(lm.local, n.ID())
	delete(lm.distant, n.ID())
	delete(lm.locations, n.ID())
}

// SetLocal classifies n as Local here, updates the location record, and
// invokes the set-local observers.
func (lm *LocationManager[T]) SetLocal(n *Node[T]) {
	delete(lm.distant, n.ID())
	lm.local[n.ID()] = n
	lm.locations[n.ID()] = lm.tp.Rank()
	n.setState(Local)
	n.setLocation(lm.tp.Rank())
	invokeNodeCallbacks(&lm.setLocalCallbacks, n)
}

// SetDistant classifies n as a Distant replica owned by owner, updates the
// location record, and invokes the set-distant observers.
func (lm *LocationManager[T]) SetDistant(n *Node[T], owner int) {
	delete(lm.local, n.ID())
	lm.distant[n.ID()] = n
	lm.locations[n.ID()] = owner
	n.setState(Distant)
	n.setLocation(owner)
	invokeNodeCallbacks(&lm.setDistantCallbacks, n)
}

// UpdateLocations reconciles ownership across the whole cluster. Collective:
// every process must call it with the nodes it now owns.
//
// Each process announces (id, self rank) for every node in toUpdate; an
// all-to-all fans the announcements out, and recipients update their location
// records and the owner rank on affected replicas. If two processes claim the
// same id, the lower rank wins and the higher-rank claimant demotes its
// replica to Distant.
//
// After UpdateLocations returns on every process, all processes that know an
// id agree on its owner.
func (lm *LocationManager[T]) UpdateLocations(toUpdate map[DistributedID]*Node[T]) error {
	announcement := pack.New()
	pack.PutSeq(announcement, sortedIDs(toUpdate), func(p *pack.Pack, id DistributedID) {
		id.PackTo(p)
	})

	out := map[int][]*pack.Pack{}
	for dest := 0; dest < lm.tp.Size(); dest++ {
		if dest == lm.tp.Rank() {
			continue
		}
		out[dest] = []*pack.Pack{announcement.Clone()}
	}
	in, err := lm.tp.AllToAll(out)
	if err != nil {
		return err
	}

	// claims[id] is the lowest rank announcing ownership of id, seeded with
	// this process's own claims.
	claims := map[DistributedID]int{}
	for id := range toUpdate {
		claims[id] = lm.tp.Rank()
	}
	for source := 0; source < lm.tp.Size(); source++ {
		payloads, ok := in[source]
		if !ok {
			continue
		}
		for _, payload := range payloads {
			announced, err := pack.GetSeq(payload, UnpackID)
			if err != nil {
				return fmt.Errorf("update locations from rank %d: %w", source, err)
			}
			for _, id := range announced {
				if current, ok := claims[id]; !ok || source < current {
					claims[id] = source
				}
			}
		}
	}

	for id, owner := range claims {
		if n, ok := lm.local[id]; ok {
			if owner != lm.tp.Rank() {
				lm.SetDistant(n, owner)
			}
			continue
		}
		if n, ok := lm.distant[id]; ok {
			lm.locations[id] = owner
			n.setLocation(owner)
		}
	}
	return nil
}

// sortedIDs returns the keys of nodes in id order, for deterministic
// iteration inside collectives.
func sortedIDs[T any](nodes map[DistributedID]*Node[T]) []DistributedID {
	ids := make([]DistributedID, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	return ids
}
