package mesh

import (
	"fmt"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// DistributedID is the globally unique identity of a node or edge:
// the rank that created the object paired with a counter local to that rank.
//
// IDs are stable for the lifetime of the object, including across migration:
// a node built on rank 2 keeps origin rank 2 forever, wherever it currently
// lives. Total order is lexicographic (origin rank, then counter), and the
// struct is comparable, so it serves directly as a map key. No id is ever
// reused after an erase; counters only move forward.
type DistributedID struct {
	// Rank is the origin rank that allocated this id.
	Rank int32

	// Counter is the origin-local monotonic counter value.
	Counter uint64
}

// Less reports whether id orders before other lexicographically.
func (id DistributedID) Less(other DistributedID) bool {
	if id.Rank != other.Rank {
		return id.Rank < other.Rank
	}
	return id.Counter < other.Counter
}

// Compare returns -1, 0, or +1 per the lexicographic order.
func (id DistributedID) Compare(other DistributedID) int {
	switch {
	case id.Less(other):
		return -1
	case other.Less(id):
		return 1
	default:
		return 0
	}
}

func (id DistributedID) String() string {
	return fmt.Sprintf("[%d:%d]", id.Rank, id.Counter)
}

// PackTo appends the 12-byte wire form: 4 bytes rank, 8 bytes counter, both
// little-endian. The layout is bit-exact and bypasses any length prefixing.
func (id DistributedID) PackTo(p *pack.Pack) {
	p.PutInt32(id.Rank)
	p.PutUint64(id.Counter)
}

// UnpackID consumes a 12-byte wire-form id.
func UnpackID(p *pack.Pack) (DistributedID, error) {
	rank, err := p.GetInt32()
	if err != nil {
		return DistributedID{}, err
	}
	counter, err := p.GetUint64()
	if err != nil {
		return DistributedID{}, err
	}
	return DistributedID{Rank: rank, Counter: counter}, nil
}

// idFactory allocates process-local monotonic ids for one object family
// (nodes or edges). Counters never rewind, so erased ids are never reused.
type idFactory struct {
	rank int32
	next uint64
}

func (f *idFactory) newID() DistributedID {
	id := DistributedID{Rank: f.rank, Counter: f.next}
	f.next++
	return id
}
