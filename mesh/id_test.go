package mesh

import (
	"testing"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

func TestIDOrdering(t *testing.T) {
	tests := []struct {
		name string
		a, b DistributedID
		less bool
	}{
		{"same rank, counter orders", DistributedID{0, 1}, DistributedID{0, 2}, true},
		{"rank dominates counter", DistributedID{0, 99}, DistributedID{1, 0}, true},
		{"equal ids", DistributedID{2, 5}, DistributedID{2, 5}, false},
		{"reversed", DistributedID{3, 0}, DistributedID{1, 7}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Less(tt.b); got != tt.less {
				t.Errorf("%v.Less(%v) = %v, want %v", tt.a, tt.b, got, tt.less)
			}
		})
	}
}

func TestIDCompare(t *testing.T) {
	a := DistributedID{1, 1}
	b := DistributedID{1, 2}
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Errorf("Compare inconsistent: %d %d %d", a.Compare(b), b.Compare(a), a.Compare(a))
	}
}

func TestIDAsMapKey(t *testing.T) {
	m := map[DistributedID]string{}
	m[DistributedID{1, 2}] = "a"
	m[DistributedID{2, 1}] = "b"
	if m[DistributedID{1, 2}] != "a" || m[DistributedID{2, 1}] != "b" {
		t.Error("distinct ids collided as map keys")
	}
}

func TestIDWireForm(t *testing.T) {
	id := DistributedID{Rank: 3, Counter: 0xDEADBEEF}
	p := pack.New()
	id.PackTo(p)
	if p.Len() != 12 {
		t.Errorf("wire form is %d bytes, want 12", p.Len())
	}
	got, err := UnpackID(p)
	if err != nil {
		t.Fatalf("UnpackID: %v", err)
	}
	if got != id {
		t.Errorf("round trip = %v, want %v", got, id)
	}
}

func TestIDFactoryMonotonic(t *testing.T) {
	f := idFactory{rank: 2}
	a := f.newID()
	b := f.newID()
	if !a.Less(b) {
		t.Errorf("ids not monotonic: %v then %v", a, b)
	}
	if a.Rank != 2 || b.Rank != 2 {
		t.Errorf("origin rank lost: %v %v", a, b)
	}
}

func TestNoIDReuseAfterRemove(t *testing.T) {
	g := singleGraph(t)
	first := g.BuildNode(0)
	firstID := first.ID()
	if err := g.RemoveNode(first); err != nil {
		t.Fatalf("RemoveNode: %v", err)
	}
	second := g.BuildNode(0)
	if second.ID() == firstID {
		t.Errorf("id %v reused after erase", firstID)
	}
	if !firstID.Less(second.ID()) {
		t.Errorf("counter rewound: %v then %v", firstID, second.ID())
	}
}
