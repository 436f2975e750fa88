package transport

import (
	"github.com/dshills/agentmesh-go/mesh/pack"
)

// Collectives layered over point-to-point sends. Both shipping transports use
// these; a transport with native collectives may override them.
//
// The internal codes (codeAllToAll, codeGather, codeBcast, codeBarrier) keep
// collective traffic out of the user-visible tag space, so a collective can
// run while unconsumed request traffic from the surrounding synchronize is
// still queued.

// pointToPoint is the subset of Transport the layered collectives need.
type pointToPoint interface {
	Rank() int
	Size() int
	Send(p *pack.Pack, dest int, tag Tag) error
	Recv(source int, tag Tag) (*pack.Pack, Status, error)
}

// allToAllOver sends out[r] to every rank r and collects one message from
// every rank. Every rank sends to every rank (an empty list when it has
// nothing to say) so that the receive side never has to guess who will talk.
func allToAllOver(t pointToPoint, out map[int][]*pack.Pack) (map[int][]*pack.Pack, error) {
	for dest := 0; dest < t.Size(); dest++ {
		payload := pack.New()
		pack.PutSeq(payload, out[dest], func(p *pack.Pack, item *pack.Pack) {
			p.PutPack(item)
		})
		if err := t.Send(payload, dest, Tag(codeAllToAll)); err != nil {
			return nil, err
		}
	}
	in := make(map[int][]*pack.Pack, t.Size())
	for source := 0; source < t.Size(); source++ {
		payload, _, err := t.Recv(source, Tag(codeAllToAll))
		if err != nil {
			return nil, err
		}
		items, err := pack.GetSeq(payload, func(p *pack.Pack) (*pack.Pack, error) {
			return p.GetPack()
		})
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			in[source] = items
		}
	}
	return in, nil
}

// gatherOver collects one pack per rank at root, ordered by rank. Non-root
// ranks return a nil slice.
func gatherOver(t pointToPoint, p *pack.Pack, root int) ([]*pack.Pack, error) {
	if t.Rank() != root {
		return nil, t.Send(p, root, Tag(codeGather))
	}
	gathered := make([]*pack.Pack, t.Size())
	gathered[root] = p.Clone()
	for i := 0; i < t.Size()-1; i++ {
		payload, st, err := t.Recv(AnySource, Tag(codeGather))
		if err != nil {
			return nil, err
		}
		gathered[st.Source] = payload
	}
	return gathered, nil
}

// bcastOver distributes root's pack to every rank.
func bcastOver(t pointToPoint, p *pack.Pack, root int) (*pack.Pack, error) {
	if t.Rank() == root {
		for dest := 0; dest < t.Size(); dest++ {
			if dest == root {
				continue
			}
			if err := t.Send(p, dest, Tag(codeBcast)); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
	payload, _, err := t.Recv(root, Tag(codeBcast))
	return payload, err
}

// allReduceOver folds one pack per rank at rank 0 with op, then broadcasts
// the result. op must be associative; fold order is rank order.
func allReduceOver(t pointToPoint, p *pack.Pack, op func(a, b *pack.Pack) *pack.Pack) (*pack.Pack, error) {
	gathered, err := gatherOver(t, p, 0)
	if err != nil {
		return nil, err
	}
	var folded *pack.Pack
	if t.Rank() == 0 {
		folded = gathered[0]
		for _, g := range gathered[1:] {
			folded = op(folded, g)
		}
	}
	return bcastOver(t, folded, 0)
}

// barrierOver is a two-phase flush barrier: every rank reports to rank 0,
// rank 0 releases everyone. Transports without a faster native barrier use it.
func barrierOver(t pointToPoint) error {
	empty := pack.New()
	if t.Rank() == 0 {
		for i := 0; i < t.Size()-1; i++ {
			if _, _, err := t.Recv(AnySource, Tag(codeBarrier)); err != nil {
				return err
			}
		}
		for dest := 1; dest < t.Size(); dest++ {
			if err := t.Send(empty, dest, Tag(codeBarrier)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := t.Send(empty, 0, Tag(codeBarrier)); err != nil {
		return err
	}
	_, _, err := t.Recv(0, Tag(codeBarrier))
	return err
}
