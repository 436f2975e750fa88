package transport

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// NATSTransport is a Transport whose ranks are separate OS processes
// exchanging messages through a NATS server. Each rank owns one subject,
// "<prefix>.rank.<n>", and every message is framed as:
//
//	tag (1 byte) | source rank (int32, LE) | payload bytes
//
// NATS guarantees per-publisher in-order delivery on a subject, which is
// exactly the pairwise FIFO the core requires. Collectives are layered over
// point-to-point sends; Barrier uses the two-phase flush at rank 0.
//
// Usage (one process per rank):
//
//	tp, err := transport.DialNATS("nats://127.0.0.1:4222", "sim42", rank, size)
//	if err != nil { ... }
//	defer tp.Close()
type NATSTransport struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	prefix string
	rank   int
	size   int

	incoming chan *nats.Msg
	pending  []envelope
}

// DialNATS connects rank of size to the NATS server at url. prefix isolates
// one simulation's traffic from another's on a shared server.
func DialNATS(url, prefix string, rank, size int) (*NATSTransport, error) {
	if rank < 0 || rank >= size {
		return nil, fmt.Errorf("%w: rank %d out of [0,%d)", ErrTransport, rank, size)
	}
	conn, err := nats.Connect(url, nats.Name(fmt.Sprintf("%s-rank-%d", prefix, rank)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	t := &NATSTransport{
		conn:     conn,
		prefix:   prefix,
		rank:     rank,
		size:     size,
		incoming: make(chan *nats.Msg, 4096),
	}
	t.sub, err = conn.ChanSubscribe(t.subject(rank), t.incoming)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return t, nil
}

// Close unsubscribes and drops the connection. Not collective; call after the
// final Barrier.
func (t *NATSTransport) Close() error {
	if err := t.sub.Unsubscribe(); err != nil {
		t.conn.Close()
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	t.conn.Close()
	return nil
}

func (t *NATSTransport) subject(rank int) string {
	return fmt.Sprintf("%s.rank.%d", t.prefix, rank)
}

// Rank implements Transport.
func (t *NATSTransport) Rank() int { return t.rank }

// Size implements Transport.
func (t *NATSTransport) Size() int { return t.size }

// Send implements Transport.
func (t *NATSTransport) Send(p *pack.Pack, dest int, tag Tag) error {
	if dest < 0 || dest >= t.size {
		return fmt.Errorf("%w: send to rank %d of %d", ErrTransport, dest, t.size)
	}
	frame := pack.New()
	frame.PutUint8(uint8(tag))
	frame.PutInt32(int32(t.rank))
	frame.Write(p.Bytes())
	if err := t.conn.Publish(t.subject(dest), frame.Bytes()); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}

// SendNonblocking implements Transport. NATS publishes complete inline.
func (t *NATSTransport) SendNonblocking(p *pack.Pack, dest int, tag Tag) (Handle, error) {
	err := t.Send(p, dest, tag)
	return completedHandle{err: err}, err
}

func (t *NATSTransport) decode(msg *nats.Msg) (envelope, error) {
	frame := pack.FromBytes(msg.Data)
	tag, err := frame.GetUint8()
	if err != nil {
		return envelope{}, fmt.Errorf("%w: bad frame: %v", ErrTransport, err)
	}
	source, err := frame.GetInt32()
	if err != nil {
		return envelope{}, fmt.Errorf("%w: bad frame: %v", ErrTransport, err)
	}
	rest, err := frame.Read(frame.Remaining())
	if err != nil {
		return envelope{}, fmt.Errorf("%w: bad frame: %v", ErrTransport, err)
	}
	return envelope{source: int(source), tag: Tag(tag), payload: pack.FromBytes(rest)}, nil
}

// drain moves every already-arrived message into the pending queue without
// blocking.
func (t *NATSTransport) drain() error {
	for {
		select {
		case msg := <-t.incoming:
			env, err := t.decode(msg)
			if err != nil {
				return err
			}
			t.pending = append(t.pending, env)
		default:
			return nil
		}
	}
}

func (t *NATSTransport) takeMatch(source int, tag Tag) (envelope, bool) {
	for i, env := range t.pending {
		if matches(env, source, tag) {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return env, true
		}
	}
	return envelope{}, false
}

// Recv implements Transport.
func (t *NATSTransport) Recv(source int, tag Tag) (*pack.Pack, Status, error) {
	for {
		if err := t.drain(); err != nil {
			return nil, Status{}, err
		}
		if env, ok := t.takeMatch(source, tag); ok {
			return env.payload, Status{Source: env.source, Tag: env.tag, Len: env.payload.Len()}, nil
		}
		msg := <-t.incoming
		env, err := t.decode(msg)
		if err != nil {
			return nil, Status{}, err
		}
		t.pending = append(t.pending, env)
	}
}

// Probe implements Transport.
func (t *NATSTransport) Probe(source int, tag Tag) (Status, bool, error) {
	if err := t.drain(); err != nil {
		return Status{}, false, err
	}
	for _, env := range t.pending {
		if matches(env, source, tag) {
			return Status{Source: env.source, Tag: env.tag, Len: env.payload.Len()}, true, nil
		}
	}
	return Status{}, false, nil
}

// Barrier implements Transport.
func (t *NATSTransport) Barrier() error { return barrierOver(t) }

// AllToAll implements Transport.
func (t *NATSTransport) AllToAll(out map[int][]*pack.Pack) (map[int][]*pack.Pack, error) {
	return allToAllOver(t, out)
}

// Gather implements Transport.
func (t *NATSTransport) Gather(p *pack.Pack, root int) ([]*pack.Pack, error) {
	return gatherOver(t, p, root)
}

// AllReduce implements Transport.
func (t *NATSTransport) AllReduce(p *pack.Pack, op func(a, b *pack.Pack) *pack.Pack) (*pack.Pack, error) {
	return allReduceOver(t, p, op)
}
