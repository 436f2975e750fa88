package mesh

import (
	"runtime"

	"github.com/dshills/agentmesh-go/mesh/pack"
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// tokenColor is the termination token state: WHITE means "no work observed
// since the token last passed", BLACK means a request was generated that may
// travel against the token's direction.
type tokenColor uint8

const (
	white tokenColor = iota
	black
)

// requestServer is the part of a hard-sync server the termination algorithm
// drives: it must keep answering peers while this process waits for the
// token, and it owns the epoch parity that stamps this round's tags.
type requestServer interface {
	Epoch() transport.Epoch
	ToggleEpoch()
	HandleIncomingRequests() error
}

// termination runs the four-color (Safra-style) termination detection that
// bounds every hard-sync synchronize.
//
// Processes form a virtual ring by rank. Rank 0 whitens itself and sends a
// WHITE token to rank size-1; each process, on receiving the token, darkens
// it if the process itself is BLACK, forwards it to its ring predecessor, and
// whitens itself. Sending a mutex or link request blackens the sender.
// When rank 0 sees a WHITE token while WHITE itself, every request that was
// in flight has been served: it broadcasts END, and every process toggles the
// server's epoch parity and returns.
//
// While waiting for the token every process keeps polling the server, so
// requests arriving late in the epoch are still answered and the cluster
// cannot deadlock.
type termination struct {
	tp    transport.Transport
	color tokenColor
}

// blacken records that this process generated work. Clients call it on every
// request send.
func (t *termination) blacken() { t.color = black }

func (t *termination) sendToken(tok tokenColor, dest int, tag transport.Tag) error {
	payload := pack.New()
	payload.PutUint8(uint8(tok))
	return t.tp.Send(payload, dest, tag)
}

func recvToken(tp transport.Transport, source int, tag transport.Tag) (tokenColor, error) {
	payload, _, err := tp.Recv(source, tag)
	if err != nil {
		return white, err
	}
	b, err := payload.GetUint8()
	return tokenColor(b), err
}

// Terminate drives the cluster to quiescence for server's traffic, then
// toggles the server's epoch. Collective: every rank must call it with the
// same server. Terminates in O(size) token circulations once the system is
// quiescent.
//
// poll must drive every server on this process, not just the one being
// terminated: a peer that has not yet entered this termination can still be
// blocked on traffic for another server, and only this loop can answer it.
// The token and END tags carry the target server's epoch parity, which keeps
// the two waves of one synchronize (link, then mutex) on disjoint tags.
func (t *termination) Terminate(server requestServer, poll func() error) error {
	tokenTag := transport.NewTag(server.Epoch(), transport.Token)
	endTag := transport.NewTag(server.Epoch(), transport.End)
	rank, size := t.tp.Rank(), t.tp.Size()

	if rank == 0 {
		t.color = white
		if err := t.sendToken(white, size-1, tokenTag); err != nil {
			return err
		}
	}

	successor := (rank + 1) % size
	for {
		if _, ok, err := t.tp.Probe(successor, tokenTag); err != nil {
			return err
		} else if ok {
			tok, err := recvToken(t.tp, successor, tokenTag)
			if err != nil {
				return err
			}
			if rank == 0 {
				if tok == white && t.color == white {
					for dest := 1; dest < size; dest++ {
						if err := t.tp.Send(pack.New(), dest, endTag); err != nil {
							return err
						}
					}
					server.ToggleEpoch()
					return nil
				}
				// Another circulation: someone worked since the
				// last round.
				t.color = white
				if err := t.sendToken(white, size-1, tokenTag); err != nil {
					return err
				}
			} else {
				if t.color == black {
					tok = black
				}
				if err := t.sendToken(tok, rank-1, tokenTag); err != nil {
					return err
				}
				t.color = white
			}
		}

		if rank > 0 {
			if _, ok, err := t.tp.Probe(transport.AnySource, endTag); err != nil {
				return err
			} else if ok {
				if _, _, err := t.tp.Recv(transport.AnySource, endTag); err != nil {
					return err
				}
				server.ToggleEpoch()
				return nil
			}
		}

		if err := poll(); err != nil {
			return err
		}
		runtime.Gosched()
	}
}
