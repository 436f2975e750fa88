package mesh

import (
	"github.com/dshills/agentmesh-go/mesh/transport"
)

// SimContext owns the process-wide collaborators a simulation borrows: the
// transport, and whatever the caller hangs off it. Init and Finalize are
// collective; every rank must call them together, bracketing all graph work.
type SimContext struct {
	tp        transport.Transport
	finalized bool
}

// Init performs the collective startup handshake over tp and returns the
// context the rest of the simulation borrows.
func Init(tp transport.Transport) (*SimContext, error) {
	if err := tp.Barrier(); err != nil {
		return nil, err
	}
	return &SimContext{tp: tp}, nil
}

// Transport returns the transport this context owns.
func (c *SimContext) Transport() transport.Transport { return c.tp }

// Finalize performs the collective shutdown handshake. Safe to call more
// than once; only the first call does anything.
func (c *SimContext) Finalize() error {
	if c.finalized {
		return nil
	}
	c.finalized = true
	return c.tp.Barrier()
}
