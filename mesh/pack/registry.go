package pack

import (
	"fmt"
	"sync"
)

// The polymorphic registry maps a small integer type id to the pair of
// functions that encode and decode one payload kind. Agent payload types
// register once at startup; dispatch on the wire is a lookup on the type id
// written ahead of the payload.
//
// Registration is append-only during setup. Registering the same id twice
// panics, because two processes disagreeing on a type id is unrecoverable.

// AnyCodec encodes and decodes a payload behind an any value.
type AnyCodec struct {
	// Put appends the payload bytes (without the type id prefix).
	Put func(p *Pack, value any)
	// Get consumes one payload.
	Get func(p *Pack) (any, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[uint32]AnyCodec{}
)

// Register installs the codec for a payload type id. It panics if the id is
// already taken.
func Register(typeID uint32, codec AnyCodec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[typeID]; dup {
		panic(fmt.Sprintf("pack: type id %d registered twice", typeID))
	}
	registry[typeID] = codec
}

// PutAny appends a type id followed by the payload encoded by the registered
// codec. It returns ErrUnknownType if the id was never registered.
func PutAny(p *Pack, typeID uint32, value any) error {
	registryMu.RLock()
	codec, ok := registry[typeID]
	registryMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	p.PutUint32(typeID)
	codec.Put(p, value)
	return nil
}

// GetAny consumes a type id and the payload that follows it.
func GetAny(p *Pack) (uint32, any, error) {
	typeID, err := p.GetUint32()
	if err != nil {
		return 0, nil, err
	}
	registryMu.RLock()
	codec, ok := registry[typeID]
	registryMu.RUnlock()
	if !ok {
		return typeID, nil, fmt.Errorf("%w: %d", ErrUnknownType, typeID)
	}
	value, err := codec.Get(p)
	return typeID, value, err
}
