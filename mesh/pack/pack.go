// Package pack implements the byte-buffer codec used for every wire transfer
// and breakpoint dump in AgentMesh-Go.
//
// A Pack is a linear byte buffer with an independent write cursor and read
// cursor. Values are appended with Put* methods and consumed with Get* methods
// in the same order. All multi-byte integers are little-endian, so a Pack
// produced on one process decodes identically on any other.
//
// Packs are value types: they compare by bytes, copy cheaply (the underlying
// buffer is shared until grown), and carry an element count for buffers that
// hold arrays of fixed-size records.
//
// Example:
//
//	p := pack.New()
//	p.PutInt32(42)
//	p.PutString("hello")
//
//	v, _ := p.GetInt32()  // 42
//	s, _ := p.GetString() // "hello"
package pack

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrTruncated is returned by Get* methods when the read cursor would advance
// past the end of the buffer.
var ErrTruncated = errors.New("pack: truncated buffer")

// ErrSizeMismatch is returned when a typed value decodes to a different byte
// width than its declared size.
var ErrSizeMismatch = errors.New("pack: size mismatch")

// ErrUnknownType is returned by the polymorphic registry when a type id has no
// registered codec.
var ErrUnknownType = errors.New("pack: unknown type id")

// Pack is a linear byte buffer with a write cursor (implicit: the end of the
// buffer) and an explicit read cursor.
//
// The zero value is an empty, ready-to-use Pack.
type Pack struct {
	buf  []byte
	read int

	// Count is the number of fixed-size elements the buffer holds, for
	// callers that treat the Pack as a flat array of records. Zero for
	// heterogeneous payloads.
	Count uint32
}

// New returns an empty Pack.
func New() *Pack {
	return &Pack{}
}

// FromBytes wraps raw bytes in a Pack positioned at the start for reading.
// The slice is not copied.
func FromBytes(b []byte) *Pack {
	return &Pack{buf: b}
}

// Allocate grows the underlying buffer capacity by n bytes without moving
// either cursor. Use it before a burst of Put calls of known total size.
func (p *Pack) Allocate(n int) {
	if cap(p.buf)-len(p.buf) >= n {
		return
	}
	grown := make([]byte, len(p.buf), len(p.buf)+n)
	copy(grown, p.buf)
	p.buf = grown
}

// Len returns the number of bytes written so far.
func (p *Pack) Len() int { return len(p.buf) }

// Remaining returns the number of unread bytes.
func (p *Pack) Remaining() int { return len(p.buf) - p.read }

// Bytes returns the full written buffer. The slice aliases the Pack's
// internal storage; callers must not modify it.
func (p *Pack) Bytes() []byte { return p.buf }

// Rewind moves the read cursor back to the start of the buffer.
func (p *Pack) Rewind() { p.read = 0 }

// Equal reports whether two Packs hold identical bytes. Cursor positions and
// element counts do not participate in equality.
func (p *Pack) Equal(other *Pack) bool {
	return bytes.Equal(p.buf, other.buf)
}

// Clone returns a deep copy of the Pack with the read cursor reset.
func (p *Pack) Clone() *Pack {
	buf := make([]byte, len(p.buf))
	copy(buf, p.buf)
	return &Pack{buf: buf, Count: p.Count}
}

// Write appends raw bytes, bypassing the typed layer. Reserved for fixed-size
// fields whose layout is bit-exact, such as DistributedID.
func (p *Pack) Write(b []byte) {
	p.buf = append(p.buf, b...)
}

// Read consumes exactly n raw bytes, bypassing the typed layer.
func (p *Pack) Read(n int) ([]byte, error) {
	if p.read+n > len(p.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, len(p.buf)-p.read)
	}
	b := p.buf[p.read : p.read+n]
	p.read += n
	return b, nil
}

// PutUint8 appends a single byte.
func (p *Pack) PutUint8(v uint8) { p.buf = append(p.buf, v) }

// GetUint8 consumes a single byte.
func (p *Pack) GetUint8() (uint8, error) {
	b, err := p.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// PutBool appends a boolean as one byte (0 or 1).
func (p *Pack) PutBool(v bool) {
	if v {
		p.PutUint8(1)
	} else {
		p.PutUint8(0)
	}
}

// GetBool consumes a boolean.
func (p *Pack) GetBool() (bool, error) {
	b, err := p.GetUint8()
	return b != 0, err
}

// PutInt32 appends a little-endian int32.
func (p *Pack) PutInt32(v int32) { p.PutUint32(uint32(v)) }

// GetInt32 consumes a little-endian int32.
func (p *Pack) GetInt32() (int32, error) {
	v, err := p.GetUint32()
	return int32(v), err
}

// PutUint32 appends a little-endian uint32.
func (p *Pack) PutUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

// GetUint32 consumes a little-endian uint32.
func (p *Pack) GetUint32() (uint32, error) {
	b, err := p.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// PutInt64 appends a little-endian int64.
func (p *Pack) PutInt64(v int64) { p.PutUint64(uint64(v)) }

// GetInt64 consumes a little-endian int64.
func (p *Pack) GetInt64() (int64, error) {
	v, err := p.GetUint64()
	return int64(v), err
}

// PutUint64 appends a little-endian uint64.
func (p *Pack) PutUint64(v uint64) {
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

// GetUint64 consumes a little-endian uint64.
func (p *Pack) GetUint64() (uint64, error) {
	b, err := p.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// PutFloat32 appends an IEEE-754 float32 in little-endian byte order.
func (p *Pack) PutFloat32(v float32) { p.PutUint32(math.Float32bits(v)) }

// GetFloat32 consumes a float32.
func (p *Pack) GetFloat32() (float32, error) {
	bits, err := p.GetUint32()
	return math.Float32frombits(bits), err
}

// PutFloat64 appends an IEEE-754 float64 in little-endian byte order.
func (p *Pack) PutFloat64(v float64) { p.PutUint64(math.Float64bits(v)) }

// GetFloat64 consumes a float64.
func (p *Pack) GetFloat64() (float64, error) {
	bits, err := p.GetUint64()
	return math.Float64frombits(bits), err
}

// PutString appends a length-prefixed UTF-8 string.
func (p *Pack) PutString(s string) {
	p.PutUint32(uint32(len(s)))
	p.buf = append(p.buf, s...)
}

// GetString consumes a length-prefixed string.
func (p *Pack) GetString() (string, error) {
	n, err := p.GetUint32()
	if err != nil {
		return "", err
	}
	b, err := p.Read(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PutBytes appends a length-prefixed byte slice.
func (p *Pack) PutBytes(b []byte) {
	p.PutUint32(uint32(len(b)))
	p.buf = append(p.buf, b...)
}

// GetBytes consumes a length-prefixed byte slice. The result is copied out of
// the internal buffer.
func (p *Pack) GetBytes() ([]byte, error) {
	n, err := p.GetUint32()
	if err != nil {
		return nil, err
	}
	b, err := p.Read(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// PutPack appends another Pack as a length-prefixed payload. Used to nest
// opaque user-data packs inside node and edge wire records.
func (p *Pack) PutPack(inner *Pack) {
	p.PutBytes(inner.Bytes())
}

// GetPack consumes a length-prefixed nested Pack.
func (p *Pack) GetPack() (*Pack, error) {
	b, err := p.GetBytes()
	if err != nil {
		return nil, err
	}
	return FromBytes(b), nil
}
