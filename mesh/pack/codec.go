package pack

import (
	"cmp"
	"fmt"
	"sort"
)

// Codec is the extension point that lets user types participate in the typed
// Put/Get layer.
//
// A Codec must satisfy the size contract: Put must advance the write cursor by
// exactly Size(value) bytes, and Get must consume the same number of bytes
// that Put produced for the equal value. Violating the contract corrupts the
// surrounding buffer and surfaces as ErrSizeMismatch or ErrTruncated on a
// later read.
//
// Type parameter T is the value type being encoded.
type Codec[T any] interface {
	// Size returns the exact number of bytes Put will append for value.
	// It is a pure query: it must not touch the Pack.
	Size(value T) int

	// Put appends value to p.
	Put(p *Pack, value T)

	// Get consumes one value from p.
	Get(p *Pack) (T, error)
}

// SizeString returns the encoded size of a length-prefixed string.
func SizeString(s string) int { return 4 + len(s) }

// SizeBytes returns the encoded size of a length-prefixed byte slice.
func SizeBytes(b []byte) int { return 4 + len(b) }

// PutSeq appends a length-prefixed sequence, encoding each element with put.
func PutSeq[T any](p *Pack, xs []T, put func(*Pack, T)) {
	p.PutUint32(uint32(len(xs)))
	for _, x := range xs {
		put(p, x)
	}
}

// GetSeq consumes a length-prefixed sequence, decoding each element with get.
func GetSeq[T any](p *Pack, get func(*Pack) (T, error)) ([]T, error) {
	n, err := p.GetUint32()
	if err != nil {
		return nil, err
	}
	xs := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		x, err := get(p)
		if err != nil {
			return nil, fmt.Errorf("pack: sequence element %d: %w", i, err)
		}
		xs = append(xs, x)
	}
	return xs, nil
}

// PutMap appends a length-prefixed map in lexicographic key order so that the
// encoding of equal maps is byte-identical on every process.
func PutMap[K cmp.Ordered, V any](p *Pack, m map[K]V, putK func(*Pack, K), putV func(*Pack, V)) {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	p.PutUint32(uint32(len(keys)))
	for _, k := range keys {
		putK(p, k)
		putV(p, m[k])
	}
}

// GetMap consumes a length-prefixed map encoded by PutMap.
func GetMap[K comparable, V any](p *Pack, getK func(*Pack) (K, error), getV func(*Pack) (V, error)) (map[K]V, error) {
	n, err := p.GetUint32()
	if err != nil {
		return nil, err
	}
	m := make(map[K]V, n)
	for i := uint32(0); i < n; i++ {
		k, err := getK(p)
		if err != nil {
			return nil, fmt.Errorf("pack: map key %d: %w", i, err)
		}
		v, err := getV(p)
		if err != nil {
			return nil, fmt.Errorf("pack: map value %d: %w", i, err)
		}
		m[k] = v
	}
	return m, nil
}

// PutSet appends a length-prefixed set in sorted element order.
func PutSet[K cmp.Ordered](p *Pack, set map[K]struct{}, putK func(*Pack, K)) {
	keys := make([]K, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	p.PutUint32(uint32(len(keys)))
	for _, k := range keys {
		putK(p, k)
	}
}

// GetSet consumes a length-prefixed set encoded by PutSet.
func GetSet[K comparable](p *Pack, getK func(*Pack) (K, error)) (map[K]struct{}, error) {
	n, err := p.GetUint32()
	if err != nil {
		return nil, err
	}
	set := make(map[K]struct{}, n)
	for i := uint32(0); i < n; i++ {
		k, err := getK(p)
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}
