package mesh

import (
	"fmt"

	"github.com/dshills/agentmesh-go/mesh/pack"
)

// Wire records. Every multi-byte integer is little-endian; user payloads ride
// inside nested length-prefixed packs encoded by the graph's data codec.
//
// Node record:  id | weight(f32) | data-pack
// Edge record:  id | layer(i32) | weight(f32)
//               | source-id | source-owner(i32)
//               | target-id | target-owner(i32)
//               | data-pack(source) | data-pack(target)
// MutexRequest: id | source(i32) | kind(i32)
// DataUpdate:   id | data-pack
// NodeUpdate:   id | data-pack | weight(f32)

type nodeRecord[T any] struct {
	id     DistributedID
	weight float32
	data   T
}

type edgeRecord[T any] struct {
	id     DistributedID
	layer  int32
	weight float32

	srcID    DistributedID
	srcOwner int32
	tgtID    DistributedID
	tgtOwner int32

	srcData T
	tgtData T
}

func packData[T any](p *pack.Pack, codec pack.Codec[T], data T) {
	inner := pack.New()
	inner.Allocate(codec.Size(data))
	codec.Put(inner, data)
	p.PutPack(inner)
}

func unpackData[T any](p *pack.Pack, codec pack.Codec[T]) (T, error) {
	inner, err := p.GetPack()
	if err != nil {
		var zero T
		return zero, err
	}
	value, err := codec.Get(inner)
	if err != nil {
		return value, err
	}
	if inner.Remaining() != 0 {
		return value, fmt.Errorf("%w: %d bytes left after payload", pack.ErrSizeMismatch, inner.Remaining())
	}
	return value, nil
}

func packNodeRecord[T any](p *pack.Pack, codec pack.Codec[T], rec nodeRecord[T]) {
	rec.id.PackTo(p)
	p.PutFloat32(rec.weight)
	packData(p, codec, rec.data)
}

func unpackNodeRecord[T any](p *pack.Pack, codec pack.Codec[T]) (nodeRecord[T], error) {
	var rec nodeRecord[T]
	var err error
	if rec.id, err = UnpackID(p); err != nil {
		return rec, err
	}
	if rec.weight, err = p.GetFloat32(); err != nil {
		return rec, err
	}
	rec.data, err = unpackData(p, codec)
	return rec, err
}

func packEdgeRecord[T any](p *pack.Pack, codec pack.Codec[T], rec edgeRecord[T]) {
	rec.id.PackTo(p)
	p.PutInt32(rec.layer)
	p.PutFloat32(rec.weight)
	rec.srcID.PackTo(p)
	p.PutInt32(rec.srcOwner)
	rec.tgtID.PackTo(p)
	p.PutInt32(rec.tgtOwner)
	packData(p, codec, rec.srcData)
	packData(p, codec, rec.tgtData)
}

func unpackEdgeRecord[T any](p *pack.Pack, codec pack.Codec[T]) (edgeRecord[T], error) {
	var rec edgeRecord[T]
	var err error
	if rec.id, err = UnpackID(p); err != nil {
		return rec, err
	}
	if rec.layer, err = p.GetInt32(); err != nil {
		return rec, err
	}
	if rec.weight, err = p.GetFloat32(); err != nil {
		return rec, err
	}
	if rec.srcID, err = UnpackID(p); err != nil {
		return rec, err
	}
	if rec.srcOwner, err = p.GetInt32(); err != nil {
		return rec, err
	}
	if rec.tgtID, err = UnpackID(p); err != nil {
		return rec, err
	}
	if rec.tgtOwner, err = p.GetInt32(); err != nil {
		return rec, err
	}
	if rec.srcData, err = unpackData(p, codec); err != nil {
		return rec, err
	}
	rec.tgtData, err = unpackData(p, codec)
	return rec, err
}

// edgeRecordOf snapshots an edge replica for the wire, using this process's
// current view of the endpoint owners.
func edgeRecordOf[T any](e *Edge[T]) edgeRecord[T] {
	return edgeRecord[T]{
		id:       e.ID(),
		layer:    e.Layer(),
		weight:   e.Weight(),
		srcID:    e.Source().ID(),
		srcOwner: int32(e.Source().Location()),
		tgtID:    e.Target().ID(),
		tgtOwner: int32(e.Target().Location()),
		srcData:  e.Source().Data(),
		tgtData:  e.Target().Data(),
	}
}

// Mutex request kinds carried on the MUTEX_REQ tag.
type mutexRequestKind int32

const (
	reqRead mutexRequestKind = iota
	reqReleaseRead
	reqAcquire
	reqReleaseAcquire
	reqLock
	reqUnlock
	reqLockShared
	reqUnlockShared
)

func (k mutexRequestKind) String() string {
	names := [...]string{
		"READ", "RELEASE_READ", "ACQUIRE", "RELEASE_ACQUIRE",
		"LOCK", "UNLOCK", "LOCK_SHARED", "UNLOCK_SHARED",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return fmt.Sprintf("kind(%d)", int32(k))
}

// localSource is the pseudo source rank the servers use when the owner's own
// thread queues a request on one of its Local nodes.
const localSource = -1

type mutexRequest struct {
	id     DistributedID
	source int
	kind   mutexRequestKind
}

func packMutexRequest(p *pack.Pack, req mutexRequest) {
	req.id.PackTo(p)
	p.PutInt32(int32(req.source))
	p.PutInt32(int32(req.kind))
}

func unpackMutexRequest(p *pack.Pack) (mutexRequest, error) {
	var req mutexRequest
	id, err := UnpackID(p)
	if err != nil {
		return req, err
	}
	source, err := p.GetInt32()
	if err != nil {
		return req, err
	}
	kind, err := p.GetInt32()
	if err != nil {
		return req, err
	}
	return mutexRequest{id: id, source: int(source), kind: mutexRequestKind(kind)}, nil
}

// packDataUpdate encodes a DataUpdate record: id | data-pack.
func packDataUpdate[T any](p *pack.Pack, codec pack.Codec[T], id DistributedID, data T) {
	id.PackTo(p)
	packData(p, codec, data)
}

func unpackDataUpdate[T any](p *pack.Pack, codec pack.Codec[T]) (DistributedID, T, error) {
	id, err := UnpackID(p)
	if err != nil {
		var zero T
		return id, zero, err
	}
	data, err := unpackData(p, codec)
	return id, data, err
}

// packNodeUpdate encodes a NodeUpdate record: id | data-pack | weight(f32).
func packNodeUpdate[T any](p *pack.Pack, codec pack.Codec[T], id DistributedID, data T, weight float32) {
	id.PackTo(p)
	packData(p, codec, data)
	p.PutFloat32(weight)
}

func unpackNodeUpdate[T any](p *pack.Pack, codec pack.Codec[T]) (DistributedID, T, float32, error) {
	id, data, err := unpackDataUpdate(p, codec)
	if err != nil {
		return id, data, 0, err
	}
	weight, err := p.GetFloat32()
	return id, data, weight, err
}
