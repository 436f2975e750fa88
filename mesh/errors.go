// Package mesh implements a distributed agent-based modeling kernel: one
// logical directed multi-graph of data-carrying nodes, partitioned across a
// fixed set of cooperating processes and advanced through discrete time steps
// by a scheduler-driven runtime.
//
// The package is organized around three subsystems:
//
//   - The distributed graph core (Graph, Node, Edge, LocationManager): owns
//     storage, classifies every replica as LOCAL or DISTANT, and migrates
//     nodes with their induced subgraph between processes.
//   - The synchronization layer (GhostMode, HardSyncMode): interchangeable
//     policies that give callers read/acquire semantics on possibly-remote
//     data. Ghost batches everything per epoch; HardSync goes to the owner on
//     every access and proves quiescence with a token-ring termination.
//   - The scheduler/runtime (Scheduler, Job, Epoch, Runtime): composes tasks
//     into jobs, jobs into per-date epochs with sub-step ordering, and drives
//     them to completion with a deterministic seeded shuffle.
//
// Everything crosses process boundaries through the mesh/transport and
// mesh/pack subpackages; the core never touches a socket or a byte order
// directly.
package mesh

import "errors"

// ErrUnknownNode indicates a lookup by id on a process that does not know
// this id. Surfaced to the caller; not fatal.
var ErrUnknownNode = errors.New("unknown node")

// ErrUnknownEdge indicates a lookup by id for an edge this process does not
// hold. Surfaced to the caller; not fatal.
var ErrUnknownEdge = errors.New("unknown edge")

// ErrOutOfField is the user-level error for an agent inspecting or moving
// outside its allowed neighborhood. Surfaced to the caller, never retried by
// the core.
var ErrOutOfField = errors.New("out of field")

// ErrStateViolation indicates a mutex protocol bug in the caller, such as
// ReleaseAcquire without a prior Acquire or Lock while already holding the
// lock. Fatal to the current run.
var ErrStateViolation = errors.New("mutex state violation")

// ErrTerminationViolation indicates a mutex or link request that arrived
// after END of the synchronize epoch it was sent in. Fatal: it means two
// processes disagree about epoch boundaries.
var ErrTerminationViolation = errors.New("request received after termination")
