// Package emit provides event emission and observability for distributed
// simulation runs.
package emit

import "context"

// Emitter receives and processes observability events from a simulation run.
//
// Emitters enable pluggable observability backends:
// - Logging: stdout, files, syslog.
// - Distributed tracing: OpenTelemetry, Jaeger, Zipkin.
// - In-memory capture for tests and post-run analysis.
//
// Implementations should be:
// - Non-blocking: never slow down the simulation loop.
// - Resilient: handle backend failures gracefully (log, don't crash).
//
// A simulation cluster typically creates one emitter per rank; events carry
// the rank so merged streams stay attributable.
type Emitter interface {
	// Emit sends one observability event to the configured backend.
	// Emit must not panic; errors are logged internally.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation, preserving order.
	// Returns an error only on catastrophic failures; individual event
	// failures are logged and skipped.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush delivers all buffered events. Call before shutdown and at the
	// end of a run; implementations must be safe to call repeatedly.
	Flush(ctx context.Context) error
}
