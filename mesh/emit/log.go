package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
// - Text mode (default): human-readable key=value lines.
// - JSON mode: machine-readable JSON, one event per line.
//
// Example text output:
//
//	[synchronize] rank=1 date=12 local_nodes=250
//
// Example JSON output:
//
//	{"runID":"run-001","rank":1,"date":12,"msg":"synchronize","meta":{"local_nodes":250}}
//
// Usage:
//
//	// Text output to stderr.
//	emitter := emit.NewLogEmitter(os.Stderr, false)
//
//	// JSON output to a per-rank file.
//	f, _ := os.Create(fmt.Sprintf("events-rank%d.jsonl", rank))
//	defer func() { _ = f.Close() }()
//	emitter := emit.NewLogEmitter(f, true)
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to writer (os.Stdout when nil).
// jsonMode selects JSON lines instead of the text format.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes one event in the configured format. Write failures are
// swallowed: logging must never take the simulation down.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.write(event)
}

func (l *LogEmitter) write(event Event) {
	if l.jsonMode {
		line := struct {
			RunID string                 `json:"runID,omitempty"`
			Rank  int                    `json:"rank"`
			Date  uint64                 `json:"date"`
			Msg   string                 `json:"msg"`
			Meta  map[string]interface{} `json:"meta,omitempty"`
		}{event.RunID, event.Rank, event.Date, event.Msg, event.Meta}
		data, err := json.Marshal(line)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(l.writer, "%s\n", data)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "[%s] rank=%d date=%d", event.Msg, event.Rank, event.Date)
	for key, value := range event.Meta {
		_, _ = fmt.Fprintf(l.writer, " %s=%v", key, value)
	}
	_, _ = fmt.Fprintln(l.writer)
}

// EmitBatch writes events in order under one lock acquisition.
func (l *LogEmitter) EmitBatch(_ context.Context, events []Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, event := range events {
		l.write(event)
	}
	return nil
}

// Flush is a no-op: LogEmitter writes through on every event.
func (l *LogEmitter) Flush(_ context.Context) error { return nil }
