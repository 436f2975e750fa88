package emit

import (
	"context"
	"sync"
)

// BufferedEmitter implements Emitter by storing events in memory, organized
// by run id, with query support for post-run analysis.
//
// Warning: everything stays in memory. For long runs or high event volume,
// prefer LogEmitter to a file, or clear runs as they finish.
//
// Usage:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run the simulation ...
//	syncs := emitter.HistoryWithFilter(runID, emit.HistoryFilter{Msg: "synchronize"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events in emit order
}

// HistoryFilter selects events from a run's history. Set fields combine with
// AND logic; zero values match everything.
type HistoryFilter struct {
	// Rank filters by emitting rank; nil means any rank.
	Rank *int

	// Msg filters by event kind; empty means any.
	Msg string

	// MinDate and MaxDate bound the simulation date, inclusive; nil means
	// unbounded.
	MinDate *uint64
	MaxDate *uint64
}

// NewBufferedEmitter creates an empty BufferedEmitter. Safe for concurrent
// use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event under its run id.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// EmitBatch stores the events in order.
func (b *BufferedEmitter) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, event := range events {
		b.events[event.RunID] = append(b.events[event.RunID], event)
	}
	return nil
}

// Flush is a no-op: the buffer is the destination.
func (b *BufferedEmitter) Flush(_ context.Context) error { return nil }

// History returns a copy of every event recorded for runID, in emit order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	history := make([]Event, len(b.events[runID]))
	copy(history, b.events[runID])
	return history
}

// HistoryWithFilter returns the events for runID matching filter.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []Event
	for _, event := range b.events[runID] {
		if filter.Rank != nil && event.Rank != *filter.Rank {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.MinDate != nil && event.Date < *filter.MinDate {
			continue
		}
		if filter.MaxDate != nil && event.Date > *filter.MaxDate {
			continue
		}
		matched = append(matched, event)
	}
	return matched
}

// Clear drops every event recorded for runID.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll drops everything.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
