package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterTextFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)
	emitter.Emit(Event{Rank: 2, Date: 7, Msg: "synchronize", Meta: map[string]interface{}{"edges": 3}})

	line := buf.String()
	for _, want := range []string{"[synchronize]", "rank=2", "date=7", "edges=3"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestLogEmitterJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)
	emitter.Emit(Event{RunID: "run-1", Rank: 1, Date: 3, Msg: "date_start"})

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded["msg"] != "date_start" || decoded["rank"] != float64(1) || decoded["date"] != float64(3) {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestLogEmitterBatchOrder(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)
	err := emitter.EmitBatch(context.Background(), []Event{
		{Msg: "first"}, {Msg: "second"},
	})
	if err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "first") || !strings.Contains(lines[1], "second") {
		t.Errorf("batch output = %v", lines)
	}
}

func TestBufferedEmitterHistory(t *testing.T) {
	emitter := NewBufferedEmitter()
	emitter.Emit(Event{RunID: "a", Rank: 0, Date: 1, Msg: "synchronize"})
	emitter.Emit(Event{RunID: "a", Rank: 1, Date: 2, Msg: "distribute"})
	emitter.Emit(Event{RunID: "b", Rank: 0, Date: 1, Msg: "synchronize"})

	if got := emitter.History("a"); len(got) != 2 {
		t.Errorf("History(a) = %d events, want 2", len(got))
	}
	rank := 1
	if got := emitter.HistoryWithFilter("a", HistoryFilter{Rank: &rank}); len(got) != 1 || got[0].Msg != "distribute" {
		t.Errorf("rank filter = %v", got)
	}
	if got := emitter.HistoryWithFilter("a", HistoryFilter{Msg: "synchronize"}); len(got) != 1 {
		t.Errorf("msg filter = %v", got)
	}
	minDate := uint64(2)
	if got := emitter.HistoryWithFilter("a", HistoryFilter{MinDate: &minDate}); len(got) != 1 {
		t.Errorf("date filter = %v", got)
	}

	emitter.Clear("a")
	if got := emitter.History("a"); len(got) != 0 {
		t.Errorf("history survived Clear: %v", got)
	}
	if got := emitter.History("b"); len(got) != 1 {
		t.Errorf("Clear(a) touched run b: %v", got)
	}
}

func TestNullEmitterIsSilent(t *testing.T) {
	emitter := NewNullEmitter()
	emitter.Emit(Event{Msg: "ignored"})
	if err := emitter.EmitBatch(context.Background(), []Event{{Msg: "ignored"}}); err != nil {
		t.Errorf("EmitBatch: %v", err)
	}
	if err := emitter.Flush(context.Background()); err != nil {
		t.Errorf("Flush: %v", err)
	}
}
