package monitor

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Handle(e Event) {
	r.events = append(r.events, e)
}

func TestBus_EmitDeliversToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	bus := NewBus(a, b)

	bus.Emit(context.Background(), Event{Kind: StageStart, Pipeline: "p1", Stage: "s1"})

	assert.Equal(t, len(a.events), 1)
	assert.Equal(t, len(b.events), 1)
	assert.Assert(t, !a.events[0].Time.IsZero())
}

func TestJSONSeqSink_WritesRecordSeparatorFramedJSON(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONSeqSink(&buf)
	sink.Handle(Event{Kind: StageDone, Pipeline: "p1", Stage: "s1", Message: "ok"})

	out := buf.String()
	assert.Assert(t, strings.HasPrefix(out, recordSeparator))
	assert.Assert(t, strings.Contains(out, `"kind":"stage-done"`))
}

func TestTerminalSink_NonTTYWriterRendersOneLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewTerminalSink(&buf)
	sink.Handle(Event{Kind: StageFailed, Pipeline: "p1", Stage: "s1", Err: "boom"})

	assert.Assert(t, strings.Contains(buf.String(), "boom"))
	assert.Equal(t, strings.Count(buf.String(), "\n"), 1)
}
