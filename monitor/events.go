// Package monitor carries stage and pipeline progress events from the
// Executor and Module Runner out to whatever sinks the CLI has wired up: a
// human-readable terminal writer or a machine-readable JSON-seq stream. It
// also builds the OpenTelemetry tracer provider the CLI opens its single
// run span with; events are not turned into spans.
package monitor

import (
	"context"
	"time"
)

// Kind names the lifecycle point an Event reports.
type Kind string

const (
	PipelineStart  Kind = "pipeline-start"
	PipelineDone   Kind = "pipeline-done"
	PipelineFailed Kind = "pipeline-failed"
	StageStart     Kind = "stage-start"
	StageCacheHit  Kind = "stage-cache-hit"
	StageDone      Kind = "stage-done"
	StageFailed    Kind = "stage-failed"
	Log            Kind = "log"
	// Result is the one terminal record a run emits on success: every
	// stage that ran or was cache-reused, and where every export landed.
	Result Kind = "result"
)

// Event is one point-in-time progress report.
type Event struct {
	Time     time.Time         `json:"time"`
	Kind     Kind              `json:"kind"`
	Pipeline string            `json:"pipeline,omitempty"`
	Stage    string            `json:"stage,omitempty"`
	Message  string            `json:"message,omitempty"`
	Err      string            `json:"error,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Sink consumes a stream of Events. Implementations must not block the
// caller for long; Bus delivers to sinks synchronously in Emit.
type Sink interface {
	Handle(Event)
}

// Bus fans one Event out to every registered Sink.
type Bus struct {
	sinks []Sink
}

func NewBus(sinks ...Sink) *Bus {
	return &Bus{sinks: sinks}
}

func (b *Bus) Add(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Emit stamps e.Time if unset and delivers it to every sink.
func (b *Bus) Emit(_ context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range b.sinks {
		s.Handle(e)
	}
}
