package shimz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Measurement is handed to a segment's Recorder when the segment closes.
//
//nolint:govet // Field order groups the reference types first
type Measurement struct {
	Parameters  map[string]any
	Transaction *Transaction
	Name        string
	Duration    time.Duration
	Exclusive   time.Duration
}

// Recorder is bound to a segment at creation and called once, on the first End.
type Recorder func(m Measurement)

// Segment is a timed node in a transaction's call tree.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability
type Segment struct {
	start     time.Time
	end       time.Time
	params    map[string]any
	tx        *Transaction
	parent    *Segment
	children  []*Segment
	recorder  Recorder
	otelCtx   context.Context
	otelSpan  oteltrace.Span
	name      string
	exclusive time.Duration
	mu        sync.Mutex
	ended     bool
}

func newSegment(tx *Transaction, parent *Segment, name string, recorder Recorder) *Segment {
	s := &Segment{
		tx:       tx,
		parent:   parent,
		name:     name,
		recorder: recorder,
		start:    tx.tracer.clock.Now(),
	}
	tx.tracer.startOTelSpan(s)
	return s
}

// AddChild opens a child segment and makes it the transaction's current segment.
func (s *Segment) AddChild(name string, recorder Recorder) *Segment {
	child := newSegment(s.tx, s, name, recorder)

	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()

	s.tx.SetCurrentSegment(child)
	return child
}

// SetParameter attaches a key/value pair to the segment.
// No-op once the segment has ended.
func (s *Segment) SetParameter(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	if s.params == nil {
		s.params = make(map[string]any)
	}
	s.params[key] = value
}

// SetParameters merges params into the segment's parameters.
func (s *Segment) SetParameters(params map[string]any) {
	for k, v := range params {
		s.SetParameter(k, v)
	}
}

// Parameters returns a copy of the segment parameters.
func (s *Segment) Parameters() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyParams(s.params)
}

// End closes the segment. Only the first call records; later calls are no-ops.
func (s *Segment) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.end = s.tx.tracer.clock.Now()
	duration := s.end.Sub(s.start)

	var childTime time.Duration
	for _, c := range s.children {
		if d, ok := c.closedDuration(); ok {
			childTime += d
		}
	}
	s.exclusive = duration - childTime
	if s.exclusive < 0 {
		s.exclusive = 0
	}

	m := Measurement{
		Name:        s.name,
		Duration:    duration,
		Exclusive:   s.exclusive,
		Transaction: s.tx,
		Parameters:  copyParams(s.params),
	}
	span := s.otelSpan
	end := s.end
	recorder := s.recorder
	s.mu.Unlock()

	s.tx.popSegment(s)

	if span != nil {
		for k, v := range m.Parameters {
			span.SetAttributes(attribute.String(k, fmt.Sprint(v)))
		}
		span.End(oteltrace.WithTimestamp(end))
	}

	if recorder != nil {
		s.tx.tracer.record(recorder, m)
	}
}

func (s *Segment) closedDuration() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return 0, false
	}
	return s.end.Sub(s.start), true
}

// Name returns the segment name.
func (s *Segment) Name() string {
	return s.name
}

// Parent returns the parent segment, or nil for a transaction root.
func (s *Segment) Parent() *Segment {
	return s.parent
}

// Transaction returns the transaction this segment belongs to.
func (s *Segment) Transaction() *Transaction {
	return s.tx
}

// Children returns a copy of the child segments in creation order.
func (s *Segment) Children() []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Segment, len(s.children))
	copy(out, s.children)
	return out
}

// Ended reports whether End has been called.
func (s *Segment) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// StartTime returns when the segment was opened.
func (s *Segment) StartTime() time.Time {
	return s.start
}

// EndTime returns when the segment was closed, or the zero time while open.
func (s *Segment) EndTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end
}

// Duration returns the closed duration, or the elapsed time while still open.
func (s *Segment) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		return s.tx.tracer.clock.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// ExclusiveDuration returns the duration minus closed child time. Zero while open.
func (s *Segment) ExclusiveDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exclusive
}

func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
