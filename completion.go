package shimz

import (
	"reflect"
	"sync"
)

// StreamState is the state of a CompletionDetector.
type StreamState int32

const (
	Streaming StreamState = iota
	StreamEnded
)

func (s StreamState) String() string {
	if s == StreamEnded {
		return "ended"
	}
	return "streaming"
}

// Observation is what a cursor reports after one fetch.
type Observation struct {
	Limit      int
	Total      int
	Buffered   int
	Exhausted  bool
	SourceDone bool
}

// CompletionDetector decides when a cursor stream has delivered its last item.
// Safe for concurrent use by multiple goroutines.
type CompletionDetector struct {
	unboundedAsOne bool
	mu             sync.Mutex
	state          StreamState
}

// NewCompletionDetector creates a detector in the streaming state. With
// unboundedAsOne set, a limit of zero or less is treated as a limit of one.
func NewCompletionDetector(unboundedAsOne bool) *CompletionDetector {
	return &CompletionDetector{unboundedAsOne: unboundedAsOne}
}

// EffectiveLimit maps a cursor limit to the item count that completes the
// stream. The second result is false when the limit places no bound.
func (d *CompletionDetector) EffectiveLimit(limit int) (int, bool) {
	if limit > 0 {
		return limit, true
	}
	if d.unboundedAsOne {
		return 1, true
	}
	return 0, false
}

// Observe feeds one fetch result. It returns true only on the transition to
// StreamEnded; every later call returns false.
func (d *CompletionDetector) Observe(o Observation) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StreamEnded {
		return false
	}
	if !d.complete(o) {
		return false
	}
	d.state = StreamEnded
	return true
}

func (d *CompletionDetector) complete(o Observation) bool {
	if o.Exhausted || o.SourceDone {
		return true
	}
	limit, bounded := d.EffectiveLimit(o.Limit)
	return bounded && o.Total == limit && o.Buffered == 0
}

// State returns the current state.
func (d *CompletionDetector) State() StreamState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// isNil reports whether v is nil or a nil pointer, map, slice, chan, func or
// interface held in an interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
