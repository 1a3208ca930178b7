package shimz

import (
	"sync"
	"time"
)

// TxState is the lifecycle state of a Transaction.
type TxState int32

const (
	TxActive TxState = iota
	TxEnded
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Transaction is one unit of work that segments attach to.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability
type Transaction struct {
	start   time.Time
	end     time.Time
	tracer  *Tracer
	root    *Segment
	current *Segment
	errors  []error
	id      string
	name    string
	mu      sync.Mutex
	state   TxState
}

// ID returns the transaction identifier.
func (tx *Transaction) ID() string {
	return tx.id
}

// Name returns the transaction name.
func (tx *Transaction) Name() string {
	return tx.name
}

// Root returns the root segment.
func (tx *Transaction) Root() *Segment {
	return tx.root
}

// State returns the lifecycle state.
func (tx *Transaction) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// IsActive reports whether the transaction has not ended yet.
func (tx *Transaction) IsActive() bool {
	return tx.State() == TxActive
}

// CurrentSegment returns the most recently opened segment that is still open,
// falling back to the root.
func (tx *Transaction) CurrentSegment() *Segment {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.current
}

// SetCurrentSegment makes s the parent for the next segment opened on tx.
// Segments from other transactions are ignored.
func (tx *Transaction) SetCurrentSegment(s *Segment) {
	if s == nil || s.tx != tx {
		return
	}
	tx.mu.Lock()
	tx.current = s
	tx.mu.Unlock()
}

// popSegment moves current to the nearest open ancestor when s was current.
func (tx *Transaction) popSegment(s *Segment) {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.current != s {
		return
	}
	next := s.parent
	for next != nil && next.Ended() {
		next = next.parent
	}
	if next == nil {
		next = tx.root
	}
	tx.current = next
}

// AddError appends err to the transaction's captured errors.
// Returns false when err is nil or the transaction has already ended.
func (tx *Transaction) AddError(err error) bool {
	if err == nil {
		return false
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.state != TxActive {
		return false
	}
	tx.errors = append(tx.errors, err)
	return true
}

// Errors returns a copy of the captured errors in capture order.
func (tx *Transaction) Errors() []error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if len(tx.errors) == 0 {
		return nil
	}
	out := make([]error, len(tx.errors))
	copy(out, tx.errors)
	return out
}

// OpenSegments returns the non-root segments that have not ended.
// A callback that never fires leaves its segment here.
func (tx *Transaction) OpenSegments() []*Segment {
	var open []*Segment
	var walk func(s *Segment)
	walk = func(s *Segment) {
		for _, c := range s.Children() {
			if !c.Ended() {
				open = append(open, c)
			}
			walk(c)
		}
	}
	walk(tx.root)
	return open
}

// StartTime returns when the transaction began.
func (tx *Transaction) StartTime() time.Time {
	return tx.start
}

// Duration returns the total duration, or the elapsed time while active.
func (tx *Transaction) Duration() time.Duration {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state == TxActive {
		return tx.tracer.clock.Since(tx.start)
	}
	return tx.end.Sub(tx.start)
}

// End finalizes the transaction, closes the root segment and hands the
// transaction to the tracer's end handlers. Safe to call multiple times.
func (tx *Transaction) End() {
	tx.mu.Lock()
	if tx.state != TxActive {
		tx.mu.Unlock()
		return
	}
	tx.state = TxEnded
	tx.end = tx.tracer.clock.Now()
	tx.mu.Unlock()

	tx.root.End()
	tx.tracer.executeHandlers(tx)
}
