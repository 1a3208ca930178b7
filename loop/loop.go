// Package loop provides a single-goroutine FIFO executor. Every task posted to
// a Loop runs on the same goroutine, one at a time, in posting order, which is
// the threading model the ambient transaction slot expects.
package loop

import (
	"errors"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// ErrClosed is returned when posting to a closed loop.
var ErrClosed = errors.New("loop closed")

// Loop runs tasks sequentially on one goroutine.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for readability
type Loop struct {
	queue     []func()
	clock     clockz.Clock
	logger    *zap.Logger
	panicHook func(r any)
	done      chan struct{}
	cond      *sync.Cond
	mu        sync.Mutex
	pending   int
	closed    bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock sets the clock used by After.
func WithClock(clock clockz.Clock) Option {
	return func(l *Loop) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPanicHook sets a function called with the value of a panicking task.
func WithPanicHook(hook func(r any)) Option {
	return func(l *Loop) {
		l.panicHook = hook
	}
}

// New starts a loop.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  clockz.RealClock,
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Clock returns the loop clock.
func (l *Loop) Clock() clockz.Clock {
	return l.clock
}

// Post queues task. It never drops and never blocks on a full queue.
func (l *Loop) Post(task func()) error {
	if task == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	l.pending++
	l.queue = append(l.queue, task)
	l.cond.Broadcast()
	return nil
}

// After queues task once d has elapsed on the loop clock. With a fake clock
// the task is queued during Advance.
func (l *Loop) After(d time.Duration, task func()) error {
	if task == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending++
	l.mu.Unlock()

	l.clock.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			l.pending--
			l.cond.Broadcast()
			return
		}
		l.queue = append(l.queue, task)
		l.cond.Broadcast()
	})
	return nil
}

// Drain blocks until every posted task and scheduled timer has run.
// Calling Drain from a loop task deadlocks.
func (l *Loop) Drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.pending > 0 {
		l.cond.Wait()
	}
}

// Pending returns the number of queued, running and scheduled tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending
}

// Close stops accepting tasks, runs what is already queued and stops the
// goroutine. Timers that fire after Close are discarded.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.safeRun(task)

		l.mu.Lock()
		l.pending--
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

func (l *Loop) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("loop task panicked", zap.Any("panic", r))
			if l.panicHook != nil {
				l.panicHook(r)
			}
		}
	}()
	task()
}
