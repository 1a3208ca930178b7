package shimz

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// ErrorRecord is one error received by an ErrorCollector.
type ErrorRecord struct {
	Time time.Time
	Err  error
}

// ErrorCollector buffers errors reported outside any transaction.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type ErrorCollector struct {
	records      []ErrorRecord
	recordsCh    chan ErrorRecord
	stopCh       chan struct{}
	done         chan struct{}
	clock        clockz.Clock
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closeOnce    sync.Once
	closed       atomic.Bool
	syncMode     atomic.Bool
}

// NewErrorCollector creates a collector with the given channel buffer size.
func NewErrorCollector(name string, bufferSize int, clock clockz.Clock) *ErrorCollector {
	if clock == nil {
		clock = clockz.RealClock
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	c := &ErrorCollector{
		name:      name,
		clock:     clock,
		records:   make([]ErrorRecord, 0, 8),
		recordsCh: make(chan ErrorRecord, bufferSize),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.start()
	return c
}

func (c *ErrorCollector) start() {
	defer close(c.done)

	for {
		select {
		case <-c.stopCh:
			for {
				select {
				case rec := <-c.recordsCh:
					c.buffer(rec)
				default:
					return
				}
			}
		case rec := <-c.recordsCh:
			c.buffer(rec)
		}
	}
}

// Name returns the collector name.
func (c *ErrorCollector) Name() string {
	return c.name
}

// Report buffers err. When the channel is full or the collector is closed
// the error is dropped and counted. Nil errors are ignored.
func (c *ErrorCollector) Report(err error) {
	if err == nil {
		return
	}
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return
	}

	rec := ErrorRecord{Time: c.clock.Now(), Err: err}
	if c.syncMode.Load() {
		c.buffer(rec)
		return
	}

	select {
	case c.recordsCh <- rec:
	default:
		c.droppedCount.Add(1)
	}
}

func (c *ErrorCollector) buffer(rec ErrorRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

// Export returns the buffered records and clears the buffer.
func (c *ErrorCollector) Export() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.records) == 0 {
		return nil
	}
	out := make([]ErrorRecord, len(c.records))
	copy(out, c.records)

	if cap(c.records) > 256 && len(c.records) < cap(c.records)/8 {
		c.records = make([]ErrorRecord, 0, 32)
	} else {
		c.records = c.records[:0]
	}
	return out
}

// Count returns the number of buffered records.
func (c *ErrorCollector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// DroppedCount returns how many errors were dropped.
func (c *ErrorCollector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// SetSyncMode makes Report buffer directly instead of through the channel.
func (c *ErrorCollector) SetSyncMode(enabled bool) {
	c.syncMode.Store(enabled)
}

// Reset clears the buffer and the drop counter.
func (c *ErrorCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = c.records[:0]
	c.droppedCount.Store(0)
}

// Close stops the collector after draining queued errors. Later reports are
// dropped.
func (c *ErrorCollector) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.stopCh)
		select {
		case <-c.done:
		case <-time.After(100 * time.Millisecond):
		}
	})
}
