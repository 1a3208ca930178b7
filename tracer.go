package shimz

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrWorkerPoolEnabled is returned when EnableWorkerPool is called twice.
	ErrWorkerPoolEnabled = errors.New("worker pool already enabled")
	// ErrInvalidPoolSize is returned for non-positive worker or queue sizes.
	ErrInvalidPoolSize = errors.New("workers and queue size must be > 0")
)

// TransactionHandler is called when a transaction ends.
type TransactionHandler func(tx *Transaction)

type handlerEntry struct {
	handler TransactionHandler
	id      uint64
	async   bool
}

// Tracer owns the ambient transaction and the propagation primitives.
// Safe for concurrent use by multiple goroutines; the ambient slot assumes a
// single logical thread of control (see loop.Loop).
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	workers      *workerPool
	ids          *idPool
	clock        clockz.Clock
	logger       *zap.Logger
	otel         oteltrace.Tracer
	active       ambient
	handlersLock sync.RWMutex
	idsOnce      sync.Once
	nextID       atomic.Uint64
	dropped      atomic.Uint64
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for segment and transaction timestamps.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		if clock != nil {
			t.clock = clock
		}
	}
}

// WithLogger sets the tracer's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *Tracer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithOTelTracer mirrors every transaction and segment as an OpenTelemetry span.
func WithOTelTracer(tracer oteltrace.Tracer) Option {
	return func(t *Tracer) {
		t.otel = tracer
	}
}

// New creates a tracer. Uses the real clock and a no-op logger by default.
func New(opts ...Option) *Tracer {
	t := &Tracer{
		handlers: make([]handlerEntry, 0),
		clock:    clockz.RealClock,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Clock returns the tracer clock.
func (t *Tracer) Clock() clockz.Clock {
	return t.clock
}

// Logger returns the tracer logger.
func (t *Tracer) Logger() *zap.Logger {
	return t.logger
}

// StartTransaction begins a new unit of work. It does not make the transaction
// active; use Enter or Within for that.
func (t *Tracer) StartTransaction(name Key) *Transaction {
	tx := &Transaction{
		id:     t.generateID(),
		name:   name,
		tracer: t,
		state:  TxActive,
	}
	tx.root = newSegment(tx, nil, name, nil)
	tx.current = tx.root
	tx.start = tx.root.start
	return tx
}

// OnTransactionEnd registers a synchronous handler called when transactions end.
func (t *Tracer) OnTransactionEnd(handler TransactionHandler) uint64 {
	return t.registerHandler(handler, false)
}

// OnTransactionEndAsync registers a handler run on the worker pool, or on its
// own goroutine when no pool is enabled.
func (t *Tracer) OnTransactionEndAsync(handler TransactionHandler) uint64 {
	return t.registerHandler(handler, true)
}

func (t *Tracer) registerHandler(handler TransactionHandler, async bool) uint64 {
	if handler == nil {
		return 0
	}

	id := t.nextID.Add(1)

	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	t.handlers = append(t.handlers, handlerEntry{
		id:      id,
		handler: handler,
		async:   async,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (t *Tracer) RemoveHandler(id uint64) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	for i, h := range t.handlers {
		if h.id == id {
			copy(t.handlers[i:], t.handlers[i+1:])
			t.handlers = t.handlers[:len(t.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function called when a handler or recorder panics.
// Recorder panics report handler ID 0.
func (t *Tracer) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()
	t.panicHook = hook
}

func (t *Tracer) notifyPanic(id uint64, r interface{}) {
	t.handlersLock.RLock()
	hook := t.panicHook
	t.handlersLock.RUnlock()
	if hook != nil {
		hook(id, r)
	}
}

func (t *Tracer) executeHandlers(tx *Transaction) {
	t.handlersLock.RLock()
	if len(t.handlers) == 0 {
		t.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(t.handlers))
	copy(handlers, t.handlers)
	workers := t.workers
	t.handlersLock.RUnlock()

	for _, h := range handlers {
		if !h.async {
			t.safeCall(h, tx)
			continue
		}
		entry := h
		if workers != nil {
			workers.submit(func() {
				t.safeCall(entry, tx)
			})
		} else {
			go t.safeCall(entry, tx)
		}
	}
}

func (t *Tracer) safeCall(entry handlerEntry, tx *Transaction) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("transaction handler panicked",
				zap.Uint64("handler", entry.id),
				zap.String("transaction", tx.id),
				zap.Any("panic", r))
			t.notifyPanic(entry.id, r)
		}
	}()
	entry.handler(tx)
}

// record runs a segment recorder. A panicking recorder never reaches the caller.
func (t *Tracer) record(recorder Recorder, m Measurement) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("segment recorder panicked",
				zap.String("segment", m.Name),
				zap.Any("panic", r))
			t.notifyPanic(0, r)
		}
	}()
	recorder(m)
}

func (t *Tracer) startOTelSpan(s *Segment) {
	if t.otel == nil {
		return
	}

	parent := context.Background()
	opts := []oteltrace.SpanStartOption{oteltrace.WithTimestamp(s.start)}
	if s.parent != nil && s.parent.otelCtx != nil {
		parent = s.parent.otelCtx
		opts = append(opts, oteltrace.WithSpanKind(oteltrace.SpanKindClient))
	} else {
		opts = append(opts,
			oteltrace.WithSpanKind(oteltrace.SpanKindServer),
			oteltrace.WithAttributes(attribute.String("shimz.transaction.id", s.tx.id)))
	}

	s.otelCtx, s.otelSpan = t.otel.Start(parent, s.name, opts...)
}

// EnableWorkerPool bounds the goroutines used by async end handlers.
func (t *Tracer) EnableWorkerPool(workers, queueSize int) error {
	t.handlersLock.Lock()
	defer t.handlersLock.Unlock()

	if t.workers != nil {
		return ErrWorkerPoolEnabled
	}
	if workers <= 0 || queueSize <= 0 {
		return ErrInvalidPoolSize
	}

	t.workers = &workerPool{
		tasks:   make(chan func(), queueSize),
		stop:    make(chan struct{}),
		dropped: &t.dropped,
	}

	t.workers.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go t.workers.run()
	}

	return nil
}

// DroppedTransactions returns how many async end-handler runs were dropped
// because the worker queue was full.
func (t *Tracer) DroppedTransactions() uint64 {
	return t.dropped.Load()
}

// Close removes all handlers, waits for in-flight async handlers and stops
// the ID pool.
func (t *Tracer) Close() {
	t.handlersLock.Lock()
	t.handlers = nil
	workers := t.workers
	t.workers = nil
	t.handlersLock.Unlock()

	if workers != nil {
		workers.shutdown()
	}

	if t.ids != nil {
		t.ids.close()
	}
}

func (t *Tracer) generateID() string {
	t.idsOnce.Do(func() {
		t.ids = newIDPool(runtime.NumCPU()*16, t.clock)
	})
	return t.ids.get()
}

// workerPool runs async end handlers on a fixed set of goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type workerPool struct {
	tasks   chan func()
	stop    chan struct{}
	dropped *atomic.Uint64
	wg      sync.WaitGroup
}

func (w *workerPool) run() {
	defer w.wg.Done()
	for {
		select {
		case task := <-w.tasks:
			task()
		case <-w.stop:
			return
		}
	}
}

func (w *workerPool) submit(task func()) {
	select {
	case w.tasks <- task:
	default:
		w.dropped.Add(1)
	}
}

func (w *workerPool) shutdown() {
	close(w.stop)
	w.wg.Wait()
}
