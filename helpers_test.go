package shimz

import (
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
)

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestTracer(t *testing.T) (*Tracer, *clockz.FakeClock) {
	t.Helper()
	clock := clockz.NewFakeClockAt(testEpoch)
	tracer := New(WithClock(clock))
	t.Cleanup(tracer.Close)
	return tracer, clock
}

// harness bundles a tracer with routing and adapters the way NewAgent does.
type harness struct {
	tracer   *Tracer
	clock    *clockz.FakeClock
	fallback *ErrorCollector
	router   *Router
	adapters *Adapters
}

func newHarness(t *testing.T, opts ...AdapterOption) *harness {
	t.Helper()
	tracer, clock := newTestTracer(t)
	fallback := NewErrorCollector("fallback", 10, clock)
	fallback.SetSyncMode(true)
	t.Cleanup(fallback.Close)
	router := NewRouter(tracer, fallback)
	return &harness{
		tracer:   tracer,
		clock:    clock,
		fallback: fallback,
		router:   router,
		adapters: NewAdapters(tracer, router, opts...),
	}
}

// recorderSpy counts recorder invocations.
type recorderSpy struct {
	measurements []Measurement
	mu           sync.Mutex
}

func (r *recorderSpy) Record(m Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.measurements = append(r.measurements, m)
}

func (r *recorderSpy) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.measurements)
}

func (r *recorderSpy) Last() Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.measurements[len(r.measurements)-1]
}

func (r *recorderSpy) Namer(name Key) Namer {
	return func(*Call) (Key, Recorder) {
		return name, r.Record
	}
}

// widget is a Target with one deferred-completion method.
type widget struct {
	MethodSet
	pending []any
	args    [][]any
}

func newWidget() *widget {
	w := &widget{}
	w.Define("query", func(recv any, args ...any) any {
		self := recv.(*widget)
		self.args = append(self.args, args)
		if n := len(args); n > 0 {
			self.pending = append(self.pending, args[n-1])
		}
		return "issued"
	})
	return w
}

func (w *widget) call(args ...any) any {
	out, err := w.Call(w, "query", args...)
	if err != nil {
		panic(err)
	}
	return out
}
