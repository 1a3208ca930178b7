package connect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/zoobzio/shimz"
	"github.com/zoobzio/shimz/internal/mwapp"
	"github.com/zoobzio/shimz/loop"
)

type fixture struct {
	agent *shimz.Agent
	loop  *loop.Loop
	clock *clockz.FakeClock
	app   *mwapp.App
}

func newFixture(t *testing.T, instrument bool) *fixture {
	t.Helper()
	cfg, err := shimz.LoadConfigFrom(context.Background(), nil)
	require.NoError(t, err)
	agent, err := shimz.NewAgent(cfg, zap.NewNop())
	require.NoError(t, err)
	agent.Errors.SetSyncMode(true)

	clock := clockz.NewFakeClock()
	l := loop.New(loop.WithClock(clock))
	t.Cleanup(func() {
		l.Close()
		agent.Close()
	})

	app := mwapp.New()
	if instrument {
		require.True(t, Register(agent).Instrument(app))
	}
	return &fixture{agent: agent, loop: l, clock: clock, app: app}
}

// handle runs one request on the loop, with tx active when non-nil.
func (f *fixture) handle(t *testing.T, tx *shimz.Transaction) error {
	t.Helper()
	var final error
	require.NoError(t, f.loop.Post(func() {
		run := func() {
			f.app.Handle(nil, nil, func(err error) { final = err })
		}
		if tx == nil {
			run()
			return
		}
		f.agent.Tracer.Within(tx, run)
	}))
	f.loop.Drain()
	return final
}

func TestNextResumesRequestTransaction(t *testing.T) {
	for _, instrument := range []bool{true, false} {
		name := "uninstrumented"
		if instrument {
			name = "instrumented"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, instrument)

			f.app.Use(func(req, res any, next shimz.Next) {
				assert.NoError(t, f.loop.Post(func() { next(nil) }))
			})
			var seen *shimz.Transaction
			f.app.Use(func(req, res any, next shimz.Next) {
				seen = f.agent.Tracer.ActiveTransaction()
				next(nil)
			})

			tx := f.agent.Tracer.StartTransaction("GET /")
			require.NoError(t, f.handle(t, tx))

			if instrument {
				assert.Same(t, tx, seen)
			} else {
				assert.Nil(t, seen, "the loop task that resumes the chain has no transaction")
			}
			assert.Zero(t, f.agent.Tracer.ScopeDepth())
		})
	}
}

func TestNextResumesAfterTimer(t *testing.T) {
	f := newFixture(t, true)

	issued := make(chan struct{})
	f.app.Use(func(req, res any, next shimz.Next) {
		assert.NoError(t, f.loop.After(50*time.Millisecond, func() { next(nil) }))
		close(issued)
	})
	var seen *shimz.Transaction
	f.app.Use(func(req, res any, next shimz.Next) {
		seen = f.agent.Tracer.ActiveTransaction()
		next(nil)
	})

	tx := f.agent.Tracer.StartTransaction("GET /slow")
	require.NoError(t, f.loop.Post(func() {
		f.agent.Tracer.Within(tx, func() { f.app.Handle(nil, nil, nil) })
	}))
	<-issued
	f.clock.Advance(50 * time.Millisecond)
	f.loop.Drain()

	assert.Same(t, tx, seen)
}

func TestRequestsDoNotShareTransactions(t *testing.T) {
	f := newFixture(t, true)

	f.app.Use(func(req, res any, next shimz.Next) {
		assert.NoError(t, f.loop.Post(func() { next(nil) }))
	})
	seen := make(map[string]*shimz.Transaction)
	f.app.Use(func(req, res any, next shimz.Next) {
		seen[req.(string)] = f.agent.Tracer.ActiveTransaction()
		next(nil)
	})

	txs := map[string]*shimz.Transaction{
		"a": f.agent.Tracer.StartTransaction("a"),
		"b": f.agent.Tracer.StartTransaction("b"),
		"c": f.agent.Tracer.StartTransaction("c"),
	}
	for req, tx := range txs {
		req, tx := req, tx
		require.NoError(t, f.loop.Post(func() {
			f.agent.Tracer.Within(tx, func() { f.app.Handle(req, nil, nil) })
		}))
	}
	f.loop.Drain()

	for req, tx := range txs {
		assert.Same(t, tx, seen[req], req)
	}
}

func TestErrorHandlerCapturesToTransaction(t *testing.T) {
	f := newFixture(t, true)
	boom := errors.New("boom")

	f.app.Use(func(req, res any, next shimz.Next) { next(boom) })
	var handled error
	f.app.Use(func(err error, req, res any, next shimz.Next) {
		handled = err
		next(nil)
	})

	tx := f.agent.Tracer.StartTransaction("GET /broken")
	require.NoError(t, f.handle(t, tx))

	assert.ErrorIs(t, handled, boom, "the error handler still runs")
	require.Len(t, tx.Errors(), 1)
	assert.ErrorIs(t, tx.Errors()[0], boom)
	assert.Zero(t, f.agent.Errors.Count())
}

func TestErrorHandlerWithoutTransactionUsesFallback(t *testing.T) {
	f := newFixture(t, true)
	boom := errors.New("boom")

	f.app.Use(func(req, res any, next shimz.Next) { next(boom) })
	ran := false
	f.app.Use(shimz.ErrorHandler(func(err error, req, res any, next shimz.Next) {
		ran = true
		next(err)
	}))

	assert.ErrorIs(t, f.handle(t, nil), boom)
	assert.True(t, ran)

	records := f.agent.Errors.Export()
	require.Len(t, records, 1)
	assert.ErrorIs(t, records[0].Err, boom)
}

func TestHandlerRegisteredInsideTransaction(t *testing.T) {
	f := newFixture(t, true)
	setup := f.agent.Tracer.StartTransaction("setup")

	var seen *shimz.Transaction
	require.NoError(t, f.loop.Post(func() {
		f.agent.Tracer.Within(setup, func() {
			f.app.Use(func(req, res any, next shimz.Next) {
				seen = f.agent.Tracer.ActiveTransaction()
				next(nil)
			})
		})
	}))
	f.loop.Drain()

	require.NoError(t, f.handle(t, nil))
	assert.Same(t, setup, seen, "the handler resumes the transaction it was registered under")
}

func TestInstrument(t *testing.T) {
	f := newFixture(t, true)
	i := Register(f.agent)

	assert.False(t, i.Instrument(f.app), "already instrumented")
	assert.False(t, i.Instrument(nil))
	assert.False(t, i.Instrument(struct{}{}))

	other := mwapp.New()
	assert.True(t, i.Instrument(other))
	other.Use(func(req, res any, next shimz.Next) { next(nil) })
	assert.Equal(t, 1, other.Len())
}
