package shimz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnterExit(t *testing.T) {
	tracer, _ := newTestTracer(t)
	a := tracer.StartTransaction("a")
	b := tracer.StartTransaction("b")

	exitA := tracer.Enter(a)
	exitB := tracer.Enter(b)
	assert.Same(t, b, tracer.ActiveTransaction())
	assert.Equal(t, 2, tracer.ScopeDepth())

	exitB()
	exitB()
	assert.Same(t, a, tracer.ActiveTransaction())
	assert.Equal(t, 1, tracer.ScopeDepth(), "exit is idempotent")

	exitA()
	assert.Nil(t, tracer.ActiveTransaction())
	assert.Equal(t, 0, tracer.ScopeDepth())
}

func TestWithinRestoresOnPanic(t *testing.T) {
	tracer, _ := newTestTracer(t)
	tx := tracer.StartTransaction("tx")

	assert.Panics(t, func() {
		tracer.Within(tx, func() { panic("boom") })
	})
	assert.Nil(t, tracer.ActiveTransaction())
	assert.Equal(t, 0, tracer.ScopeDepth())
}

func TestContextThreading(t *testing.T) {
	tracer, _ := newTestTracer(t)
	tx := tracer.StartTransaction("tx")

	ctx := context.Background()
	assert.Nil(t, TransactionFromContext(ctx))
	assert.Nil(t, TransactionFromContext(nil)) //nolint:staticcheck // nil context is tolerated
	assert.Equal(t, ctx, WithTransaction(ctx, nil))

	var carried context.Context
	tracer.Within(tx, func() {
		carried = tracer.ContextWithActive(ctx)
	})
	assert.Same(t, tx, TransactionFromContext(carried))

	var seen *Transaction
	tracer.WithinContext(carried, func() { seen = tracer.ActiveTransaction() })
	assert.Same(t, tx, seen)
	assert.Nil(t, tracer.ActiveTransaction())

	tracer.WithinContext(ctx, func() { seen = tracer.ActiveTransaction() })
	assert.Nil(t, seen)
}
