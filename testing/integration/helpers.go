// Package integration runs the agent end to end: instrumented collections
// and middleware on one loop, many requests in flight.
package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/zoobzio/shimz"
	"github.com/zoobzio/shimz/instrumentation/connect"
	"github.com/zoobzio/shimz/instrumentation/mongodb"
	"github.com/zoobzio/shimz/internal/memdb"
	"github.com/zoobzio/shimz/internal/mwapp"
	"github.com/zoobzio/shimz/loop"
	"github.com/zoobzio/shimz/metrics"
)

// Stack is an agent with both instrumentations applied to a store and an app
// that share one loop.
//
//nolint:govet // Field alignment optimized for test helper readability
type Stack struct {
	Agent *shimz.Agent
	Loop  *loop.Loop
	DB    *memdb.DB
	App   *mwapp.App
	Stats *metrics.Aggregator
	Ended *TransactionLog

	t     *testing.T
	mongo *mongodb.Instrumentation
}

// StackOption adjusts the stack before it is built.
type StackOption func(*stackConfig)

type stackConfig struct {
	env       map[string]string
	dbOpts    []memdb.Option
	loopOpts  []loop.Option
	agentOpts []shimz.Option
}

// WithEnv sets SHIMZ_* configuration.
func WithEnv(env map[string]string) StackOption {
	return func(c *stackConfig) { c.env = env }
}

// WithDBOptions configures the store.
func WithDBOptions(opts ...memdb.Option) StackOption {
	return func(c *stackConfig) { c.dbOpts = append(c.dbOpts, opts...) }
}

// WithLoopOptions configures the loop.
func WithLoopOptions(opts ...loop.Option) StackOption {
	return func(c *stackConfig) { c.loopOpts = append(c.loopOpts, opts...) }
}

// WithTracerOptions configures the agent's tracer.
func WithTracerOptions(opts ...shimz.Option) StackOption {
	return func(c *stackConfig) { c.agentOpts = append(c.agentOpts, opts...) }
}

// NewStack builds a stack and closes it when the test ends. The fallback
// collector runs in sync mode.
func NewStack(t *testing.T, opts ...StackOption) *Stack {
	t.Helper()
	var sc stackConfig
	for _, opt := range opts {
		opt(&sc)
	}

	cfg, err := shimz.LoadConfigFrom(context.Background(), sc.env)
	require.NoError(t, err)
	logger := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	agent, err := shimz.NewAgent(cfg, logger, sc.agentOpts...)
	require.NoError(t, err)
	agent.Errors.SetSyncMode(true)

	l := loop.New(append([]loop.Option{loop.WithLogger(logger)}, sc.loopOpts...)...)
	t.Cleanup(func() {
		l.Close()
		agent.Close()
	})

	s := &Stack{
		Agent: agent,
		Loop:  l,
		DB:    memdb.New(l, sc.dbOpts...),
		App:   mwapp.New(),
		Stats: metrics.NewAggregator(),
		Ended: &TransactionLog{},
		t:     t,
	}
	s.mongo = mongodb.Register(agent, mongodb.WithAggregator(s.Stats))
	require.True(t, connect.Register(agent).Instrument(s.App))
	agent.Tracer.OnTransactionEnd(s.Ended.Add)
	return s
}

// Collection returns an instrumented collection.
func (s *Stack) Collection(name string) *memdb.Collection {
	c := s.DB.Collection(name)
	s.mongo.Instrument(c)
	return c
}

// Run posts fn to the loop, inside tx when tx is non-nil, and waits for the
// loop to go idle.
func (s *Stack) Run(tx *shimz.Transaction, fn func()) {
	s.t.Helper()
	s.Post(tx, fn)
	s.Loop.Drain()
}

// Post queues fn on the loop, inside tx when tx is non-nil.
func (s *Stack) Post(tx *shimz.Transaction, fn func()) {
	s.t.Helper()
	require.NoError(s.t, s.Loop.Post(func() {
		if tx == nil {
			fn()
			return
		}
		s.Agent.Tracer.Within(tx, fn)
	}))
}

// Call invokes a collection method and fails the test if it is not defined.
func (s *Stack) Call(c *memdb.Collection, method string, args ...any) any {
	out, err := c.Call(c, method, args...)
	if err != nil {
		s.t.Errorf("calling %s: %v", method, err)
	}
	return out
}

// Active returns the tracer's ambient transaction.
func (s *Stack) Active() *shimz.Transaction {
	return s.Agent.Tracer.ActiveTransaction()
}

// Statement returns the segment name of op on the collection.
func Statement(collection string, op shimz.Operation) string {
	return metrics.Statement{Product: mongodb.Product, Resource: collection, Operation: string(op)}.Name()
}

// TransactionLog records ended transactions in end order.
type TransactionLog struct {
	txs []*shimz.Transaction
	mu  sync.Mutex
}

// Add records tx. It is registered as a synchronous end handler.
func (l *TransactionLog) Add(tx *shimz.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, tx)
}

// All returns the recorded transactions.
func (l *TransactionLog) All() []*shimz.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*shimz.Transaction(nil), l.txs...)
}

// SegmentNames returns the names of tx's root children in creation order.
func SegmentNames(tx *shimz.Transaction) []string {
	var names []string
	for _, seg := range tx.Root().Children() {
		names = append(names, seg.Name())
	}
	return names
}
