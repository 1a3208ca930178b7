// Package shimz observes calls into asynchronous, callback-driven APIs and
// keeps track of which unit of work each call belongs to.
//
// Callback-style libraries drop the call stack between issuing an operation
// and delivering its result. shimz carries the active Transaction across that
// gap, opens a Segment for each intercepted call, closes it when completion is
// observed, and routes failures to the transaction or to a fallback reporter.
//
// Core Components:
//   - Tracer: ambient transaction lookup plus the CallbackProxy and
//     SegmentProxy propagation primitives.
//   - Transaction: one unit of work. Owns the segment tree and captured errors.
//   - Segment: a timed node in the call tree with a bound Recorder.
//   - Adapters: per call-shape interception (plain, middleware, streaming).
//   - CompletionDetector: decides when a cursor stream has ended.
//   - Router: sends errors to the active transaction or the fallback Reporter.
//   - Installer and Table: explicit, once-only method decoration.
//
// Basic Usage:
//
//	agent, _ := shimz.NewAgent(cfg, logger)
//	defer agent.Close()
//
//	tx := agent.Tracer.StartTransaction("GET /users")
//	agent.Tracer.Within(tx, func() {
//		// Intercepted calls issued here attach segments to tx, and their
//		// callbacks run with tx restored as the active transaction.
//		users.Call(users, "find", query, callback)
//	})
//
// Thread Safety:
//
// The ambient transaction is process-wide state per Tracer. It is mutated only
// through paired enter/exit scopes and is designed for a single logical thread
// of control such as loop.Loop. Transactions and Segments are safe for
// concurrent use.
package shimz

// Key is a segment or transaction name.
type Key = string

// Operation is the logical category an intercepted method maps to.
type Operation string

// Operation categories used by the declarative per-library mappings.
const (
	OpSelect Operation = "select"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Callback is the completion shape shimz appends when an intercepted call
// was not given a trailing function.
type Callback = func(err error, result any)
