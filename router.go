package shimz

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Reporter receives errors that happened outside any active transaction.
type Reporter interface {
	Report(err error)
}

// ReporterFunc adapts a function to a Reporter.
type ReporterFunc func(err error)

// Report calls f(err).
func (f ReporterFunc) Report(err error) {
	f(err)
}

// MultiReporter fans an error out to every reporter in order.
type MultiReporter []Reporter

// Report forwards err to each non-nil reporter.
func (m MultiReporter) Report(err error) {
	for _, r := range m {
		if r != nil {
			r.Report(err)
		}
	}
}

// Router sends captured errors to the active transaction, or to the fallback
// Reporter when there is none. It never suppresses the error for the caller.
type Router struct {
	tracer   *Tracer
	fallback Reporter
	logger   *zap.Logger
	captured atomic.Uint64
	reported atomic.Uint64
}

// NewRouter creates a router. A nil fallback discards errors raised outside
// a transaction.
func NewRouter(tracer *Tracer, fallback Reporter) *Router {
	return &Router{
		tracer:   tracer,
		fallback: fallback,
		logger:   tracer.logger.Named("router"),
	}
}

// Capture routes err to the active transaction. Nil errors are ignored.
func (r *Router) Capture(err error) {
	if err == nil {
		return
	}
	r.CaptureFor(r.tracer.ActiveTransaction(), err)
}

// CaptureFor routes err to tx. A nil or ended tx sends it to the fallback.
func (r *Router) CaptureFor(tx *Transaction, err error) {
	if err == nil {
		return
	}
	if tx != nil && tx.AddError(err) {
		r.captured.Add(1)
		return
	}
	r.report(err)
}

func (r *Router) report(err error) {
	r.reported.Add(1)
	if r.fallback == nil {
		r.logger.Debug("error outside transaction dropped", zap.Error(err))
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("fallback reporter panicked", zap.Error(err), zap.Any("panic", p))
		}
	}()
	r.fallback.Report(err)
}

// Captured returns how many errors were attached to transactions.
func (r *Router) Captured() uint64 {
	return r.captured.Load()
}

// Reported returns how many errors went to the fallback path.
func (r *Router) Reported() uint64 {
	return r.reported.Load()
}
