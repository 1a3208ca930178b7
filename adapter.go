package shimz

import (
	"reflect"

	"go.uber.org/zap"
)

// Adapters builds Wrappers for each supported call shape.
type Adapters struct {
	tracer              *Tracer
	router              *Router
	installer           *Installer
	logger              *zap.Logger
	captureParameters   bool
	unboundedLimitAsOne bool
}

// AdapterOption configures Adapters.
type AdapterOption func(*Adapters)

// WithCaptureParameters attaches map query terms to segments as parameters.
func WithCaptureParameters(enabled bool) AdapterOption {
	return func(a *Adapters) {
		a.captureParameters = enabled
	}
}

// WithUnboundedLimitAsOne controls how cursors with a limit of zero or less
// complete. Enabled by default.
func WithUnboundedLimitAsOne(enabled bool) AdapterOption {
	return func(a *Adapters) {
		a.unboundedLimitAsOne = enabled
	}
}

// WithInstaller sets the installer used to instrument cursors in place.
func WithInstaller(in *Installer) AdapterOption {
	return func(a *Adapters) {
		if in != nil {
			a.installer = in
		}
	}
}

// NewAdapters creates adapters that open segments on tracer and send errors
// through router.
func NewAdapters(tracer *Tracer, router *Router, opts ...AdapterOption) *Adapters {
	a := &Adapters{
		tracer:              tracer,
		router:              router,
		logger:              tracer.logger.Named("adapter"),
		unboundedLimitAsOne: true,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.installer == nil {
		a.installer = NewInstaller(tracer.logger)
	}
	return a
}

// Plain wraps a call whose last argument, if a function, is its completion
// callback. The segment ends when the callback fires. Without a transaction
// or without arguments the original runs untouched.
func (a *Adapters) Plain(op Operation, namer Namer) Wrapper {
	return func(original Method) Method {
		return func(recv any, args ...any) any {
			tx := a.tracer.ActiveTransaction()
			if tx == nil || len(args) == 0 {
				a.skip("not tracing call", op)
				return original(recv, args...)
			}

			call := NewCall(op, recv, args)
			seg := a.open(tx, call, namer)

			if call.CallbackIndex >= 0 {
				call.Args[call.CallbackIndex] = a.completion(seg, call.Callback())
			} else {
				call.Args = append(call.Args, a.completion(seg, nil))
			}
			return original(recv, call.Args...)
		}
	}
}

func (a *Adapters) open(tx *Transaction, call *Call, namer Namer) *Segment {
	name, recorder := namer(call)
	seg := tx.CurrentSegment().AddChild(name, recorder)
	if a.captureParameters {
		if params := termParams(call.Terms()); params != nil {
			seg.SetParameters(params)
		}
	}
	a.logger.Debug("tracing call",
		zap.String("segment", name),
		zap.String("operation", string(call.Operation)),
		zap.String("transaction", tx.ID()))
	return seg
}

// completion returns a proxied function of cb's type that ends seg, captures
// a leading error and then calls cb. A nil cb yields a Callback that only
// ends and captures.
func (a *Adapters) completion(seg *Segment, cb any) any {
	finish := func(err error) {
		seg.End()
		a.router.Capture(err)
	}

	switch f := cb.(type) {
	case nil:
		return a.tracer.CallbackProxy(Callback(func(err error, _ any) {
			finish(err)
		}))
	case Callback:
		return a.tracer.CallbackProxy(Callback(func(err error, result any) {
			finish(err)
			f(err, result)
		}))
	case func(error):
		return a.tracer.CallbackProxy(func(err error) {
			finish(err)
			f(err)
		})
	}

	v := reflect.ValueOf(cb)
	typ := v.Type()
	return a.tracer.CallbackProxy(reflect.MakeFunc(typ, func(in []reflect.Value) []reflect.Value {
		finish(leadingError(in))
		return invoke(v, typ, in)
	}).Interface())
}

// Scoped runs w's method inside a SegmentProxy, so segments it opens never
// become the parent of sibling calls issued later from the same scope.
func (a *Adapters) Scoped(w Wrapper) Wrapper {
	return func(original Method) Method {
		inner := w(original)
		scoped, ok := a.tracer.SegmentProxy(inner).(Method)
		if !ok {
			return inner
		}
		return func(recv any, args ...any) any {
			if a.tracer.ActiveTransaction() == nil {
				return inner(recv, args...)
			}
			return scoped(recv, args...)
		}
	}
}
