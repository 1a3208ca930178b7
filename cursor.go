package shimz

import (
	"reflect"

	"go.uber.org/zap"
)

// NextObjectMethod is the cursor method that fetches one item. It takes a
// single Callback receiving the item, or a nil item once the stream is done.
const NextObjectMethod = "nextObject"

// Cursor is a pull-based result stream whose completion must be inferred.
// Total is the number of items the source has delivered so far and Buffered
// the number still held client-side. The cursor's nextObject method is
// replaced in place, so callers keep the cursor the library gave them.
type Cursor interface {
	Target
	Limit() int
	Total() int
	Buffered() int
}

// Exhauster is implemented by cursors that can report the source is done.
type Exhauster interface {
	Exhausted() bool
}

// Streaming wraps a call that yields a Cursor, either as its return value or
// through its completion callback. The segment stays open until the cursor
// is drained.
func (a *Adapters) Streaming(op Operation, namer Namer) Wrapper {
	return func(original Method) Method {
		return func(recv any, args ...any) any {
			tx := a.tracer.ActiveTransaction()
			if tx == nil || len(args) == 0 {
				a.skip("not tracing stream", op)
				return original(recv, args...)
			}

			call := NewCall(op, recv, args)
			seg := a.open(tx, call, namer)

			if call.CallbackIndex < 0 {
				result := original(recv, call.Args...)
				if cur, ok := result.(Cursor); !ok || isNil(cur) || !a.traceCursor(cur, seg) {
					seg.End()
				}
				return result
			}

			call.Args[call.CallbackIndex] = a.streamCallback(seg, call.Callback())
			return original(recv, call.Args...)
		}
	}
}

// traceCursor installs the completion check on cur's nextObject. It reports
// false when the method could not be replaced.
func (a *Adapters) traceCursor(cur Cursor, seg *Segment) bool {
	return a.installer.Install(cur, "cursor", NextObjectMethod, a.nextObject(cur, seg))
}

// nextObject observes every fetched item. Fetch errors go to the segment's
// transaction. The first completing item ends the segment and puts the
// original fetch back on the cursor.
func (a *Adapters) nextObject(cur Cursor, seg *Segment) Wrapper {
	detector := NewCompletionDetector(a.unboundedLimitAsOne)
	tx := seg.Transaction()
	return func(original Method) Method {
		return func(recv any, args ...any) any {
			last := len(args) - 1
			if last < 0 {
				return original(recv, args...)
			}
			cb, ok := asCallback(args[last])
			if !ok {
				return original(recv, args...)
			}

			args = append([]any(nil), args...)
			args[last] = Proxy(a.tracer, Callback(func(err error, item any) {
				a.router.CaptureFor(tx, err)
				if detector.Observe(observe(cur, item)) {
					seg.End()
					a.installer.Restore(cur, NextObjectMethod)
				}
				cb(err, item)
			}))
			return original(recv, args...)
		}
	}
}

func asCallback(v any) (Callback, bool) {
	switch f := v.(type) {
	case Callback:
		return f, f != nil
	case func(error, any):
		return f, f != nil
	}
	return nil, false
}

func observe(cur Cursor, item any) Observation {
	o := Observation{
		Limit:     cur.Limit(),
		Total:     cur.Total(),
		Buffered:  cur.Buffered(),
		Exhausted: isNil(item),
	}
	if ex, ok := cur.(Exhauster); ok {
		o.SourceDone = ex.Exhausted()
	}
	return o
}

// streamCallback returns a proxied callback that traces the first Cursor it
// delivers after the error argument, then calls cb with the same arguments.
// With no traceable cursor the segment ends here. A leading error is
// captured either way.
func (a *Adapters) streamCallback(seg *Segment, cb any) any {
	if f, ok := cb.(Callback); ok {
		return a.tracer.CallbackProxy(Callback(func(err error, result any) {
			a.settle(seg, err, result)
			f(err, result)
		}))
	}

	v := reflect.ValueOf(cb)
	typ := v.Type()
	return a.tracer.CallbackProxy(reflect.MakeFunc(typ, func(in []reflect.Value) []reflect.Value {
		rest := make([]any, 0, len(in))
		for _, arg := range in[min(1, len(in)):] {
			if arg.IsValid() && arg.CanInterface() {
				rest = append(rest, arg.Interface())
			}
		}
		a.settle(seg, leadingError(in), rest...)
		return invoke(v, typ, in)
	}).Interface())
}

func (a *Adapters) settle(seg *Segment, err error, results ...any) {
	traced := false
	for _, r := range results {
		cur, ok := r.(Cursor)
		if !ok || isNil(cur) {
			continue
		}
		traced = a.traceCursor(cur, seg)
		break
	}
	if !traced {
		seg.End()
	}
	a.router.Capture(err)
}

func (a *Adapters) skip(msg string, op Operation) {
	if ce := a.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(zap.String("operation", string(op)))
	}
}
