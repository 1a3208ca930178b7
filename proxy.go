package shimz

import "reflect"

// CallbackProxy captures the ambient transaction and returns a function of the
// same type as fn. Each call of the result runs fn with the captured
// transaction ambient, then restores the previous value, including when fn
// panics. With no transaction captured the result only saves and restores.
// Non-function values are returned unchanged.
func (t *Tracer) CallbackProxy(fn any) any {
	return t.bind(t.ActiveTransaction(), fn)
}

// Proxy is CallbackProxy for a statically known function type.
func Proxy[F any](t *Tracer, fn F) F {
	if t == nil {
		return fn
	}
	wrapped, ok := t.CallbackProxy(fn).(F)
	if !ok {
		return fn
	}
	return wrapped
}

func (t *Tracer) bind(tx *Transaction, fn any) any {
	switch f := fn.(type) {
	case nil:
		return fn
	case func():
		if f == nil {
			return fn
		}
		return func() {
			defer t.scope(tx)()
			f()
		}
	case func(error):
		if f == nil {
			return fn
		}
		return func(err error) {
			defer t.scope(tx)()
			f(err)
		}
	case Callback:
		if f == nil {
			return fn
		}
		return func(err error, result any) {
			defer t.scope(tx)()
			f(err, result)
		}
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	typ := v.Type()
	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		defer t.scope(tx)()
		return invoke(v, typ, args)
	}).Interface()
}

// SegmentProxy wraps a synchronous entry point. At call time it enters the
// transaction that is ambient then and restores that transaction's current
// segment afterwards, so segments opened inside fn never become the parent
// of later sibling calls.
func (t *Tracer) SegmentProxy(fn any) any {
	if m, ok := fn.(Method); ok {
		if m == nil {
			return fn
		}
		return Method(func(recv any, args ...any) any {
			defer t.enterCurrent()()
			return m(recv, args...)
		})
	}

	v := reflect.ValueOf(fn)
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	typ := v.Type()
	return reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		defer t.enterCurrent()()
		return invoke(v, typ, args)
	}).Interface()
}

func (t *Tracer) enterCurrent() func() {
	tx := t.ActiveTransaction()
	exit := t.scope(tx)
	if tx == nil {
		return exit
	}
	entry := tx.CurrentSegment()
	return func() {
		tx.SetCurrentSegment(entry)
		exit()
	}
}

func invoke(fn reflect.Value, typ reflect.Type, args []reflect.Value) []reflect.Value {
	if typ.IsVariadic() {
		return fn.CallSlice(args)
	}
	return fn.Call(args)
}
