package shimz

import "reflect"

// Call describes one intercepted invocation.
type Call struct {
	Receiver      any
	Operation     Operation
	Args          []any
	CallbackIndex int
}

// NewCall builds a descriptor over a private copy of args. CallbackIndex is
// the position of a trailing function argument, or -1.
func NewCall(op Operation, recv any, args []any) *Call {
	c := &Call{
		Receiver:      recv,
		Operation:     op,
		Args:          append([]any(nil), args...),
		CallbackIndex: -1,
	}
	if n := len(c.Args); n > 0 && isFunc(c.Args[n-1]) {
		c.CallbackIndex = n - 1
	}
	return c
}

// Terms returns the first argument unless it is a function.
func (c *Call) Terms() any {
	if len(c.Args) == 0 || isFunc(c.Args[0]) {
		return nil
	}
	return c.Args[0]
}

// Callback returns the trailing function argument, or nil.
func (c *Call) Callback() any {
	if c.CallbackIndex < 0 {
		return nil
	}
	return c.Args[c.CallbackIndex]
}

// Namer names the segment for a call and supplies the recorder bound to it.
type Namer func(c *Call) (Key, Recorder)

// StaticNamer always returns name with no recorder.
func StaticNamer(name Key) Namer {
	return func(*Call) (Key, Recorder) {
		return name, nil
	}
}

func isFunc(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Func && !rv.IsNil()
}

// termParams flattens a string-keyed map into segment parameters.
func termParams(terms any) map[string]any {
	if m, ok := terms.(map[string]any); ok {
		return m
	}
	rv := reflect.ValueOf(terms)
	if !rv.IsValid() || rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out
}

// leadingError returns the first callback argument when it is a non-nil error.
func leadingError(args []reflect.Value) error {
	if len(args) == 0 || !args[0].IsValid() || !args[0].CanInterface() {
		return nil
	}
	err, ok := args[0].Interface().(error)
	if !ok || isNil(err) {
		return nil
	}
	return err
}
