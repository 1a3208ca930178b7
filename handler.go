package shimz

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// Next continues a middleware chain. A non-nil error skips to error handlers.
type Next func(err error)

// NormalHandler handles a request.
type NormalHandler func(req, res any, next Next)

// ErrorHandler handles a request after an earlier handler failed.
type ErrorHandler func(err error, req, res any, next Next)

// HandlerOf tags an untagged middleware function by its parameter count:
// four parameters make an ErrorHandler, three a NormalHandler. Anything else
// is returned unchanged.
func HandlerOf(fn any) any {
	switch h := fn.(type) {
	case nil:
		return nil
	case NormalHandler, ErrorHandler:
		return fn
	case func(req, res any, next Next):
		return NormalHandler(h)
	case func(err error, req, res any, next Next):
		return ErrorHandler(h)
	}

	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() || v.Type().IsVariadic() {
		return fn
	}
	typ := v.Type()
	switch typ.NumIn() {
	case 3:
		return NormalHandler(func(req, res any, next Next) {
			v.Call([]reflect.Value{
				argValue(typ.In(0), req),
				argValue(typ.In(1), res),
				argValue(typ.In(2), next),
			})
		})
	case 4:
		return ErrorHandler(func(err error, req, res any, next Next) {
			v.Call([]reflect.Value{
				argValue(typ.In(0), err),
				argValue(typ.In(1), req),
				argValue(typ.In(2), res),
				argValue(typ.In(3), next),
			})
		})
	default:
		return fn
	}
}

func argValue(t reflect.Type, x any) reflect.Value {
	if x == nil {
		return reflect.Zero(t)
	}
	rv := reflect.ValueOf(x)
	switch {
	case rv.Type().AssignableTo(t):
		return rv
	case rv.Type().ConvertibleTo(t):
		return rv.Convert(t)
	default:
		return reflect.Zero(t)
	}
}

// Middleware wraps a handler registration call whose last argument is a
// middleware handler. Normal handlers resume the registering transaction and
// their next continuation resumes the request's transaction. Error handlers
// capture the error they receive before running.
func (a *Adapters) Middleware() Wrapper {
	return func(original Method) Method {
		return func(recv any, args ...any) any {
			if len(args) == 0 {
				return original(recv, args...)
			}
			args = append([]any(nil), args...)
			last := len(args) - 1

			switch h := HandlerOf(args[last]).(type) {
			case NormalHandler:
				args[last] = a.wrapNormal(h)
			case ErrorHandler:
				args[last] = a.wrapError(h)
			default:
				if ce := a.logger.Check(zap.DebugLevel, "unknown handler shape, not wrapping"); ce != nil {
					ce.Write(zap.String("type", fmt.Sprintf("%T", args[last])))
				}
			}
			return original(recv, args...)
		}
	}
}

func (a *Adapters) wrapNormal(h NormalHandler) NormalHandler {
	return Proxy(a.tracer, NormalHandler(func(req, res any, next Next) {
		h(req, res, Proxy(a.tracer, Next(func(err error) {
			next(err)
		})))
	}))
}

func (a *Adapters) wrapError(h ErrorHandler) ErrorHandler {
	return func(err error, req, res any, next Next) {
		if err != nil {
			a.router.Capture(err)
		}
		h(err, req, res, next)
	}
}
