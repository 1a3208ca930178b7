// Package mwapp is a minimal middleware application: handlers registered with
// use run in order, and a handler that passes an error to next skips ahead
// to the error handlers.
package mwapp

import (
	"fmt"
	"sync"

	"github.com/zoobzio/shimz"
)

// App is a middleware chain whose use method can be wrapped.
type App struct {
	shimz.MethodSet
	stack []any
	mu    sync.RWMutex
}

// New creates an empty app.
func New() *App {
	a := &App{}
	a.Define("use", func(recv any, args ...any) any {
		app, ok := recv.(*App)
		if !ok || len(args) == 0 {
			return recv
		}
		app.push(args[len(args)-1])
		return app
	})
	return a
}

// Use registers a handler through the use method and returns the app.
func (a *App) Use(handler any) *App {
	out, err := a.Call(a, "use", handler)
	if err != nil {
		return a
	}
	if app, ok := out.(*App); ok {
		return app
	}
	return a
}

func (a *App) push(handler any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stack = append(a.stack, shimz.HandlerOf(handler))
}

// Len returns the number of registered handlers.
func (a *App) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.stack)
}

// Handle runs the chain for one request. done receives the error that fell
// off the end of the chain, if any.
func (a *App) Handle(req, res any, done func(err error)) {
	a.mu.RLock()
	stack := append([]any(nil), a.stack...)
	a.mu.RUnlock()

	var dispatch func(i int, err error)
	dispatch = func(i int, err error) {
		for ; i < len(stack); i++ {
			switch h := stack[i].(type) {
			case shimz.NormalHandler:
				if err != nil {
					continue
				}
				run(i, dispatch, func(next shimz.Next) { h(req, res, next) })
				return
			case shimz.ErrorHandler:
				if err == nil {
					continue
				}
				run(i, dispatch, func(next shimz.Next) { h(err, req, res, next) })
				return
			}
		}
		if done != nil {
			done(err)
		}
	}
	dispatch(0, nil)
}

// run calls one handler. A panic is turned into an error passed down the chain.
func run(i int, dispatch func(int, error), call func(next shimz.Next)) {
	var once sync.Once
	next := shimz.Next(func(err error) {
		once.Do(func() { dispatch(i+1, err) })
	})
	defer func() {
		if r := recover(); r != nil {
			next(fmt.Errorf("handler panicked: %v", r))
		}
	}()
	call(next)
}
