package mwapp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoobzio/shimz"
)

type request struct{ path string }

type response struct{ lines []string }

func (r *response) write(s string) { r.lines = append(r.lines, s) }

func TestHandlersRunInOrder(t *testing.T) {
	app := New()
	app.Use(func(req, res any, next shimz.Next) {
		res.(*response).write("first")
		next(nil)
	}).Use(func(req *request, res *response, next shimz.Next) {
		res.write("second " + req.path)
		next(nil)
	})
	require.Equal(t, 2, app.Len())

	res := &response{}
	var final error
	called := false
	app.Handle(&request{path: "/users"}, res, func(err error) {
		called = true
		final = err
	})

	assert.True(t, called)
	assert.NoError(t, final)
	assert.Equal(t, []string{"first", "second /users"}, res.lines)
}

func TestErrorSkipsToErrorHandlers(t *testing.T) {
	boom := errors.New("boom")
	app := New()
	app.Use(shimz.NormalHandler(func(req, res any, next shimz.Next) {
		next(boom)
	}))
	app.Use(shimz.NormalHandler(func(req, res any, next shimz.Next) {
		t.Fatal("normal handler must be skipped after an error")
	}))
	var seen error
	app.Use(func(err error, req, res any, next shimz.Next) {
		seen = err
		next(nil)
	})
	app.Use(shimz.NormalHandler(func(req, res any, next shimz.Next) {
		res.(*response).write("recovered")
		next(nil)
	}))

	res := &response{}
	var final error
	app.Handle(&request{}, res, func(err error) { final = err })

	assert.ErrorIs(t, seen, boom)
	assert.NoError(t, final)
	assert.Equal(t, []string{"recovered"}, res.lines)
}

func TestErrorHandlersSkippedWithoutError(t *testing.T) {
	app := New()
	app.Use(shimz.ErrorHandler(func(err error, req, res any, next shimz.Next) {
		t.Fatal("error handler must not run without an error")
	}))

	done := false
	app.Handle(nil, nil, func(err error) {
		done = true
		assert.NoError(t, err)
	})
	assert.True(t, done)
}

func TestUnhandledErrorReachesDone(t *testing.T) {
	boom := errors.New("boom")
	app := New().Use(func(req, res any, next shimz.Next) { next(boom) })

	var final error
	app.Handle(nil, nil, func(err error) { final = err })
	assert.ErrorIs(t, final, boom)
}

func TestPanicBecomesError(t *testing.T) {
	app := New()
	app.Use(func(req, res any, next shimz.Next) { panic("kaboom") })

	var final error
	app.Handle(nil, nil, func(err error) { final = err })

	require.Error(t, final)
	assert.Contains(t, final.Error(), "kaboom")
}

func TestNextIsOnceOnly(t *testing.T) {
	app := New()
	app.Use(func(req, res any, next shimz.Next) {
		next(nil)
		next(nil)
	})

	calls := 0
	app.Handle(nil, nil, func(error) { calls++ })
	assert.Equal(t, 1, calls)
}

func TestUnknownShapesAreIgnored(t *testing.T) {
	app := New()
	app.Use("not a handler")
	app.Use(func() {})
	assert.Equal(t, 2, app.Len())

	done := false
	app.Handle(nil, nil, func(error) { done = true })
	assert.True(t, done)
}
