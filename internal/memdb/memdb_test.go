package memdb

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/zoobzio/shimz"
	"github.com/zoobzio/shimz/loop"
)

type result struct {
	err   error
	value any
}

func newTestDB(t *testing.T, opts ...Option) (*DB, *loop.Loop) {
	t.Helper()
	l := loop.New()
	t.Cleanup(l.Close)
	return New(l, opts...), l
}

// run issues a method on the loop and waits for its completion.
func run(t *testing.T, l *loop.Loop, c *Collection, method string, args ...any) result {
	t.Helper()
	var out result
	cb := shimz.Callback(func(err error, value any) { out = result{err, value} })
	require.NoError(t, l.Post(func() {
		_, err := c.Call(c, method, append(args, cb)...)
		assert.NoError(t, err)
	}))
	l.Drain()
	return out
}

func TestCollectionCRUD(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")
	assert.Same(t, users, db.Collection("users"))
	assert.Equal(t, "users", users.CollectionName())

	r := run(t, l, users, "insert", []Doc{{"name": "ada", "age": 36}, {"name": "alan", "age": 41}})
	require.NoError(t, r.err)
	assert.Equal(t, 2, users.Len())

	r = run(t, l, users, "count", Doc{"age": 36})
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.value)

	r = run(t, l, users, "update", Doc{"name": "ada"}, Doc{"age": 37})
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.value)

	r = run(t, l, users, "findAndModify", Doc{"name": "alan"}, Doc{"role": "admin"})
	require.NoError(t, r.err)
	assert.Equal(t, Doc{"name": "alan", "age": 41, "role": "admin"}, r.value)

	r = run(t, l, users, "findAndModify", Doc{"name": "grace"}, Doc{"role": "admin"})
	assert.ErrorIs(t, r.err, ErrNotFound)

	r = run(t, l, users, "ensureIndex", Doc{"name": 1})
	require.NoError(t, r.err)
	assert.Equal(t, "name_1", r.value)
	assert.Equal(t, []string{"name"}, users.Indexes())

	r = run(t, l, users, "remove", Doc{"name": "ada"})
	require.NoError(t, r.err)
	assert.Equal(t, 1, r.value)
	assert.Equal(t, 1, users.Len())
}

func TestCollectionBadArgs(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")

	assert.ErrorIs(t, run(t, l, users, "insert", "not a doc").err, ErrBadArgs)
	assert.ErrorIs(t, run(t, l, users, "update", Doc{}).err, ErrBadArgs)
	assert.ErrorIs(t, run(t, l, users, "count", 42).err, ErrBadArgs)
	assert.ErrorIs(t, run(t, l, users, "ensureIndex", Doc{}).err, ErrBadArgs)
}

func TestFailNext(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")
	boom := errors.New("connection reset")

	users.FailNext(boom)
	assert.ErrorIs(t, run(t, l, users, "insert", Doc{"name": "ada"}).err, boom)
	assert.NoError(t, run(t, l, users, "insert", Doc{"name": "ada"}).err)
	assert.Equal(t, 1, users.Len())
}

func TestCompletionIsAsynchronous(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")

	var order []string
	require.NoError(t, l.Post(func() {
		_, _ = users.Call(users, "insert", Doc{"name": "ada"}, shimz.Callback(func(error, any) {
			order = append(order, "callback")
		}))
		order = append(order, "returned")
	}))
	l.Drain()

	assert.Equal(t, []string{"returned", "callback"}, order)
}

func TestLatency(t *testing.T) {
	clock := clockz.NewFakeClock()
	l := loop.New(loop.WithClock(clock))
	defer l.Close()
	users := New(l, WithLatency(20*time.Millisecond)).Collection("users")

	issued := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, l.Post(func() {
		_, _ = users.Call(users, "count", Doc{}, shimz.Callback(func(error, any) { close(done) }))
		close(issued)
	}))
	<-issued

	select {
	case <-done:
		t.Fatal("completed before the latency elapsed")
	default:
	}

	clock.Advance(20 * time.Millisecond)
	l.Drain()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed completion did not run")
	}
}

func TestCursorBatches(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")
	run(t, l, users, "insert", []Doc{{"n": 1}, {"n": 2}, {"n": 3}, {"n": 4}, {"n": 5}})

	var cur *Cursor
	require.NoError(t, l.Post(func() {
		out, err := users.Call(users, "find", Doc{}, FindOptions{Limit: 3, BatchSize: 2})
		assert.NoError(t, err)
		cur, _ = out.(*Cursor)
	}))
	l.Drain()
	require.NotNil(t, cur)
	assert.Equal(t, 3, cur.Limit())
	assert.False(t, cur.Exhausted())

	type step struct{ total, buffered int }
	var steps []step
	var docs []any
	for i := 0; i < 4; i++ {
		require.NoError(t, l.Post(func() {
			cur.NextObject(func(_ error, item any) {
				docs = append(docs, item)
				steps = append(steps, step{cur.Total(), cur.Buffered()})
			})
		}))
		l.Drain()
	}

	assert.Equal(t, []any{Doc{"n": 1}, Doc{"n": 2}, Doc{"n": 3}, nil}, docs)
	assert.Equal(t, []step{{2, 1}, {2, 0}, {3, 0}, {3, 0}}, steps)
	assert.True(t, cur.Exhausted())
}

func TestFindWithCallbackAndToArray(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")
	run(t, l, users, "insert", []Doc{{"team": "a"}, {"team": "b"}, {"team": "a"}})

	r := run(t, l, users, "find", Doc{"team": "a"})
	require.NoError(t, r.err)
	cur, ok := r.value.(*Cursor)
	require.True(t, ok)

	var docs []Doc
	require.NoError(t, l.Post(func() {
		cur.ToArray(func(err error, all []Doc) {
			assert.NoError(t, err)
			docs = all
		})
	}))
	l.Drain()

	assert.Len(t, docs, 2)
}

func TestToArrayFetchesThroughMethodTable(t *testing.T) {
	db, l := newTestDB(t)
	users := db.Collection("users")
	run(t, l, users, "insert", []Doc{{"n": 1}, {"n": 2}, {"n": 3}})

	r := run(t, l, users, "find", Doc{})
	cur, ok := r.value.(*Cursor)
	require.True(t, ok)

	original, ok := cur.Method(shimz.NextObjectMethod)
	require.True(t, ok)
	fetches := 0
	cur.SetMethod(shimz.NextObjectMethod, func(recv any, args ...any) any {
		fetches++
		return original(recv, args...)
	})

	var docs []Doc
	require.NoError(t, l.Post(func() {
		cur.ToArray(func(err error, all []Doc) {
			assert.NoError(t, err)
			docs = all
		})
	}))
	l.Drain()

	assert.Len(t, docs, 3)
	assert.Equal(t, 4, fetches, "three documents and the end of stream")
}
