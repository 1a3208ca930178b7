// Package memdb is an in-memory document store with a callback API. Every
// completion is delivered on a loop.Loop, never on the caller's stack.
package memdb

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/shimz"
	"github.com/zoobzio/shimz/loop"
)

var (
	// ErrBadArgs is delivered when a method receives arguments of the wrong shape.
	ErrBadArgs = errors.New("bad arguments")
	// ErrNotFound is delivered by findAndModify when nothing matches.
	ErrNotFound = errors.New("document not found")
)

// Doc is a stored document.
type Doc map[string]any

// FindOptions bound a find.
type FindOptions struct {
	Limit     int
	BatchSize int
}

// DB holds named collections.
type DB struct {
	loop        *loop.Loop
	collections map[string]*Collection
	latency     time.Duration
	mu          sync.Mutex
}

// Option configures a DB.
type Option func(*DB)

// WithLatency delays every completion by d on the loop clock.
func WithLatency(d time.Duration) Option {
	return func(db *DB) {
		db.latency = d
	}
}

// New creates a store that completes on l.
func New(l *loop.Loop, opts ...Option) *DB {
	db := &DB{
		loop:        l,
		collections: make(map[string]*Collection),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Collection returns the named collection, creating it on first use.
func (db *DB) Collection(name string) *Collection {
	db.mu.Lock()
	defer db.mu.Unlock()

	if c, ok := db.collections[name]; ok {
		return c
	}
	c := newCollection(db, name)
	db.collections[name] = c
	return c
}

func (db *DB) deliver(fn func()) {
	if db.latency > 0 {
		_ = db.loop.After(db.latency, fn) //nolint:errcheck // closed loop drops completions
		return
	}
	_ = db.loop.Post(fn) //nolint:errcheck // closed loop drops completions
}

// Collection is a set of documents. Its operations are exposed through the
// embedded MethodSet so they can be wrapped.
//
//nolint:govet // Field order optimized for readability
type Collection struct {
	shimz.MethodSet
	db      *DB
	name    string
	docs    []Doc
	indexes []string
	failure error
	mu      sync.Mutex
}

func newCollection(db *DB, name string) *Collection {
	c := &Collection{db: db, name: name}
	c.Define("insert", c.insert)
	c.Define("update", c.update)
	c.Define("remove", c.remove)
	c.Define("count", c.count)
	c.Define("ensureIndex", c.ensureIndex)
	c.Define("findAndModify", c.findAndModify)
	c.Define("find", c.find)
	return c
}

// CollectionName returns the collection name.
func (c *Collection) CollectionName() string {
	return c.name
}

// FailNext makes the next operation complete with err instead of running.
func (c *Collection) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Len returns the number of stored documents.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.docs)
}

// Indexes returns the indexed fields, sorted.
func (c *Collection) Indexes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.indexes...)
	sort.Strings(out)
	return out
}

func (c *Collection) takeFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.failure
	c.failure = nil
	return err
}

// split separates the trailing callback from the operation arguments.
func split(args []any) ([]any, shimz.Callback) {
	if n := len(args); n > 0 {
		if cb, ok := args[n-1].(shimz.Callback); ok {
			return args[:n-1], cb
		}
	}
	return args, nil
}

// complete runs op and delivers its outcome to cb on the loop.
func (c *Collection) complete(cb shimz.Callback, op func() (any, error)) {
	if err := c.takeFailure(); err != nil {
		op = func() (any, error) { return nil, err }
	}
	c.db.deliver(func() {
		result, err := op()
		if cb != nil {
			cb(err, result)
		}
	})
}

func (c *Collection) insert(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("insert: %w", ErrBadArgs)
		}
		var docs []Doc
		switch v := args[0].(type) {
		case Doc:
			docs = []Doc{v}
		case []Doc:
			docs = v
		default:
			return nil, fmt.Errorf("insert %T: %w", args[0], ErrBadArgs)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, d := range docs {
			c.docs = append(c.docs, clone(d))
		}
		return docs, nil
	})
	return nil
}

func (c *Collection) update(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		selector, changes, err := selectorAndDoc("update", args)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		n := 0
		for _, d := range c.docs {
			if matches(d, selector) {
				apply(d, changes)
				n++
			}
		}
		return n, nil
	})
	return nil
}

func (c *Collection) remove(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		selector, err := selectorOf("remove", args)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		kept := c.docs[:0]
		removed := 0
		for _, d := range c.docs {
			if matches(d, selector) {
				removed++
				continue
			}
			kept = append(kept, d)
		}
		c.docs = kept
		return removed, nil
	})
	return nil
}

func (c *Collection) count(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		selector, err := selectorOf("count", args)
		if err != nil {
			return nil, err
		}
		return len(c.match(selector)), nil
	})
	return nil
}

func (c *Collection) ensureIndex(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		fields, err := selectorOf("ensureIndex", args)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return nil, fmt.Errorf("ensureIndex: empty index: %w", ErrBadArgs)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		var name string
		for field := range fields {
			if !contains(c.indexes, field) {
				c.indexes = append(c.indexes, field)
			}
			name = field
		}
		return name + "_1", nil
	})
	return nil
}

func (c *Collection) findAndModify(_ any, args ...any) any {
	args, cb := split(args)
	c.complete(cb, func() (any, error) {
		selector, changes, err := selectorAndDoc("findAndModify", args)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		for _, d := range c.docs {
			if matches(d, selector) {
				apply(d, changes)
				return clone(d), nil
			}
		}
		return nil, ErrNotFound
	})
	return nil
}

// find returns a *Cursor when called without a callback, otherwise delivers
// it through the callback.
func (c *Collection) find(_ any, args ...any) any {
	args, cb := split(args)

	var selector Doc
	var opts FindOptions
	for _, a := range args {
		switch v := a.(type) {
		case Doc:
			selector = v
		case FindOptions:
			opts = v
		}
	}

	cur := newCursor(c, selector, opts)
	if cb == nil {
		return cur
	}
	c.complete(cb, func() (any, error) {
		return cur, nil
	})
	return nil
}

func (c *Collection) match(selector Doc) []Doc {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Doc
	for _, d := range c.docs {
		if matches(d, selector) {
			out = append(out, clone(d))
		}
	}
	return out
}

func selectorOf(op string, args []any) (Doc, error) {
	if len(args) == 0 || args[0] == nil {
		return Doc{}, nil
	}
	selector, ok := args[0].(Doc)
	if !ok {
		return nil, fmt.Errorf("%s selector %T: %w", op, args[0], ErrBadArgs)
	}
	return selector, nil
}

func selectorAndDoc(op string, args []any) (Doc, Doc, error) {
	if len(args) < 2 {
		return nil, nil, fmt.Errorf("%s: %w", op, ErrBadArgs)
	}
	selector, err := selectorOf(op, args)
	if err != nil {
		return nil, nil, err
	}
	changes, ok := args[1].(Doc)
	if !ok {
		return nil, nil, fmt.Errorf("%s document %T: %w", op, args[1], ErrBadArgs)
	}
	return selector, changes, nil
}

func matches(d, selector Doc) bool {
	for k, want := range selector {
		got, ok := d[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func apply(d, changes Doc) {
	for k, v := range changes {
		d[k] = v
	}
}

func clone(d Doc) Doc {
	out := make(Doc, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
