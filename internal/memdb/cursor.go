package memdb

import (
	"sync"

	"github.com/zoobzio/shimz"
)

const defaultBatchSize = 2

// Cursor streams find results in batches. Total counts documents fetched
// from the collection so far; Buffered counts fetched documents not yet
// handed out. Fetching goes through the embedded MethodSet's nextObject, so
// NextObject and ToArray both see a wrapped fetch.
//
//nolint:govet // Field order optimized for readability
type Cursor struct {
	shimz.MethodSet
	coll      *Collection
	selector  Doc
	results   []Doc
	buffer    []Doc
	limit     int
	batchSize int
	fetched   int
	loaded    bool
	mu        sync.Mutex
}

func newCursor(c *Collection, selector Doc, opts FindOptions) *Cursor {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	cur := &Cursor{
		coll:      c,
		selector:  selector,
		limit:     opts.Limit,
		batchSize: batch,
	}
	cur.Define(shimz.NextObjectMethod, cur.nextObject)
	return cur
}

// NextObject delivers the next document, or a nil document once the cursor
// is exhausted.
func (cur *Cursor) NextObject(cb shimz.Callback) {
	_, _ = cur.Call(cur, shimz.NextObjectMethod, cb) //nolint:errcheck // defined in newCursor
}

func (cur *Cursor) nextObject(_ any, args ...any) any {
	_, cb := split(args)
	cur.coll.complete(cb, func() (any, error) {
		cur.mu.Lock()
		defer cur.mu.Unlock()

		if !cur.loaded {
			cur.results = cur.coll.match(cur.selector)
			cur.loaded = true
		}
		if len(cur.buffer) == 0 {
			cur.fill()
		}
		if len(cur.buffer) == 0 {
			return nil, nil
		}
		doc := cur.buffer[0]
		cur.buffer = cur.buffer[1:]
		return doc, nil
	})
	return nil
}

// fill moves the next batch from the results into the buffer.
func (cur *Cursor) fill() {
	end := len(cur.results)
	if cur.limit > 0 && cur.limit < end {
		end = cur.limit
	}
	next := cur.fetched + cur.batchSize
	if next > end {
		next = end
	}
	cur.buffer = append(cur.buffer, cur.results[cur.fetched:next]...)
	cur.fetched = next
}

// ToArray drains the cursor and delivers every remaining document.
func (cur *Cursor) ToArray(cb func(err error, docs []Doc)) {
	var docs []Doc
	var next shimz.Callback
	next = func(err error, item any) {
		if err != nil {
			cb(err, docs)
			return
		}
		doc, ok := item.(Doc)
		if !ok {
			cb(nil, docs)
			return
		}
		docs = append(docs, doc)
		cur.NextObject(next)
	}
	cur.NextObject(next)
}

// Limit returns the find limit; zero or less means unbounded.
func (cur *Cursor) Limit() int {
	return cur.limit
}

// Total returns the number of documents fetched from the collection.
func (cur *Cursor) Total() int {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	return cur.fetched
}

// Buffered returns the number of fetched documents not yet delivered.
func (cur *Cursor) Buffered() int {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	return len(cur.buffer)
}

// Exhausted reports whether every matching document has been delivered.
func (cur *Cursor) Exhausted() bool {
	cur.mu.Lock()
	defer cur.mu.Unlock()
	if !cur.loaded {
		return false
	}
	end := len(cur.results)
	if cur.limit > 0 && cur.limit < end {
		end = cur.limit
	}
	return cur.fetched >= end && len(cur.buffer) == 0
}
