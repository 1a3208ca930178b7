package shimz

import "sync"

// ambient is the active transaction slot for one Tracer.
type ambient struct {
	current *Transaction
	depth   int
	mu      sync.Mutex
}

func (a *ambient) load() *Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// swap installs tx and returns the value it replaced.
func (a *ambient) swap(tx *Transaction) *Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.current
	a.current = tx
	a.depth++
	return prev
}

// hold opens a scope without changing the active transaction.
func (a *ambient) hold() *Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.depth++
	return a.current
}

func (a *ambient) restore(prev *Transaction) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = prev
	a.depth--
}

func (a *ambient) scopes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.depth
}

// ActiveTransaction returns the ambient transaction, or nil outside any scope.
func (t *Tracer) ActiveTransaction() *Transaction {
	return t.active.load()
}

// Enter makes tx the ambient transaction. The returned exit restores whatever
// was ambient before; it is idempotent and should be deferred.
//
//	exit := tracer.Enter(tx)
//	defer exit()
func (t *Tracer) Enter(tx *Transaction) (exit func()) {
	return t.exitFunc(t.active.swap(tx))
}

// Within runs fn with tx as the ambient transaction, restoring the previous
// value on return or panic.
func (t *Tracer) Within(tx *Transaction, fn func()) {
	exit := t.Enter(tx)
	defer exit()
	fn()
}

// ScopeDepth reports how many enter/exit scopes are open. Zero when every
// scope has been exited.
func (t *Tracer) ScopeDepth() int {
	return t.active.scopes()
}

// scope enters tx, or only saves the ambient value when tx is nil.
func (t *Tracer) scope(tx *Transaction) func() {
	if tx == nil {
		return t.exitFunc(t.active.hold())
	}
	return t.Enter(tx)
}

func (t *Tracer) exitFunc(prev *Transaction) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			t.active.restore(prev)
		})
	}
}
