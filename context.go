package shimz

import "context"

type txKeyType string

const txKey txKeyType = "shimz.transaction"

// WithTransaction returns a context carrying tx, for code that threads a
// context explicitly instead of relying on the ambient slot.
func WithTransaction(ctx context.Context, tx *Transaction) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// TransactionFromContext returns the transaction stored in ctx, or nil.
func TransactionFromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(txKey).(*Transaction) //nolint:errcheck // Type assertion, not error
	return tx
}

// ContextWithActive stores the ambient transaction in ctx.
func (t *Tracer) ContextWithActive(ctx context.Context) context.Context {
	return WithTransaction(ctx, t.ActiveTransaction())
}

// WithinContext runs fn with the transaction carried by ctx as ambient.
// Without one, fn runs in a passthrough scope.
func (t *Tracer) WithinContext(ctx context.Context, fn func()) {
	exit := t.scope(TransactionFromContext(ctx))
	defer exit()
	fn()
}
