package db

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

type txKey struct{}

type txState struct {
	tx    pgx.Tx
	mu    sync.Mutex
	hooks []func(context.Context)
}

// ContextWithTx stores an open transaction so nested repositories join it.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, &txState{tx: tx})
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok || state == nil || state.tx == nil {
		return nil, false
	}
	return state.tx, true
}

// AfterCommit defers fn until the transaction carried by ctx commits. Without a
// transaction fn runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	state, ok := ctx.Value(txKey{}).(*txState)
	if !ok || state == nil {
		fn(ctx)
		return
	}
	state.mu.Lock()
	state.hooks = append(state.hooks, fn)
	state.mu.Unlock()
}

// Runner opens repeatable-read transactions shared by every repository in the
// process. A call made while ctx already carries a transaction joins it instead
// of opening a new one, so a document posting spanning ledger, inventory and
// subledger commits or rolls back as a unit.
type Runner struct {
	pool       *pgxpool.Pool
	maxRetries int
}

// NewRunner constructs a Runner. maxRetries bounds re-execution after
// serialization failures or deadlocks.
func NewRunner(pool *pgxpool.Pool, maxRetries int) *Runner {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Runner{pool: pool, maxRetries: maxRetries}
}

// InTx runs fn inside a transaction.
func (r *Runner) InTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	if r == nil || r.pool == nil {
		return fmt.Errorf("platform/db: runner not initialised")
	}
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		var state *txState
		err = WithTx(ctx, r.pool, func(tx pgx.Tx) error {
			txCtx := ContextWithTx(ctx, tx)
			state = txCtx.Value(txKey{}).(*txState)
			return fn(txCtx, tx)
		})
		if err == nil {
			hookCtx := context.WithoutCancel(ctx)
			for _, hook := range state.hooks {
				hook(hookCtx)
			}
			return nil
		}
		if !IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// Atomically runs fn with a transaction-carrying context. Repositories called
// with that context join the transaction.
func (r *Runner) Atomically(ctx context.Context, fn func(context.Context) error) error {
	return r.InTx(ctx, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}
