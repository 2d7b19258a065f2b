package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txKey struct{}

// WithTx returns a context carrying tx. Repositories route queries through
// the carried transaction so one aggregation pass reads one consistent
// database snapshot.
func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey{}).(pgx.Tx)
	return tx
}

// TxRunner executes fn with a transaction carried in the context, committing
// when fn returns nil and rolling back otherwise.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewTxRunner returns a TxRunner backed by pool using the given transaction
// options.
func NewTxRunner(pool *pgxpool.Pool, opts pgx.TxOptions) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		tx, err := pool.BeginTx(ctx, opts)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(WithTx(ctx, tx)); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	}
}

// PassthroughRunner returns a TxRunner that invokes fn directly. Useful for
// tests and callers that already hold a transaction.
func PassthroughRunner() TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
}
