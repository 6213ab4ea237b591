package postgres

import (
	"context"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/reelforge/video-orchestrator/internal/domain"
	"github.com/reelforge/video-orchestrator/internal/domain/ports/repository"
	"github.com/reelforge/video-orchestrator/internal/infra/retry"

	"time"
)

// Ensure compile-time conformance
var _ repository.TransactionManager = (*TxManager)(nil)

// TxManager implements repository.TransactionManager for Postgres (pgx).
// It begins a transaction, invokes the callback, and commits/rolls back.
// The tx handle is passed to the callback via the `tx any` argument (as pgx.Tx).
type TxManager struct {
	pool *pgxpool.Pool
}

func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// dbRetryPolicy is the withRetry policy from spec.md §4.1: base 250ms,
// exponential, cap 5s, jitter ±30%, up to 5 attempts.
var dbRetryPolicy = retry.Policy{MaxAttempts: 5, Base: 250 * time.Millisecond, Cap: 5 * time.Second, JitterFrac: 0.3}

// WithRetry wraps any store operation in the shared transient-connection
// backoff. Non-transient errors propagate on the first attempt.
func WithRetry(ctx context.Context, op func(ctx context.Context) error) error {
	return retry.Do(ctx, dbRetryPolicy, IsRetryable, op)
}

// WithTx opens a DB transaction (retried on transient connection errors)
// and passes the tx handle to fn via tx. If fn returns an error, the
// transaction is rolled back; otherwise it is committed.
func (m *TxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return WithRetry(ctx, func(ctx context.Context) error {
		tx, err := m.pool.BeginTx(ctx, txOpt)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(ctx, tx); err != nil {
			return err // rollback in defer
		}
		return tx.Commit(ctx)
	})
}

type executor interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func getExecutor(pool *pgxpool.Pool, tx repository.Tx) (executor, error) {
	switch v := tx.(type) {
	case pgx.Tx:
		return v, nil
	case *pgxpool.Conn:
		return v, nil
	case *pgxpool.Pool:
		return v, nil
	case nil:
		if pool != nil {
			return pool, nil
		}
		return nil, domain.ErrInvalidArgument
	default:
		return nil, domain.ErrInvalidExecContext
	}
}

// pickRow resolves the right executor for tx (or the pool if tx is nil)
// and runs a single-row query.
func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, sql, args...), nil
}

// execSQL resolves the right executor for tx (or the pool if tx is nil)
// and runs a mutating statement, retrying transient connection failures
// when running outside an existing transaction (tx == nil).
func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	if tx != nil {
		return ex.Exec(ctx, sql, args...)
	}
	var tag pgconn.CommandTag
	err = WithRetry(ctx, func(ctx context.Context) error {
		var e error
		tag, e = ex.Exec(ctx, sql, args...)
		return e
	})
	return tag, err
}
