package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque query-executor handle. Repository methods accept it as
// `tx any` and dispatch on the concrete type (pgx.Tx, *pgxpool.Pool, or nil
// for "use the pool directly"), the same shape the teacher's repositories
// use so call sites never import a driver-specific type.
type Tx interface{}

// TransactionManager executes fn inside a single database transaction,
// committing on success and rolling back on any returned error. The
// concrete transaction handle is infra-defined; repositories must accept
// a nil Tx gracefully (non-transactional path).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
