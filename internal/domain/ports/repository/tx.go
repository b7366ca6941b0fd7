package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept NoTX (nil) and then run on the pool.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one transaction: fn's error rolls it
// back, a nil return commits. Callers pass the same ctx and tx to every
// repository call that must be part of the unit.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
