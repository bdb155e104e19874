package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is the opaque transaction handle passed to repositories as qx.
type Tx = interface{}

// NoTX selects the non-transactional (pool) path.
var NoTX interface{}

// TransactionManager runs fn inside one database transaction. The handle it
// passes is infra-defined (pgx.Tx for Postgres); repositories seeing it take
// row locks, repositories seeing NoTX use the pool. Returning an error from
// fn rolls everything back.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
