package output

import (
	"context"
)

// TransactionManager groups an artifact append and the session save that
// records it. Repositories pick the transaction up from txCtx.
type TransactionManager interface {
	// InTransaction executes fn within a transaction.
	// If fn returns an error, the transaction is rolled back.
	InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}
