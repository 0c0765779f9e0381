package transaction

import (
	"context"
)

// NoopTransactionManager runs functions without a database transaction.
// It is used when no configured store is transactional (file or redis
// sessions with S3 artifacts); the engine then relies on compensation.
type NoopTransactionManager struct{}

// NewNoopTransactionManager creates a new no-op transaction manager
func NewNoopTransactionManager() *NoopTransactionManager {
	return &NoopTransactionManager{}
}

// InTransaction executes fn with the unchanged context
func (m *NoopTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}
