package transaction

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
)

var (
	_ output.TransactionManager = (*SQLiteTransactionManager)(nil)
	_ output.TransactionManager = (*NoopTransactionManager)(nil)
)

// txKey carries the active *sql.Tx in a context
type txKey struct{}

// SQLiteTransactionManager runs session and artifact writes against one
// *sql.Tx shared through the context
type SQLiteTransactionManager struct {
	db *sql.DB
}

// NewSQLiteTransactionManager creates a new SQLite transaction manager
func NewSQLiteTransactionManager(db *sql.DB) *SQLiteTransactionManager {
	return &SQLiteTransactionManager{db: db}
}

// InTransaction executes fn within a transaction. When ctx already carries
// a transaction, fn joins it and the outer call decides commit or rollback.
func (m *SQLiteTransactionManager) InTransaction(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && err != nil {
			err = fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	committed = true
	return nil
}

// GetTxFromContext returns the transaction bound to ctx by InTransaction
func GetTxFromContext(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
