package persistence

import (
	"context"
	"database/sql"

	"github.com/approveflow/backend/internal/domain/ports"
)

// querier is the common surface of *sql.DB and *sql.Tx. Store methods run
// against whichever the context carries.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SQLWorkflowStore implements ports.WorkflowStore on a MySQL-compatible
// database. Methods pick up an in-flight transaction from the context when
// one is present, so everything inside RunInTransaction is atomic.
type SQLWorkflowStore struct {
	db *sql.DB
	tm *TransactionManager
}

var _ ports.WorkflowStore = (*SQLWorkflowStore)(nil)

// NewSQLWorkflowStore creates a new SQLWorkflowStore
func NewSQLWorkflowStore(db *sql.DB) *SQLWorkflowStore {
	return &SQLWorkflowStore{db: db, tm: NewTransactionManager(db)}
}

// RunInTransaction executes fn atomically. Deadlocks retry with backoff;
// version conflicts surface immediately.
func (s *SQLWorkflowStore) RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return s.tm.RunInContext(ctx, fn)
}

// q resolves the executor for the current context: the injected transaction
// when inside RunInTransaction, the pooled handle otherwise.
func (s *SQLWorkflowStore) q(ctx context.Context) querier {
	if tx := s.tm.ExtractTx(ctx); tx != nil {
		return tx
	}
	return s.db
}
