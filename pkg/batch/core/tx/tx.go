// Package tx abstracts transactional access to the relational store so that repositories can run the
// same statements with or without an enclosing transaction.
package tx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
)

// Executor defines the statements a repository can issue. It is implemented both by database
// connections and by open transactions.
type Executor interface {
	// ExecuteUpdate performs a CREATE, UPDATE or DELETE on model.
	// For UPDATE and DELETE, query is a column -> value map ANDed into the WHERE clause; a slice value becomes IN.
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert inserts model, resolving conflicts on conflictColumns by updating updateColumns.
	// With no updateColumns the conflict is ignored (DO NOTHING) and the row does not count as affected.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteBulkInsert inserts a slice of rows in statements of at most batchSize rows.
	// Generated primary keys are written back into the slice elements.
	ExecuteBulkInsert(ctx context.Context, rows interface{}, tableName string, batchSize int) (rowsAffected int64, err error)

	// ExecuteRaw runs a parameterized statement that returns no rows.
	ExecuteRaw(ctx context.Context, statement string, args ...interface{}) (rowsAffected int64, err error)

	// ExecuteQuery selects rows matching query into target.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced selects with ordering and paging. A non-positive limit means unlimited.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int, offset int) error

	// QueryRaw scans the result of a parameterized SELECT into target.
	QueryRaw(ctx context.Context, target interface{}, statement string, args ...interface{}) error

	// Count counts the rows of model's table matching query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)

	// Pluck collects the distinct values of column into target.
	Pluck(ctx context.Context, model interface{}, column string, target interface{}, query map[string]interface{}) error
}

// Tx represents an ongoing database transaction.
type Tx interface {
	Executor

	// Savepoint creates a named savepoint within the transaction.
	Savepoint(name string) error
	// RollbackToSavepoint undoes everything done after the named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the lifecycle of database transactions.
type TransactionManager interface {
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	Commit(tx Tx) error
	Rollback(tx Tx) error
}

// TransactionManagerFactory creates a TransactionManager bound to a named connection.
type TransactionManagerFactory interface {
	NewTransactionManager(conn adapter.ResourceConnection) TransactionManager
}

type txKey struct{}

// WithTx returns a context carrying t. Repositories use FromContext to join the caller's transaction.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok && t != nil
}

// ExecutorFrom returns the transaction carried by ctx, falling back to fallback.
func ExecutorFrom(ctx context.Context, fallback Executor) Executor {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return fallback
}

// CompletionHooks is implemented by transactions that can run callbacks once they finish.
type CompletionHooks interface {
	// AfterCommit registers fn to run after a successful commit. Callbacks never run on rollback.
	AfterCommit(fn func())
	// AfterRollback registers fn to run once the transaction has been rolled back.
	AfterRollback(fn func())
}

// RunInTx begins a transaction, calls fn with a context carrying it, and commits when fn returns nil.
// Any error, or a panic in fn, rolls the transaction back.
func RunInTx(ctx context.Context, tm TransactionManager, fn func(ctx context.Context) error) (err error) {
	t, err := tm.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tm.Rollback(t)
			panic(r)
		}
		if err != nil {
			if rbErr := tm.Rollback(t); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if err = fn(WithTx(ctx, t)); err != nil {
		return err
	}
	return tm.Commit(t)
}
