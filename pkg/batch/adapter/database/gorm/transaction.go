package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	coreAdapter "github.com/tigerroll/riskbatch/pkg/batch/core/adapter"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

// GormTxAdapter implements tx.Tx over an open GORM transaction.
type GormTxAdapter struct {
	executor

	mu            sync.Mutex
	afterCommit   []func()
	afterRollback []func()
}

// Savepoint implements tx.Tx.
func (t *GormTxAdapter) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *GormTxAdapter) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// IsUniqueViolation classifies err without leaving the transaction.
func (t *GormTxAdapter) IsUniqueViolation(err error) bool {
	return IsUniqueViolation(err)
}

// AfterCommit implements tx.CompletionHooks.
func (t *GormTxAdapter) AfterCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.afterCommit = append(t.afterCommit, fn)
}

// AfterRollback implements tx.CompletionHooks.
func (t *GormTxAdapter) AfterRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.afterRollback = append(t.afterRollback, fn)
}

// takeCallbacks drains both callback lists and returns the ones for the given outcome.
func (t *GormTxAdapter) takeCallbacks(committed bool) []func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	fns := t.afterRollback
	if committed {
		fns = t.afterCommit
	}
	t.afterCommit, t.afterRollback = nil, nil
	return fns
}

type gormDBHolder interface {
	GetGormDB() *gorm.DB
}

// GormTransactionManager implements tx.TransactionManager for one named connection.
type GormTransactionManager struct {
	dbResolver database.DBConnectionResolver
	dbName     string
	conn       database.DBConnection
}

// NewGormTransactionManager creates a manager bound directly to conn, bypassing connection resolution.
func NewGormTransactionManager(conn database.DBConnection) *GormTransactionManager {
	return &GormTransactionManager{conn: conn, dbName: conn.Name()}
}

func (m *GormTransactionManager) connection(ctx context.Context) (database.DBConnection, error) {
	if m.conn != nil {
		return m.conn, nil
	}
	conn, err := m.dbResolver.ResolveDBConnection(ctx, m.dbName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DB connection '%s' for transaction: %w", m.dbName, err)
	}
	return conn, nil
}

// Begin implements tx.TransactionManager.
func (m *GormTransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	conn, err := m.connection(ctx)
	if err != nil {
		return nil, err
	}
	holder, ok := conn.(gormDBHolder)
	if !ok {
		return nil, fmt.Errorf("connection '%s' (%T) is not backed by GORM", m.dbName, conn)
	}

	var txOpts *sql.TxOptions
	if len(opts) > 0 && opts[0] != nil {
		txOpts = opts[0]
	}
	gormTx := holder.GetGormDB().WithContext(ctx).Begin(txOpts)
	if gormTx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction on '%s': %w", m.dbName, gormTx.Error)
	}
	return &GormTxAdapter{executor: executor{db: gormTx}}, nil
}

// Commit implements tx.TransactionManager. Registered AfterCommit callbacks run once the commit succeeded.
func (m *GormTransactionManager) Commit(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	if err := gormTx.db.Commit().Error; err != nil {
		for _, fn := range gormTx.takeCallbacks(false) {
			fn()
		}
		return err
	}
	for _, fn := range gormTx.takeCallbacks(true) {
		fn()
	}
	return nil
}

// Rollback implements tx.TransactionManager. AfterCommit callbacks are discarded and AfterRollback callbacks run.
func (m *GormTransactionManager) Rollback(t tx.Tx) error {
	gormTx, ok := t.(*GormTxAdapter)
	if !ok {
		return fmt.Errorf("invalid transaction type: expected *GormTxAdapter, got %T", t)
	}
	err := gormTx.db.Rollback().Error
	fns := gormTx.takeCallbacks(false)
	if len(fns) > 0 {
		logger.Debugf("Running %d rollback callbacks for '%s'.", len(fns), m.dbName)
	}
	for _, fn := range fns {
		fn()
	}
	return err
}

// GormTransactionManagerFactory is the GORM implementation of tx.TransactionManagerFactory.
type GormTransactionManagerFactory struct {
	dbResolver database.DBConnectionResolver
}

// NewGormTransactionManagerFactory creates an instance of GormTransactionManagerFactory.
func NewGormTransactionManagerFactory(dbResolver database.DBConnectionResolver) tx.TransactionManagerFactory {
	return &GormTransactionManagerFactory{dbResolver: dbResolver}
}

// NewTransactionManager returns a manager that resolves conn by name on every Begin, so a reconnected pool is picked up.
func (f *GormTransactionManagerFactory) NewTransactionManager(conn coreAdapter.ResourceConnection) tx.TransactionManager {
	return &GormTransactionManager{
		dbResolver: f.dbResolver,
		dbName:     conn.Name(),
	}
}
