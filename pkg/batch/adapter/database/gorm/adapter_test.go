package gorm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/riskbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/riskbatch/pkg/batch/core/tx"
)

type hostRow struct {
	ID       int64  `gorm:"primaryKey"`
	Hostname string `gorm:"column:hostname"`
}

func (hostRow) TableName() string { return "rsk_compute_host" }

// newMockAdapter wraps a sqlmock database in a MySQL flavoured adapter.
func newMockAdapter(t *testing.T) (*gormadapter.GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormadapter.NewGormLogger("SILENT"),
	})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, dbconfig.DatabaseConfig{Type: "mysql"}, "risk")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, mock
}

func TestExecuteUpsert_InsertedRowGetsItsID(t *testing.T) {
	conn, mock := newMockAdapter(t)
	mock.ExpectExec("INSERT INTO `rsk_compute_host`").WillReturnResult(sqlmock.NewResult(7, 1))

	row := &hostRow{Hostname: "host-a"}
	n, err := conn.ExecuteUpsert(context.Background(), row, row.TableName(), []string{"hostname"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, int64(7), row.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteUpsert_ConflictAffectsNothing(t *testing.T) {
	conn, mock := newMockAdapter(t)
	mock.ExpectExec("INSERT INTO `rsk_compute_host`.*ON DUPLICATE KEY").WillReturnResult(sqlmock.NewResult(0, 0))

	row := &hostRow{Hostname: "host-a"}
	n, err := conn.ExecuteUpsert(context.Background(), row, row.TableName(), []string{"hostname"}, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecuteRaw_ReportsAffectedRows(t *testing.T) {
	conn, mock := newMockAdapter(t)
	mock.ExpectExec("UPDATE rsk_run SET complete").WithArgs(true, int64(3)).WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := conn.ExecuteRaw(context.Background(), "UPDATE rsk_run SET complete = ? WHERE id = ?", true, int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = conn.ExecuteUpdate(context.Background(), &hostRow{}, "MERGE", "", nil)
	assert.ErrorContains(t, err, "unsupported update operation")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_CommitRunsAfterCommitCallbacks(t *testing.T) {
	conn, mock := newMockAdapter(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE rsk_run").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var committed, rolledBack bool
	err := tx.RunInTx(context.Background(), gormadapter.NewGormTransactionManager(conn), func(ctx context.Context) error {
		current, ok := tx.FromContext(ctx)
		require.True(t, ok)
		hooks := current.(tx.CompletionHooks)
		hooks.AfterCommit(func() { committed = true })
		hooks.AfterRollback(func() { rolledBack = true })
		_, err := current.ExecuteRaw(ctx, "UPDATE rsk_run SET complete = ?", true)
		return err
	})
	require.NoError(t, err)
	assert.True(t, committed)
	assert.False(t, rolledBack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_ErrorRollsBack(t *testing.T) {
	conn, mock := newMockAdapter(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `rsk_compute_host`").WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'host-a'"))
	mock.ExpectRollback()

	var committed, rolledBack bool
	err := tx.RunInTx(context.Background(), gormadapter.NewGormTransactionManager(conn), func(ctx context.Context) error {
		current, _ := tx.FromContext(ctx)
		hooks := current.(tx.CompletionHooks)
		hooks.AfterCommit(func() { committed = true })
		hooks.AfterRollback(func() { rolledBack = true })
		_, err := current.ExecuteUpsert(ctx, &hostRow{Hostname: "host-a"}, "rsk_compute_host", []string{"hostname"}, nil)
		return err
	})
	require.Error(t, err)
	assert.True(t, gormadapter.IsUniqueViolation(err))
	assert.False(t, committed)
	assert.True(t, rolledBack)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, gormadapter.IsUniqueViolation(nil))
	assert.True(t, gormadapter.IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, gormadapter.IsUniqueViolation(errors.New("UNIQUE constraint failed: rsk_value_name.name")))
	assert.True(t, gormadapter.IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)`)))
	assert.False(t, gormadapter.IsUniqueViolation(errors.New("connection refused")))
}
