// Package schema applies the risk store schema with golang-migrate.
package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/riskbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/riskbatch/pkg/batch/support/util/logger"
)

//go:embed migrations
var embeddedMigrations embed.FS

// MigrationsTable tracks the applied schema version.
const MigrationsTable = "rsk_schema_migrations"

// Migrations returns the embedded migration scripts, one directory per database type.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		logger.Fatalf("Failed to open embedded migrations: %v", err)
	}
	return sub
}

// Migrator applies the embedded migrations of its connection's database type.
type Migrator struct {
	conn   database.DBConnection
	source fs.FS
	table  string
}

// NewMigrator creates a Migrator for conn using the embedded scripts.
func NewMigrator(conn database.DBConnection) *Migrator {
	return &Migrator{conn: conn, source: Migrations(), table: MigrationsTable}
}

// migrateLogger routes golang-migrate output to the application logger.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) { logger.Debugf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                          { return logger.Enabled(logger.LevelDebug) }

func (m *Migrator) databaseDriver() (migratedb.Driver, error) {
	sqlDB, err := m.conn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	switch m.conn.Type() {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: m.table})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: m.table})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: m.table})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.conn.Type())
	}
}

// run builds a migrate instance and hands it to fn. The instance is not closed: closing it would
// close the shared *sql.DB, so only the source driver is released.
func (m *Migrator) run(ctx context.Context, fn func(*migrate.Migrate) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sourceDriver, err := iofs.New(m.source, m.conn.Type())
	if err != nil {
		return fmt.Errorf("failed to open migrations for %s: %w", m.conn.Type(), err)
	}
	defer sourceDriver.Close()

	dbDriver, err := m.databaseDriver()
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", sourceDriver, m.conn.Type(), dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	instance.Log = migrateLogger{}

	stop := context.AfterFunc(ctx, func() { instance.GracefulStop <- true })
	defer stop()
	return fn(instance)
}

// Up applies every pending migration. An up-to-date schema is not an error.
func (m *Migrator) Up(ctx context.Context) error {
	logger.Infof("Applying risk schema migrations on '%s' (%s).", m.conn.Name(), m.conn.Type())
	err := m.run(ctx, func(instance *migrate.Migrate) error {
		if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration up failed on '%s': %w", m.conn.Name(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Infof("Risk schema on '%s' is up to date.", m.conn.Name())
	return nil
}

// Down rolls every migration back.
func (m *Migrator) Down(ctx context.Context) error {
	logger.Warnf("Rolling back the risk schema on '%s' (%s).", m.conn.Name(), m.conn.Type())
	return m.run(ctx, func(instance *migrate.Migrate) error {
		if err := instance.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migration down failed on '%s': %w", m.conn.Name(), err)
		}
		return nil
	})
}

// Version reports the applied schema version. ok is false when nothing has been applied yet.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, ok bool, err error) {
	err = m.run(ctx, func(instance *migrate.Migrate) error {
		v, d, verr := instance.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		if verr != nil {
			return verr
		}
		version, dirty, ok = v, d, true
		return nil
	})
	return version, dirty, ok, err
}
