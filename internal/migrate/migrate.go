// Package migrate provides database migration functionality using Goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/emergent-company/tether/internal/config"
	"github.com/emergent-company/tether/migrations"
)

// Module provides migration dependencies and, when DB_AUTO_MIGRATE is set,
// applies pending migrations on start. It must be listed before modules whose
// start hooks touch the schema.
var Module = fx.Module("migrate",
	fx.Provide(NewMigrator),
	fx.Invoke(RegisterAutoMigrate),
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrator handles database migrations.
type Migrator struct {
	db     *bun.DB
	driver string
	logger *zap.Logger
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *bun.DB, cfg *config.Config, logger *zap.Logger) *Migrator {
	return &Migrator{
		db:     db,
		driver: cfg.Database.Driver,
		logger: logger.Named("migrator"),
	}
}

// RegisterAutoMigrate runs Up on application start.
func RegisterAutoMigrate(lc fx.Lifecycle, m *Migrator, cfg *config.Config) {
	if !cfg.Database.AutoMigrate {
		return
	}
	lc.Append(fx.Hook{
		OnStart: m.Up,
	})
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("running database migrations", zap.String("driver", m.driver))

	if err := Run(ctx, m.db.DB, m.driver); err != nil {
		return err
	}

	m.logger.Info("migrations completed successfully")
	return nil
}

// Down rolls back the last migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back last migration")

	err := withDialect(m.driver, func(dir string) error {
		return goose.DownContext(ctx, m.db.DB, dir)
	})
	if err != nil {
		return fmt.Errorf("failed to rollback migration: %w", err)
	}

	m.logger.Info("rollback completed successfully")
	return nil
}

// Version returns the current database version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	var version int64
	err := withDialect(m.driver, func(string) error {
		v, err := goose.GetDBVersionContext(ctx, m.db.DB)
		version = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get version: %w", err)
	}
	return version, nil
}

// Run applies every pending migration for driver using a raw *sql.DB.
func Run(ctx context.Context, db *sql.DB, driver string) error {
	err := withDialect(driver, func(dir string) error {
		return goose.UpContext(ctx, db, dir)
	})
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func withDialect(driver string, fn func(dir string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())

	dialect := "postgres"
	if driver == config.DriverSQLite {
		dialect = "sqlite3"
	}
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return fn(migrations.Dir(driver))
}
