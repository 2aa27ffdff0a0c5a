package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to the latest embedded version.
func (d *Database) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+d.dialect.Name())
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var driver migratedb.Driver
	switch d.dialect.(type) {
	case MySQL:
		driver, err = migratemysql.WithInstance(d.DB, &migratemysql.Config{})
	default:
		driver, err = migratepgx.WithInstance(d.DB, &migratepgx.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}

	// Close is never called on m: it would close the shared *sql.DB.
	m, err := migrate.NewWithInstance("iofs", src, d.dialect.Name(), driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	logger.Log.Info("Database schema ready",
		zap.String("driver", d.dialect.Name()),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
