package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
)

type Database struct {
	DB      *sql.DB
	Config  config.DatabaseConnection
	dialect Dialect
}

// NewDatabase opens the configured backend and waits for it to accept
// connections, retrying ConnectRetries times.
func NewDatabase(ctx context.Context, cfg config.DatabaseConnection) (*Database, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	retries := max(cfg.ConnectRetries, 1)
	for i := 0; i < retries; i++ {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for database...",
			zap.String("driver", dialect.Name()),
			zap.Int("attempt", i+1),
			zap.Error(err))
		if i == retries-1 {
			break
		}
		select {
		case <-ctx.Done():
			db.Close()
			return nil, ctx.Err()
		case <-time.After(cfg.ConnectRetryDelay):
		}
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database after %d attempts: %w", retries, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	logger.Log.Info("Connected to database",
		zap.String("driver", dialect.Name()),
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
	)

	return &Database{DB: db, Config: cfg, dialect: dialect}, nil
}

// Wrap adopts an already opened handle.
func Wrap(db *sql.DB, dialect Dialect) *Database {
	return &Database{DB: db, dialect: dialect}
}

func (d *Database) Dialect() Dialect { return d.dialect }

func (d *Database) Close() error {
	return d.DB.Close()
}

// ExecTx executes a function within a transaction
func (d *Database) ExecTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx err: %w, rb err: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// ExecAtomic runs a single statement in its own transaction and returns the
// driver's affected row count.
func (d *Database) ExecAtomic(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := d.ExecTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, d.dialect.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// Exec runs a statement outside any explicit transaction.
func (d *Database) Exec(ctx context.Context, query string, args ...any) error {
	_, err := d.DB.ExecContext(ctx, d.dialect.Rebind(query), args...)
	return err
}

func (d *Database) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *Database) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.dialect.Rebind(query), args...)
}
