package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/database"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
)

// MaterializedViews are refreshed after every sync pass.
var MaterializedViews = []string{"sleep_primary"}

type queries struct {
	markSuccess string
	markFailure string
}

var postgresQueries = queries{
	markSuccess: `INSERT INTO sync_log (endpoint, last_sync_date, record_count, updated_at, last_error, consecutive_failures, last_success_at)
		VALUES (?, ?, ?, now(), NULL, 0, now())
		ON CONFLICT (endpoint) DO UPDATE SET
		last_sync_date = EXCLUDED.last_sync_date,
		record_count = EXCLUDED.record_count,
		updated_at = now(),
		last_error = NULL,
		consecutive_failures = 0,
		last_success_at = now()`,
	markFailure: `INSERT INTO sync_log (endpoint, updated_at, last_error, consecutive_failures)
		VALUES (?, now(), ?, 1)
		ON CONFLICT (endpoint) DO UPDATE SET
		last_error = EXCLUDED.last_error,
		consecutive_failures = sync_log.consecutive_failures + 1,
		updated_at = now()`,
}

var mysqlQueries = queries{
	markSuccess: `INSERT INTO sync_log (endpoint, last_sync_date, record_count, updated_at, last_error, consecutive_failures, last_success_at)
		VALUES (?, ?, ?, NOW(6), NULL, 0, NOW(6))
		ON DUPLICATE KEY UPDATE
		last_sync_date = VALUES(last_sync_date),
		record_count = VALUES(record_count),
		updated_at = NOW(6),
		last_error = NULL,
		consecutive_failures = 0,
		last_success_at = NOW(6)`,
	markFailure: `INSERT INTO sync_log (endpoint, updated_at, last_error, consecutive_failures)
		VALUES (?, NOW(6), ?, 1)
		ON DUPLICATE KEY UPDATE
		last_error = VALUES(last_error),
		consecutive_failures = consecutive_failures + 1,
		updated_at = NOW(6)`,
}

func queriesFor(d database.Dialect) queries {
	if _, ok := d.(database.MySQL); ok {
		return mysqlQueries
	}
	return postgresQueries
}

const (
	watermarkColumns = `endpoint, last_sync_date, record_count, updated_at, last_error, consecutive_failures, last_success_at`
	historyColumns   = `id, endpoint, record_count, duration_seconds, status, error_message, created_at`
)

// SQLStore keeps sync bookkeeping in the same database as the metrics.
type SQLStore struct {
	db *database.Database
	q  queries
}

var _ Store = (*SQLStore)(nil)

func NewSQLStore(db *database.Database) *SQLStore {
	return &SQLStore{db: db, q: queriesFor(db.Dialect())}
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWatermark(row scanner) (*Watermark, error) {
	var (
		w           Watermark
		lastSync    sql.NullTime
		lastError   sql.NullString
		lastSuccess sql.NullTime
	)
	if err := row.Scan(
		&w.Endpoint,
		&lastSync,
		&w.RecordCount,
		&w.UpdatedAt,
		&lastError,
		&w.ConsecutiveFailures,
		&lastSuccess,
	); err != nil {
		return nil, err
	}
	if lastSync.Valid {
		d := lastSync.Time
		w.LastSyncDate = &d
	}
	if lastError.Valid {
		w.LastError = &lastError.String
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time
		w.LastSuccessAt = &t
	}
	return &w, nil
}

func (s *SQLStore) GetWatermark(ctx context.Context, endpoint string) (*Watermark, error) {
	row := s.db.QueryRow(ctx, `SELECT `+watermarkColumns+` FROM sync_log WHERE endpoint = ?`, endpoint)
	w, err := scanWatermark(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark for %s: %w", endpoint, err)
	}
	return w, nil
}

func (s *SQLStore) MarkSuccess(ctx context.Context, endpoint string, day time.Time, count int) error {
	_, err := s.db.ExecAtomic(ctx, s.q.markSuccess, endpoint, day.Format(config.DateLayout), count)
	if err != nil {
		return fmt.Errorf("failed to update sync_log for %s: %w", endpoint, err)
	}
	return nil
}

func (s *SQLStore) MarkFailure(ctx context.Context, endpoint, msg string) error {
	_, err := s.db.ExecAtomic(ctx, s.q.markFailure, endpoint, msg)
	if err != nil {
		return fmt.Errorf("failed to record failure for %s: %w", endpoint, err)
	}
	return nil
}

func (s *SQLStore) ListWatermarks(ctx context.Context) ([]*Watermark, error) {
	rows, err := s.db.Query(ctx, `SELECT `+watermarkColumns+` FROM sync_log ORDER BY endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Watermark
	for rows.Next() {
		w, err := scanWatermark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLStore) AppendHistory(ctx context.Context, entry *HistoryEntry) error {
	query := `INSERT INTO sync_history (endpoint, record_count, duration_seconds, status, error_message)
			  VALUES (?, ?, ?, ?, ?)`

	errMsg := sql.NullString{String: entry.ErrorMessage, Valid: entry.ErrorMessage != ""}
	_, err := s.db.ExecAtomic(ctx, query,
		entry.Endpoint,
		entry.RecordCount,
		entry.DurationSeconds,
		entry.Status,
		errMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync history for %s: %w", entry.Endpoint, err)
	}
	return nil
}

func (s *SQLStore) ListHistory(ctx context.Context, endpoint string, limit, offset int) ([]*HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM sync_history`
	var args []any
	if endpoint != "" {
		query += ` WHERE endpoint = ?`
		args = append(args, endpoint)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var (
			h      HistoryEntry
			errMsg sql.NullString
		)
		if err := rows.Scan(
			&h.ID,
			&h.Endpoint,
			&h.RecordCount,
			&h.DurationSeconds,
			&h.Status,
			&errMsg,
			&h.RecordedAt,
		); err != nil {
			return nil, err
		}
		h.ErrorMessage = errMsg.String
		out = append(out, &h)
	}
	return out, rows.Err()
}

// RefreshViews rebuilds the derived views. It runs outside a transaction
// because CONCURRENTLY refuses to run inside one.
func (s *SQLStore) RefreshViews(ctx context.Context) error {
	for _, view := range MaterializedViews {
		stmt := s.db.Dialect().RefreshView(view)
		if stmt == "" {
			continue
		}
		if err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to refresh %s: %w", view, err)
		}
		logger.Log.Info("Refreshed materialized view", zap.String("view", view))
	}
	return nil
}
