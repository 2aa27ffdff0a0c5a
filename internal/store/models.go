package store

import (
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Watermark is the sync_log row of one endpoint.
type Watermark struct {
	Endpoint            string     `db:"endpoint" json:"endpoint"`
	LastSyncDate        *time.Time `db:"last_sync_date" json:"last_sync_date"`
	RecordCount         int64      `db:"record_count" json:"record_count"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
	LastError           *string    `db:"last_error" json:"last_error"`
	ConsecutiveFailures int        `db:"consecutive_failures" json:"consecutive_failures"`
	LastSuccessAt       *time.Time `db:"last_success_at" json:"last_success_at"`
}

// HistoryEntry is one append-only sync_history row.
type HistoryEntry struct {
	ID              int64     `db:"id" json:"id"`
	Endpoint        string    `db:"endpoint" json:"endpoint"`
	RecordCount     int       `db:"record_count" json:"record_count"`
	DurationSeconds float64   `db:"duration_seconds" json:"duration_seconds"`
	Status          string    `db:"status" json:"status"`
	ErrorMessage    string    `db:"error_message" json:"error_message,omitempty"`
	RecordedAt      time.Time `db:"created_at" json:"recorded_at"`
}
