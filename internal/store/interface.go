package store

import (
	"context"
	"time"
)

type Store interface {
	// Watermarks
	GetWatermark(ctx context.Context, endpoint string) (*Watermark, error)
	MarkSuccess(ctx context.Context, endpoint string, day time.Time, count int) error
	MarkFailure(ctx context.Context, endpoint, msg string) error
	ListWatermarks(ctx context.Context) ([]*Watermark, error)

	// History
	AppendHistory(ctx context.Context, entry *HistoryEntry) error
	ListHistory(ctx context.Context, endpoint string, limit, offset int) ([]*HistoryEntry, error)

	// Derived views
	RefreshViews(ctx context.Context) error

	// General
	Close() error
}
