package model

import (
	"context"
	"time"
)

// ── Boundary Port Interfaces ──
// These interfaces decouple the indicator pipeline from concrete providers
// and storage (Yahoo, CSV, SQLite, Redis).

// SeriesRequest asks a PriceSource for a symbol over [From, To].
// A zero To means "up to now".
type SeriesRequest struct {
	Symbol   string
	Interval string // provider sampling interval, e.g. "1h", "1d"
	From     time.Time
	To       time.Time
}

// PriceSource supplies closing prices.
type PriceSource interface {
	// FetchSeries returns whatever the provider produced. On failure the
	// series may be empty or partial and err is non-nil; callers decide
	// whether to retry.
	FetchSeries(ctx context.Context, req SeriesRequest) (PriceSeries, error)
}

// RecordSink persists pipeline output.
type RecordSink interface {
	// WriteRecords stores records for one symbol in order.
	WriteRecords(ctx context.Context, symbol string, records []Record) error

	// Close releases underlying resources.
	Close() error
}

// SnapshotWriter persists JSON-encoded incremental smoothing state.
// Using []byte avoids a model→indicator import cycle.
type SnapshotWriter interface {
	SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error
}

// SnapshotReader loads the most recent smoothing state for a symbol.
// Returns nil, nil if none exists.
type SnapshotReader interface {
	ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error)
}
