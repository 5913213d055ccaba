package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for replay, batch input and
// snapshot restore. It implements model.PriceSource.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("sqlite reader opened", slog.String("path", dbPath))
	return &Reader{db: db}, nil
}

// FetchSeries returns the stored prices for req.Symbol within [From, To],
// ordered by timestamp. Zero bounds are open.
func (r *Reader) FetchSeries(ctx context.Context, req model.SeriesRequest) (model.PriceSeries, error) {
	series := model.PriceSeries{Symbol: req.Symbol, Interval: req.Interval}

	from, to := int64(0), int64(1<<63-1)
	if !req.From.IsZero() {
		from = req.From.UnixNano()
	}
	if !req.To.IsZero() {
		to = req.To.UnixNano()
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close
		FROM prices
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, req.Symbol, from, to)
	if err != nil {
		return series, fmt.Errorf("sqlite query prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ts int64
		var p model.PricePoint
		if err := rows.Scan(&ts, &p.Close); err != nil {
			return series, fmt.Errorf("sqlite scan prices: %w", err)
		}
		p.TS = time.Unix(0, ts).UTC()
		series.Points = append(series.Points, p)
	}
	return series, rows.Err()
}

// ReadRecords returns stored records for symbol newer than after, ordered by
// timestamp.
func (r *Reader) ReadRecords(ctx context.Context, symbol string, after time.Time) ([]model.Record, error) {
	var afterNs int64 = -1 << 63
	if !after.IsZero() {
		afterNs = after.UnixNano()
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, close, rsi, signal, reason
		FROM records
		WHERE symbol = ? AND ts > ?
		ORDER BY ts ASC
	`, symbol, afterNs)
	if err != nil {
		return nil, fmt.Errorf("sqlite query records: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var (
			ts     int64
			rsi    sql.NullFloat64
			sig    string
			reason sql.NullString
		)
		rec := model.Record{Symbol: symbol}
		if err := rows.Scan(&ts, &rec.Close, &rsi, &sig, &reason); err != nil {
			return nil, fmt.Errorf("sqlite scan records: %w", err)
		}
		rec.TS = time.Unix(0, ts).UTC()
		if rsi.Valid {
			v := rsi.Float64
			rec.RSI = &v
		}
		if rec.Signal, err = model.ParseSignal(sig); err != nil {
			return nil, fmt.Errorf("sqlite scan records: %w", err)
		}
		rec.Reason = reason.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ReadLatestSnapshotJSON loads the most recent smoothing state saved for
// symbol. Returns nil, nil if there is none.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `
		SELECT data FROM smoothing_snapshots
		WHERE symbol = ?
		ORDER BY id DESC
		LIMIT 1
	`, symbol).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
