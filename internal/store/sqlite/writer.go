package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"signal-systemv1/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	snapshotsKept     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/rsi.db"
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig) (*Writer, error) {
	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", slog.String("path", cfg.DBPath))
	return &Writer{db: db}, nil
}

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// Timestamps are stored as unix nanoseconds.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS prices (
			symbol   TEXT    NOT NULL,
			ts       INTEGER NOT NULL,
			close    REAL    NOT NULL,
			bar_interval TEXT,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS records (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			close  REAL    NOT NULL,
			rsi    REAL,
			signal TEXT    NOT NULL,
			reason TEXT,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS smoothing_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol     TEXT    NOT NULL,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_symbol ON smoothing_snapshots (symbol, id);
	`)
	return err
}

// WritePrices upserts a raw price series in one transaction.
func (w *Writer) WritePrices(ctx context.Context, series model.PriceSeries) error {
	return w.execBatch(ctx, `
		INSERT OR REPLACE INTO prices (symbol, ts, close, bar_interval)
		VALUES (?, ?, ?, ?)
	`, len(series.Points), func(i int) []any {
		p := series.Points[i]
		return []any{series.Symbol, p.TS.UnixNano(), p.Close, series.Interval}
	})
}

// WriteRecords upserts pipeline records for symbol in one transaction.
func (w *Writer) WriteRecords(ctx context.Context, symbol string, records []model.Record) error {
	return w.execBatch(ctx, `
		INSERT OR REPLACE INTO records (symbol, ts, close, rsi, signal, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, len(records), func(i int) []any {
		r := records[i]
		rsi := sql.NullFloat64{}
		if v, ok := r.RSIValue(); ok {
			rsi = sql.NullFloat64{Float64: v, Valid: true}
		}
		return []any{symbol, r.TS.UnixNano(), r.Close, rsi, r.Signal.String(), r.Reason}
	})
}

// execBatch runs query once per row inside a single transaction.
func (w *Writer) execBatch(ctx context.Context, query string, n int, row func(i int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// Run reads records from recCh and inserts them in batched transactions.
// Flushes every batchSize records OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or recCh is closed.
func (w *Writer) Run(ctx context.Context, recCh <-chan model.Record) {
	batch := make([]model.Record, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		// Use a fresh context so the final flush survives cancellation.
		if err := w.insertMixed(context.Background(), batch); err != nil {
			slog.Error("sqlite batch insert failed", slog.Any("error", err))
		} else {
			slog.Debug("sqlite committed records", slog.Int("n", len(batch)), slog.Duration("took", time.Since(start)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case rec, ok := <-recCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, rec)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertMixed writes a batch whose records may belong to several symbols.
func (w *Writer) insertMixed(ctx context.Context, batch []model.Record) error {
	bySymbol := make(map[string][]model.Record)
	var order []string
	for _, r := range batch {
		if _, ok := bySymbol[r.Symbol]; !ok {
			order = append(order, r.Symbol)
		}
		bySymbol[r.Symbol] = append(bySymbol[r.Symbol], r)
	}
	for _, sym := range order {
		if err := w.WriteRecords(ctx, sym, bySymbol[sym]); err != nil {
			return fmt.Errorf("%s: %w", sym, err)
		}
	}
	return nil
}

// LastRecordTS returns the newest stored record timestamp for symbol, or
// the zero time if there is none.
func (w *Writer) LastRecordTS(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT MAX(ts) FROM records WHERE symbol = ?`, symbol,
	).Scan(&ts)
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.Unix(0, ts.Int64).UTC(), nil
}

// SaveSnapshotJSON stores an encoded smoothing state for symbol and prunes
// all but the most recent snapshots of that symbol.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	_, err := w.db.ExecContext(ctx,
		`INSERT INTO smoothing_snapshots (symbol, data) VALUES (?, ?)`, symbol, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.ExecContext(ctx, `
		DELETE FROM smoothing_snapshots
		WHERE symbol = ? AND id NOT IN (
			SELECT id FROM smoothing_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT ?
		)`, symbol, symbol, snapshotsKept)
	if err != nil {
		slog.Warn("sqlite prune snapshots failed", slog.String("symbol", symbol), slog.Any("error", err))
	}

	return nil
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
