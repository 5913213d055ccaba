package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	streamMaxLen       = 5000
	defaultLatestTTL   = 30 * time.Minute
	defaultSnapshotTTL = 24 * time.Hour
)

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes pipeline records and smoothing snapshots to Redis.
// It implements model.RecordSink and model.SnapshotWriter.
type Writer struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", slog.String("addr", cfg.Addr))
	return &Writer{client: client}, nil
}

func newClient(cfg WriterConfig) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// WriteRecords appends records to the symbol stream, publishes each one and
// updates the latest key, all in one pipeline round trip. Records with an
// undefined RSI are published but not streamed.
func (w *Writer) WriteRecords(ctx context.Context, symbol string, records []model.Record) error {
	if len(records) == 0 {
		return nil
	}

	streamKey := StreamKey(symbol)
	pubsubCh := PubSubChannel(symbol)

	pipe := w.client.Pipeline()
	for i := range records {
		jsonData := string(records[i].JSON())
		if records[i].RSI != nil {
			pipe.XAdd(ctx, &goredis.XAddArgs{
				Stream: streamKey,
				MaxLen: streamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": jsonData},
			})
		}
		pipe.Publish(ctx, pubsubCh, jsonData)
	}
	last := records[len(records)-1]
	pipe.Set(ctx, LatestKey(symbol), string(last.JSON()), defaultLatestTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write %d records for %s: %w", len(records), symbol, err)
	}
	return nil
}

// SaveSnapshotJSON stores an encoded smoothing state. Snapshots expire after
// a day; SQLite holds the durable copy.
func (w *Writer) SaveSnapshotJSON(ctx context.Context, symbol string, data []byte) error {
	if err := w.client.Set(ctx, SnapshotKey(symbol), string(data), defaultSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", symbol, err)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
