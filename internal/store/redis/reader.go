package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-systemv1/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Reader reads records and snapshots written by Writer.
// It implements model.SnapshotReader.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg WriterConfig) (*Reader, error) {
	client := newClient(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis reader connected", slog.String("addr", cfg.Addr))
	return &Reader{client: client}, nil
}

// ReadLatest returns the most recent record for symbol. ok is false if the
// key is missing or expired.
func (r *Reader) ReadLatest(ctx context.Context, symbol string) (model.Record, bool, error) {
	data, err := r.client.Get(ctx, LatestKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return model.Record{}, false, nil
		}
		return model.Record{}, false, fmt.Errorf("redis get latest %s: %w", symbol, err)
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.Record{}, false, fmt.Errorf("unmarshal record: %w", err)
	}
	return rec, true, nil
}

// ReadRecent returns up to n of the newest streamed records, oldest first.
func (r *Reader) ReadRecent(ctx context.Context, symbol string, n int64) ([]model.Record, error) {
	msgs, err := r.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", StreamKey(symbol), err)
	}
	out := make([]model.Record, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		data, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			slog.Warn("redis skipping malformed record", slog.String("id", msgs[i].ID), slog.Any("error", err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadLatestSnapshotJSON loads the stored smoothing state for symbol.
// Returns nil, nil if none exists.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context, symbol string) ([]byte, error) {
	data, err := r.client.Get(ctx, SnapshotKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", symbol, err)
	}
	return data, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
