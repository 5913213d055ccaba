package main

import (
	"context"
	"database/sql"

	goredis "github.com/go-redis/redis/v8"

	"signal-systemv1/internal/model"
	redisstore "signal-systemv1/internal/store/redis"
	sqlitestore "signal-systemv1/internal/store/sqlite"
)

// chanSink hands records to the SQLite batch writer's Run loop.
type chanSink chan model.Record

func (c chanSink) WriteRecords(ctx context.Context, _ string, records []model.Record) error {
	for _, r := range records {
		select {
		case c <- r:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close is a no-op; the channel is closed once the streamer has drained.
func (c chanSink) Close() error { return nil }

func redisClient(w *redisstore.Writer) *goredis.Client {
	if w == nil {
		return nil
	}
	return w.Client()
}

func sqlHandle(w *sqlitestore.Writer) *sql.DB {
	if w == nil {
		return nil
	}
	return w.DB()
}
