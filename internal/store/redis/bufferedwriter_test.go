package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

type fakeSink struct {
	mu     sync.Mutex
	fail   bool
	writes []string // symbol per successful write
	closed bool
}

func (f *fakeSink) WriteRecords(_ context.Context, symbol string, _ []model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("connection refused")
	}
	f.writes = append(f.writes, symbol)
	return nil
}

func (f *fakeSink) Close() error { f.closed = true; return nil }

func (f *fakeSink) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func batch() []model.Record {
	return []model.Record{{TS: time.Unix(1700000000, 0), Close: 10, Signal: model.Hold}}
}

func TestBufferedWriter_BuffersWhileOpenAndReplaysInOrder(t *testing.T) {
	sink := &fakeSink{}
	cb, clk := newTestBreaker(2, 5*time.Second)
	bw := NewBufferedWriter(sink, cb, 0)
	buffered := 0
	bw.OnBuffer = func() { buffered++ }
	ctx := context.Background()

	if err := bw.WriteRecords(ctx, "A", batch()); err != nil {
		t.Fatal(err)
	}

	// Two failures trip the breaker; they are reported, not buffered.
	sink.setFail(true)
	for i := 0; i < 2; i++ {
		if err := bw.WriteRecords(ctx, "B", batch()); err == nil {
			t.Fatal("expected sink error to surface")
		}
	}
	if cb.CurrentState() != StateOpen {
		t.Fatalf("breaker should be open, got %v", cb.CurrentState())
	}

	for _, sym := range []string{"C", "D"} {
		if err := bw.WriteRecords(ctx, sym, batch()); err != nil {
			t.Fatalf("open circuit should buffer, got %v", err)
		}
	}
	if bw.PendingCount() != 2 || buffered != 2 {
		t.Fatalf("pending=%d buffered=%d, want 2/2", bw.PendingCount(), buffered)
	}

	sink.setFail(false)
	clk.Advance(6 * time.Second)
	if err := bw.WriteRecords(ctx, "E", batch()); err != nil {
		t.Fatal(err)
	}
	if bw.PendingCount() != 0 {
		t.Errorf("pending=%d after recovery", bw.PendingCount())
	}

	want := []string{"A", "C", "D", "E"}
	if len(sink.writes) != len(want) {
		t.Fatalf("writes = %v, want %v", sink.writes, want)
	}
	for i := range want {
		if sink.writes[i] != want[i] {
			t.Errorf("write %d = %s, want %s", i, sink.writes[i], want[i])
		}
	}
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	cb, _ := newTestBreaker(1, time.Hour)
	bw := NewBufferedWriter(sink, cb, 3)
	ctx := context.Background()

	bw.WriteRecords(ctx, "trip", batch())
	for i := 0; i < 5; i++ {
		bw.WriteRecords(ctx, "X", batch())
	}
	if bw.PendingCount() != 3 || bw.Dropped() != 2 {
		t.Errorf("pending=%d dropped=%d, want 3/2", bw.PendingCount(), bw.Dropped())
	}

	if err := bw.Close(); err != nil {
		t.Fatal(err)
	}
	if !sink.closed {
		t.Error("Close should close the underlying sink")
	}
}

func TestKeysBufferedWriter(t *testing.T) {
	if StreamKey("AAPL") != "rsi:AAPL" || LatestKey("AAPL") != "rsi:latest:AAPL" ||
		PubSubChannel("AAPL") != "pub:rsi:AAPL" || SnapshotKey("AAPL") != "rsi:snapshot:AAPL" {
		t.Error("unexpected key layout")
	}
}
