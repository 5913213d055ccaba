package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/pipeline"
	"signal-systemv1/internal/signal"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *Writer, *Reader) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := WriterConfig{Addr: mr.Addr()}
	w, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })
	r, err := NewReader(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })
	return mr, w, r
}

func testRecords(t *testing.T, symbol string) []model.Record {
	t.Helper()
	closes := []float64{100, 102, 101, 103, 105, 104}
	ts := make([]time.Time, len(closes))
	t0 := time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)
	for i := range ts {
		ts[i] = t0.Add(time.Duration(i) * time.Hour)
	}
	recs, err := pipeline.RunBatch(model.NewSeries(symbol, ts, closes), 3, signal.DefaultThresholds())
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestKeys(t *testing.T) {
	tests := []struct{ got, want string }{
		{StreamKey("AAPL"), "rsi:AAPL"},
		{LatestKey("AAPL"), "rsi:latest:AAPL"},
		{PubSubChannel("AAPL"), "pub:rsi:AAPL"},
		{SnapshotKey("AAPL"), "rsi:snapshot:AAPL"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("key = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestWriteRecords_StreamAndLatest(t *testing.T) {
	mr, w, r := newTestStore(t)
	ctx := context.Background()
	recs := testRecords(t, "AAPL")

	if err := w.WriteRecords(ctx, "AAPL", recs); err != nil {
		t.Fatal(err)
	}

	// only defined-RSI records are streamed
	var defined int
	for _, rec := range recs {
		if rec.RSI != nil {
			defined++
		}
	}
	entries, err := mr.Stream(StreamKey("AAPL"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != defined || defined != 3 {
		t.Fatalf("stream has %d entries, want %d", len(entries), defined)
	}

	if ttl := mr.TTL(LatestKey("AAPL")); ttl != defaultLatestTTL {
		t.Errorf("latest TTL = %v, want %v", ttl, defaultLatestTTL)
	}
	last := recs[len(recs)-1]
	got, ok, err := r.ReadLatest(ctx, "AAPL")
	if err != nil || !ok {
		t.Fatalf("ReadLatest = %v, %v", ok, err)
	}
	wantRSI, _ := last.RSIValue()
	gotRSI, defined2 := got.RSIValue()
	if !got.TS.Equal(last.TS) || got.Close != last.Close || got.Signal != last.Signal || !defined2 || gotRSI != wantRSI {
		t.Errorf("ReadLatest = %+v, want %+v", got, last)
	}

	recent, err := r.ReadRecent(ctx, "AAPL", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || !recent[0].TS.Equal(recs[4].TS) || !recent[1].TS.Equal(last.TS) {
		t.Errorf("ReadRecent = %+v", recent)
	}
}

func TestReadLatest_Missing(t *testing.T) {
	_, _, r := newTestStore(t)
	if _, ok, err := r.ReadLatest(context.Background(), "NONE"); ok || err != nil {
		t.Errorf("missing latest: ok=%v err=%v", ok, err)
	}
	if data, err := r.ReadLatestSnapshotJSON(context.Background(), "NONE"); data != nil || err != nil {
		t.Errorf("missing snapshot: %q, %v", data, err)
	}
}

func TestReadLatest_Malformed(t *testing.T) {
	mr, _, r := newTestStore(t)
	if err := mr.Set(LatestKey("BAD"), "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := r.ReadLatest(context.Background(), "BAD"); ok || err == nil {
		t.Errorf("malformed latest: ok=%v err=%v", ok, err)
	}
}

func TestWriteRecords_Publishes(t *testing.T) {
	_, w, r := newTestStore(t)
	ctx := context.Background()
	sub := r.client.Subscribe(ctx, PubSubChannel("MSFT"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil { // subscription confirmation
		t.Fatal(err)
	}

	recs := testRecords(t, "MSFT")
	if err := w.WriteRecords(ctx, "MSFT", recs); err != nil {
		t.Fatal(err)
	}

	ch := sub.Channel()
	for i := range recs {
		select {
		case msg := <-ch:
			var got model.Record
			if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
				t.Fatal(err)
			}
			if !got.TS.Equal(recs[i].TS) || got.Symbol != "MSFT" {
				t.Errorf("message %d = %+v, want ts %v", i, got, recs[i].TS)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d messages", i, len(recs))
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	mr, w, r := newTestStore(t)
	ctx := context.Background()

	rsi, err := indicator.NewRSI(3)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range testRecords(t, "AAPL") {
		if _, err := rsi.Append(model.PricePoint{TS: rec.TS, Close: rec.Close}); err != nil {
			t.Fatal(err)
		}
	}
	st := rsi.Snapshot()
	data, err := indicator.MarshalState(st)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SaveSnapshotJSON(ctx, "AAPL", data); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(SnapshotKey("AAPL")); ttl != defaultSnapshotTTL {
		t.Errorf("snapshot TTL = %v", ttl)
	}

	back, err := r.ReadLatestSnapshotJSON(ctx, "AAPL")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Fatalf("snapshot bytes changed: %s vs %s", back, data)
	}
	restored, err := indicator.UnmarshalState(back)
	if err != nil {
		t.Fatal(err)
	}
	again, _ := indicator.MarshalState(restored)
	if !bytes.Equal(again, data) {
		t.Errorf("decoded state %s, want %s", again, data)
	}
}

func TestReader_ServerDown(t *testing.T) {
	mr, _, r := newTestStore(t)
	mr.Close()
	if _, ok, err := r.ReadLatest(context.Background(), "AAPL"); ok || err == nil {
		t.Errorf("server down: ok=%v err=%v", ok, err)
	}
}
