package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"signal-systemv1/internal/model"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (r *recordingNotifier) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func rec(symbol string, sig model.Signal, rsi float64) model.Record {
	return model.Record{Symbol: symbol, TS: time.Unix(1700000000, 0), Close: 101.25, RSI: &rsi, Signal: sig, Reason: "test"}
}

func TestSignalWatcher_FiresOnTransitionsOnly(t *testing.T) {
	sink := &recordingNotifier{}
	w := NewSignalWatcher(sink)
	ctx := context.Background()

	steps := []struct {
		r    model.Record
		fire bool
	}{
		{rec("AAPL", model.Hold, 50), false}, // first Hold is silent
		{rec("AAPL", model.Hold, 45), false},
		{rec("AAPL", model.Buy, 25), true},
		{rec("AAPL", model.Buy, 22), false},
		{rec("MSFT", model.Sell, 80), true}, // first non-Hold fires
		{rec("AAPL", model.Hold, 40), true},
		{rec("AAPL", model.Sell, 75), true},
	}
	for i, s := range steps {
		fired, err := w.Observe(ctx, s.r)
		if err != nil {
			t.Fatal(err)
		}
		if fired != s.fire {
			t.Errorf("step %d (%s %v): fired=%v, want %v", i, s.r.Symbol, s.r.Signal, fired, s.fire)
		}
	}
	if len(sink.alerts) != 4 {
		t.Fatalf("expected 4 alerts, got %d", len(sink.alerts))
	}
	a := sink.alerts[0]
	if a.Symbol != "AAPL" || a.Signal != model.Buy || a.Level != AlertWarning || !strings.Contains(a.Message, "HOLD → BUY") {
		t.Errorf("unexpected alert: %+v", a)
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("boom")}
	err := Multi{ok, bad}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.alerts) != 1 || len(bad.alerts) != 1 {
		t.Error("every notifier should receive the alert")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	if err := n.Send(context.Background(), TransitionAlert(rec("NVDA", model.Sell, 81), model.Hold)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, `"symbol":"NVDA"`) || !strings.Contains(out, `"signal":"SELL"`) {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	if err := n.Send(context.Background(), TransitionAlert(rec("AAPL", model.Buy, 28), model.Hold)); err != nil {
		t.Fatal(err)
	}
	if got["symbol"] != "AAPL" || got["signal"] != "BUY" || got["rsi"] != 28.0 {
		t.Errorf("unexpected payload: %v", got)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fail.Close()
	if err := NewWebhookNotifier(fail.URL).Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error on 502")
	}
}

func TestTelegramNotifier(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "42")
	n.baseURL = srv.URL
	if err := n.Send(context.Background(), Alert{Title: "AAPL BUY", Message: "RSI 25.31 < oversold 30.00", Signal: model.Buy}); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	text, _ := body["text"].(string)
	if body["chat_id"] != "42" || !strings.Contains(text, `25\.31`) {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("RSI 70.5 (SELL)!"); got != `RSI 70\.5 \(SELL\)\!` {
		t.Errorf("escapeMarkdown = %q", got)
	}
}
