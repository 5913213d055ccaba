// Package ws streams closing prices from a websocket server for incremental
// RSI updates.
//
// Each text frame carries one price as JSON:
//
//	{"symbol":"AAPL","ts":"2025-03-03T14:30:00Z","close":241.5}
//
// After connecting, the feed sends {"action":"subscribe","symbols":[...]} when
// symbols are configured. The server is free to ignore it.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"signal-systemv1/internal/model"
)

// Config holds the feed endpoint and reconnect policy.
type Config struct {
	// URL of the price server, e.g. "ws://localhost:9001/ws".
	URL     string
	Symbols []string

	// ReconnectDelay is the first backoff step. Defaults to 2s.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

type subscribeMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// Feed reads ticks from one websocket endpoint, reconnecting on failure.
type Feed struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger

	// OnConnect is called after each successful dial.
	OnConnect func()
	// OnReconnect is called after each lost connection, before the backoff.
	OnReconnect func()
}

// New validates the URL and returns a Feed.
func New(cfg Config, log *slog.Logger) (*Feed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("ws feed: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws feed: unsupported scheme %q", u.Scheme)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Feed{cfg: cfg, dialer: websocket.DefaultDialer, log: log}, nil
}

// Run streams ticks into out until ctx is cancelled. Delivery blocks when out
// is full so no price is silently skipped. Run returns nil on cancellation.
func (f *Feed) Run(ctx context.Context, out chan<- model.Tick) error {
	delay := f.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		connected, err := f.runOnce(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		f.log.Warn("ws disconnected, reconnecting",
			slog.String("url", f.cfg.URL),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes one connection and reads until it drops. connected reports
// whether the dial succeeded.
func (f *Feed) runOnce(ctx context.Context, out chan<- model.Tick) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	f.log.Info("ws connected", slog.String("url", f.cfg.URL))
	if f.OnConnect != nil {
		f.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if len(f.cfg.Symbols) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Action: "subscribe", Symbols: f.cfg.Symbols}); err != nil {
			return true, fmt.Errorf("subscribe: %w", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		tick, err := parseTick(raw)
		if err != nil {
			f.log.Warn("ws skipping message", slog.Any("error", err), slog.String("raw", string(raw)))
			continue
		}
		select {
		case out <- tick:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

var errNoSymbol = errors.New("missing symbol")

func parseTick(raw []byte) (model.Tick, error) {
	var t model.Tick
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, err
	}
	if t.Symbol == "" {
		return t, errNoSymbol
	}
	if t.TS.IsZero() {
		t.TS = time.Now().UTC()
	}
	return t, nil
}
