package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"signal-systemv1/internal/model"
)

type instrument struct {
	Symbol string
	Price  float64
}

// client is one connected feed consumer.
type client struct {
	send chan []byte

	mu     sync.RWMutex
	filter map[string]bool // nil = all symbols
}

func (c *client) wants(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter == nil || c.filter[symbol]
}

func (c *client) subscribe(symbols []string) {
	f := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		f[s] = true
	}
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

type hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func newHub(log *slog.Logger) *hub {
	return &hub{log: log, clients: make(map[*client]struct{})}
}

func (h *hub) register() *client {
	c := &client{send: make(chan []byte, 256)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) broadcast(symbol string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(symbol) {
			continue
		}
		select {
		case c.send <- msg:
		default: // slow client
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

type controlMsg struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", slog.Any("error", err))
		return
	}
	h.log.Info("client connected", slog.String("remote", r.RemoteAddr))

	c := h.register()
	defer func() {
		h.unregister(c)
		conn.Close()
		h.log.Info("client disconnected", slog.String("remote", r.RemoteAddr))
	}()

	// Read pump: subscriptions only.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				h.unregister(c)
				return
			}
			var m controlMsg
			if json.Unmarshal(data, &m) == nil && m.Action == "subscribe" {
				c.subscribe(m.Symbols)
				h.log.Debug("subscribed", slog.String("remote", r.RemoteAddr), slog.Any("symbols", m.Symbols))
			}
		}
	}()

	for msg := range c.send {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// generator random-walks each instrument's close.
type generator struct {
	rng         *rand.Rand
	instruments []instrument
}

func newGenerator(instruments []instrument, seed int64) *generator {
	return &generator{rng: rand.New(rand.NewSource(seed)), instruments: instruments}
}

// step moves every price by up to ±0.5% and returns the new ticks.
func (g *generator) step(now time.Time) []model.Tick {
	out := make([]model.Tick, len(g.instruments))
	for i := range g.instruments {
		pct := (g.rng.Float64() - 0.5) / 100
		p := g.instruments[i].Price * (1 + pct)
		if p < 0.01 {
			p = 0.01
		}
		g.instruments[i].Price = p
		out[i] = model.Tick{Symbol: g.instruments[i].Symbol, TS: now, Close: p}
	}
	return out
}

func (g *generator) run(ctx context.Context, h *hub, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if h.count() == 0 {
				continue
			}
			for _, tick := range g.step(now.UTC()) {
				b, err := json.Marshal(tick)
				if err != nil {
					continue
				}
				h.broadcast(tick.Symbol, b)
			}
		}
	}
}

func parseInstruments(s string) ([]instrument, error) {
	var out []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, price, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("%q: want SYMBOL:PRICE", part)
		}
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("%q: start price must be a positive number", part)
		}
		out = append(out, instrument{Symbol: strings.ToUpper(strings.TrimSpace(sym)), Price: p})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no symbols")
	}
	return out, nil
}
