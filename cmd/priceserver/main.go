// cmd/priceserver is a demo WebSocket price feed for running rsistream in
// ws mode without a real market data provider.
//
// Each message is a model.Tick:
//
//	{"symbol":"AAPL","ts":"2025-01-01T14:00:00Z","close":187.42}
//
// A client may send {"action":"subscribe","symbols":["AAPL"]} to receive
// only those symbols; until it does it receives every symbol.
//
// Usage:
//
//	go run ./cmd/priceserver --addr=:9001 --symbols=AAPL:187.5,MSFT:410 --interval=1s
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"signal-systemv1/internal/logger"
)

func main() {
	addr := flag.String("addr", ":9001", "Listen address")
	symbols := flag.String("symbols", "AAPL:187.50,MSFT:410.00", "Comma-separated SYMBOL:START_PRICE pairs")
	interval := flag.Duration("interval", time.Second, "Broadcast interval")
	seed := flag.Int64("seed", 0, "Random walk seed (0 = time based)")
	level := flag.String("log-level", "info", "debug | info | warn | error")
	flag.Parse()

	log := logger.Init("priceserver", logger.ParseLevel(*level))

	instruments, err := parseInstruments(*symbols)
	if err != nil {
		log.Error("bad --symbols", slog.Any("error", err))
		os.Exit(2)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := newHub(log)
	gen := newGenerator(instruments, *seed)
	go gen.run(ctx, h, *interval)

	r := chi.NewRouter()
	r.Get("/ws", h.serveWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"priceserver"}`))
	})

	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer shutCancel()
		srv.Shutdown(shutCtx)
	}()

	log.Info("listening",
		slog.String("addr", *addr),
		slog.Int("symbols", len(instruments)),
		slog.Duration("interval", *interval),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
