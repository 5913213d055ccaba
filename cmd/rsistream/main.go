// cmd/rsistream keeps RSI signals current for the configured tickers,
// polling the price source every run_interval or consuming a pushed feed.
//
// Usage:
//
//	go run ./cmd/rsistream --config=config/algo_trader.example.json
//	go run ./cmd/rsistream --mode=ws            # WS_URL price feed
//	go run ./cmd/rsistream --mode=replay --speed=100
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"signal-systemv1/config"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/marketdata/replay"
	"signal-systemv1/internal/marketdata/ws"
	"signal-systemv1/internal/marketdata/yahoo"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/store/csvfile"
	redisstore "signal-systemv1/internal/store/redis"
	sqlitestore "signal-systemv1/internal/store/sqlite"
	"signal-systemv1/internal/streamer"
)

func main() {
	configPath := flag.String("config", "", "Path to a JSON or YAML config file")
	mode := flag.String("mode", "poll", "Price input: poll | ws | replay")
	speed := flag.Float64("speed", 0, "Replay speed multiplier (0=max, 1=realtime)")
	replayFrom := flag.String("from", "", "Replay start date YYYY-MM-DD (default: all stored prices)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rsistream: %v\n", err)
		os.Exit(2)
	}
	log := logger.Init("rsistream", cfg.SlogLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, log, cfg, *mode, *speed, *replayFrom); err != nil {
		log.Error("rsistream failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Config, mode string, speed float64, replayFrom string) error {
	symbols := cfg.Symbols()
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)

	deps := streamer.Deps{
		Sinks:   map[string]model.RecordSink{},
		Metrics: prom,
		Log:     log,
	}

	// ---- SQLite ----
	var (
		sqlWriter *sqlitestore.Writer
		sqlReader *sqlitestore.Reader
	)
	if cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return err
		}
		var err error
		if sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}); err != nil {
			return err
		}
		defer sqlWriter.Close()
		if sqlReader, err = sqlitestore.NewReader(cfg.SQLitePath); err != nil {
			return err
		}
		defer sqlReader.Close()
	}

	// ---- Redis ----
	var (
		redisWriter *redisstore.Writer
		redisReader *redisstore.Reader
	)
	if cfg.RedisAddr != "" {
		rcfg := redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		var err error
		redisWriter, err = redisstore.New(rcfg)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", slog.Any("error", err))
		} else if redisReader, err = redisstore.NewReader(rcfg); err != nil {
			log.Warn("redis reader unavailable", slog.Any("error", err))
		}
	}

	// Restore prefers the fresher Redis checkpoint.
	if redisReader != nil {
		defer redisReader.Close()
		deps.Restore = append(deps.Restore, redisReader)
		deps.Latest = redisReader
	}
	if sqlReader != nil {
		deps.Restore = append(deps.Restore, sqlReader)
		deps.History = sqlReader
	}

	var sqliteDone chan struct{}
	var sqliteCh chanSink
	if sqlWriter != nil {
		sqliteCh = make(chanSink, 1024)
		sqliteDone = make(chan struct{})
		go func() {
			sqlWriter.Run(context.WithoutCancel(ctx), sqliteCh)
			close(sqliteDone)
		}()
		deps.Sinks["sqlite"] = sqliteCh
		deps.Snapshots = append(deps.Snapshots, sqlWriter)
	}
	if redisWriter != nil {
		cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", slog.String("from", from.String()), slog.String("to", to.String()))
		}
		bw := redisstore.NewBufferedWriter(redisWriter, cb, 10000)
		bw.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		defer bw.Close()
		deps.Sinks["redis"] = bw
		deps.Snapshots = append(deps.Snapshots, redisWriter)
	}

	// ---- Health ----
	health := metrics.NewHealthStatus(mode == "ws", redisWriter != nil, sqlWriter != nil)
	health.SetSQLiteOK(sqlWriter != nil)
	health.SetRedisConnected(redisWriter != nil)
	rdbClient := redisClient(redisWriter)
	sqlDB := sqlHandle(sqlWriter)
	if rdbClient != nil || sqlDB != nil {
		health.StartLivenessChecker(ctx, rdbClient, sqlDB, 10*time.Second)
	}
	deps.Health = health

	// ---- Notifications ----
	notifiers := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	deps.Notifier = notifiers

	// ---- Price input ----
	switch strings.ToLower(mode) {
	case "poll":
		src, err := pollSource(cfg, sqlReader)
		if err != nil {
			return err
		}
		deps.Source = src
	case "ws":
		if cfg.WSURL == "" {
			return errors.New("ws mode needs wsURL / WS_URL")
		}
		feed, err := ws.New(ws.Config{URL: cfg.WSURL, Symbols: symbols}, log)
		if err != nil {
			return err
		}
		feed.OnConnect = func() { health.SetFeedConnected(true) }
		feed.OnReconnect = func() {
			health.SetFeedConnected(false)
			prom.WSReconnects.Inc()
		}
		ticks := make(chan model.Tick, 1024)
		go feed.Run(ctx, ticks)
		deps.Ticks = ticks
	case "replay":
		if sqlReader == nil {
			return errors.New("replay mode needs sqlitePath")
		}
		var from time.Time
		if replayFrom != "" {
			var err error
			if from, err = time.Parse("2006-01-02", replayFrom); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
		}
		ticks := make(chan model.Tick, 1024)
		rp := replay.New(sqlReader, log)
		go func() {
			defer close(ticks)
			if err := rp.Run(ctx, symbols, from, speed, ticks); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("replay failed", slog.Any("error", err))
			}
		}()
		deps.Ticks = ticks
	default:
		return fmt.Errorf("unknown mode %q (want poll, ws or replay)", mode)
	}

	svc, err := streamer.New(streamer.Options{
		Symbols:          symbols,
		Pipeline:         cfg.Pipeline(),
		Interval:         cfg.CollectInterval,
		RunInterval:      cfg.RunInterval(),
		Lookback:         cfg.Lookback(),
		SnapshotInterval: cfg.SnapshotInterval(),
	}, deps)
	if err != nil {
		return err
	}

	// ---- HTTP ----
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           streamer.NewRouter(svc, health, metrics.Handler(prometheus.DefaultGatherer)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("http listening", slog.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", slog.Any("error", err))
		}
	}()

	log.Info("rsistream started",
		slog.Any("symbols", symbols),
		slog.String("mode", mode),
		slog.String("source", cfg.Source),
		slog.Int("period", cfg.Period),
	)

	runErr := svc.Run(ctx)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutCancel()
	srv.Shutdown(shutCtx)

	if sqliteCh != nil {
		close(sqliteCh)
		<-sqliteDone
	}
	log.Info("shutdown complete")
	return runErr
}

func pollSource(cfg *config.Config, sqlReader *sqlitestore.Reader) (model.PriceSource, error) {
	switch strings.ToLower(cfg.Source) {
	case "yahoo", "":
		return yahoo.New(yahoo.Config{
			BaseURL:         cfg.YahooBaseURL,
			RatePerSec:      cfg.YahooRatePerSec,
			DefaultLookback: cfg.Lookback(),
			DefaultInterval: cfg.CollectInterval,
		}), nil
	case "csv":
		return csvfile.NewSource(cfg.MarketDataBasePath, cfg.BaseDataFileName), nil
	case "sqlite":
		if sqlReader == nil {
			return nil, errors.New("sqlite source needs sqlitePath")
		}
		return sqlReader, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want yahoo, csv or sqlite)", cfg.Source)
	}
}
