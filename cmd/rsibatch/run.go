package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-systemv1/config"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/marketdata/yahoo"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/pipeline"
	"signal-systemv1/internal/store/csvfile"
	redisstore "signal-systemv1/internal/store/redis"
	sqlitestore "signal-systemv1/internal/store/sqlite"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

// tickerOutcome is one row of the summary.
type tickerOutcome struct {
	symbol  string
	points  int
	last    model.Record
	hasLast bool
	output  string
	err     error
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) int {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration rejected: %v\n", err)
		return exitConfig
	}
	if opts.source != "" {
		cfg.Source = opts.source
	}
	if opts.tickers != "" {
		cfg.Tickers = strings.Split(opts.tickers, ",")
	}
	outDir := opts.outDir
	if outDir == "" {
		outDir = cfg.MarketDataBasePath
	}

	log := logger.InitTo(stderr, "rsibatch", cfg.SlogLevel())

	pcfg := cfg.Pipeline()
	if err := pcfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "configuration rejected: %v\n", err)
		return exitConfig
	}
	from, to, err := window(opts, cfg.Lookback(), time.Now().UTC())
	if err != nil {
		fmt.Fprintf(stderr, "configuration rejected: %v\n", err)
		return exitConfig
	}

	src, closeSrc, err := openSource(cfg, opts.input)
	if err != nil {
		fmt.Fprintf(stderr, "price source: %v\n", err)
		return exitConfig
	}
	defer closeSrc()

	var sqlWriter *sqlitestore.Writer
	if opts.toSQLite && cfg.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			fmt.Fprintf(stderr, "sqlite: %v\n", err)
			return exitConfig
		}
		if sqlWriter, err = sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath}); err != nil {
			fmt.Fprintf(stderr, "sqlite: %v\n", err)
			return exitConfig
		}
		defer sqlWriter.Close()
	}

	symbols := cfg.Symbols()
	log.Info("batch starting",
		slog.Any("symbols", symbols),
		slog.String("source", cfg.Source),
		slog.Int("period", pcfg.Period),
		slog.Time("from", from),
		slog.Time("to", to),
	)

	// fetch
	series := make([]model.PriceSeries, len(symbols))
	fetchErrs := make([]error, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Concurrency > 0 {
		g.SetLimit(cfg.Concurrency)
	}
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			s, err := src.FetchSeries(gctx, model.SeriesRequest{Symbol: sym, Interval: cfg.CollectInterval, From: from, To: to})
			s.Symbol = sym
			series[i], fetchErrs[i] = s, err
			return nil
		})
	}
	_ = g.Wait()

	if opts.savePrices {
		savePrices(ctx, log, cfg, sqlWriter, series, fetchErrs, to)
	}

	// compute
	var fetched []model.PriceSeries
	outcomes := make(map[string]*tickerOutcome, len(symbols))
	for i, sym := range symbols {
		outcomes[sym] = &tickerOutcome{symbol: sym, points: series[i].Len()}
		if fetchErrs[i] != nil {
			outcomes[sym].err = fmt.Errorf("fetch: %w", fetchErrs[i])
			continue
		}
		fetched = append(fetched, series[i])
	}
	results, err := pipeline.RunBatchMany(ctx, pcfg, fetched, cfg.Concurrency)
	if err != nil {
		fmt.Fprintf(stderr, "batch aborted: %v\n", err)
		return exitFailed
	}

	// write
	csvSink := csvfile.NewSink(outDir, cfg.BaseDataFileName, to)
	extra := map[string]model.RecordSink{}
	if sqlWriter != nil {
		extra["sqlite"] = sqlWriter
	}
	if opts.toRedis && cfg.RedisAddr != "" {
		rw, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			log.Warn("redis unavailable, skipping", slog.Any("error", err))
		} else {
			defer rw.Close()
			extra["redis"] = rw
		}
	}

	for _, res := range results {
		out := outcomes[res.Symbol]
		if res.Err != nil {
			out.err = res.Err
			continue
		}
		if n := len(res.Records); n > 0 {
			out.last, out.hasLast = res.Records[n-1], true
		}
		if err := csvSink.WriteRecords(ctx, res.Symbol, res.Records); err != nil {
			out.err = fmt.Errorf("write csv: %w", err)
			continue
		}
		out.output = csvSink.PathFor(res.Symbol)
		for name, sink := range extra {
			if err := sink.WriteRecords(ctx, res.Symbol, res.Records); err != nil {
				log.Warn("sink write failed", slog.String("sink", name), slog.String("symbol", res.Symbol), slog.Any("error", err))
			}
		}
	}

	ordered := make([]*tickerOutcome, len(symbols))
	failed := 0
	for i, sym := range symbols {
		ordered[i] = outcomes[sym]
		if ordered[i].err != nil {
			failed++
		}
	}
	printSummary(stdout, ordered, pcfg)

	if failed > 0 {
		return exitFailed
	}
	return exitOK
}

// window resolves --from/--to. --to is inclusive of the whole day.
func window(opts options, lookback time.Duration, now time.Time) (from, to time.Time, err error) {
	to = now
	if opts.to != "" {
		d, err := time.Parse("2006-01-02", opts.to)
		if err != nil {
			return from, to, fmt.Errorf("--to: %w", err)
		}
		to = d.Add(24*time.Hour - time.Second)
	}
	from = to.Add(-lookback)
	if opts.from != "" {
		if from, err = time.Parse("2006-01-02", opts.from); err != nil {
			return from, to, fmt.Errorf("--from: %w", err)
		}
	}
	if from.After(to) {
		return from, to, errors.New("--from is after --to")
	}
	return from, to, nil
}

func openSource(cfg *config.Config, input string) (model.PriceSource, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Source) {
	case "yahoo", "":
		return yahoo.New(yahoo.Config{
			BaseURL:         cfg.YahooBaseURL,
			RatePerSec:      cfg.YahooRatePerSec,
			DefaultLookback: cfg.Lookback(),
			DefaultInterval: cfg.CollectInterval,
		}), noop, nil
	case "csv":
		if input != "" {
			return csvfile.StaticSource(input), noop, nil
		}
		return csvfile.NewSource(cfg.MarketDataBasePath, cfg.BaseDataFileName), noop, nil
	case "sqlite":
		r, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return r, func() { r.Close() }, nil
	default:
		return nil, noop, fmt.Errorf("unknown source %q (want yahoo, csv or sqlite)", cfg.Source)
	}
}

// savePrices writes the fetched series in the download layout, and to SQLite
// when a writer is open.
func savePrices(ctx context.Context, log *slog.Logger, cfg *config.Config, sqlWriter *sqlitestore.Writer, series []model.PriceSeries, errs []error, day time.Time) {
	for i, s := range series {
		if errs[i] != nil || s.Len() == 0 {
			continue
		}
		path := csvfile.FilePath(cfg.MarketDataBasePath, cfg.BaseDataFileName, s.Symbol, day, "")
		if err := writePriceFile(path, s); err != nil {
			log.Warn("save prices failed", slog.String("symbol", s.Symbol), slog.Any("error", err))
		}
		if sqlWriter != nil {
			if err := sqlWriter.WritePrices(ctx, s); err != nil {
				log.Warn("save prices to sqlite failed", slog.String("symbol", s.Symbol), slog.Any("error", err))
			}
		}
	}
}

func writePriceFile(path string, s model.PriceSeries) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := csvfile.WritePrices(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, outcomes []*tickerOutcome, pcfg pipeline.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║               RSI BATCH COMPLETE                   ║")
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Period: %-4d Oversold: %-6.2f Overbought: %-6.2f  ║\n",
		pcfg.Period, pcfg.Thresholds.Oversold, pcfg.Thresholds.Overbought)
	fmt.Fprintln(w, "╠════════════════════════════════════════════════════╣")
	for _, o := range outcomes {
		switch {
		case o.err != nil:
			fmt.Fprintf(w, "║  %-8s %6d pts   %-28s  ║\n", o.symbol, o.points, "FAILED")
		case !o.hasLast:
			fmt.Fprintf(w, "║  %-8s %6d pts   %-28s  ║\n", o.symbol, o.points, "no data")
		default:
			rsi := "   n/a"
			if v, ok := o.last.RSIValue(); ok {
				rsi = fmt.Sprintf("%6.2f", v)
			}
			fmt.Fprintf(w, "║  %-8s %6d pts   RSI %s  %-16s  ║\n", o.symbol, o.points, rsi, o.last.Signal)
		}
	}
	fmt.Fprintln(w, "╚════════════════════════════════════════════════════╝")

	for _, o := range outcomes {
		if o.err != nil {
			fmt.Fprintf(w, "  ✗ %s: %s\n", o.symbol, describe(o.err))
		} else if o.output != "" {
			fmt.Fprintf(w, "  ✓ %s → %s\n", o.symbol, o.output)
		}
	}
}

// describe names the failing check and, for input errors, the offending point.
func describe(err error) string {
	var ie *model.InputError
	if errors.As(err, &ie) {
		return fmt.Sprintf("rejected point %d (ts %s, close %v): %s",
			ie.Index, ie.TS.UTC().Format(csvfile.TimeLayout), ie.Value, ie.Reason)
	}
	var pe *model.ParameterError
	if errors.As(err, &pe) {
		return fmt.Sprintf("bad parameter %s=%v: %s", pe.Name, pe.Value, pe.Reason)
	}
	return err.Error()
}
