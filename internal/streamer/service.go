// Package streamer keeps RSI signals current for a set of symbols.
//
// Every symbol gets one incremental pipeline handle owned by one goroutine.
// Prices arrive either by polling a PriceSource every run interval or as
// pushed ticks (websocket feed or replay). Records are fanned out to the
// configured sinks and to the signal notifier, and smoothing state is
// checkpointed periodically so a restart resumes where it stopped.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/marketdata/bus"
	"signal-systemv1/internal/metrics"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/notification"
	"signal-systemv1/internal/pipeline"
)

// ErrUnknownSymbol is returned for symbols the service does not track.
var ErrUnknownSymbol = errors.New("streamer: unknown symbol")

// ErrNotRunning is returned by queries made before Run starts the workers
// or after it stops them.
var ErrNotRunning = errors.New("streamer: not running")

// LatestReader serves the last stored record when a handle has not produced
// one yet, e.g. right after a restore. The Redis reader implements it.
type LatestReader interface {
	ReadLatest(ctx context.Context, symbol string) (model.Record, bool, error)
}

// HistoryReader serves stored records newer than a timestamp. The SQLite
// reader implements it.
type HistoryReader interface {
	ReadRecords(ctx context.Context, symbol string, after time.Time) ([]model.Record, error)
}

// Options are the service's tunables.
type Options struct {
	Symbols  []string
	Pipeline pipeline.Config

	// Interval is the provider sampling interval passed to the source.
	Interval string
	// RunInterval is the poll period. Ignored in push mode.
	RunInterval time.Duration
	// Lookback bounds the first poll of a symbol with no restored state.
	Lookback         time.Duration
	SnapshotInterval time.Duration
	// SinkBuffer is the per-sink channel size of the record fan-out.
	SinkBuffer int
}

// Deps are the collaborators wired in by the binary. Only one of Source and
// Ticks is normally set; everything else is optional.
type Deps struct {
	Source model.PriceSource
	Ticks  <-chan model.Tick

	Sinks     map[string]model.RecordSink
	Snapshots []model.SnapshotWriter
	// Restore is tried in order; the first reader holding state wins.
	Restore []model.SnapshotReader
	Latest  LatestReader
	History HistoryReader

	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Log      *slog.Logger
}

// Service runs the per-symbol workers.
type Service struct {
	opts Options
	deps Deps
	log  *slog.Logger

	workers map[string]*worker
	recCh   chan model.Record
	fan     *bus.FanOut

	mu      sync.RWMutex
	running bool
}

// New validates opts and builds a Service. Handles are created in Run.
func New(opts Options, deps Deps) (*Service, error) {
	if len(opts.Symbols) == 0 {
		return nil, errors.New("streamer: no symbols configured")
	}
	if err := opts.Pipeline.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil && deps.Ticks == nil {
		return nil, errors.New("streamer: need a price source or a tick feed")
	}
	if opts.RunInterval <= 0 {
		opts.RunInterval = time.Minute
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 30 * time.Second
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 7 * 24 * time.Hour
	}
	if opts.SinkBuffer <= 0 {
		opts.SinkBuffer = 1024
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	svc := &Service{
		opts:    opts,
		deps:    deps,
		log:     deps.Log,
		workers: make(map[string]*worker, len(opts.Symbols)),
		recCh:   make(chan model.Record, opts.SinkBuffer),
		fan:     bus.New(opts.SinkBuffer),
	}
	if deps.Metrics != nil {
		svc.fan.OnDrop = func(name string) {
			deps.Metrics.FanoutDropsTotal.WithLabelValues(name).Inc()
		}
	}
	return svc, nil
}

// Run restores state, starts every worker and blocks until ctx is cancelled.
// On the way out it drains the sinks and saves a final checkpoint.
func (svc *Service) Run(ctx context.Context) error {
	if err := svc.openHandles(ctx); err != nil {
		return err
	}
	if m := svc.deps.Metrics; m != nil {
		m.ActiveSymbols.Set(float64(len(svc.workers)))
	}

	// Sinks keep draining after ctx is cancelled so buffered records land.
	drainCtx := context.WithoutCancel(ctx)
	var consumers sync.WaitGroup
	svc.startConsumers(drainCtx, &consumers)
	fanDone := make(chan struct{})
	go func() {
		svc.fan.Run(drainCtx, svc.recCh)
		close(fanDone)
	}()

	svc.mu.Lock()
	svc.running = true
	svc.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range svc.workers {
		w := w
		g.Go(func() error { return w.run(gctx) })
	}
	if svc.deps.Ticks != nil {
		g.Go(func() error { return svc.dispatch(gctx) })
	}
	g.Go(func() error { return svc.snapshotLoop(gctx) })

	svc.log.Info("streamer running",
		slog.Any("symbols", svc.Symbols()),
		slog.Int("period", svc.opts.Pipeline.Period),
		slog.Bool("push", svc.deps.Ticks != nil),
		slog.Duration("run_interval", svc.opts.RunInterval),
	)
	err := g.Wait()

	svc.mu.Lock()
	svc.running = false
	svc.mu.Unlock()

	close(svc.recCh)
	<-fanDone
	consumers.Wait()

	shutCtx, cancel := context.WithTimeout(drainCtx, 5*time.Second)
	defer cancel()
	svc.saveAll(shutCtx, svc.stateNow())
	svc.log.Info("streamer stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openHandles restores or creates one handle per symbol.
func (svc *Service) openHandles(ctx context.Context) error {
	cfg := svc.opts.Pipeline
	for _, sym := range svc.opts.Symbols {
		if _, dup := svc.workers[sym]; dup {
			continue
		}
		h, restored := svc.restore(ctx, sym)
		if h == nil {
			var err error
			h, err = pipeline.OpenIncremental(cfg.Period, cfg.Thresholds, pipeline.WithSymbol(sym))
			if err != nil {
				return fmt.Errorf("open %s: %w", sym, err)
			}
		}
		svc.log.Info("symbol ready",
			slog.String("symbol", sym),
			slog.Bool("restored", restored),
			slog.Int("samples_seen", h.SamplesSeen()),
			slog.Time("last_ts", h.LastTS()),
		)
		svc.workers[sym] = newWorker(svc, h)
	}
	return nil
}

// restore returns a handle rebuilt from the first usable checkpoint, or nil.
// A checkpoint for another period is ignored: its averages are meaningless
// for the configured one.
func (svc *Service) restore(ctx context.Context, symbol string) (*pipeline.Handle, bool) {
	for _, r := range svc.deps.Restore {
		data, err := r.ReadLatestSnapshotJSON(ctx, symbol)
		if err != nil {
			svc.log.Warn("snapshot read failed", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		if data == nil {
			continue
		}
		st, err := indicator.UnmarshalState(data)
		if err != nil {
			svc.log.Warn("snapshot unusable", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		if st.Period != svc.opts.Pipeline.Period {
			svc.log.Warn("snapshot period mismatch, starting cold",
				slog.String("symbol", symbol),
				slog.Int("snapshot_period", st.Period),
				slog.Int("period", svc.opts.Pipeline.Period),
			)
			return nil, false
		}
		st.Symbol = symbol
		h, err := pipeline.RestoreIncremental(st, svc.opts.Pipeline.Thresholds)
		if err != nil {
			svc.log.Warn("snapshot restore failed", slog.String("symbol", symbol), slog.Any("error", err))
			continue
		}
		return h, true
	}
	return nil, false
}

// startConsumers subscribes one goroutine per sink plus the notifier.
func (svc *Service) startConsumers(ctx context.Context, wg *sync.WaitGroup) {
	names := make([]string, 0, len(svc.deps.Sinks))
	for name := range svc.deps.Sinks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		name := name
		sink := svc.deps.Sinks[name]
		ch := svc.fan.Subscribe(name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range ch {
				svc.writeSink(ctx, name, sink, rec)
			}
		}()
	}

	if svc.deps.Notifier != nil {
		watcher := notification.NewSignalWatcher(svc.deps.Notifier)
		ch := svc.fan.Subscribe("notifier")
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range ch {
				fired, err := watcher.Observe(ctx, rec)
				if !fired {
					continue
				}
				m := svc.deps.Metrics
				if err != nil {
					svc.log.Warn("signal notification failed", slog.String("symbol", rec.Symbol), slog.Any("error", err))
					if m != nil {
						m.NotificationsFailed.WithLabelValues("signal").Inc()
					}
				} else if m != nil {
					m.NotificationsSent.WithLabelValues("signal").Inc()
				}
			}
		}()
	}
}

func (svc *Service) writeSink(ctx context.Context, name string, sink model.RecordSink, rec model.Record) {
	start := time.Now()
	err := sink.WriteRecords(ctx, rec.Symbol, []model.Record{rec})
	if m := svc.deps.Metrics; m != nil {
		m.SinkWriteDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			m.SinkErrors.WithLabelValues(name).Inc()
		}
	}
	if err != nil {
		svc.log.Warn("sink write failed",
			slog.String("sink", name),
			slog.String("symbol", rec.Symbol),
			slog.Time("ts", rec.TS),
			slog.Any("error", err),
		)
	}
}

// dispatch routes pushed ticks to their symbol's worker. It returns when the
// feed closes or ctx is cancelled.
func (svc *Service) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-svc.deps.Ticks:
			if !ok {
				svc.log.Info("tick feed closed")
				return nil
			}
			w, found := svc.workers[t.Symbol]
			if !found {
				svc.log.Debug("tick for untracked symbol", slog.String("symbol", t.Symbol))
				continue
			}
			select {
			case w.ticks <- t.Point():
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (svc *Service) snapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(svc.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			states := make([]indicator.SmoothingState, 0, len(svc.workers))
			for _, w := range svc.workers {
				st, err := w.snapshot(ctx)
				if err != nil {
					return nil
				}
				states = append(states, st)
			}
			svc.saveAll(ctx, states)
			svc.reportSaturation()
		}
	}
}

func (svc *Service) reportSaturation() {
	m := svc.deps.Metrics
	if m == nil {
		return
	}
	for _, s := range svc.fan.ChannelStats() {
		if s.Cap > 0 {
			m.FanoutSaturation.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
		}
	}
}

// stateNow reads every handle directly. Only valid once workers have exited.
func (svc *Service) stateNow() []indicator.SmoothingState {
	states := make([]indicator.SmoothingState, 0, len(svc.workers))
	for _, w := range svc.workers {
		states = append(states, w.h.Snapshot())
	}
	return states
}

func (svc *Service) saveAll(ctx context.Context, states []indicator.SmoothingState) {
	if len(svc.deps.Snapshots) == 0 {
		return
	}
	saved := 0
	for _, st := range states {
		if st.SamplesSeen == 0 {
			continue
		}
		data, err := indicator.MarshalState(st)
		if err != nil {
			svc.log.Error("snapshot encode failed", slog.String("symbol", st.Symbol), slog.Any("error", err))
			continue
		}
		ok := true
		for _, sw := range svc.deps.Snapshots {
			if err := sw.SaveSnapshotJSON(ctx, st.Symbol, data); err != nil {
				ok = false
				svc.log.Warn("snapshot save failed", slog.String("symbol", st.Symbol), slog.Any("error", err))
			}
		}
		if m := svc.deps.Metrics; m != nil {
			if ok {
				m.SnapshotsSaved.Inc()
			} else {
				m.SnapshotsFailed.Inc()
			}
		}
		if ok {
			saved++
		}
	}
	if saved > 0 {
		svc.log.Debug("checkpoint saved", slog.Int("symbols", saved))
	}
}

// Symbols returns the tracked symbols, sorted.
func (svc *Service) Symbols() []string {
	out := make([]string, 0, len(svc.opts.Symbols))
	seen := make(map[string]bool, len(svc.opts.Symbols))
	for _, s := range svc.opts.Symbols {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func (svc *Service) tracks(symbol string) bool {
	for _, s := range svc.opts.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (svc *Service) worker(symbol string) (*worker, error) {
	svc.mu.RLock()
	running := svc.running
	svc.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}
	w, ok := svc.workers[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return w, nil
}

// Latest returns the most recent record for symbol. It falls back to the
// LatestReader when the handle has produced nothing since start.
func (svc *Service) Latest(ctx context.Context, symbol string) (model.Record, bool, error) {
	w, err := svc.worker(symbol)
	if err != nil {
		return model.Record{}, false, err
	}
	rec, ok, err := w.latest(ctx)
	if err != nil || ok || svc.deps.Latest == nil {
		return rec, ok, err
	}
	return svc.deps.Latest.ReadLatest(ctx, symbol)
}

// Peek returns the record a hypothetical next close would produce for
// symbol, without changing any state.
func (svc *Service) Peek(ctx context.Context, symbol string, close float64) (model.Record, error) {
	w, err := svc.worker(symbol)
	if err != nil {
		return model.Record{}, err
	}
	return w.peek(ctx, close)
}
