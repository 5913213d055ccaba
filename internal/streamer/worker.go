package streamer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/logger"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/pipeline"
)

// worker owns one symbol's handle. All access to the handle goes through
// the run loop; other goroutines submit closures on reqs.
type worker struct {
	svc    *Service
	symbol string
	h      *pipeline.Handle

	ticks chan model.PricePoint
	reqs  chan func(*pipeline.Handle)
	done  chan struct{}
}

func newWorker(svc *Service, h *pipeline.Handle) *worker {
	return &worker{
		svc:    svc,
		symbol: h.Symbol(),
		h:      h,
		ticks:  make(chan model.PricePoint, 256),
		reqs:   make(chan func(*pipeline.Handle)),
		done:   make(chan struct{}),
	}
}

func (w *worker) run(ctx context.Context) error {
	defer close(w.done)

	var pollC <-chan time.Time
	if w.svc.deps.Source != nil {
		w.poll(ctx)
		ticker := time.NewTicker(w.svc.opts.RunInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-w.ticks:
			w.append(ctx, p)
		case <-pollC:
			w.poll(ctx)
		case fn := <-w.reqs:
			fn(w.h)
		}
	}
}

// poll fetches recent prices and appends the ones newer than the last seen
// timestamp. A partial series from a failing provider is still consumed.
func (w *worker) poll(ctx context.Context) {
	src := w.svc.deps.Source
	m := w.svc.deps.Metrics

	from := w.h.LastTS()
	if from.IsZero() {
		from = time.Now().Add(-w.svc.opts.Lookback)
	}
	start := time.Now()
	series, err := src.FetchSeries(ctx, model.SeriesRequest{
		Symbol:   w.symbol,
		Interval: w.svc.opts.Interval,
		From:     from,
	})
	if m != nil {
		m.FetchDur.WithLabelValues(sourceLabel).Observe(time.Since(start).Seconds())
	}
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return
	case errors.Is(err, model.ErrNoData):
		w.svc.log.Debug("no new prices", slog.String("symbol", w.symbol))
		return
	default:
		if m != nil {
			m.FetchFailures.WithLabelValues(sourceLabel).Inc()
		}
		w.svc.log.Warn("fetch failed",
			slog.String("symbol", w.symbol),
			slog.Int("partial_points", series.Len()),
			slog.Any("error", err),
		)
	}

	fresh := model.SanitizeSeries(series).After(w.h.LastTS())
	for _, p := range fresh.Points {
		w.append(ctx, p)
	}
}

const sourceLabel = "poll"

// append feeds one point to the handle. Rejected points are logged and
// skipped; the stream carries on.
func (w *worker) append(ctx context.Context, p model.PricePoint) {
	m := w.svc.deps.Metrics
	start := time.Now()
	rec, err := w.h.Append(p)
	if m != nil {
		m.ComputeDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if m != nil {
			m.InputRejected.Inc()
		}
		w.svc.log.Warn("price rejected",
			slog.String("symbol", w.symbol),
			slog.Time("ts", p.TS),
			slog.Float64("close", p.Close),
			slog.Any("error", err),
		)
		return
	}

	m.ObserveRecord("stream", rec)
	if hs := w.svc.deps.Health; hs != nil {
		hs.MarkPrice(w.symbol, rec.TS)
	}
	if rec.Signal != model.Hold {
		tctx := logger.WithTraceID(ctx, logger.GenerateTraceID(w.symbol, rec.TS))
		w.svc.log.Info("signal",
			append(logger.LogWithTrace(tctx),
				slog.String("symbol", w.symbol),
				slog.String("signal", rec.Signal.String()),
				slog.String("reason", rec.Reason),
			)...,
		)
	}

	select {
	case w.svc.recCh <- rec:
	case <-ctx.Done():
	}
}

var errWorkerStopped = errors.New("streamer: worker stopped")

// do runs fn on the worker goroutine and waits for it.
func (w *worker) do(ctx context.Context, fn func(*pipeline.Handle)) error {
	finished := make(chan struct{})
	wrapped := func(h *pipeline.Handle) {
		fn(h)
		close(finished)
	}
	select {
	case w.reqs <- wrapped:
	case <-w.done:
		return errWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (w *worker) snapshot(ctx context.Context) (indicator.SmoothingState, error) {
	var st indicator.SmoothingState
	err := w.do(ctx, func(h *pipeline.Handle) { st = h.Snapshot() })
	return st, err
}

func (w *worker) latest(ctx context.Context) (model.Record, bool, error) {
	var (
		rec model.Record
		ok  bool
	)
	err := w.do(ctx, func(h *pipeline.Handle) { rec, ok = h.Last() })
	return rec, ok, err
}

func (w *worker) peek(ctx context.Context, close float64) (model.Record, error) {
	var (
		rec  model.Record
		perr error
	)
	if err := w.do(ctx, func(h *pipeline.Handle) { rec, perr = h.Peek(close) }); err != nil {
		return model.Record{}, err
	}
	return rec, perr
}
