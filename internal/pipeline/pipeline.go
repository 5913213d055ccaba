// Package pipeline chains the RSI calculator and the signal generator into
// the record stream {timestamp, close, rsi, signal}.
//
// Two modes are offered. RunBatch is a pure function over a complete series
// and is safe to call from many goroutines on independent inputs. A Handle
// (OpenIncremental) owns one running RSI state and extends it one point at a
// time; it must be used from a single goroutine. Both modes produce identical
// records for identical input.
//
// Nothing here performs I/O or logging. Sources and sinks live in the
// marketdata and store packages.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/signal"
)

// Config bundles the indicator parameters.
type Config struct {
	Period     int               `json:"period" yaml:"period"`
	Thresholds signal.Thresholds `json:"thresholds" yaml:"thresholds"`
}

// DefaultConfig returns period 14 with the 30/70 band.
func DefaultConfig() Config {
	return Config{Period: indicator.DefaultRSIPeriod, Thresholds: signal.DefaultThresholds()}
}

// Validate checks period and thresholds.
func (c Config) Validate() error {
	if err := indicator.ValidatePeriod(c.Period); err != nil {
		return err
	}
	return c.Thresholds.Validate()
}

// RunBatch computes one record per input point. Parameters are validated
// before the series. On error no records are returned.
func RunBatch(series model.PriceSeries, period int, th signal.Thresholds) ([]model.Record, error) {
	if err := indicator.ValidatePeriod(period); err != nil {
		return nil, err
	}
	gen, err := signal.NewGenerator(th)
	if err != nil {
		return nil, err
	}
	rsi, err := indicator.ComputeRSI(series, period)
	if err != nil {
		return nil, err
	}

	out := make([]model.Record, len(rsi))
	for i, rp := range rsi {
		out[i] = toRecord(series.Symbol, series.Points[i].Close, gen.Evaluate(rp))
	}
	return out, nil
}

// Result is the outcome of one series in RunBatchMany.
type Result struct {
	Symbol  string
	Records []model.Record
	Err     error
}

// RunBatchMany runs RunBatch over several independent series with at most
// concurrency goroutines (≤ 0 means one per series). A failing series does
// not affect the others; its error is reported in its Result. Results keep
// the input order. The returned error is non-nil only for an invalid config
// or a cancelled context.
func RunBatchMany(ctx context.Context, cfg Config, series []model.PriceSeries, concurrency int) ([]Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	results := make([]Result, len(series))
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i := range series {
		i := i
		g.Go(func() error {
			results[i].Symbol = series[i].Symbol
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			recs, err := RunBatch(series[i], cfg.Period, cfg.Thresholds)
			if err != nil {
				results[i].Err = fmt.Errorf("%s: %w", series[i].Symbol, err)
				return nil
			}
			results[i].Records = recs
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func toRecord(symbol string, close float64, sp model.SignalPoint) model.Record {
	rec := model.Record{
		Symbol: symbol,
		TS:     sp.TS,
		Close:  close,
		Signal: sp.Signal,
		Reason: sp.Reason,
	}
	if sp.RSI.Defined {
		v := sp.RSI.Value
		rec.RSI = &v
	}
	return rec
}
