// Package replay re-emits stored closing prices as ticks, so the streamer
// can be driven from history instead of a live feed.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"signal-systemv1/internal/model"
)

// MaxGap caps the sleep between two replayed ticks.
const MaxGap = 5 * time.Second

// Replayer reads series from a price source (normally the SQLite reader) and
// replays them at a configurable speed multiplier.
type Replayer struct {
	src model.PriceSource
	log *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer backed by src.
func New(src model.PriceSource, log *slog.Logger) *Replayer {
	if log == nil {
		log = slog.Default()
	}
	return &Replayer{src: src, log: log, sleep: sleepCtx}
}

// Run replays every stored point of symbols with TS >= from, merged in time
// order, into out. speed controls the playback rate: 1 = real time, 10 = ten
// times faster, 0 = as fast as possible. Ticks with equal timestamps keep the
// order of symbols.
func (r *Replayer) Run(ctx context.Context, symbols []string, from time.Time, speed float64, out chan<- model.Tick) error {
	var ticks []model.Tick
	for _, sym := range symbols {
		s, err := r.src.FetchSeries(ctx, model.SeriesRequest{Symbol: sym, From: from})
		if err != nil {
			return fmt.Errorf("replay %s: %w", sym, err)
		}
		for _, p := range s.Points {
			ticks = append(ticks, model.Tick{Symbol: sym, TS: p.TS, Close: p.Close})
		}
	}
	if len(ticks) == 0 {
		r.log.Info("replay found no stored prices", slog.Any("symbols", symbols))
		return nil
	}
	sort.SliceStable(ticks, func(i, j int) bool { return ticks[i].TS.Before(ticks[j].TS) })

	r.log.Info("replay starting",
		slog.Int("ticks", len(ticks)),
		slog.Int("symbols", len(symbols)),
		slog.Float64("speed", speed),
	)

	var prevTS time.Time
	emitted := 0
	for _, t := range ticks {
		if speed > 0 && !prevTS.IsZero() {
			if gap := t.TS.Sub(prevTS); gap > 0 {
				scaled := time.Duration(float64(gap) / speed)
				if scaled > MaxGap {
					scaled = MaxGap
				}
				if err := r.sleep(ctx, scaled); err != nil {
					return err
				}
			}
		}
		prevTS = t.TS

		select {
		case out <- t:
			emitted++
		case <-ctx.Done():
			r.log.Info("replay cancelled", slog.Int("emitted", emitted))
			return ctx.Err()
		}
	}

	r.log.Info("replay completed", slog.Int("emitted", emitted))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
