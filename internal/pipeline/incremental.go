package pipeline

import (
	"errors"
	"time"

	"signal-systemv1/internal/indicator"
	"signal-systemv1/internal/model"
	"signal-systemv1/internal/signal"
)

// ErrHandleClosed is returned by Append after Close.
var ErrHandleClosed = errors.New("pipeline: handle closed")

// Handle is an incremental pipeline over one price stream.
// It is not safe for concurrent use.
type Handle struct {
	symbol  string
	rsi     *indicator.RSI
	gen     *signal.Generator
	last    model.Record
	hasLast bool
	closed  bool
}

// Option configures a Handle.
type Option func(*Handle)

// WithSymbol tags records and snapshots produced by the handle.
func WithSymbol(symbol string) Option {
	return func(h *Handle) { h.symbol = symbol }
}

// OpenIncremental validates the parameters and returns an empty handle.
func OpenIncremental(period int, th signal.Thresholds, opts ...Option) (*Handle, error) {
	rsi, err := indicator.NewRSI(period)
	if err != nil {
		return nil, err
	}
	return newHandle(rsi, th, opts)
}

// RestoreIncremental resumes a handle from a snapshot. The restored handle
// produces the same RSI values the snapshotted one would have. Thresholds
// are not part of the snapshot and may differ.
func RestoreIncremental(st indicator.SmoothingState, th signal.Thresholds, opts ...Option) (*Handle, error) {
	rsi, err := indicator.RestoreRSI(st)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithSymbol(st.Symbol)}, opts...)
	return newHandle(rsi, th, opts)
}

func newHandle(rsi *indicator.RSI, th signal.Thresholds, opts []Option) (*Handle, error) {
	gen, err := signal.NewGenerator(th)
	if err != nil {
		return nil, err
	}
	h := &Handle{rsi: rsi, gen: gen}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Append extends the stream by one point. A rejected point returns an
// *model.InputError and leaves the handle unchanged.
func (h *Handle) Append(p model.PricePoint) (model.Record, error) {
	if h.closed {
		return model.Record{}, ErrHandleClosed
	}
	rp, err := h.rsi.Append(p)
	if err != nil {
		return model.Record{}, err
	}
	rec := toRecord(h.symbol, p.Close, h.gen.Evaluate(rp))
	h.last, h.hasLast = rec, true
	return rec, nil
}

// Warmup appends every point of series in order. It stops at the first
// rejected point and returns the records accepted before it along with the
// error.
func (h *Handle) Warmup(series model.PriceSeries) ([]model.Record, error) {
	out := make([]model.Record, 0, len(series.Points))
	for _, p := range series.Points {
		rec, err := h.Append(p)
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Peek returns the record a next point with this close would produce,
// without changing the handle. The record has a zero timestamp.
func (h *Handle) Peek(close float64) (model.Record, error) {
	if h.closed {
		return model.Record{}, ErrHandleClosed
	}
	if err := model.ValidateClose(h.rsi.SamplesSeen(), time.Time{}, close); err != nil {
		return model.Record{}, err
	}
	v, ok := h.rsi.Peek(close)
	return toRecord(h.symbol, close, h.gen.Evaluate(model.RSIPoint{Value: v, Defined: ok})), nil
}

// Snapshot captures the smoothing state for persistence.
func (h *Handle) Snapshot() indicator.SmoothingState {
	st := h.rsi.Snapshot()
	st.Symbol = h.symbol
	return st
}

// Last returns the most recent record produced by Append.
func (h *Handle) Last() (model.Record, bool) { return h.last, h.hasLast }

// LastTS returns the timestamp of the last accepted point, zero if none.
func (h *Handle) LastTS() time.Time { return h.rsi.LastTS() }

func (h *Handle) Symbol() string                { return h.symbol }
func (h *Handle) Period() int                   { return h.rsi.Period() }
func (h *Handle) SamplesSeen() int              { return h.rsi.SamplesSeen() }
func (h *Handle) Thresholds() signal.Thresholds { return h.gen.Thresholds() }

// Close releases the handle. Further Append and Peek calls fail.
func (h *Handle) Close() error {
	h.closed = true
	return nil
}
