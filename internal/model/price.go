package model

import (
	"math"
	"sort"
	"time"
)

// PricePoint is a single closing price observation.
type PricePoint struct {
	TS    time.Time `json:"ts"`
	Close float64   `json:"close"`
}

// PriceSeries is an ordered run of closing prices for one instrument.
// Symbol and Interval are informational; the indicator core ignores them.
type PriceSeries struct {
	Symbol   string       `json:"symbol,omitempty"`
	Interval string       `json:"interval,omitempty"`
	Points   []PricePoint `json:"points"`
}

// NewSeries builds a series from parallel timestamp and close slices.
// Extra elements of the longer slice are ignored.
func NewSeries(symbol string, ts []time.Time, closes []float64) PriceSeries {
	n := len(ts)
	if len(closes) < n {
		n = len(closes)
	}
	pts := make([]PricePoint, n)
	for i := 0; i < n; i++ {
		pts[i] = PricePoint{TS: ts[i], Close: closes[i]}
	}
	return PriceSeries{Symbol: symbol, Points: pts}
}

// Len returns the number of points.
func (s PriceSeries) Len() int { return len(s.Points) }

// Closes returns the close prices in series order.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Close
	}
	return out
}

// Last returns the final point, if any.
func (s PriceSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// After returns the points strictly later than ts. A zero ts returns the
// whole series. The returned series shares the backing array.
func (s PriceSeries) After(ts time.Time) PriceSeries {
	out := s
	if ts.IsZero() {
		return out
	}
	i := sort.Search(len(s.Points), func(i int) bool { return s.Points[i].TS.After(ts) })
	out.Points = s.Points[i:]
	return out
}

// Validate checks every point of the series: finite positive closes and
// strictly increasing timestamps. The first violation is returned as an
// *InputError.
func (s PriceSeries) Validate() error {
	for i := range s.Points {
		var prev *PricePoint
		if i > 0 {
			prev = &s.Points[i-1]
		}
		if err := ValidatePoint(i, s.Points[i], prev); err != nil {
			return err
		}
	}
	return nil
}

// ValidateClose rejects NaN, ±Inf, zero and negative prices.
func ValidateClose(index int, ts time.Time, c float64) error {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return &InputError{Index: index, TS: ts, Value: c, Reason: "close is not finite"}
	}
	if c <= 0 {
		return &InputError{Index: index, TS: ts, Value: c, Reason: "close must be positive"}
	}
	return nil
}

// ValidatePoint checks p, the index-th point of a series, against its
// predecessor. prev is nil for the first point.
func ValidatePoint(index int, p PricePoint, prev *PricePoint) error {
	if err := ValidateClose(index, p.TS, p.Close); err != nil {
		return err
	}
	if prev != nil && !p.TS.After(prev.TS) {
		reason := "timestamp is not after the previous point"
		if p.TS.Equal(prev.TS) {
			reason = "duplicate timestamp"
		}
		return &InputError{Index: index, TS: p.TS, Value: p.Close, Reason: reason}
	}
	return nil
}

// SanitizeSeries returns a copy of s sorted by timestamp with duplicate
// timestamps coalesced (the later observation wins). It is meant for raw
// provider output before it reaches the indicator core, which rejects
// rather than repairs out-of-order input. Price values are not touched.
func SanitizeSeries(s PriceSeries) PriceSeries {
	pts := make([]PricePoint, len(s.Points))
	copy(pts, s.Points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].TS.Before(pts[j].TS) })

	out := pts[:0]
	for _, p := range pts {
		if n := len(out); n > 0 && out[n-1].TS.Equal(p.TS) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	s.Points = out
	return s
}
