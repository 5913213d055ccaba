package indicator

import (
	"time"

	"signal-systemv1/internal/model"
)

// DefaultRSIPeriod is Wilder's original lookback.
const DefaultRSIPeriod = 14

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Append is O(1) per point, no history scans. An RSI is owned by one caller;
// it is not safe for concurrent use.
type RSI struct {
	period    int
	count     int // points accepted
	prevClose float64
	prevTS    time.Time
	gain      *SMMA
	loss      *SMMA
}

// NewRSI creates a new RSI accumulator. period must be > 0.
func NewRSI(period int) (*RSI, error) {
	if err := ValidatePeriod(period); err != nil {
		return nil, err
	}
	return &RSI{
		period: period,
		gain:   NewSMMA(period),
		loss:   NewSMMA(period),
	}, nil
}

// ValidatePeriod rejects non-positive lookbacks.
func ValidatePeriod(period int) error {
	if period <= 0 {
		return &model.ParameterError{Name: "period", Value: period, Reason: "must be > 0"}
	}
	return nil
}

func (r *RSI) Name() string { return "RSI" }

// Period returns the lookback.
func (r *RSI) Period() int { return r.period }

// SamplesSeen returns the number of points accepted so far.
func (r *RSI) SamplesSeen() int { return r.count }

// Ready reports whether RSI is defined, i.e. period+1 points have been seen.
func (r *RSI) Ready() bool { return r.count > r.period }

// LastTS returns the timestamp of the last accepted point.
func (r *RSI) LastTS() time.Time { return r.prevTS }

// Value returns the current RSI and whether it is defined.
func (r *RSI) Value() (float64, bool) {
	if !r.Ready() {
		return 0, false
	}
	return rsiFromAverages(r.gain.Value(), r.loss.Value()), true
}

// Append feeds the next point and returns the RSI at that point.
// A rejected point (non-finite or non-positive close, timestamp not after the
// previous one) leaves the state untouched and returns an *model.InputError
// whose Index is the point's position in the stream.
func (r *RSI) Append(p model.PricePoint) (model.RSIPoint, error) {
	var prev *model.PricePoint
	if r.count > 0 {
		prev = &model.PricePoint{TS: r.prevTS, Close: r.prevClose}
	}
	if err := model.ValidatePoint(r.count, p, prev); err != nil {
		return model.RSIPoint{TS: p.TS}, err
	}

	r.count++
	if r.count == 1 {
		// First point: no delta yet
		r.prevClose = p.Close
		r.prevTS = p.TS
		return model.RSIPoint{TS: p.TS}, nil
	}

	gain, loss := split(p.Close - r.prevClose)
	r.prevClose = p.Close
	r.prevTS = p.TS
	r.gain.Update(gain)
	r.loss.Update(loss)

	v, ok := r.Value()
	return model.RSIPoint{TS: p.TS, Value: v, Defined: ok}, nil
}

// Peek computes the RSI a further point with this close would produce,
// WITHOUT mutating internal state. The close is assumed valid.
func (r *RSI) Peek(close float64) (float64, bool) {
	if r.count == 0 || r.gain.Count()+1 < r.period {
		return 0, false
	}
	gain, loss := split(close - r.prevClose)
	return rsiFromAverages(r.gain.Peek(gain), r.loss.Peek(loss)), true
}

// ComputeRSI returns one RSIPoint per input point. The series is validated
// up front so a malformed series yields an error and no values. A series
// shorter than period+1 is not an error: every point is undefined.
func ComputeRSI(series model.PriceSeries, period int) ([]model.RSIPoint, error) {
	r, err := NewRSI(period)
	if err != nil {
		return nil, err
	}
	if err := series.Validate(); err != nil {
		return nil, err
	}

	out := make([]model.RSIPoint, len(series.Points))
	for i, p := range series.Points {
		// Batch shares the incremental code path so both modes agree bit for bit.
		out[i], err = r.Append(p)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func split(delta float64) (gain, loss float64) {
	if delta < 0 {
		return 0, -delta
	}
	return delta, 0
}

// rsiFromAverages maps smoothed averages to [0,100]. A flat market (no gains,
// no losses) is 50.
func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
