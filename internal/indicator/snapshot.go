package indicator

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// snapshotVersion is bumped when SmoothingState changes shape.
const snapshotVersion = 1

// SmoothingState is the serializable state of an incremental RSI.
// AvgGain/AvgLoss are the Wilder averages once the seed window is complete;
// before that SumGain/SumLoss hold the partial seed sums.
type SmoothingState struct {
	Version     int       `json:"version"`
	Symbol      string    `json:"symbol,omitempty"`
	Period      int       `json:"period"`
	SamplesSeen int       `json:"samples_seen"`
	AvgGain     float64   `json:"avg_gain"`
	AvgLoss     float64   `json:"avg_loss"`
	SumGain     float64   `json:"sum_gain,omitempty"`
	SumLoss     float64   `json:"sum_loss,omitempty"`
	PrevClose   float64   `json:"prev_close,omitempty"`
	PrevTS      time.Time `json:"prev_ts"`
}

// Snapshot captures the RSI state for checkpoint persistence.
func (r *RSI) Snapshot() SmoothingState {
	return SmoothingState{
		Version:     snapshotVersion,
		Period:      r.period,
		SamplesSeen: r.count,
		AvgGain:     r.gain.current,
		AvgLoss:     r.loss.current,
		SumGain:     r.gain.sum,
		SumLoss:     r.loss.sum,
		PrevClose:   r.prevClose,
		PrevTS:      r.prevTS,
	}
}

// RestoreRSI rebuilds an RSI from a snapshot. The restored accumulator
// continues exactly where the snapshotted accumulator left off.
func RestoreRSI(st SmoothingState) (*RSI, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	r, err := NewRSI(st.Period)
	if err != nil {
		return nil, err
	}

	deltas := 0
	if st.SamplesSeen > 0 {
		deltas = st.SamplesSeen - 1
	}
	r.count = st.SamplesSeen
	r.prevClose = st.PrevClose
	r.prevTS = st.PrevTS
	r.gain.count, r.gain.sum, r.gain.current = deltas, st.SumGain, st.AvgGain
	r.loss.count, r.loss.sum, r.loss.current = deltas, st.SumLoss, st.AvgLoss
	return r, nil
}

// Validate checks a snapshot for internal consistency.
func (st SmoothingState) Validate() error {
	if st.Version != snapshotVersion {
		return fmt.Errorf("smoothing state: unsupported version %d", st.Version)
	}
	if err := ValidatePeriod(st.Period); err != nil {
		return err
	}
	if st.SamplesSeen < 0 {
		return fmt.Errorf("smoothing state: negative samples_seen %d", st.SamplesSeen)
	}
	for name, v := range map[string]float64{
		"avg_gain": st.AvgGain, "avg_loss": st.AvgLoss,
		"sum_gain": st.SumGain, "sum_loss": st.SumLoss,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("smoothing state: %s=%v must be finite and >= 0", name, v)
		}
	}
	if st.SamplesSeen > 0 && !(st.PrevClose > 0) {
		return fmt.Errorf("smoothing state: prev_close=%v must be positive", st.PrevClose)
	}
	return nil
}

// MarshalState encodes a snapshot as JSON.
func MarshalState(st SmoothingState) ([]byte, error) {
	return json.Marshal(st)
}

// UnmarshalState decodes and validates a JSON snapshot.
func UnmarshalState(data []byte) (SmoothingState, error) {
	var st SmoothingState
	if err := json.Unmarshal(data, &st); err != nil {
		return SmoothingState{}, fmt.Errorf("unmarshal smoothing state: %w", err)
	}
	if err := st.Validate(); err != nil {
		return SmoothingState{}, err
	}
	return st, nil
}
