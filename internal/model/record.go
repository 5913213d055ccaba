package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RSIPoint is the RSI at one timestamp. Defined is false while the
// smoothing window is still being seeded; Value is 0 in that case.
type RSIPoint struct {
	TS      time.Time `json:"ts"`
	Value   float64   `json:"value"`
	Defined bool      `json:"defined"`
}

// Signal is the discrete trading decision derived from an RSI value.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Hold:
		return "HOLD"
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseSignal is the inverse of Signal.String (case-insensitive).
func ParseSignal(s string) (Signal, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HOLD":
		return Hold, nil
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	}
	return Hold, fmt.Errorf("unknown signal %q", s)
}

func (s Signal) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Signal) UnmarshalText(b []byte) error {
	v, err := ParseSignal(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// SignalPoint pairs a signal with the RSI reading that produced it.
type SignalPoint struct {
	TS     time.Time
	RSI    RSIPoint
	Signal Signal
	Reason string
}

// Record is one row of pipeline output: {timestamp, close, rsi, signal}.
// RSI is nil while undefined.
type Record struct {
	Symbol string    `json:"symbol,omitempty"`
	TS     time.Time `json:"ts"`
	Close  float64   `json:"close"`
	RSI    *float64  `json:"rsi"`
	Signal Signal    `json:"signal"`
	Reason string    `json:"reason,omitempty"`
}

// RSIValue returns the RSI and whether it is defined.
func (r *Record) RSIValue() (float64, bool) {
	if r.RSI == nil {
		return 0, false
	}
	return *r.RSI, true
}

// JSON returns the JSON-encoded record (ignoring errors for hot-path usage).
func (r *Record) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
