// Package signal maps RSI readings to discrete trading decisions.
//
// A Generator is configured once with oversold/overbought thresholds and is
// then a pure function of its input: the same RSI always yields the same
// Signal. It holds no mutable state and is safe for concurrent use.
package signal

import (
	"fmt"
	"math"

	"signal-systemv1/internal/model"
)

// Default thresholds, Wilder's conventional 30/70 band.
const (
	DefaultOversold   = 30.0
	DefaultOverbought = 70.0
)

// Thresholds is the RSI band outside which a Buy or Sell is emitted.
type Thresholds struct {
	Oversold   float64 `json:"oversold" yaml:"oversold"`
	Overbought float64 `json:"overbought" yaml:"overbought"`
}

// DefaultThresholds returns the 30/70 band.
func DefaultThresholds() Thresholds {
	return Thresholds{Oversold: DefaultOversold, Overbought: DefaultOverbought}
}

// Validate requires both values in [0,100] with Oversold < Overbought.
func (th Thresholds) Validate() error {
	if err := checkBound("oversold", th.Oversold); err != nil {
		return err
	}
	if err := checkBound("overbought", th.Overbought); err != nil {
		return err
	}
	if !(th.Oversold < th.Overbought) {
		return &model.ParameterError{
			Name:   "thresholds",
			Value:  fmt.Sprintf("%g/%g", th.Oversold, th.Overbought),
			Reason: "oversold must be below overbought",
		}
	}
	return nil
}

func checkBound(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 100 {
		return &model.ParameterError{Name: name, Value: v, Reason: "must be within [0,100]"}
	}
	return nil
}

// Generator turns RSI points into signal points.
type Generator struct {
	th Thresholds
}

// NewGenerator validates th and returns a Generator bound to it.
func NewGenerator(th Thresholds) (*Generator, error) {
	if err := th.Validate(); err != nil {
		return nil, err
	}
	return &Generator{th: th}, nil
}

// Thresholds returns the configured band.
func (g *Generator) Thresholds() Thresholds { return g.th }

// Classify returns the signal for a single RSI reading.
// Undefined → Hold; strictly below oversold → Buy; strictly above
// overbought → Sell; anything else (boundaries included) → Hold.
func (g *Generator) Classify(rsi model.RSIPoint) model.Signal {
	switch {
	case !rsi.Defined:
		return model.Hold
	case rsi.Value < g.th.Oversold:
		return model.Buy
	case rsi.Value > g.th.Overbought:
		return model.Sell
	default:
		return model.Hold
	}
}

// Evaluate classifies rsi and attaches a human-readable reason.
func (g *Generator) Evaluate(rsi model.RSIPoint) model.SignalPoint {
	sig := g.Classify(rsi)
	return model.SignalPoint{
		TS:     rsi.TS,
		RSI:    rsi,
		Signal: sig,
		Reason: g.reason(rsi, sig),
	}
}

// EvaluateAll maps Evaluate over a slice, preserving order and length.
func (g *Generator) EvaluateAll(points []model.RSIPoint) []model.SignalPoint {
	out := make([]model.SignalPoint, len(points))
	for i, p := range points {
		out[i] = g.Evaluate(p)
	}
	return out
}

func (g *Generator) reason(rsi model.RSIPoint, sig model.Signal) string {
	if !rsi.Defined {
		return "RSI undefined (warming up)"
	}
	switch sig {
	case model.Buy:
		return fmt.Sprintf("RSI %.2f < oversold %.2f", rsi.Value, g.th.Oversold)
	case model.Sell:
		return fmt.Sprintf("RSI %.2f > overbought %.2f", rsi.Value, g.th.Overbought)
	default:
		return fmt.Sprintf("RSI %.2f within [%.2f, %.2f]", rsi.Value, g.th.Oversold, g.th.Overbought)
	}
}
