// Package notification delivers signal alerts to external channels
// (log, webhooks, Telegram).
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signal-systemv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel   `json:"level"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Symbol  string       `json:"symbol,omitempty"`
	Signal  model.Signal `json:"signal"`
	RSI     *float64     `json:"rsi,omitempty"`
	TS      time.Time    `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier. A nil logger uses slog.Default.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.InfoContext(ctx, alert.Title,
		slog.String("level", string(alert.Level)),
		slog.String("symbol", alert.Symbol),
		slog.String("signal", alert.Signal.String()),
		slog.String("message", alert.Message),
	)
	return nil
}

// Multi sends each alert to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SignalWatcher turns a record stream into alerts, firing only when a
// symbol's signal changes. The first record seen for a symbol fires only if
// it is not Hold. Safe for concurrent use across symbols.
type SignalWatcher struct {
	n    Notifier
	mu   sync.Mutex
	last map[string]model.Signal
}

// NewSignalWatcher wraps n.
func NewSignalWatcher(n Notifier) *SignalWatcher {
	return &SignalWatcher{n: n, last: make(map[string]model.Signal)}
}

// Observe inspects rec and sends an alert on a transition. It reports
// whether an alert was attempted.
func (w *SignalWatcher) Observe(ctx context.Context, rec model.Record) (bool, error) {
	w.mu.Lock()
	prev, seen := w.last[rec.Symbol]
	w.last[rec.Symbol] = rec.Signal
	w.mu.Unlock()

	if seen && prev == rec.Signal {
		return false, nil
	}
	if !seen && rec.Signal == model.Hold {
		return false, nil
	}
	return true, w.n.Send(ctx, TransitionAlert(rec, prev))
}

// TransitionAlert builds the alert for rec following a prev signal.
func TransitionAlert(rec model.Record, prev model.Signal) Alert {
	level := AlertInfo
	if rec.Signal != model.Hold {
		level = AlertWarning
	}
	return Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s %s", rec.Symbol, rec.Signal),
		Message: fmt.Sprintf("%s → %s at %.2f: %s", prev, rec.Signal, rec.Close, rec.Reason),
		Symbol:  rec.Symbol,
		Signal:  rec.Signal,
		RSI:     rec.RSI,
		TS:      rec.TS,
	}
}
