package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signal-systemv1/internal/model"
)

// Metrics holds all Prometheus metrics for the RSI tools.
type Metrics struct {
	// Pipeline
	RecordsTotal    *prometheus.CounterVec // labels: mode=batch|stream
	SignalsTotal    *prometheus.CounterVec // labels: signal
	ComputeDur      prometheus.Histogram
	InputRejected   prometheus.Counter
	ActiveSymbols   prometheus.Gauge
	LastRSI         *prometheus.GaugeVec // labels: symbol
	SnapshotsSaved  prometheus.Counter
	SnapshotsFailed prometheus.Counter

	// Market data
	FetchDur      *prometheus.HistogramVec // labels: source
	FetchFailures *prometheus.CounterVec   // labels: source
	WSReconnects  prometheus.Counter

	// Sinks
	SinkWriteDur     *prometheus.HistogramVec // labels: sink
	SinkErrors       *prometheus.CounterVec   // labels: sink
	FanoutDropsTotal *prometheus.CounterVec   // labels: subscriber
	FanoutSaturation *prometheus.GaugeVec     // labels: subscriber

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter

	// Notifications
	NotificationsSent   *prometheus.CounterVec // labels: notifier
	NotificationsFailed *prometheus.CounterVec // labels: notifier
}

// NewMetrics creates all collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_records_total",
			Help: "Records produced by the pipeline",
		}, []string{"mode"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_signals_total",
			Help: "Signals emitted (by kind)",
		}, []string{"signal"}),
		ComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rsi_compute_duration_seconds",
			Help:    "Pipeline compute latency per append or batch",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.01, 0.1},
		}),
		InputRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_input_rejected_total",
			Help: "Price points or series rejected by validation",
		}),
		ActiveSymbols: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsi_active_symbols",
			Help: "Symbols with a running incremental handle",
		}),
		LastRSI: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsi_last_value",
			Help: "Most recent defined RSI per symbol",
		}, []string{"symbol"}),
		SnapshotsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_snapshots_saved_total",
			Help: "Smoothing-state checkpoints persisted",
		}),
		SnapshotsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_snapshots_failed_total",
			Help: "Smoothing-state checkpoints that failed to persist",
		}),

		FetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsi_fetch_duration_seconds",
			Help:    "Price source fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_fetch_failures_total",
			Help: "Price source fetch errors",
		}, []string{"source"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_ws_reconnects_total",
			Help: "Websocket price feed reconnection attempts",
		}),

		SinkWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsi_sink_write_duration_seconds",
			Help:    "Record sink write latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_sink_errors_total",
			Help: "Record sink write errors",
		}, []string{"sink"}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_fanout_drops_total",
			Help: "Records dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		FanoutSaturation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rsi_fanout_saturation_pct",
			Help: "Fill level of each fan-out subscriber channel (0-100)",
		}, []string{"subscriber"}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rsi_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsi_redis_buffered_writes_total",
			Help: "Writes buffered locally while the Redis circuit breaker is open",
		}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_notifications_sent_total",
			Help: "Signal notifications delivered",
		}, []string{"notifier"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsi_notifications_failed_total",
			Help: "Signal notifications that failed to deliver",
		}, []string{"notifier"}),
	}

	reg.MustRegister(
		m.RecordsTotal,
		m.SignalsTotal,
		m.ComputeDur,
		m.InputRejected,
		m.ActiveSymbols,
		m.LastRSI,
		m.SnapshotsSaved,
		m.SnapshotsFailed,
		m.FetchDur,
		m.FetchFailures,
		m.WSReconnects,
		m.SinkWriteDur,
		m.SinkErrors,
		m.FanoutDropsTotal,
		m.FanoutSaturation,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
		m.NotificationsSent,
		m.NotificationsFailed,
	)

	return m
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveRecord counts one pipeline record. mode is "batch" or "stream".
// A nil *Metrics is a no-op.
func (m *Metrics) ObserveRecord(mode string, rec model.Record) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(mode).Inc()
	m.SignalsTotal.WithLabelValues(rec.Signal.String()).Inc()
	if v, ok := rec.RSIValue(); ok && rec.Symbol != "" {
		m.LastRSI.WithLabelValues(rec.Symbol).Set(v)
	}
}
