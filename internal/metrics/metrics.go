// Package metrics holds the engine's Prometheus instruments, mounted at
// GET /metrics by internal/api.Routes. Kept as package-level promauto
// vars in the teacher's pkg/logger/metrics.go / internal/pubsub's
// stream_publisher.go style: a var block of pre-registered
// Counter/CounterVec/Histogram/Gauge, called directly from the
// component that produces the measurement rather than through a
// wrapper type.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScanCyclesTotal counts completed scheduler ticks (spec.md §4.G).
	ScanCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smc_scan_cycles_total",
		Help: "Total number of completed scheduler scan cycles.",
	})

	// ScanDuration observes wall-clock time per scan cycle.
	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "smc_scan_duration_seconds",
		Help:    "Duration of a full scheduler scan cycle in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// SymbolErrorsTotal counts per-symbol candle fetch/aggregate failures.
	SymbolErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smc_symbol_errors_total",
		Help: "Total number of symbol scan failures by symbol.",
	}, []string{"symbol"})

	// SignalsPublishedTotal counts signals written to the signal store.
	SignalsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smc_signals_published_total",
		Help: "Total number of InstrumentSignal records written to the store.",
	})

	// FVGsTracked reports the live fair value gap count per symbol, set
	// on every signal write (spec.md §4.D/§4.H).
	FVGsTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smc_fvgs_tracked",
		Help: "Number of active fair value gaps tracked per symbol.",
	}, []string{"symbol"})

	// AlertsEmittedTotal counts alerts generated by the alert generator,
	// by alert type (spec.md §4.I).
	AlertsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smc_alerts_emitted_total",
		Help: "Total number of alerts emitted by the generator, by type.",
	}, []string{"type"})

	// AlertsDroppedTotal counts alerts dropped by the bus for a full
	// subscriber channel (spec.md §4.J).
	AlertsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smc_alerts_dropped_total",
		Help: "Total number of alerts dropped for full subscriber channels.",
	})

	// ActiveSubscribers reports the current bus subscriber count.
	ActiveSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smc_active_subscribers",
		Help: "Current number of active bus subscribers.",
	})

	// ActiveWSConnections reports the current WebSocket connection count.
	ActiveWSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smc_active_ws_connections",
		Help: "Current number of open WebSocket gateway connections.",
	})
)
