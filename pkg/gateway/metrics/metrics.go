// Package metrics holds the Prometheus instrumentation of the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxcobra/voxbridge/pkg/bridge"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is safe to use and
// records nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	// Call placement.
	CallsPlacedTotal *prometheus.CounterVec

	// Bridge lifecycle.
	BridgesActive  prometheus.Gauge
	BridgesTotal   *prometheus.CounterVec
	BridgeDuration prometheus.Histogram

	// Commit policy.
	InputCommitsTotal *prometheus.CounterVec

	// Protocol anomalies.
	StaleDeltasTotal prometheus.Counter

	// Outcomes.
	OutcomesTotal *prometheus.CounterVec

	// Rate limit hits on the management API.
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with all collectors registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "voxbridge"
	}

	registry := prometheus.NewRegistry()

	callsPlacedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_placed_total",
			Help:      "Outbound call placements by carrier status",
		},
		[]string{"status"},
	)

	bridgesActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bridges_active",
			Help:      "Bridged calls currently streaming",
		},
	)

	bridgesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridges_total",
			Help:      "Finished bridges by the state they closed in",
		},
		[]string{"state"},
	)

	bridgeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bridge_duration_seconds",
			Help:      "Bridge lifetime in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	inputCommitsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_commits_total",
			Help:      "Input audio buffer commits by trigger",
		},
		[]string{"trigger"},
	)

	staleDeltasTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_audio_deltas_total",
			Help:      "Audio deltas dropped for a non-current response id",
		},
	)

	outcomesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Call outcomes by kind",
		},
		[]string{"kind"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Requests denied by the per-principal limiter",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		callsPlacedTotal,
		bridgesActive,
		bridgesTotal,
		bridgeDuration,
		inputCommitsTotal,
		staleDeltasTotal,
		outcomesTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:          registry,
		CallsPlacedTotal:  callsPlacedTotal,
		BridgesActive:     bridgesActive,
		BridgesTotal:      bridgesTotal,
		BridgeDuration:    bridgeDuration,
		InputCommitsTotal: inputCommitsTotal,
		StaleDeltasTotal:  staleDeltasTotal,
		OutcomesTotal:     outcomesTotal,
		RateLimitHits:     rateLimitHits,
	}
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallPlaced records one call placement attempt.
func (m *Metrics) RecordCallPlaced(status string) {
	if m == nil {
		return
	}
	m.CallsPlacedTotal.WithLabelValues(status).Inc()
}

// RecordBridgeStart records a bridge entering its event loop.
func (m *Metrics) RecordBridgeStart() {
	if m == nil {
		return
	}
	m.BridgesActive.Inc()
}

// RecordBridgeEnd records a finished bridge. The closing-state counter is fed
// by BridgeObserver, not here.
func (m *Metrics) RecordBridgeEnd(duration time.Duration) {
	if m == nil {
		return
	}
	m.BridgesActive.Dec()
	m.BridgeDuration.Observe(duration.Seconds())
}

// RecordOutcome records the business result of a call.
func (m *Metrics) RecordOutcome(kind string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(kind).Inc()
}

// RecordRateLimitHit records a denied request.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// BridgeObserver adapts Metrics to the bridge's counter interface.
type BridgeObserver struct {
	M *Metrics
}

func (o BridgeObserver) InputCommit(trigger string) {
	if o.M == nil {
		return
	}
	o.M.InputCommitsTotal.WithLabelValues(trigger).Inc()
}

func (o BridgeObserver) StaleDeltaDropped() {
	if o.M == nil {
		return
	}
	o.M.StaleDeltasTotal.Inc()
}

func (o BridgeObserver) BridgeClosed(state bridge.State) {
	if o.M == nil {
		return
	}
	o.M.BridgesTotal.WithLabelValues(string(state)).Inc()
}
