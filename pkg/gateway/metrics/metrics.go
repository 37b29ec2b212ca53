package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration prometheus.Histogram

	// Relay metrics
	AudioFramesTotal   *prometheus.CounterVec
	InterruptionsTotal prometheus.Counter
	TruncationsTotal   prometheus.Counter

	// Post-call pipeline metrics
	SummariesTotal *prometheus.CounterVec
}

// New creates a Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "eva"
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of active relay calls",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of relay calls",
		},
		[]string{"status"},
	)

	callDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Relay call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	audioFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Total audio frames relayed",
		},
		[]string{"direction"},
	)

	interruptionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total accepted caller barge-ins",
		},
	)

	truncationsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncations_total",
			Help:      "Total assistant responses truncated at the played offset",
		},
	)

	summariesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total post-call summarization outcomes",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		audioFramesTotal,
		interruptionsTotal,
		truncationsTotal,
		summariesTotal,
	)

	return &Metrics{
		registry:           registry,
		CallsActive:        callsActive,
		CallsTotal:         callsTotal,
		CallDuration:       callDuration,
		AudioFramesTotal:   audioFramesTotal,
		InterruptionsTotal: interruptionsTotal,
		TruncationsTotal:   truncationsTotal,
		SummariesTotal:     summariesTotal,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart records a new relay call starting.
func (m *Metrics) RecordCallStart() {
	m.CallsActive.Inc()
}

// RecordCallEnd records a relay call ending.
func (m *Metrics) RecordCallEnd(status string, duration time.Duration) {
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(status).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordSummary records a post-call summarization outcome.
func (m *Metrics) RecordSummary(status string) {
	m.SummariesTotal.WithLabelValues(status).Inc()
}

// AudioForwarded implements the relay session's reporting surface.
func (m *Metrics) AudioForwarded(direction string) {
	m.AudioFramesTotal.WithLabelValues(direction).Inc()
}

// InterruptionAccepted implements the relay session's reporting surface.
func (m *Metrics) InterruptionAccepted() {
	m.InterruptionsTotal.Inc()
}

// TruncationSent implements the relay session's reporting surface.
func (m *Metrics) TruncationSent() {
	m.TruncationsTotal.Inc()
}
