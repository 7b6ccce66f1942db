package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for the payment monitor. All series
// are segmented by channel name.
type Metrics struct {
	detected         *prometheus.CounterVec
	actuations       *prometheus.CounterVec
	actuationSeconds *prometheus.HistogramVec
	pollErrors       *prometheus.CounterVec
	expired          *prometheus.CounterVec
	pending          *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsReg  *Metrics
)

// Collectors returns the lazily-initialised shared metrics registry.
func Collectors() *Metrics {
	metricsOnce.Do(func() {
		metricsReg = &Metrics{
			detected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "payments_detected_total",
				Help:      "Incoming payments newly observed, segmented by outcome.",
			}, []string{"channel", "outcome"}),
			actuations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "actuations_total",
				Help:      "Confirmed payments that drove the solenoid.",
			}, []string{"channel"}),
			actuationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "actuation_seconds",
				Help:      "Distribution of pour durations.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30},
			}, []string{"channel"}),
			pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "poll_errors_total",
				Help:      "Failed ledger calls, segmented by operation.",
			}, []string{"channel", "op"}),
			expired: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "expired_invoices_total",
				Help:      "Pending invoices discarded after the 24h age limit.",
			}, []string{"channel"}),
			pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lntap",
				Subsystem: "monitor",
				Name:      "pending_invoices",
				Help:      "Unpaid invoices currently being watched.",
			}, []string{"channel"}),
		}
		prometheus.MustRegister(
			metricsReg.detected,
			metricsReg.actuations,
			metricsReg.actuationSeconds,
			metricsReg.pollErrors,
			metricsReg.expired,
			metricsReg.pending,
		)
	})
	return metricsReg
}

// RecordDetected counts a newly observed payment and its classification.
func (m *Metrics) RecordDetected(channel, outcome string) {
	if m == nil {
		return
	}
	m.detected.WithLabelValues(channel, outcome).Inc()
}

// RecordActuation counts a pour and observes its duration.
func (m *Metrics) RecordActuation(channel string, seconds float64) {
	if m == nil {
		return
	}
	m.actuations.WithLabelValues(channel).Inc()
	m.actuationSeconds.WithLabelValues(channel).Observe(seconds)
}

// RecordPollError counts a failed ledger call.
func (m *Metrics) RecordPollError(channel, op string) {
	if m == nil {
		return
	}
	m.pollErrors.WithLabelValues(channel, op).Inc()
}

// RecordExpired counts an abandoned invoice.
func (m *Metrics) RecordExpired(channel string) {
	if m == nil {
		return
	}
	m.expired.WithLabelValues(channel).Inc()
}

// SetPending tracks the size of the pending invoice map.
func (m *Metrics) SetPending(channel string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(channel).Set(float64(n))
}
