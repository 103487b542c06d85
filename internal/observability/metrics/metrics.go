// Package metrics exposes prometheus collectors for the booking engine.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for availability lookups and
// booking commits. All observers are nil-safe so wiring is optional.
type BookingMetrics struct {
	slotFetchTotal      *prometheus.CounterVec
	workingDaysTotal    *prometheus.CounterVec
	commitTotal         *prometheus.CounterVec
	sessionExpiredTotal prometheus.Counter
	staleFetchTotal     prometheus.Counter
	providerLatency     *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		slotFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "availability",
			Name:      "slot_fetch_total",
			Help:      "Total slot availability fetches against the provider",
		}, []string{"status"}),
		workingDaysTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "availability",
			Name:      "working_days_fetch_total",
			Help:      "Total working-day schedule fetches against the provider",
		}, []string{"status"}),
		commitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "flow",
			Name:      "commit_total",
			Help:      "Total booking commits by operation and outcome",
		}, []string{"operation", "status"}),
		sessionExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "flow",
			Name:      "session_expired_total",
			Help:      "Total sessions terminated by the abandonment timeout",
		}),
		staleFetchTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bookingengine",
			Subsystem: "selection",
			Name:      "stale_fetch_discarded_total",
			Help:      "Total slot fetch responses discarded because the selection moved on",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bookingengine",
			Subsystem: "availability",
			Name:      "provider_latency_seconds",
			Help:      "Latency of calendar provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.slotFetchTotal,
		m.workingDaysTotal,
		m.commitTotal,
		m.sessionExpiredTotal,
		m.staleFetchTotal,
		m.providerLatency,
	)
	return m
}

func (m *BookingMetrics) ObserveSlotFetch(status string) {
	if m == nil {
		return
	}
	m.slotFetchTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveWorkingDaysFetch(status string) {
	if m == nil {
		return
	}
	m.workingDaysTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveCommit(operation, status string) {
	if m == nil {
		return
	}
	m.commitTotal.WithLabelValues(operation, status).Inc()
}

func (m *BookingMetrics) ObserveSessionExpired() {
	if m == nil {
		return
	}
	m.sessionExpiredTotal.Inc()
}

func (m *BookingMetrics) ObserveStaleFetchDiscarded() {
	if m == nil {
		return
	}
	m.staleFetchTotal.Inc()
}

func (m *BookingMetrics) ObserveProviderLatency(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation).Observe(seconds)
}
