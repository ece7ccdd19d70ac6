package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics instruments the observation loop.
type Metrics struct {
	checks        *prometheus.CounterVec
	changes       *prometheus.CounterVec
	notifications *prometheus.CounterVec
	resolverErrs  prometheus.Counter
	tickDuration  prometheus.Histogram
	domains       prometheus.Gauge
}

// Check result labels.
const (
	ResultUnchanged   = "unchanged"
	ResultChanged     = "changed"
	ResultFirstSeen   = "first_seen"
	ResultZoneUpdated = "zone_updated"
	ResultNoAuthority = "no_authority"
	ResultError       = "error"
)

// Notification outcome labels.
const (
	OutcomeEmitted        = "emitted"
	OutcomeSuppressed     = "suppressed"
	OutcomeAutoSuppressed = "auto_suppressed"
	OutcomeNotifierError  = "notifier_error"
)

// NewMetrics registers the loop metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "checks_total",
			Help:      "Domain checks partitioned by result.",
		}, []string{"result"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "changes_total",
			Help:      "Detected DNS changes partitioned by change type.",
		}, []string{"change_type"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "notifications_total",
			Help:      "Notification decisions partitioned by outcome.",
		}, []string{"outcome"}),
		resolverErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "resolver_errors_total",
			Help:      "Transport failures talking to the DoH resolver.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a full scan over all monitored domains.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		domains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dnsvigil",
			Subsystem: "monitor",
			Name:      "domains_monitored",
			Help:      "Number of domains in the current monitoring set.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.checks, m.changes, m.notifications, m.resolverErrs, m.tickDuration, m.domains)
	}
	return m
}

func (m *Metrics) observeCheck(result string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(result).Inc()
}

func (m *Metrics) observeChange(changeType string) {
	if m == nil {
		return
	}
	m.changes.WithLabelValues(changeType).Inc()
}

func (m *Metrics) observeNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observeResolverError() {
	if m == nil {
		return
	}
	m.resolverErrs.Inc()
}

func (m *Metrics) observeTick(d time.Duration, domains int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
	m.domains.Set(float64(domains))
}
