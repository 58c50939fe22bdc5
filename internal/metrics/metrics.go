// Package metrics exposes Prometheus counters for the credit and billing flows.
//
// A nil *Metrics is valid and records nothing, so services can be built
// without metrics in tests.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "resize"

type Metrics struct {
	CreditsGranted   *prometheus.CounterVec
	CreditsDebited   *prometheus.CounterVec
	DebitsRejected   prometheus.Counter
	WebhookEvents    *prometheus.CounterVec
	CheckoutsStarted *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CreditsGranted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits added to user balances, by reason.",
		}, []string{"reason"}),
		CreditsDebited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_debited_total",
			Help:      "Credits deducted from user balances, by reason.",
		}, []string{"reason"}),
		DebitsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_rejected_total",
			Help:      "Debits refused because the balance was too low.",
		}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Webhook events handled, by type and outcome.",
		}, []string{"type", "outcome"}),
		CheckoutsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_started_total",
			Help:      "Checkout sessions created, by plan.",
		}, []string{"plan"}),
	}
	reg.MustRegister(m.CreditsGranted, m.CreditsDebited, m.DebitsRejected, m.WebhookEvents, m.CheckoutsStarted)
	return m
}

// Reason strips the suffix off "subscription:pro" style reasons so label
// cardinality stays bounded.
func Reason(reason string) string {
	prefix, _, _ := strings.Cut(reason, ":")
	return prefix
}

func (m *Metrics) Granted(reason string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsGranted.WithLabelValues(Reason(reason)).Add(float64(amount))
}

func (m *Metrics) Debited(reason string, amount int64) {
	if m == nil {
		return
	}
	m.CreditsDebited.WithLabelValues(Reason(reason)).Add(float64(amount))
}

func (m *Metrics) Rejected() {
	if m == nil {
		return
	}
	m.DebitsRejected.Inc()
}

func (m *Metrics) Webhook(eventType, outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) Checkout(plan string) {
	if m == nil {
		return
	}
	m.CheckoutsStarted.WithLabelValues(plan).Inc()
}
