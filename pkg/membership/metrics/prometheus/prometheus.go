package prommetrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// Metrics implements membership.Metrics using Prometheus.
type Metrics struct {
	issuanceTotal              *prometheus.CounterVec
	issuanceDuration           prometheus.Histogram
	reconciliationTotal        *prometheus.CounterVec
	siblingCancellations       prometheus.Counter
	catalogLookups             *prometheus.CounterVec
	circuitBreakerStateChanges *prometheus.CounterVec
}

// NewMetrics creates a new Prometheus metrics implementation.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		issuanceTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pass_issuance_total",
			Help:      "Total number of pass issuance attempts by outcome.",
		}, []string{"tier", "outcome", "guest"}),

		issuanceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_issuance_duration_seconds",
			Help:      "Latency of pass issuance.",
			Buckets:   prometheus.DefBuckets,
		}),

		reconciliationTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_total",
			Help:      "Total number of billing events reconciled by kind and outcome.",
		}, []string{"kind", "outcome"}),

		siblingCancellations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sibling_cancellations_total",
			Help:      "Total number of subscriptions canceled to keep one active subscription per subscriber.",
		}),

		catalogLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_lookups_total",
			Help:      "Total number of product catalog lookups by source.",
		}, []string{"source"}),

		circuitBreakerStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Total number of circuit breaker state changes.",
		}, []string{"state"}),
	}
}

func (m *Metrics) RecordIssuance(tier membership.Tier, outcome string, guest bool) {
	m.issuanceTotal.WithLabelValues(string(tier), outcome, strconv.FormatBool(guest)).Inc()
}

func (m *Metrics) RecordIssuanceDuration(duration time.Duration) {
	m.issuanceDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordReconciliation(kind membership.EventKind, outcome string) {
	m.reconciliationTotal.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) RecordSiblingCancellations(count int) {
	m.siblingCancellations.Add(float64(count))
}

func (m *Metrics) RecordCatalogLookup(source string) {
	m.catalogLookups.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordCircuitBreakerStateChange(state string) {
	m.circuitBreakerStateChanges.WithLabelValues(state).Inc()
}

// DefaultMetrics returns a Metrics implementation using the default Prometheus registerer.
func DefaultMetrics(namespace string) *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer, namespace)
}
