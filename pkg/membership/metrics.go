package membership

import "time"

// Metrics defines the interface for tracking reconciliation and issuance.
type Metrics interface {
	// RecordIssuance records an issuance attempt. outcome is "issued" or an IssuanceCode.
	RecordIssuance(tier Tier, outcome string, guest bool)

	// RecordIssuanceDuration records how long an issuance took end to end.
	RecordIssuanceDuration(duration time.Duration)

	// RecordReconciliation records the outcome of applying a billing event.
	// outcome: "applied", "skipped", "error"
	RecordReconciliation(kind EventKind, outcome string)

	// RecordSiblingCancellations records subscriptions canceled to keep a single active row.
	RecordSiblingCancellations(count int)

	// RecordCatalogLookup records a product catalog lookup. source: "cache", "upstream", "error"
	RecordCatalogLookup(source string)

	// RecordCircuitBreakerStateChange records a circuit breaker state change.
	RecordCircuitBreakerStateChange(state string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordIssuance(_ Tier, _ string, _ bool)    {}
func (n *NoopMetrics) RecordIssuanceDuration(_ time.Duration)     {}
func (n *NoopMetrics) RecordReconciliation(_ EventKind, _ string) {}
func (n *NoopMetrics) RecordSiblingCancellations(_ int)           {}
func (n *NoopMetrics) RecordCatalogLookup(_ string)               {}
func (n *NoopMetrics) RecordCircuitBreakerStateChange(_ string)   {}
