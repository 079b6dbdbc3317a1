package billing

import (
	"github.com/mihaimyh/gympass/pkg/membership"
)

// Config defines the configuration all providers accept
type Config struct {
	// WebhookSecret verifies incoming webhook requests. An empty secret makes
	// the webhook endpoint answer 503.
	WebhookSecret string

	// APIKey is used for outbound API calls to the billing provider.
	APIKey string

	// Reconciler receives decoded billing events (required).
	Reconciler *membership.Reconciler

	// Storage resolves and records billing customers (required).
	Storage membership.Storage

	// Dispatcher runs reconciliation off the webhook response path.
	// If nil, the provider creates one and closes it with Close.
	Dispatcher *Dispatcher

	// Metrics is an optional metrics collector for tracking billing provider operations.
	// If nil, metrics will be silently ignored (no-op).
	// Use billing/metrics/prometheus.DefaultMetrics(namespace) for Prometheus metrics.
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger membership.Logger
}
