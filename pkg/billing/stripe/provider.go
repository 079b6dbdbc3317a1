// Package stripe connects Stripe billing to the membership reconciler.
package stripe

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/billing/internal"
	"github.com/mihaimyh/gympass/pkg/membership"
)

const (
	providerName             = "stripe"
	defaultRateLimitWindow   = time.Minute
	defaultRateLimitRequests = 100
	maxWebhookBodyBytes      = 256 * 1024

	metadataUserID  = "user_id"
	metadataPriceID = "price_id"
)

// Config extends billing.Config with Stripe-specific options
type Config struct {
	billing.Config

	// RateLimitRequests is the number of webhook requests allowed per client
	// IP per RateLimitWindow (default: 100 per minute).
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// TrustProxy takes the client IP from X-Forwarded-For
	TrustProxy bool

	// Client overrides the API client built from APIKey
	Client *stripe.Client
}

type customerAPI interface {
	Create(ctx context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error)
}

type checkoutAPI interface {
	Create(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
}

// Provider implements billing.Provider for Stripe
type Provider struct {
	verifier       *Verifier
	reconciler     *membership.Reconciler
	storage        membership.Storage
	dispatcher     *billing.Dispatcher
	ownsDispatcher bool
	rateLimiter    *internal.RateLimiter
	customers      customerAPI
	sessions       checkoutAPI
	metrics        billing.Metrics
	logger         membership.Logger
}

var _ billing.Provider = (*Provider)(nil)

// NewProvider creates a new Stripe billing provider
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.Reconciler == nil || cfg.Storage == nil {
		return nil, billing.ErrProviderNotConfigured
	}

	client := cfg.Client
	if client == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, billing.ErrProviderNotConfigured
		}
		client = stripe.NewClient(apiKey)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &membership.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	limit := cfg.RateLimitRequests
	if limit <= 0 {
		limit = defaultRateLimitRequests
	}
	window := cfg.RateLimitWindow
	if window <= 0 {
		window = defaultRateLimitWindow
	}

	dispatcher := cfg.Dispatcher
	owns := false
	if dispatcher == nil {
		dispatcher = billing.NewDispatcher(billing.DispatcherConfig{Logger: logger, Metrics: metrics})
		owns = true
	}

	return &Provider{
		verifier:       NewVerifier(cfg.WebhookSecret, logger),
		reconciler:     cfg.Reconciler,
		storage:        cfg.Storage,
		dispatcher:     dispatcher,
		ownsDispatcher: owns,
		rateLimiter:    internal.NewRateLimiter(limit, window, cfg.TrustProxy),
		customers:      client.V1Customers,
		sessions:       client.V1CheckoutSessions,
		metrics:        metrics,
		logger:         logger,
	}, nil
}

// Name returns the provider name
func (p *Provider) Name() string {
	return providerName
}

// WebhookHandler returns the HTTP handler for Stripe webhooks
func (p *Provider) WebhookHandler() http.Handler {
	return p.rateLimiter.Middleware(http.HandlerFunc(p.handleWebhook))
}

// Close drains the dispatcher when the provider created it
func (p *Provider) Close(ctx context.Context) error {
	if !p.ownsDispatcher {
		return nil
	}
	return p.dispatcher.Close(ctx)
}
