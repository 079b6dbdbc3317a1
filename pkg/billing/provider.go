package billing

import (
	"context"
	"net/http"
)

// Provider is the interface a payment provider integration implements.
type Provider interface {
	// Name returns the provider name (e.g., "stripe")
	Name() string

	// WebhookHandler returns the HTTP handler that receives provider events.
	// It verifies, acknowledges and hands the event to a Dispatcher.
	WebhookHandler() http.Handler

	// Checkout starts a subscription checkout for a subscriber, creating the
	// billing customer first when the subscriber has none.
	Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// CheckoutRequest is the input of Provider.Checkout
type CheckoutRequest struct {
	SubscriberID string
	Email        string
	Name         string
	PriceID      string
	SuccessURL   string
	CancelURL    string
}

// CheckoutSession is a redirectable checkout reference
type CheckoutSession struct {
	ID  string
	URL string
}
