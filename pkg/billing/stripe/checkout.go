package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

// Checkout creates a subscription Checkout Session for the subscriber.
// The billing customer is created first when the subscriber has none.
func (p *Provider) Checkout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	if req.SubscriberID == "" || req.PriceID == "" {
		return nil, fmt.Errorf("%w: subscriber and price are required", billing.ErrInvalidCheckout)
	}

	customerID, err := p.ensureCustomer(ctx, req)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(customerID),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.SubscriberID),
	}
	params.AddMetadata(metadataUserID, req.SubscriberID)
	params.AddMetadata(metadataPriceID, req.PriceID)

	// Subscription events resolve the subscriber from this metadata
	params.SubscriptionData = &stripe.CheckoutSessionCreateSubscriptionDataParams{}
	params.SubscriptionData.AddMetadata(metadataUserID, req.SubscriberID)

	start := time.Now()
	session, err := p.sessions.Create(ctx, params)
	p.recordAPICall("/v1/checkout/sessions", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", billing.ErrProviderAPIError, err)
	}
	return &billing.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// ensureCustomer returns the subscriber's Stripe customer, creating and
// recording it on first use. Concurrent first checkouts collapse onto the
// same customer through the idempotency key and first-writer-wins storage.
func (p *Provider) ensureCustomer(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	existing, err := p.storage.GetBillingCustomer(ctx, req.SubscriberID)
	if err == nil {
		return existing.ExternalCustomerID, nil
	}
	if !errors.Is(err, membership.ErrCustomerNotFound) {
		// Fail rather than risk a duplicate customer
		return "", fmt.Errorf("resolve billing customer: %w", err)
	}

	params := &stripe.CustomerCreateParams{}
	if req.Email != "" {
		params.Email = stripe.String(req.Email)
	}
	if req.Name != "" {
		params.Name = stripe.String(req.Name)
	}
	params.AddMetadata(metadataUserID, req.SubscriberID)
	params.SetIdempotencyKey("customer-" + req.SubscriberID)

	start := time.Now()
	customer, err := p.customers.Create(ctx, params)
	p.recordAPICall("/v1/customers", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: create customer: %v", billing.ErrProviderAPIError, err)
	}

	stored, err := p.storage.SaveBillingCustomer(ctx, &membership.BillingCustomer{
		SubscriberID:       req.SubscriberID,
		ExternalCustomerID: customer.ID,
		Email:              req.Email,
	})
	if err != nil {
		return "", fmt.Errorf("save billing customer: %w", err)
	}
	p.logger.Info("billing customer created",
		membership.F("subscriber_id", req.SubscriberID),
		membership.F("customer_id", stored.ExternalCustomerID),
	)
	return stored.ExternalCustomerID, nil
}

func (p *Provider) recordAPICall(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordAPICall(providerName, endpoint, status)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
}
