package stripe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

// Decode turns a verified Stripe event into a membership event. Event types
// the reconciler does not act on become *membership.Unhandled.
func Decode(ev *billing.VerifiedEvent) (membership.Event, error) {
	meta := membership.EventMeta{ID: ev.ID, Type: ev.Type, Created: ev.Created}

	switch ev.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(ev.Payload, &session); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", billing.ErrInvalidWebhookPayload, err)
		}
		return decodeCheckout(meta, &session), nil

	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Payload, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", billing.ErrInvalidWebhookPayload)
		}
		product, period := subscriptionProduct(&sub)
		return &membership.SubscriptionUpdated{
			EventMeta:              meta,
			SubscriberID:           sub.Metadata[metadataUserID],
			ExternalCustomerID:     customerID(sub.Customer),
			ExternalSubscriptionID: sub.ID,
			Status:                 mapStatus(sub.Status),
			Product:                product,
			Period:                 period,
		}, nil

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(ev.Payload, &sub); err != nil {
			return nil, fmt.Errorf("%w: subscription: %v", billing.ErrInvalidWebhookPayload, err)
		}
		if sub.ID == "" {
			return nil, fmt.Errorf("%w: subscription without id", billing.ErrInvalidWebhookPayload)
		}
		return &membership.SubscriptionDeleted{
			EventMeta:              meta,
			SubscriberID:           sub.Metadata[metadataUserID],
			ExternalCustomerID:     customerID(sub.Customer),
			ExternalSubscriptionID: sub.ID,
		}, nil

	default:
		return &membership.Unhandled{EventMeta: meta}, nil
	}
}

func decodeCheckout(meta membership.EventMeta, session *stripe.CheckoutSession) *membership.CheckoutCompleted {
	subscriberID := session.Metadata[metadataUserID]
	if subscriberID == "" {
		subscriberID = session.ClientReferenceID
	}

	email := session.CustomerEmail
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		email = session.CustomerDetails.Email
	}

	out := &membership.CheckoutCompleted{
		EventMeta:          meta,
		SubscriberID:       subscriberID,
		Email:              email,
		ExternalCustomerID: customerID(session.Customer),
		Product:            membership.ProductRef{PriceID: session.Metadata[metadataPriceID]},
	}
	if session.Subscription != nil {
		out.ExternalSubscriptionID = session.Subscription.ID
		// Expanded subscriptions carry the price and the period
		if session.Subscription.Items != nil {
			product, period := subscriptionProduct(session.Subscription)
			if product.PriceID != "" {
				out.Product = product
			}
			out.Period = period
		}
	}
	return out
}

// subscriptionProduct returns the price of the first item and its billing period.
// The product is inlined only when Stripe expanded it.
func subscriptionProduct(sub *stripe.Subscription) (membership.ProductRef, membership.Period) {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return membership.ProductRef{}, membership.Period{}
	}
	item := sub.Items.Data[0]

	period := membership.Period{
		Start: unixOrZero(item.CurrentPeriodStart),
		End:   unixOrZero(item.CurrentPeriodEnd),
	}

	price := item.Price
	if price == nil {
		return membership.ProductRef{}, period
	}
	ref := membership.ProductRef{PriceID: price.ID}
	if info := productInfo(price); info != nil && price.Product != nil && price.Product.Name != "" {
		ref.Inline = info
	}
	return ref, period
}

// productInfo merges price metadata over product metadata. Nil when the
// price is nil.
func productInfo(price *stripe.Price) *membership.ProductInfo {
	if price == nil {
		return nil
	}
	md := map[string]string{}
	info := &membership.ProductInfo{
		UnitAmount: price.UnitAmount,
		Currency:   strings.ToLower(string(price.Currency)),
	}
	if price.Product != nil {
		info.Name = price.Product.Name
		for k, v := range price.Product.Metadata {
			md[k] = v
		}
	}
	for k, v := range price.Metadata {
		md[k] = v
	}
	info.Metadata = md
	return info
}

func mapStatus(s stripe.SubscriptionStatus) membership.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return membership.StatusActive
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return membership.StatusCanceled
	default:
		// past_due, unpaid, incomplete, paused
		return membership.StatusPastDue
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
