package membership

import "time"

// EventKind enumerates the billing events the reconciler understands
type EventKind string

const (
	KindCheckoutCompleted   EventKind = "checkout_completed"
	KindSubscriptionUpdated EventKind = "subscription_updated"
	KindSubscriptionDeleted EventKind = "subscription_deleted"
	KindUnhandled           EventKind = "unhandled"
)

// EventMeta carries the provider's identity for an event
type EventMeta struct {
	// ID is the provider event id (e.g. evt_...)
	ID string
	// Type is the provider event type (e.g. checkout.session.completed)
	Type string
	// Created is when the provider emitted the event
	Created time.Time
}

// Event is a verified billing event. The set of implementations is closed:
// CheckoutCompleted, SubscriptionUpdated, SubscriptionDeleted and Unhandled.
type Event interface {
	Meta() EventMeta
	Kind() EventKind
	isEvent()
}

// ProductRef points at the product/price a subscription is billed for.
// Inline is set when the event already carries the product data.
type ProductRef struct {
	PriceID string
	Inline  *ProductInfo
}

// CheckoutCompleted is emitted when a subscriber finishes a checkout session
type CheckoutCompleted struct {
	EventMeta
	SubscriberID           string
	Email                  string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	Product                ProductRef
	Period                 Period
}

// SubscriptionUpdated is emitted when the provider changes a subscription
// (creation, renewal, plan change, payment state change).
type SubscriptionUpdated struct {
	EventMeta
	// SubscriberID is optional; resolved from the billing customer or the stored row when empty.
	SubscriberID           string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	Status                 SubscriptionStatus
	Product                ProductRef
	Period                 Period
}

// SubscriptionDeleted is emitted when the provider ends a subscription
type SubscriptionDeleted struct {
	EventMeta
	SubscriberID           string
	ExternalCustomerID     string
	ExternalSubscriptionID string
}

// Unhandled wraps any provider event kind the reconciler ignores
type Unhandled struct {
	EventMeta
}

func (e *CheckoutCompleted) Meta() EventMeta   { return e.EventMeta }
func (e *SubscriptionUpdated) Meta() EventMeta { return e.EventMeta }
func (e *SubscriptionDeleted) Meta() EventMeta { return e.EventMeta }
func (e *Unhandled) Meta() EventMeta           { return e.EventMeta }

func (e *CheckoutCompleted) Kind() EventKind   { return KindCheckoutCompleted }
func (e *SubscriptionUpdated) Kind() EventKind { return KindSubscriptionUpdated }
func (e *SubscriptionDeleted) Kind() EventKind { return KindSubscriptionDeleted }
func (e *Unhandled) Kind() EventKind           { return KindUnhandled }

func (*CheckoutCompleted) isEvent()   {}
func (*SubscriptionUpdated) isEvent() {}
func (*SubscriptionDeleted) isEvent() {}
func (*Unhandled) isEvent()           {}
