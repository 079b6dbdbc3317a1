package membership

import (
	"context"
	"time"
)

// Storage defines the interface for membership persistence.
// Implementations must make UpsertSubscription and IssuePass atomic.
type Storage interface {
	// GetBillingCustomer returns the billing customer for a subscriber
	// Returns ErrCustomerNotFound when there is none
	GetBillingCustomer(ctx context.Context, subscriberID string) (*BillingCustomer, error)

	// GetBillingCustomerByExternalID returns the billing customer for a provider customer id
	// Returns ErrCustomerNotFound when there is none
	GetBillingCustomerByExternalID(ctx context.Context, externalCustomerID string) (*BillingCustomer, error)

	// SaveBillingCustomer stores the mapping if the subscriber has none yet and
	// returns the stored mapping. The first mapping written for a subscriber wins.
	SaveBillingCustomer(ctx context.Context, customer *BillingCustomer) (*BillingCustomer, error)

	// GetSubscriptionByExternalID returns the subscription with the given provider id
	// Returns ErrSubscriptionNotFound when there is none
	GetSubscriptionByExternalID(ctx context.Context, externalSubscriptionID string) (*Subscription, error)

	// GetActiveSubscription returns the subscriber's active subscription
	// Returns ErrSubscriptionNotFound when there is none
	GetActiveSubscription(ctx context.Context, subscriberID string) (*Subscription, error)

	// ListSubscriptions returns every subscription of a subscriber, newest first
	ListSubscriptions(ctx context.Context, subscriberID string) ([]Subscription, error)

	// UpsertSubscription inserts the subscription or merges it into the row
	// with the same ExternalSubscriptionID. Merge rules:
	//   - a canceled row stays canceled
	//   - tier, quotas and price are overwritten unless opts.KeepProfile
	//   - period bounds move only forward; a later period start resets usage
	//   - an empty stored subscriber id is filled in
	// Returns ErrActiveConflict if the write would leave the subscriber with
	// two active subscriptions.
	UpsertSubscription(ctx context.Context, sub *Subscription, opts UpsertOptions) (*UpsertResult, error)

	// CancelActiveSiblings cancels every active subscription of the subscriber
	// except the one with exceptExternalID. Returns how many were canceled.
	CancelActiveSiblings(ctx context.Context, subscriberID, exceptExternalID string) (int, error)

	// GetFacility returns a facility. Returns ErrFacilityNotFound when there is none
	GetFacility(ctx context.Context, facilityID string) (*Facility, error)

	// ListFacilities returns every facility
	ListFacilities(ctx context.Context) ([]Facility, error)

	// GetPricingRule returns the per-pass cost for a tier
	// Returns ErrPricingRuleNotFound when there is none
	GetPricingRule(ctx context.Context, tier Tier) (*PricingRule, error)

	// IssuePass atomically consumes one unit of quota (guest quota when
	// pass.Guest) from pass.SubscriptionID and stores the pass.
	// Returns ErrQuotaExhausted when no quota is left and ErrNoActiveSubscription
	// when the subscription is no longer active. Nothing is written on error.
	IssuePass(ctx context.Context, pass *Pass) (*Subscription, error)

	// GetPass returns a pass by code. Returns ErrPassNotFound when there is none
	GetPass(ctx context.Context, code string) (*Pass, error)

	// ExpirePasses marks active passes whose validity ended before now as expired
	ExpirePasses(ctx context.Context, now time.Time) (int, error)
}

// UpsertOptions controls how UpsertSubscription merges into an existing row
type UpsertOptions struct {
	// KeepProfile keeps the stored tier, quotas and price of an existing row.
	// Used when fresh product data could not be fetched.
	KeepProfile bool
}

// UpsertResult is returned by UpsertSubscription
type UpsertResult struct {
	Subscription *Subscription
	// Created is true when the row did not exist before
	Created bool
	// PreviousStatus is the status before the write; empty when Created
	PreviousStatus SubscriptionStatus
}

// Locker serialises work on a key across goroutines or processes.
type Locker interface {
	// Acquire blocks until the lock for key is held or ctx is done.
	// ttl bounds how long a crashed holder can keep the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// EventLog remembers processed billing event ids.
type EventLog interface {
	// Seen reports whether eventID was already processed
	Seen(ctx context.Context, eventID string) (bool, error)

	// MarkProcessed records eventID for ttl
	MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error
}

// TimeSource returns the time from the storage engine so that pass windows do
// not depend on application server clocks.
type TimeSource interface {
	Now(ctx context.Context) (time.Time, error)
}
