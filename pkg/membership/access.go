package membership

import (
	"context"
	"errors"
	"fmt"
)

// SubscriptionReader is the read side of Storage needed for access checks
type SubscriptionReader interface {
	GetActiveSubscription(ctx context.Context, subscriberID string) (*Subscription, error)
}

// CheckAccess returns the subscriber's active subscription when its tier
// satisfies minimum. An empty minimum accepts any known tier. Denials are
// returned as *IssuanceError; anything else is a storage failure.
func CheckAccess(ctx context.Context, store SubscriptionReader, subscriberID string, minimum Tier) (*Subscription, error) {
	sub, err := store.GetActiveSubscription(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, NewIssuanceError(ErrNoActiveSubscription)
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if !sub.Tier.Satisfies(minimum) {
		return nil, NewIssuanceError(ErrTierTooLow)
	}
	return sub, nil
}
