package membership

import (
	"errors"
	"fmt"
)

var (
	// ErrSubscriptionNotFound is returned when no subscription matches a lookup
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrCustomerNotFound is returned when a subscriber has no billing customer
	ErrCustomerNotFound = errors.New("billing customer not found")

	// ErrPricingRuleNotFound is returned when a tier has no pricing rule
	ErrPricingRuleNotFound = errors.New("pricing rule not found")

	// ErrPassNotFound is returned when no pass matches a code
	ErrPassNotFound = errors.New("pass not found")

	// ErrActiveConflict is returned by storage when a write would leave a
	// subscriber with two active subscriptions
	ErrActiveConflict = errors.New("subscriber already has an active subscription")

	// ErrStorageUnavailable is returned when storage is unavailable
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidConfig is returned when a component is constructed with bad configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSubscriberUnknown is returned when an event cannot be attributed to a subscriber
	ErrSubscriberUnknown = errors.New("subscriber could not be resolved")
)

// Issuance failures. IssuanceError values match these with errors.Is.
var (
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrTierTooLow           = errors.New("tier too low")
	ErrQuotaExhausted       = errors.New("quota exhausted")
	ErrFacilityNotFound     = errors.New("facility not found")
)

// IssuanceCode is the stable, user-facing code for an issuance failure
type IssuanceCode string

const (
	CodeNoActiveSubscription IssuanceCode = "no_active_subscription"
	CodeTierTooLow           IssuanceCode = "tier_too_low"
	CodeQuotaExhausted       IssuanceCode = "quota_exhausted"
	CodeFacilityNotFound     IssuanceCode = "facility_not_found"
)

// IssuanceError is a domain error returned by the pass issuance engine
type IssuanceError struct {
	Code    IssuanceCode
	Message string
	err     error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *IssuanceError) Unwrap() error {
	return e.err
}

// NewIssuanceError maps a denial sentinel to its code and user-facing message
func NewIssuanceError(err error) *IssuanceError {
	switch {
	case errors.Is(err, ErrNoActiveSubscription):
		return &IssuanceError{Code: CodeNoActiveSubscription, Message: "you need an active subscription to book a visit", err: err}
	case errors.Is(err, ErrTierTooLow):
		return &IssuanceError{Code: CodeTierTooLow, Message: "your plan does not include this facility", err: err}
	case errors.Is(err, ErrQuotaExhausted):
		return &IssuanceError{Code: CodeQuotaExhausted, Message: "you have reached your monthly visit limit", err: err}
	default:
		return &IssuanceError{Code: CodeFacilityNotFound, Message: "this facility is not available", err: ErrFacilityNotFound}
	}
}

// AsIssuanceError extracts an IssuanceError from err
func AsIssuanceError(err error) (*IssuanceError, bool) {
	var ie *IssuanceError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}
