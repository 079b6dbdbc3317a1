// Package membership implements subscription reconciliation and quota-gated
// pass issuance for a gym membership platform.
package membership

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is an ordered membership level
type Tier string

const (
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
	TierElite    Tier = "elite"
)

// Ordinal returns the rank used for facility access comparisons.
// Unknown tiers rank as 0 and are denied everywhere a tier is required.
func (t Tier) Ordinal() int {
	switch t {
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	case TierElite:
		return 3
	default:
		return 0
	}
}

// Satisfies reports whether t grants access to a facility requiring required.
func (t Tier) Satisfies(required Tier) bool {
	return t.Ordinal() > 0 && t.Ordinal() >= required.Ordinal()
}

// ParseTier normalizes s into a known tier
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierStandard:
		return TierStandard, true
	case TierPremium:
		return TierPremium, true
	case TierElite:
		return TierElite, true
	}
	return "", false
}

// SubscriptionStatus is the local lifecycle state of a subscription
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// PassStatus is the state of an issued pass
type PassStatus string

const (
	PassActive  PassStatus = "active"
	PassUsed    PassStatus = "used"
	PassExpired PassStatus = "expired"
)

// FacilityStatus is the operating state of a facility
type FacilityStatus string

const (
	FacilityActive   FacilityStatus = "active"
	FacilityInactive FacilityStatus = "inactive"
)

// BillingCustomer links a subscriber to the payment provider's customer record
type BillingCustomer struct {
	SubscriberID       string
	ExternalCustomerID string
	Email              string
	CreatedAt          time.Time
}

// Subscription is the locally reconciled billing record
type Subscription struct {
	ID                     string
	SubscriberID           string
	ExternalSubscriptionID string
	ExternalCustomerID     string

	Tier             Tier
	MonthlyLimit     int
	VisitsUsed       int
	GuestPassesLimit int
	GuestPassesUsed  int
	Price            decimal.Decimal
	Currency         string

	Status      SubscriptionStatus
	PeriodStart time.Time
	PeriodEnd   time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VisitsRemaining returns the unused part of the monthly quota
func (s *Subscription) VisitsRemaining() int {
	if r := s.MonthlyLimit - s.VisitsUsed; r > 0 {
		return r
	}
	return 0
}

// GuestPassesRemaining returns the unused part of the guest quota
func (s *Subscription) GuestPassesRemaining() int {
	if r := s.GuestPassesLimit - s.GuestPassesUsed; r > 0 {
		return r
	}
	return 0
}

// Profile returns the tier profile currently stored on the subscription
func (s *Subscription) Profile() TierProfile {
	return TierProfile{
		Tier:             s.Tier,
		MonthlyLimit:     s.MonthlyLimit,
		GuestPassesLimit: s.GuestPassesLimit,
		Price:            s.Price,
		Currency:         s.Currency,
	}
}

// ApplyProfile overwrites the tier-derived fields
func (s *Subscription) ApplyProfile(p TierProfile) {
	s.Tier = p.Tier
	s.MonthlyLimit = p.MonthlyLimit
	s.GuestPassesLimit = p.GuestPassesLimit
	s.Price = p.Price
	s.Currency = p.Currency
}

// Location is a point on the globe in decimal degrees
type Location struct {
	Latitude  float64
	Longitude float64
}

// Facility is a partner gym
type Facility struct {
	ID           string
	Name         string
	Address      string
	Location     *Location
	RequiredTier Tier
	Status       FacilityStatus
}

// Operational reports whether passes can be issued for the facility
func (f *Facility) Operational() bool {
	return f.Status == FacilityActive
}

// PricingRule is the default per-pass cost for a tier
type PricingRule struct {
	Tier Tier
	Cost decimal.Decimal
}

// Pass is a time-boxed, single-use access pass
type Pass struct {
	Code           string
	SubscriberID   string
	FacilityID     string
	SubscriptionID string
	Status         PassStatus
	Guest          bool
	IssuedAt       time.Time
	ValidUntil     time.Time
	TierAtIssuance Tier
	CostAtIssuance decimal.Decimal
	RedeemedAt     *time.Time
}

// StatusAt returns the effective status at now. An active pass whose
// validity window has elapsed is reported as expired even if storage
// has not been swept yet.
func (p *Pass) StatusAt(now time.Time) PassStatus {
	if p.Status == PassActive && !now.Before(p.ValidUntil) {
		return PassExpired
	}
	return p.Status
}

// Period is a billing period
type Period struct {
	Start time.Time
	End   time.Time
}

// IsZero reports whether neither bound is set
func (p Period) IsZero() bool {
	return p.Start.IsZero() && p.End.IsZero()
}

// Identity is what the identity provider knows about a subscriber
type Identity struct {
	SubscriberID string
	Email        string
	DisplayName  string
	Postcode     string
}
