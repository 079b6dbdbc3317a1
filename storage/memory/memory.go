// Package memory provides an in-memory implementation of membership.Storage
// and membership.EventLog. It is intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// Storage implements membership.Storage using in-memory maps
type Storage struct {
	mu            sync.RWMutex
	customers     map[string]*membership.BillingCustomer // by subscriber id
	subscriptions map[string]*membership.Subscription    // by external subscription id
	facilities    map[string]*membership.Facility
	pricing       map[membership.Tier]membership.PricingRule
	passes        map[string]*membership.Pass
	now           func() time.Time
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{
		customers:     make(map[string]*membership.BillingCustomer),
		subscriptions: make(map[string]*membership.Subscription),
		facilities:    make(map[string]*membership.Facility),
		pricing:       make(map[membership.Tier]membership.PricingRule),
		passes:        make(map[string]*membership.Pass),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PutFacility adds or replaces a facility
func (s *Storage) PutFacility(f membership.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[f.ID] = &f
}

// PutPricingRule adds or replaces the pricing rule for a tier
func (s *Storage) PutPricingRule(r membership.PricingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pricing[r.Tier] = r
}

// SaveFacility is PutFacility with the signature the Postgres adapter uses
func (s *Storage) SaveFacility(_ context.Context, f membership.Facility) error {
	if f.ID == "" {
		return fmt.Errorf("invalid facility")
	}
	s.PutFacility(f)
	return nil
}

// SavePricingRule is PutPricingRule with the signature the Postgres adapter uses
func (s *Storage) SavePricingRule(_ context.Context, r membership.PricingRule) error {
	s.PutPricingRule(r)
	return nil
}

// GetBillingCustomer implements membership.Storage
func (s *Storage) GetBillingCustomer(_ context.Context, subscriberID string) (*membership.BillingCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[subscriberID]
	if !ok {
		return nil, membership.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

// GetBillingCustomerByExternalID implements membership.Storage
func (s *Storage) GetBillingCustomerByExternalID(_ context.Context, externalCustomerID string) (*membership.BillingCustomer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.customers {
		if c.ExternalCustomerID == externalCustomerID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, membership.ErrCustomerNotFound
}

// SaveBillingCustomer implements membership.Storage
func (s *Storage) SaveBillingCustomer(_ context.Context, c *membership.BillingCustomer) (*membership.BillingCustomer, error) {
	if c == nil || c.SubscriberID == "" || c.ExternalCustomerID == "" {
		return nil, fmt.Errorf("invalid billing customer")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.customers[c.SubscriberID]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *c
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.customers[c.SubscriberID] = &stored
	cp := stored
	return &cp, nil
}

// GetSubscriptionByExternalID implements membership.Storage
func (s *Storage) GetSubscriptionByExternalID(_ context.Context, externalID string) (*membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[externalID]
	if !ok {
		return nil, membership.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

// GetActiveSubscription implements membership.Storage
func (s *Storage) GetActiveSubscription(_ context.Context, subscriberID string) (*membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub := s.activeLocked(subscriberID, ""); sub != nil {
		cp := *sub
		return &cp, nil
	}
	return nil, membership.ErrSubscriptionNotFound
}

// ListSubscriptions implements membership.Storage
func (s *Storage) ListSubscriptions(_ context.Context, subscriberID string) ([]membership.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []membership.Subscription
	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpsertSubscription implements membership.Storage
func (s *Storage) UpsertSubscription(_ context.Context, in *membership.Subscription, opts membership.UpsertOptions) (*membership.UpsertResult, error) {
	if in == nil || in.ExternalSubscriptionID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.subscriptions[in.ExternalSubscriptionID]
	if !ok {
		row := *in
		row.ID = uuid.NewString()
		row.VisitsUsed = 0
		row.GuestPassesUsed = 0
		row.CreatedAt = now
		row.UpdatedAt = now
		if row.Status == membership.StatusActive && s.activeLocked(row.SubscriberID, row.ExternalSubscriptionID) != nil {
			return nil, membership.ErrActiveConflict
		}
		s.subscriptions[row.ExternalSubscriptionID] = &row
		cp := row
		return &membership.UpsertResult{Subscription: &cp, Created: true}, nil
	}

	merged := merge(*existing, *in, opts)
	merged.UpdatedAt = now
	if merged.Status == membership.StatusActive && s.activeLocked(merged.SubscriberID, merged.ExternalSubscriptionID) != nil {
		return nil, membership.ErrActiveConflict
	}
	prev := existing.Status
	*existing = merged
	cp := merged
	return &membership.UpsertResult{Subscription: &cp, PreviousStatus: prev}, nil
}

// merge applies the UpsertSubscription merge rules
func merge(cur, in membership.Subscription, opts membership.UpsertOptions) membership.Subscription {
	if cur.Status != membership.StatusCanceled {
		cur.Status = in.Status
	}
	if !opts.KeepProfile {
		cur.ApplyProfile(in.Profile())
	}
	if cur.SubscriberID == "" {
		cur.SubscriberID = in.SubscriberID
	}
	if in.ExternalCustomerID != "" {
		cur.ExternalCustomerID = in.ExternalCustomerID
	}
	if !in.PeriodStart.IsZero() && !in.PeriodStart.Before(cur.PeriodStart) {
		if !cur.PeriodStart.IsZero() && in.PeriodStart.After(cur.PeriodStart) {
			cur.VisitsUsed = 0
			cur.GuestPassesUsed = 0
		}
		cur.PeriodStart = in.PeriodStart
		if !in.PeriodEnd.IsZero() {
			cur.PeriodEnd = in.PeriodEnd
		}
	} else if cur.PeriodStart.IsZero() && !in.PeriodEnd.IsZero() {
		cur.PeriodEnd = in.PeriodEnd
	}
	return cur
}

// CancelActiveSiblings implements membership.Storage
func (s *Storage) CancelActiveSiblings(_ context.Context, subscriberID, exceptExternalID string) (int, error) {
	if subscriberID == "" {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := s.now()
	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID && sub.ExternalSubscriptionID != exceptExternalID &&
			sub.Status == membership.StatusActive {
			sub.Status = membership.StatusCanceled
			sub.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (s *Storage) activeLocked(subscriberID, exceptExternalID string) *membership.Subscription {
	if subscriberID == "" {
		return nil
	}
	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID && sub.Status == membership.StatusActive &&
			sub.ExternalSubscriptionID != exceptExternalID {
			return sub
		}
	}
	return nil
}

// GetFacility implements membership.Storage
func (s *Storage) GetFacility(_ context.Context, facilityID string) (*membership.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.facilities[facilityID]
	if !ok {
		return nil, membership.ErrFacilityNotFound
	}
	cp := *f
	return &cp, nil
}

// ListFacilities implements membership.Storage
func (s *Storage) ListFacilities(_ context.Context) ([]membership.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]membership.Facility, 0, len(s.facilities))
	for _, f := range s.facilities {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPricingRule implements membership.Storage
func (s *Storage) GetPricingRule(_ context.Context, tier membership.Tier) (*membership.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.pricing[tier]
	if !ok {
		return nil, membership.ErrPricingRuleNotFound
	}
	return &r, nil
}

// IssuePass implements membership.Storage. The quota check, the increment
// and the pass insert happen under one write lock.
func (s *Storage) IssuePass(_ context.Context, pass *membership.Pass) (*membership.Subscription, error) {
	if pass == nil || pass.Code == "" {
		return nil, fmt.Errorf("invalid pass")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var sub *membership.Subscription
	for _, candidate := range s.subscriptions {
		if candidate.ID == pass.SubscriptionID {
			sub = candidate
			break
		}
	}
	if sub == nil || sub.Status != membership.StatusActive {
		return nil, membership.ErrNoActiveSubscription
	}
	if _, dup := s.passes[pass.Code]; dup {
		return nil, fmt.Errorf("duplicate pass code %s", pass.Code)
	}

	if pass.Guest {
		if sub.GuestPassesUsed >= sub.GuestPassesLimit {
			return nil, membership.ErrQuotaExhausted
		}
		sub.GuestPassesUsed++
	} else {
		if sub.VisitsUsed >= sub.MonthlyLimit {
			return nil, membership.ErrQuotaExhausted
		}
		sub.VisitsUsed++
	}
	sub.UpdatedAt = s.now()

	stored := *pass
	s.passes[pass.Code] = &stored
	cp := *sub
	return &cp, nil
}

// GetPass implements membership.Storage
func (s *Storage) GetPass(_ context.Context, code string) (*membership.Pass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.passes[code]
	if !ok {
		return nil, membership.ErrPassNotFound
	}
	cp := *p
	return &cp, nil
}

// ExpirePasses implements membership.Storage
func (s *Storage) ExpirePasses(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.passes {
		if p.Status == membership.PassActive && !now.Before(p.ValidUntil) {
			p.Status = membership.PassExpired
			n++
		}
	}
	return n, nil
}

// EventLog implements membership.EventLog in memory
type EventLog struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewEventLog creates an empty EventLog
func NewEventLog() *EventLog {
	return &EventLog{seen: make(map[string]time.Time), now: time.Now}
}

// Seen implements membership.EventLog
func (l *EventLog) Seen(_ context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exp, ok := l.seen[eventID]
	if !ok {
		return false, nil
	}
	if !l.now().Before(exp) {
		delete(l.seen, eventID)
		return false, nil
	}
	return true, nil
}

// MarkProcessed implements membership.EventLog
func (l *EventLog) MarkProcessed(_ context.Context, eventID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen[eventID] = l.now().Add(ttl)
	return nil
}
