package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPassValidity is how long an issued pass stays usable
const DefaultPassValidity = 2 * time.Hour

// IssueRequest asks for a pass
type IssueRequest struct {
	SubscriberID string
	FacilityID   string
	// Guest consumes the guest pass quota instead of the visit quota
	Guest bool
}

// IssueResult is a successfully issued pass
type IssueResult struct {
	Pass         *Pass
	Subscription *Subscription
	// Warnings lists non-fatal problems that happened after the pass was issued
	Warnings []string
}

// IssuerConfig configures an Issuer
type IssuerConfig struct {
	// Storage is required
	Storage Storage

	// Validity overrides DefaultPassValidity
	Validity time.Duration

	// Notifier sends the pass confirmation (optional)
	Notifier Notifier

	// Directory resolves the recipient of the confirmation (optional)
	Directory Directory

	// TimeSource supplies issuance time (default: storage time when the
	// storage implements TimeSource, else the local clock)
	TimeSource TimeSource

	Metrics Metrics
	Logger  Logger
}

// Issuer issues quota-gated passes
type Issuer struct {
	storage    Storage
	validity   time.Duration
	notifier   Notifier
	directory  Directory
	timeSource TimeSource
	metrics    Metrics
	logger     Logger
}

// NewIssuer creates an Issuer
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Validity <= 0 {
		cfg.Validity = DefaultPassValidity
	}
	if cfg.TimeSource == nil {
		if ts, ok := cfg.Storage.(TimeSource); ok {
			cfg.TimeSource = ts
		}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}

	return &Issuer{
		storage:    cfg.Storage,
		validity:   cfg.Validity,
		notifier:   cfg.Notifier,
		directory:  cfg.Directory,
		timeSource: cfg.TimeSource,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Issue validates eligibility and issues a pass. Checks run in order and
// stop at the first failure: active subscription, tier, quota, facility.
// Domain failures are returned as *IssuanceError.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	start := time.Now()
	defer func() { i.metrics.RecordIssuanceDuration(time.Since(start)) }()

	sub, err := i.storage.GetActiveSubscription(ctx, req.SubscriberID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil, i.deny("", req, ErrNoActiveSubscription)
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}

	facility, err := i.storage.GetFacility(ctx, req.FacilityID)
	switch {
	case errors.Is(err, ErrFacilityNotFound):
		facility = nil
	case err != nil:
		return nil, fmt.Errorf("load facility: %w", err)
	}

	if facility != nil && !sub.Tier.Satisfies(facility.RequiredTier) {
		return nil, i.deny(sub.Tier, req, ErrTierTooLow)
	}
	if !hasQuota(sub, req.Guest) {
		return nil, i.deny(sub.Tier, req, ErrQuotaExhausted)
	}
	if facility == nil || !facility.Operational() {
		return nil, i.deny(sub.Tier, req, ErrFacilityNotFound)
	}

	now := i.now(ctx)
	pass := &Pass{
		Code:           uuid.NewString(),
		SubscriberID:   req.SubscriberID,
		FacilityID:     facility.ID,
		SubscriptionID: sub.ID,
		Status:         PassActive,
		Guest:          req.Guest,
		IssuedAt:       now,
		ValidUntil:     now.Add(i.validity),
		TierAtIssuance: sub.Tier,
		CostAtIssuance: i.cost(ctx, sub.Tier),
	}

	updated, err := i.storage.IssuePass(ctx, pass)
	if err != nil {
		if errors.Is(err, ErrQuotaExhausted) || errors.Is(err, ErrNoActiveSubscription) {
			return nil, i.deny(sub.Tier, req, err)
		}
		return nil, fmt.Errorf("issue pass: %w", err)
	}

	i.metrics.RecordIssuance(sub.Tier, "issued", req.Guest)
	i.logger.Info("pass issued",
		F("subscriber_id", req.SubscriberID),
		F("facility_id", facility.ID),
		F("pass_code", pass.Code),
		F("guest", req.Guest),
		F("valid_until", pass.ValidUntil),
	)

	result := &IssueResult{Pass: pass, Subscription: updated}
	if w := i.confirm(ctx, pass, facility); w != "" {
		result.Warnings = append(result.Warnings, w)
	}
	return result, nil
}

// Lookup returns a pass with its status derived from the current time
func (i *Issuer) Lookup(ctx context.Context, code string) (*Pass, error) {
	pass, err := i.storage.GetPass(ctx, code)
	if err != nil {
		return nil, err
	}
	pass.Status = pass.StatusAt(i.now(ctx))
	return pass, nil
}

func hasQuota(sub *Subscription, guest bool) bool {
	if guest {
		return sub.GuestPassesUsed < sub.GuestPassesLimit
	}
	return sub.VisitsUsed < sub.MonthlyLimit
}

func (i *Issuer) deny(tier Tier, req IssueRequest, cause error) *IssuanceError {
	ie := NewIssuanceError(cause)
	i.metrics.RecordIssuance(tier, string(ie.Code), req.Guest)
	i.logger.Info("pass denied",
		F("subscriber_id", req.SubscriberID),
		F("facility_id", req.FacilityID),
		F("code", ie.Code),
	)
	return ie
}

// cost never blocks issuance: a missing or unreadable rule costs zero.
func (i *Issuer) cost(ctx context.Context, tier Tier) decimal.Decimal {
	rule, err := i.storage.GetPricingRule(ctx, tier)
	if err != nil {
		if !errors.Is(err, ErrPricingRuleNotFound) {
			i.logger.Warn("pricing lookup failed, using zero cost", F("tier", tier), F("error", err))
		}
		return decimal.Zero
	}
	return rule.Cost
}

func (i *Issuer) now(ctx context.Context) time.Time {
	if i.timeSource != nil {
		t, err := i.timeSource.Now(ctx)
		if err == nil {
			return t.UTC()
		}
		i.logger.Debug("storage time unavailable, using local clock", F("error", err))
	}
	return time.Now().UTC()
}

// confirm sends the pass confirmation and returns a warning on failure
func (i *Issuer) confirm(ctx context.Context, pass *Pass, facility *Facility) string {
	if i.notifier == nil || i.directory == nil {
		return ""
	}

	id, err := i.directory.Lookup(ctx, pass.SubscriberID)
	if err == nil {
		err = i.notifier.Send(ctx, Notification{
			Recipient: id.Email,
			Name:      id.DisplayName,
			Template:  TemplatePassIssued,
			Pass:      pass,
			Facilities: []RankedFacility{
				{Facility: *facility},
			},
		})
	}
	if err != nil {
		i.logger.Warn("pass confirmation failed",
			F("subscriber_id", pass.SubscriberID), F("pass_code", pass.Code), F("error", err))
		return "pass confirmation could not be sent"
	}
	return ""
}
