package membership_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gympass/pkg/membership"
	"github.com/mihaimyh/gympass/storage/memory"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now(context.Context) (time.Time, error) { return c.t, nil }

type issuerFixture struct {
	store  *memory.Storage
	issuer *membership.Issuer
	clock  *fixedClock
}

func newIssuerFixture(t *testing.T, cfg membership.IssuerConfig) *issuerFixture {
	t.Helper()
	store := memory.New()
	store.PutFacility(membership.Facility{ID: "gym_std", Name: "Local", RequiredTier: membership.TierStandard, Status: membership.FacilityActive})
	store.PutFacility(membership.Facility{ID: "gym_prem", Name: "Spa", RequiredTier: membership.TierPremium, Status: membership.FacilityActive})
	store.PutFacility(membership.Facility{ID: "gym_elite", Name: "Club", RequiredTier: membership.TierElite, Status: membership.FacilityActive})
	store.PutFacility(membership.Facility{ID: "gym_closed", Name: "Closed", RequiredTier: membership.TierStandard, Status: membership.FacilityInactive})
	store.PutPricingRule(membership.PricingRule{Tier: membership.TierPremium, Cost: decimal.RequireFromString("7.50")})

	clock := &fixedClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	cfg.Storage = store
	cfg.TimeSource = clock
	issuer, err := membership.NewIssuer(cfg)
	require.NoError(t, err)
	return &issuerFixture{store: store, issuer: issuer, clock: clock}
}

func (f *issuerFixture) subscribe(t *testing.T, subscriber string, tier membership.Tier, limit, guests int) *membership.Subscription {
	t.Helper()
	res, err := f.store.UpsertSubscription(context.Background(), &membership.Subscription{
		SubscriberID:           subscriber,
		ExternalSubscriptionID: "sub_" + subscriber,
		Tier:                   tier,
		MonthlyLimit:           limit,
		GuestPassesLimit:       guests,
		Status:                 membership.StatusActive,
	}, membership.UpsertOptions{})
	require.NoError(t, err)
	return res.Subscription
}

func requireIssuanceCode(t *testing.T, err error, code membership.IssuanceCode) {
	t.Helper()
	ie, ok := membership.AsIssuanceError(err)
	require.True(t, ok, "expected IssuanceError, got %v", err)
	assert.Equal(t, code, ie.Code)
}

func TestIssuer_IssuesPass(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierPremium, 8, 0)

	res, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_prem"})
	require.NoError(t, err)

	p := res.Pass
	assert.NotEmpty(t, p.Code)
	assert.Equal(t, membership.PassActive, p.Status)
	assert.Equal(t, membership.TierPremium, p.TierAtIssuance)
	assert.True(t, decimal.RequireFromString("7.50").Equal(p.CostAtIssuance))
	assert.Equal(t, f.clock.t, p.IssuedAt)
	assert.Equal(t, membership.DefaultPassValidity, p.ValidUntil.Sub(p.IssuedAt))
	assert.Equal(t, 1, res.Subscription.VisitsUsed)
	assert.Empty(t, res.Warnings)

	stored, err := f.store.GetPass(context.Background(), p.Code)
	require.NoError(t, err)
	assert.Equal(t, p.Code, stored.Code)
}

func TestIssuer_MissingPricingCostsZero(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, 8, 0)

	res, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	require.NoError(t, err)
	assert.True(t, res.Pass.CostAtIssuance.IsZero())
}

func TestIssuer_NoActiveSubscription(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})

	_, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "nobody", FacilityID: "gym_std"})
	requireIssuanceCode(t, err, membership.CodeNoActiveSubscription)
	assert.ErrorIs(t, err, membership.ErrNoActiveSubscription)
}

func TestIssuer_TierOrdinal(t *testing.T) {
	tests := []struct {
		tier     membership.Tier
		facility string
		allowed  bool
	}{
		{membership.TierStandard, "gym_std", true},
		{membership.TierStandard, "gym_prem", false},
		{membership.TierStandard, "gym_elite", false},
		{membership.TierPremium, "gym_prem", true},
		{membership.TierPremium, "gym_elite", false},
		{membership.TierElite, "gym_std", true},
		{membership.TierElite, "gym_prem", true},
		{membership.TierElite, "gym_elite", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier)+"@"+tt.facility, func(t *testing.T) {
			f := newIssuerFixture(t, membership.IssuerConfig{})
			f.subscribe(t, "user1", tt.tier, 5, 0)

			_, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: tt.facility})
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				requireIssuanceCode(t, err, membership.CodeTierTooLow)
			}
		})
	}
}

func TestIssuer_EliteFacilityDeniedForStandard(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, 8, 0)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_elite"})
	requireIssuanceCode(t, err, membership.CodeTierTooLow)

	sub, err := f.store.GetActiveSubscription(ctx, "user1")
	require.NoError(t, err)
	assert.Equal(t, 0, sub.VisitsUsed)

	n, err := f.store.ExpirePasses(ctx, f.clock.t.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "no pass should have been stored")
}

func TestIssuer_QuotaExhausted(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, 1, 0)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	require.NoError(t, err)

	_, err = f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	requireIssuanceCode(t, err, membership.CodeQuotaExhausted)
}

func TestIssuer_CheckOrder(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, 0, 0)
	ctx := context.Background()

	// Tier is checked before quota.
	_, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_elite"})
	requireIssuanceCode(t, err, membership.CodeTierTooLow)

	// Quota is checked before facility state.
	_, err = f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_closed"})
	requireIssuanceCode(t, err, membership.CodeQuotaExhausted)
}

func TestIssuer_FacilityNotFound(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierElite, 5, 0)
	ctx := context.Background()

	_, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "missing"})
	requireIssuanceCode(t, err, membership.CodeFacilityNotFound)

	_, err = f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_closed"})
	requireIssuanceCode(t, err, membership.CodeFacilityNotFound)
}

func TestIssuer_ConcurrentRequestsRespectQuota(t *testing.T) {
	const (
		requests  = 25
		remaining = 4
	)
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, remaining, 0)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		issued    int
		exhausted int
	)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				issued++
				return
			}
			if errors.Is(err, membership.ErrQuotaExhausted) {
				exhausted++
				return
			}
			t.Errorf("unexpected error: %v", err)
		}()
	}
	wg.Wait()

	assert.Equal(t, remaining, issued)
	assert.Equal(t, requests-remaining, exhausted)

	sub, err := f.store.GetActiveSubscription(context.Background(), "user1")
	require.NoError(t, err)
	assert.Equal(t, remaining, sub.VisitsUsed)
}

func TestIssuer_GuestPasses(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierPremium, 5, 1)
	ctx := context.Background()

	res, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std", Guest: true})
	require.NoError(t, err)
	assert.True(t, res.Pass.Guest)
	assert.Equal(t, 1, res.Subscription.GuestPassesUsed)
	assert.Equal(t, 0, res.Subscription.VisitsUsed)

	_, err = f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std", Guest: true})
	requireIssuanceCode(t, err, membership.CodeQuotaExhausted)
}

func TestIssuer_LookupReportsExpiry(t *testing.T) {
	f := newIssuerFixture(t, membership.IssuerConfig{})
	f.subscribe(t, "user1", membership.TierStandard, 5, 0)
	ctx := context.Background()

	res, err := f.issuer.Issue(ctx, membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	require.NoError(t, err)

	f.clock.t = f.clock.t.Add(time.Hour)
	p, err := f.issuer.Lookup(ctx, res.Pass.Code)
	require.NoError(t, err)
	assert.Equal(t, membership.PassActive, p.Status)

	f.clock.t = res.Pass.ValidUntil
	p, err = f.issuer.Lookup(ctx, res.Pass.Code)
	require.NoError(t, err)
	assert.Equal(t, membership.PassExpired, p.Status)
	assert.Equal(t, res.Pass.ValidUntil, p.ValidUntil)

	_, err = f.issuer.Lookup(ctx, "unknown")
	assert.ErrorIs(t, err, membership.ErrPassNotFound)
}

type staticDirectory map[string]membership.Identity

func (d staticDirectory) Lookup(_ context.Context, id string) (*membership.Identity, error) {
	ident, ok := d[id]
	if !ok {
		return nil, errors.New("unknown subscriber")
	}
	return &ident, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []membership.Notification
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg membership.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func TestIssuer_NotificationFailureIsWarning(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	f := newIssuerFixture(t, membership.IssuerConfig{
		Notifier:  notifier,
		Directory: staticDirectory{"user1": {SubscriberID: "user1", Email: "u1@example.com"}},
	})
	f.subscribe(t, "user1", membership.TierStandard, 5, 0)

	res, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	require.NoError(t, err)
	require.NotNil(t, res.Pass)
	assert.Len(t, res.Warnings, 1)
}

func TestIssuer_SendsConfirmation(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newIssuerFixture(t, membership.IssuerConfig{
		Notifier:  notifier,
		Directory: staticDirectory{"user1": {SubscriberID: "user1", Email: "u1@example.com"}},
	})
	f.subscribe(t, "user1", membership.TierStandard, 5, 0)

	res, err := f.issuer.Issue(context.Background(), membership.IssueRequest{SubscriberID: "user1", FacilityID: "gym_std"})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, membership.TemplatePassIssued, notifier.sent[0].Template)
	assert.Equal(t, "u1@example.com", notifier.sent[0].Recipient)
}
