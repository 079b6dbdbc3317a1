package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// IssuePass implements membership.Storage. The quota check and the increment
// are one conditional UPDATE; the pass insert shares its transaction.
func (s *Storage) IssuePass(ctx context.Context, pass *membership.Pass) (*membership.Subscription, error) {
	if pass == nil || pass.Code == "" {
		return nil, fmt.Errorf("invalid pass")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	consume := `UPDATE subscriptions SET visits_used = visits_used + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND visits_used < monthly_limit
		RETURNING ` + subscriptionColumns
	if pass.Guest {
		consume = `UPDATE subscriptions SET guest_passes_used = guest_passes_used + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'active' AND guest_passes_used < guest_passes_limit
		RETURNING ` + subscriptionColumns
	}

	sub, err := scanSubscription(tx.QueryRow(ctx, consume, pass.SubscriptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.classifyDenied(ctx, tx, pass.SubscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume quota: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO passes (code, subscriber_id, facility_id, subscription_id, status, guest,
				issued_at, valid_until, tier_at_issuance, cost_at_issuance)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric)`,
		pass.Code, pass.SubscriberID, pass.FacilityID, pass.SubscriptionID, string(pass.Status), pass.Guest,
		pass.IssuedAt, pass.ValidUntil, string(pass.TierAtIssuance), pass.CostAtIssuance.String())
	if err != nil {
		return nil, fmt.Errorf("failed to insert pass: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return sub, nil
}

// classifyDenied explains why the conditional update matched no row
func (s *Storage) classifyDenied(ctx context.Context, tx pgx.Tx, subscriptionID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM subscriptions WHERE id = $1`, subscriptionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && status != string(membership.StatusActive)) {
		return membership.ErrNoActiveSubscription
	}
	if err != nil {
		return fmt.Errorf("failed to read subscription: %w", err)
	}
	return membership.ErrQuotaExhausted
}

// GetPass implements membership.Storage
func (s *Storage) GetPass(ctx context.Context, code string) (*membership.Pass, error) {
	var (
		p            membership.Pass
		status, tier string
		cost         string
		redeemedAt   *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT code, subscriber_id, facility_id, subscription_id, status, guest,
				issued_at, valid_until, tier_at_issuance, cost_at_issuance::text, redeemed_at
			FROM passes WHERE code = $1`, code).Scan(
		&p.Code, &p.SubscriberID, &p.FacilityID, &p.SubscriptionID, &status, &p.Guest,
		&p.IssuedAt, &p.ValidUntil, &tier, &cost, &redeemedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrPassNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	d, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("invalid stored cost %q: %w", cost, err)
	}
	p.CostAtIssuance = d
	p.Status = membership.PassStatus(status)
	p.TierAtIssuance = membership.Tier(tier)
	p.IssuedAt = p.IssuedAt.UTC()
	p.ValidUntil = p.ValidUntil.UTC()
	p.RedeemedAt = redeemedAt
	return &p, nil
}

// ExpirePasses implements membership.Storage
func (s *Storage) ExpirePasses(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE passes SET status = 'expired' WHERE status = 'active' AND valid_until <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire passes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
