package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const subscriptionColumns = `id, subscriber_id, external_subscription_id, external_customer_id,
	tier, monthly_limit, visits_used, guest_passes_limit, guest_passes_used, price::text, currency,
	status, period_start, period_end, created_at, updated_at`

// GetSubscriptionByExternalID implements membership.Storage
func (s *Storage) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*membership.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_subscription_id = $1`, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return sub, nil
}

// GetActiveSubscription implements membership.Storage
func (s *Storage) GetActiveSubscription(ctx context.Context, subscriberID string) (*membership.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE subscriber_id = $1 AND status = 'active' AND subscriber_id <> ''`, subscriberID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions implements membership.Storage
func (s *Storage) ListSubscriptions(ctx context.Context, subscriberID string) ([]membership.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
			WHERE subscriber_id = $1 ORDER BY created_at DESC`, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []membership.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

// upsertSQL merges an incoming subscription into the stored row:
// canceled is terminal, the profile is kept when $15 is true, the period
// only moves forward and a later period start resets usage.
const upsertSQL = `
INSERT INTO subscriptions (
	id, subscriber_id, external_subscription_id, external_customer_id,
	tier, monthly_limit, guest_passes_limit, price, currency,
	status, period_start, period_end, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)
ON CONFLICT (external_subscription_id) DO UPDATE SET
	status = CASE WHEN subscriptions.status = 'canceled' THEN subscriptions.status ELSE EXCLUDED.status END,
	tier = CASE WHEN $15 THEN subscriptions.tier ELSE EXCLUDED.tier END,
	monthly_limit = CASE WHEN $15 THEN subscriptions.monthly_limit ELSE EXCLUDED.monthly_limit END,
	guest_passes_limit = CASE WHEN $15 THEN subscriptions.guest_passes_limit ELSE EXCLUDED.guest_passes_limit END,
	price = CASE WHEN $15 THEN subscriptions.price ELSE EXCLUDED.price END,
	currency = CASE WHEN $15 THEN subscriptions.currency ELSE EXCLUDED.currency END,
	subscriber_id = CASE WHEN subscriptions.subscriber_id = '' THEN EXCLUDED.subscriber_id
		ELSE subscriptions.subscriber_id END,
	external_customer_id = CASE WHEN EXCLUDED.external_customer_id <> '' THEN EXCLUDED.external_customer_id
		ELSE subscriptions.external_customer_id END,
	visits_used = CASE WHEN EXCLUDED.period_start > subscriptions.period_start THEN 0
		ELSE subscriptions.visits_used END,
	guest_passes_used = CASE WHEN EXCLUDED.period_start > subscriptions.period_start THEN 0
		ELSE subscriptions.guest_passes_used END,
	period_start = CASE
		WHEN EXCLUDED.period_start IS NOT NULL
			AND (subscriptions.period_start IS NULL OR EXCLUDED.period_start >= subscriptions.period_start)
		THEN EXCLUDED.period_start
		ELSE subscriptions.period_start END,
	period_end = CASE
		WHEN EXCLUDED.period_start IS NOT NULL
			AND (subscriptions.period_start IS NULL OR EXCLUDED.period_start >= subscriptions.period_start)
		THEN COALESCE(EXCLUDED.period_end, subscriptions.period_end)
		WHEN subscriptions.period_start IS NULL AND EXCLUDED.period_end IS NOT NULL
		THEN EXCLUDED.period_end
		ELSE subscriptions.period_end END,
	updated_at = EXCLUDED.updated_at
RETURNING ` + subscriptionColumns + `, (xmax = 0)`

// UpsertSubscription implements membership.Storage
func (s *Storage) UpsertSubscription(
	ctx context.Context, in *membership.Subscription, opts membership.UpsertOptions,
) (*membership.UpsertResult, error) {
	if in == nil || in.ExternalSubscriptionID == "" {
		return nil, fmt.Errorf("invalid subscription")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	// Lock the existing row, if any, to read the status it had before this write
	var previous string
	err = tx.QueryRow(ctx,
		`SELECT status FROM subscriptions WHERE external_subscription_id = $1 FOR UPDATE`,
		in.ExternalSubscriptionID).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to lock subscription: %w", err)
	}

	now := time.Now().UTC()
	row := tx.QueryRow(ctx, upsertSQL,
		uuid.NewString(), in.SubscriberID, in.ExternalSubscriptionID, in.ExternalCustomerID,
		string(in.Tier), in.MonthlyLimit, in.GuestPassesLimit, in.Price.String(), in.Currency,
		string(in.Status), nullTime(in.PeriodStart), nullTime(in.PeriodEnd), now, now,
		opts.KeepProfile,
	)

	var created bool
	sub, err := scanSubscription(row, &created)
	if err != nil {
		if isActiveConflict(err) {
			return nil, membership.ErrActiveConflict
		}
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isActiveConflict(err) {
			return nil, membership.ErrActiveConflict
		}
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	res := &membership.UpsertResult{Subscription: sub, Created: created}
	if !created {
		res.PreviousStatus = membership.SubscriptionStatus(previous)
	}
	return res, nil
}

// CancelActiveSiblings implements membership.Storage
func (s *Storage) CancelActiveSiblings(ctx context.Context, subscriberID, exceptExternalID string) (int, error) {
	if subscriberID == "" {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE subscriptions SET status = 'canceled', updated_at = NOW()
			WHERE subscriber_id = $1 AND external_subscription_id <> $2 AND status = 'active'`,
		subscriberID, exceptExternalID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel sibling subscriptions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanSubscription reads subscriptionColumns plus any extra destinations
func scanSubscription(row pgx.Row, extra ...interface{}) (*membership.Subscription, error) {
	var (
		sub        membership.Subscription
		tier       string
		status     string
		price      string
		start, end *time.Time
	)
	dest := []interface{}{
		&sub.ID, &sub.SubscriberID, &sub.ExternalSubscriptionID, &sub.ExternalCustomerID,
		&tier, &sub.MonthlyLimit, &sub.VisitsUsed, &sub.GuestPassesLimit, &sub.GuestPassesUsed,
		&price, &sub.Currency, &status, &start, &end, &sub.CreatedAt, &sub.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	sub.Price = d
	sub.Tier = membership.Tier(tier)
	sub.Status = membership.SubscriptionStatus(status)
	if start != nil {
		sub.PeriodStart = start.UTC()
	}
	if end != nil {
		sub.PeriodEnd = end.UTC()
	}
	return &sub, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
