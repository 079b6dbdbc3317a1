// Package postgres provides a PostgreSQL implementation of membership.Storage.
// Subscription merges use INSERT ... ON CONFLICT and pass issuance uses a
// conditional UPDATE inside the same transaction as the pass insert.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const (
	pgUniqueViolation   = "23505"
	oneActiveConstraint = "subscriptions_one_active"
)

// Storage implements membership.Storage and membership.TimeSource on PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

var (
	_ membership.Storage    = (*Storage)(nil)
	_ membership.TimeSource = (*Storage)(nil)
)

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("%w: connection string is required", membership.ErrInvalidConfig)
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", membership.ErrStorageUnavailable, err)
	}

	return &Storage{pool: pool, config: config}, nil
}

// Close closes the connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Now implements membership.TimeSource using the database clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	var now time.Time
	if err := s.pool.QueryRow(ctx, `SELECT NOW()`).Scan(&now); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database time: %w", err)
	}
	return now.UTC(), nil
}

// GetBillingCustomer implements membership.Storage
func (s *Storage) GetBillingCustomer(ctx context.Context, subscriberID string) (*membership.BillingCustomer, error) {
	return s.getCustomer(ctx, `WHERE subscriber_id = $1`, subscriberID)
}

// GetBillingCustomerByExternalID implements membership.Storage
func (s *Storage) GetBillingCustomerByExternalID(
	ctx context.Context, externalCustomerID string,
) (*membership.BillingCustomer, error) {
	return s.getCustomer(ctx, `WHERE external_customer_id = $1`, externalCustomerID)
}

func (s *Storage) getCustomer(ctx context.Context, where, arg string) (*membership.BillingCustomer, error) {
	var c membership.BillingCustomer
	err := s.pool.QueryRow(ctx,
		`SELECT subscriber_id, external_customer_id, email, created_at FROM billing_customers `+where,
		arg).Scan(&c.SubscriberID, &c.ExternalCustomerID, &c.Email, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing customer: %w", err)
	}
	return &c, nil
}

// SaveBillingCustomer implements membership.Storage
func (s *Storage) SaveBillingCustomer(
	ctx context.Context, c *membership.BillingCustomer,
) (*membership.BillingCustomer, error) {
	if c == nil || c.SubscriberID == "" || c.ExternalCustomerID == "" {
		return nil, fmt.Errorf("invalid billing customer")
	}

	// The no-op update makes RETURNING yield the existing row on conflict
	var out membership.BillingCustomer
	err := s.pool.QueryRow(ctx,
		`INSERT INTO billing_customers (subscriber_id, external_customer_id, email)
			VALUES ($1, $2, $3)
			ON CONFLICT (subscriber_id) DO UPDATE SET subscriber_id = billing_customers.subscriber_id
			RETURNING subscriber_id, external_customer_id, email, created_at`,
		c.SubscriberID, c.ExternalCustomerID, c.Email,
	).Scan(&out.SubscriberID, &out.ExternalCustomerID, &out.Email, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to save billing customer: %w", err)
	}
	return &out, nil
}

// GetFacility implements membership.Storage
func (s *Storage) GetFacility(ctx context.Context, facilityID string) (*membership.Facility, error) {
	f, err := scanFacility(s.pool.QueryRow(ctx,
		`SELECT `+facilityColumns+` FROM facilities WHERE id = $1`, facilityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrFacilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get facility: %w", err)
	}
	return f, nil
}

// ListFacilities implements membership.Storage
func (s *Storage) ListFacilities(ctx context.Context) ([]membership.Facility, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+facilityColumns+` FROM facilities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}
	defer rows.Close()

	var out []membership.Facility
	for rows.Next() {
		f, err := scanFacility(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// SaveFacility inserts or replaces a facility
func (s *Storage) SaveFacility(ctx context.Context, f membership.Facility) error {
	var lat, lon *float64
	if f.Location != nil {
		lat, lon = &f.Location.Latitude, &f.Location.Longitude
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO facilities (id, name, address, latitude, longitude, required_tier, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				address = EXCLUDED.address,
				latitude = EXCLUDED.latitude,
				longitude = EXCLUDED.longitude,
				required_tier = EXCLUDED.required_tier,
				status = EXCLUDED.status`,
		f.ID, f.Name, f.Address, lat, lon, string(f.RequiredTier), string(f.Status))
	if err != nil {
		return fmt.Errorf("failed to save facility: %w", err)
	}
	return nil
}

// GetPricingRule implements membership.Storage
func (s *Storage) GetPricingRule(ctx context.Context, tier membership.Tier) (*membership.PricingRule, error) {
	var cost string
	err := s.pool.QueryRow(ctx, `SELECT cost::text FROM pricing_rules WHERE tier = $1`, string(tier)).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, membership.ErrPricingRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pricing rule: %w", err)
	}
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("invalid stored cost %q: %w", cost, err)
	}
	return &membership.PricingRule{Tier: tier, Cost: d}, nil
}

// SavePricingRule inserts or replaces the pricing rule of a tier
func (s *Storage) SavePricingRule(ctx context.Context, r membership.PricingRule) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pricing_rules (tier, cost) VALUES ($1, $2::numeric)
			ON CONFLICT (tier) DO UPDATE SET cost = EXCLUDED.cost`,
		string(r.Tier), r.Cost.String())
	if err != nil {
		return fmt.Errorf("failed to save pricing rule: %w", err)
	}
	return nil
}

const facilityColumns = `id, name, address, latitude, longitude, required_tier, status`

func scanFacility(row pgx.Row) (*membership.Facility, error) {
	var (
		f        membership.Facility
		lat, lon *float64
		tier     string
		status   string
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Address, &lat, &lon, &tier, &status); err != nil {
		return nil, err
	}
	if lat != nil && lon != nil {
		f.Location = &membership.Location{Latitude: *lat, Longitude: *lon}
	}
	f.RequiredTier = membership.Tier(tier)
	f.Status = membership.FacilityStatus(status)
	return &f, nil
}

func isActiveConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == oneActiveConstraint
}
