// Package redis provides Redis-backed coordination for the membership
// reconciler: a distributed membership.Locker, a membership.EventLog of
// processed billing events and a membership.TimeSource.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// Storage implements membership.Locker, membership.EventLog and
// membership.TimeSource using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	release *redis.Script
}

var (
	_ membership.Locker     = (*Storage)(nil)
	_ membership.EventLog   = (*Storage)(nil)
	_ membership.TimeSource = (*Storage)(nil)
)

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "gympass:")
	KeyPrefix string

	// LockRetryInterval is how often a blocked Acquire retries (default: 25ms)
	LockRetryInterval time.Duration

	// Logger reports locks that expired while held (default: NoopLogger)
	Logger membership.Logger
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:         "gympass:",
		LockRetryInterval: 25 * time.Millisecond,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", membership.ErrInvalidConfig)
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "gympass:"
	}
	if config.LockRetryInterval <= 0 {
		config.LockRetryInterval = 25 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = &membership.NoopLogger{}
	}

	return &Storage{
		client: client,
		config: config,
		// Delete the lock only if this holder still owns it
		release: redis.NewScript(`
			if redis.call('GET', KEYS[1]) == ARGV[1] then
				return redis.call('DEL', KEYS[1])
			end
			return 0
		`),
	}, nil
}

// Acquire implements membership.Locker. The lock expires after ttl if the
// holder never releases it.
func (s *Storage) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := s.lockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(s.config.LockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := s.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { s.unlock(key, lockKey, token, ttl) })
	}, nil
}

func (s *Storage) unlock(key, lockKey, token string, ttl time.Duration) {
	n, err := s.release.Run(context.Background(), s.client, []string{lockKey}, token).Int()
	if err != nil || n == 0 {
		s.config.Logger.Warn("lock expired before release",
			membership.F("key", key), membership.F("ttl", ttl.String()), membership.F("error", err))
	}
}

// Seen implements membership.EventLog
func (s *Storage) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.eventKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// MarkProcessed implements membership.EventLog
func (s *Storage) MarkProcessed(ctx context.Context, eventID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.eventKey(eventID), time.Now().UTC().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to mark event %s: %w", eventID, err)
	}
	return nil
}

// Now implements membership.TimeSource using the Redis server clock
func (s *Storage) Now(ctx context.Context) (time.Time, error) {
	t, err := s.client.Time(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read redis time: %w", err)
	}
	return t.UTC(), nil
}

func (s *Storage) lockKey(key string) string {
	return s.config.KeyPrefix + "lock:" + key
}

func (s *Storage) eventKey(eventID string) string {
	return s.config.KeyPrefix + "event:" + eventID
}

// Close closes the Redis client
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
