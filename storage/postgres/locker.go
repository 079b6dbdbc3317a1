package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// DefaultLockerConns is the size of the locker's own connection pool
const DefaultLockerConns int32 = 4

// AdvisoryLocker implements membership.Locker with session-level advisory
// locks. Each held or awaited lock pins one connection of the locker's own
// pool, never one of the storage pool, so a holder can always reach storage.
// The ttl is not enforced; a crashed holder's lock ends with its session.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

var _ membership.Locker = (*AdvisoryLocker)(nil)

// NewLocker opens an AdvisoryLocker on a separate pool of maxConns
// connections to the storage's database. Close it when done.
func (s *Storage) NewLocker(ctx context.Context, maxConns int32) (*AdvisoryLocker, error) {
	if maxConns <= 0 {
		maxConns = DefaultLockerConns
	}
	cfg := s.pool.Config()
	cfg.MaxConns = maxConns
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create locker pool: %w", err)
	}
	return &AdvisoryLocker{pool: pool}, nil
}

// Close closes the locker pool, releasing any locks still held
func (l *AdvisoryLocker) Close() {
	l.pool.Close()
}

// Acquire implements membership.Locker
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	lockID := lockKey(key)

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection for %s: %w", key, err)
	}

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire lock for %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The caller's ctx may already be done
			_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
			conn.Release()
		})
	}, nil
}

func lockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
