package membership

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often Sweeper.Run expires passes
const DefaultSweepInterval = time.Minute

// PassExpirer is the part of Storage a Sweeper needs
type PassExpirer interface {
	ExpirePasses(ctx context.Context, now time.Time) (int, error)
}

// Sweeper marks passes past their validity window as expired. Reads derive
// the status from time as well, so a missed sweep only delays the stored value.
type Sweeper struct {
	Storage    PassExpirer
	Interval   time.Duration
	TimeSource TimeSource
	Logger     Logger
}

// RunOnce expires every active pass whose window has closed
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	if s.TimeSource != nil {
		if t, err := s.TimeSource.Now(ctx); err == nil {
			now = t.UTC()
		}
	}
	n, err := s.Storage.ExpirePasses(ctx, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger().Info("passes expired", F("count", n))
	}
	return n, nil
}

// Run sweeps on every tick until ctx is done. Failures are logged and the
// loop continues.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger().Error("pass sweep failed", F("error", err))
			}
		}
	}
}

func (s *Sweeper) logger() Logger {
	if s.Logger == nil {
		return &NoopLogger{}
	}
	return s.Logger
}
