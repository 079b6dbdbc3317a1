package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ProductCatalog reads product data for a price from the payment provider
type ProductCatalog interface {
	Product(ctx context.Context, priceID string) (*ProductInfo, error)
}

// CatalogConfig configures a GuardedCatalog
type CatalogConfig struct {
	// CacheSize is the number of prices kept in memory (default: 256)
	CacheSize int
	// CacheTTL is how long a looked-up price is trusted (default: 5 minutes)
	CacheTTL time.Duration
	// Breaker configures the circuit breaker around the upstream
	Breaker CircuitBreakerConfig
	// Timeout bounds a single upstream call (default: 5s)
	Timeout time.Duration

	Metrics Metrics
	Logger  Logger
}

// GuardedCatalog wraps a ProductCatalog with a TTL cache, request
// coalescing and a circuit breaker.
type GuardedCatalog struct {
	upstream ProductCatalog
	cache    *expirable.LRU[string, ProductInfo]
	group    singleflight.Group
	breaker  *CircuitBreaker
	timeout  time.Duration
	metrics  Metrics
	logger   Logger
}

// NewGuardedCatalog creates a GuardedCatalog around upstream
func NewGuardedCatalog(upstream ProductCatalog, cfg CatalogConfig) (*GuardedCatalog, error) {
	if upstream == nil {
		return nil, fmt.Errorf("%w: product catalog is required", ErrInvalidConfig)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}

	onChange := cfg.Breaker.OnStateChange
	metrics, logger := cfg.Metrics, cfg.Logger
	cfg.Breaker.OnStateChange = func(s BreakerState) {
		metrics.RecordCircuitBreakerStateChange(string(s))
		logger.Warn("product catalog circuit breaker changed state", F("state", s))
		if onChange != nil {
			onChange(s)
		}
	}

	return &GuardedCatalog{
		upstream: upstream,
		cache:    expirable.NewLRU[string, ProductInfo](cfg.CacheSize, nil, cfg.CacheTTL),
		breaker:  NewCircuitBreaker(cfg.Breaker),
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}, nil
}

// Product returns product data for priceID
func (c *GuardedCatalog) Product(ctx context.Context, priceID string) (*ProductInfo, error) {
	if info, ok := c.cache.Get(priceID); ok {
		c.metrics.RecordCatalogLookup("cache")
		return cloneProduct(info), nil
	}

	v, err, _ := c.group.Do(priceID, func() (interface{}, error) {
		var info *ProductInfo
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			callCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			var err error
			info, err = c.upstream.Product(callCtx, priceID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if info == nil {
			return nil, fmt.Errorf("empty product for price %s", priceID)
		}
		c.cache.Add(priceID, *info)
		return *info, nil
	})
	if err != nil {
		c.metrics.RecordCatalogLookup("error")
		if !errors.Is(err, ErrCircuitOpen) {
			c.logger.Warn("product lookup failed", F("price_id", priceID), F("error", err))
		}
		return nil, err
	}

	c.metrics.RecordCatalogLookup("upstream")
	return cloneProduct(v.(ProductInfo)), nil
}

// BreakerState reports the upstream circuit breaker state
func (c *GuardedCatalog) BreakerState() BreakerState {
	return c.breaker.State()
}

func cloneProduct(p ProductInfo) *ProductInfo {
	if p.Metadata != nil {
		md := make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	return &p
}
