package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const envPrefix = "GYMPASS"

// Config is the process configuration
type Config struct {
	Server      ServerConfig       `mapstructure:"server"`
	Log         LogConfig          `mapstructure:"log"`
	Storage     StorageConfig      `mapstructure:"storage"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Stripe      StripeConfig       `mapstructure:"stripe"`
	Geocode     GeocodeConfig      `mapstructure:"geocode"`
	Sweep       SweepConfig        `mapstructure:"sweep"`
	Dispatch    DispatchConfig     `mapstructure:"dispatch"`
	Facilities  []FacilityConfig   `mapstructure:"facilities"`
	Pricing     map[string]string  `mapstructure:"pricing"`
	Subscribers []SubscriberConfig `mapstructure:"subscribers"`
}

type ServerConfig struct {
	Addr             string        `mapstructure:"addr"`
	SubscriberHeader string        `mapstructure:"subscriber_header"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	// Driver is "memory" or "postgres"
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	// LockConns sizes the separate pool holding advisory locks
	LockConns   int32  `mapstructure:"lock_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig enables the Redis locker and event log when Addr is set
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StripeConfig struct {
	SecretKey         string        `mapstructure:"secret_key"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	TrustProxy        bool          `mapstructure:"trust_proxy"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type GeocodeConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// DispatchConfig sizes the background webhook worker pool
type DispatchConfig struct {
	Workers    int `mapstructure:"workers"`
	SpillLimit int `mapstructure:"spill_limit"`
}

// FacilityConfig seeds a facility at startup
type FacilityConfig struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	Address      string   `mapstructure:"address"`
	Latitude     *float64 `mapstructure:"latitude"`
	Longitude    *float64 `mapstructure:"longitude"`
	RequiredTier string   `mapstructure:"required_tier"`
	Inactive     bool     `mapstructure:"inactive"`
}

// SubscriberConfig is a directory entry used for welcome and pass notifications
type SubscriberConfig struct {
	ID       string `mapstructure:"id"`
	Email    string `mapstructure:"email"`
	Name     string `mapstructure:"name"`
	Postcode string `mapstructure:"postcode"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.subscriber_header", "X-Subscriber-ID")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.max_conns", 10)
	v.SetDefault("storage.lock_conns", 4)
	v.SetDefault("storage.auto_migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.trust_proxy", false)
	v.SetDefault("stripe.rate_limit_requests", 100)
	v.SetDefault("stripe.rate_limit_window", time.Minute)
	v.SetDefault("geocode.base_url", "")
	v.SetDefault("geocode.timeout", 5*time.Second)
	v.SetDefault("sweep.interval", membership.DefaultSweepInterval)
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.spill_limit", 4)
}

// loadConfig reads defaults, an optional config file and GYMPASS_* environment
// variables, in increasing order of precedence
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	for i, f := range c.Facilities {
		if f.ID == "" {
			errs = append(errs, fmt.Errorf("facilities[%d].id is required", i))
		}
		if _, ok := membership.ParseTier(f.RequiredTier); f.RequiredTier != "" && !ok {
			errs = append(errs, fmt.Errorf("facilities[%d].required_tier %q is not a tier", i, f.RequiredTier))
		}
		if (f.Latitude == nil) != (f.Longitude == nil) {
			errs = append(errs, fmt.Errorf("facilities[%d] needs both latitude and longitude", i))
		}
	}
	for tier, cost := range c.Pricing {
		if _, ok := membership.ParseTier(tier); !ok {
			errs = append(errs, fmt.Errorf("pricing: %q is not a tier", tier))
		}
		if _, err := decimal.NewFromString(cost); err != nil {
			errs = append(errs, fmt.Errorf("pricing.%s: %w", tier, err))
		}
	}
	return errors.Join(errs...)
}

// facilities converts the seed list into domain facilities
func (c *Config) facilities() []membership.Facility {
	out := make([]membership.Facility, 0, len(c.Facilities))
	for _, f := range c.Facilities {
		tier, ok := membership.ParseTier(f.RequiredTier)
		if !ok {
			tier = membership.TierStandard
		}
		status := membership.FacilityActive
		if f.Inactive {
			status = membership.FacilityInactive
		}
		facility := membership.Facility{
			ID:           f.ID,
			Name:         f.Name,
			Address:      f.Address,
			RequiredTier: tier,
			Status:       status,
		}
		if f.Latitude != nil && f.Longitude != nil {
			facility.Location = &membership.Location{Latitude: *f.Latitude, Longitude: *f.Longitude}
		}
		out = append(out, facility)
	}
	return out
}

// pricingRules converts the tier -> cost map. Validate has already checked it.
func (c *Config) pricingRules() []membership.PricingRule {
	out := make([]membership.PricingRule, 0, len(c.Pricing))
	for name, cost := range c.Pricing {
		tier, _ := membership.ParseTier(name)
		out = append(out, membership.PricingRule{Tier: tier, Cost: decimal.RequireFromString(cost)})
	}
	return out
}
