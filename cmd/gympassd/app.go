package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gympass/pkg/api"
	"github.com/mihaimyh/gympass/pkg/billing"
	billingprom "github.com/mihaimyh/gympass/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/gympass/pkg/billing/stripe"
	"github.com/mihaimyh/gympass/pkg/geocode"
	"github.com/mihaimyh/gympass/pkg/membership"
	zerologadapter "github.com/mihaimyh/gympass/pkg/membership/logger/zerolog"
	membershipprom "github.com/mihaimyh/gympass/pkg/membership/metrics/prometheus"
	"github.com/mihaimyh/gympass/storage/memory"
	"github.com/mihaimyh/gympass/storage/postgres"
	redisstore "github.com/mihaimyh/gympass/storage/redis"
)

const metricsNamespace = "gympass"

// store is what every storage driver offers the process
type store interface {
	membership.Storage
	SaveFacility(ctx context.Context, f membership.Facility) error
	SavePricingRule(ctx context.Context, r membership.PricingRule) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// app holds the wired components of a running process
type app struct {
	cfg      *Config
	logger   membership.Logger
	registry *prometheus.Registry

	storage    store
	locker     membership.Locker
	eventLog   membership.EventLog
	timeSource membership.TimeSource

	reconciler *membership.Reconciler
	issuer     *membership.Issuer
	sweeper    *membership.Sweeper
	dispatcher *billing.Dispatcher
	provider   *stripe.Provider
	handler    *api.Handler

	closers []func()
}

// openStorage connects the configured storage driver and, for Postgres,
// applies migrations when asked to
func openStorage(ctx context.Context, cfg *Config, migrate bool) (store, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pgCfg := postgres.DefaultConfig()
		pgCfg.ConnectionString = cfg.Storage.PostgresDSN
		if cfg.Storage.MaxConns > 0 {
			pgCfg.MaxConns = cfg.Storage.MaxConns
		}
		pg, err := postgres.New(ctx, pgCfg)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return pg, pg.Close, nil
	default:
		return memory.New(), func() {}, nil
	}
}

// newApp wires every component from cfg
func newApp(ctx context.Context, cfg *Config, zl zerolog.Logger) (*app, error) {
	logger := zerologadapter.NewLogger(zl)
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	membershipMetrics := membershipprom.NewMetrics(a.registry, metricsNamespace)
	billingMetrics := billingprom.NewMetrics(a.registry, metricsNamespace)

	st, closeStorage, err := openStorage(ctx, cfg, cfg.Storage.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.storage = st
	a.closers = append(a.closers, closeStorage)

	if err := a.seed(ctx); err != nil {
		a.close()
		return nil, err
	}

	if err := a.wireCoordination(ctx, st); err != nil {
		a.close()
		return nil, err
	}

	directory := newConfigDirectory(cfg.Subscribers, st)
	notifier := &membership.LogNotifier{Logger: logger}

	var catalog membership.ProductCatalog
	if cfg.Stripe.SecretKey != "" {
		upstream, err := stripe.NewCatalog(cfg.Stripe.SecretKey, nil, billingMetrics)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("stripe catalog: %w", err)
		}
		guarded, err := membership.NewGuardedCatalog(upstream, membership.CatalogConfig{
			Metrics: membershipMetrics,
			Logger:  logger,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		catalog = guarded
	}

	welcomer := &membership.Welcomer{
		Directory: directory,
		Geocoder: geocode.New(geocode.Config{
			BaseURL: cfg.Geocode.BaseURL,
			Timeout: cfg.Geocode.Timeout,
			Logger:  logger,
		}),
		Facilities: st,
		Notifier:   notifier,
		Logger:     logger,
	}

	a.reconciler, err = membership.NewReconciler(membership.ReconcilerConfig{
		Storage:     st,
		Catalog:     catalog,
		Locker:      a.locker,
		EventLog:    a.eventLog,
		OnActivated: welcomer.Welcome,
		Metrics:     membershipMetrics,
		Logger:      logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("reconciler: %w", err)
	}

	a.issuer, err = membership.NewIssuer(membership.IssuerConfig{
		Storage:    st,
		Notifier:   notifier,
		Directory:  directory,
		TimeSource: a.timeSource,
		Metrics:    membershipMetrics,
		Logger:     logger,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("issuer: %w", err)
	}

	a.sweeper = &membership.Sweeper{
		Storage:    st,
		Interval:   cfg.Sweep.Interval,
		TimeSource: a.timeSource,
		Logger:     logger,
	}

	a.dispatcher = billing.NewDispatcher(billing.DispatcherConfig{
		Workers:    cfg.Dispatch.Workers,
		SpillLimit: cfg.Dispatch.SpillLimit,
		Logger:     logger,
		Metrics:    billingMetrics,
	})

	var provider billing.Provider
	if cfg.Stripe.SecretKey != "" {
		a.provider, err = stripe.NewProvider(stripe.Config{
			Config: billing.Config{
				WebhookSecret: cfg.Stripe.WebhookSecret,
				APIKey:        cfg.Stripe.SecretKey,
				Reconciler:    a.reconciler,
				Storage:       st,
				Dispatcher:    a.dispatcher,
				Metrics:       billingMetrics,
				Logger:        logger,
			},
			RateLimitRequests: cfg.Stripe.RateLimitRequests,
			RateLimitWindow:   cfg.Stripe.RateLimitWindow,
			TrustProxy:        cfg.Stripe.TrustProxy,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		provider = a.provider
	} else {
		logger.Warn("stripe.secret_key not set: checkout and webhooks are disabled")
	}

	a.handler, err = api.NewHandler(api.Config{
		Issuer:          a.issuer,
		Storage:         st,
		Billing:         provider,
		Directory:       directory,
		GetSubscriberID: api.FromHeader(cfg.Server.SubscriberHeader),
		Logger:          logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// wireCoordination picks the locker, event log and time source: Redis when
// configured, else the storage driver's own facilities, else in-process ones
func (a *app) wireCoordination(ctx context.Context, st store) error {
	if ts, ok := st.(membership.TimeSource); ok {
		a.timeSource = ts
	}
	a.locker = membership.NewLocalLocker()
	a.eventLog = memory.NewEventLog()

	if pg, ok := st.(*postgres.Storage); ok && a.cfg.Redis.Addr == "" {
		locker, err := pg.NewLocker(ctx, a.cfg.Storage.LockConns)
		if err != nil {
			return fmt.Errorf("postgres locker: %w", err)
		}
		a.closers = append(a.closers, locker.Close)
		a.locker = locker
	}

	if a.cfg.Redis.Addr == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	rcfg := redisstore.DefaultConfig()
	rcfg.Logger = a.logger
	rs, err := redisstore.New(client, rcfg)
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("redis: %w", err)
	}
	if err := rs.Ping(ctx); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = rs.Close() })
	a.locker = rs
	a.eventLog = rs
	if a.timeSource == nil {
		a.timeSource = rs
	}
	return nil
}

// seed upserts configured facilities and pricing rules
func (a *app) seed(ctx context.Context) error {
	for _, f := range a.cfg.facilities() {
		if err := a.storage.SaveFacility(ctx, f); err != nil {
			return fmt.Errorf("seed facility %s: %w", f.ID, err)
		}
	}
	for _, r := range a.cfg.pricingRules() {
		if err := a.storage.SavePricingRule(ctx, r); err != nil {
			return fmt.Errorf("seed pricing %s: %w", r.Tier, err)
		}
	}
	return nil
}

// ready reports whether storage answers
func (a *app) ready(ctx context.Context) error {
	if p, ok := a.storage.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// shutdown drains queued webhook work, then releases connections
func (a *app) shutdown(ctx context.Context) error {
	var err error
	if a.dispatcher != nil {
		err = a.dispatcher.Close(ctx)
	}
	a.close()
	return err
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// webhookHandler is the provider's handler, or 503 when billing is not configured
func (a *app) webhookHandler() http.Handler {
	if a.provider != nil {
		return a.provider.WebhookHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"billing provider not configured"}`))
	})
}
