package membership

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ReconcilerConfig configures a Reconciler
type ReconcilerConfig struct {
	// Storage is required
	Storage Storage

	// Catalog supplies product data for events that only carry a price id (optional)
	Catalog ProductCatalog

	// Locker serialises reconciliation per subscriber (default: LocalLocker)
	Locker Locker

	// LockTTL bounds how long a crashed holder keeps a subscriber locked (default: 30s)
	LockTTL time.Duration

	// EventLog lets the reconciler skip events it already applied (optional)
	EventLog EventLog

	// EventLogTTL is how long processed event ids are remembered (default: 72h)
	EventLogTTL time.Duration

	// OnActivated is called after a subscription becomes active (optional)
	OnActivated func(ctx context.Context, sub *Subscription)

	Metrics Metrics
	Logger  Logger
}

// Reconciler merges verified billing events into stored subscriptions and
// keeps at most one active subscription per subscriber. Apply is idempotent
// and does not depend on event arrival order.
type Reconciler struct {
	storage     Storage
	catalog     ProductCatalog
	locker      Locker
	lockTTL     time.Duration
	eventLog    EventLog
	eventLogTTL time.Duration
	onActivated func(ctx context.Context, sub *Subscription)
	metrics     Metrics
	logger      Logger
}

// NewReconciler creates a Reconciler
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Storage == nil {
		return nil, ErrStorageUnavailable
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.EventLogTTL <= 0 {
		cfg.EventLogTTL = 72 * time.Hour
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = &NoopLogger{}
	}

	return &Reconciler{
		storage:     cfg.Storage,
		catalog:     cfg.Catalog,
		locker:      cfg.Locker,
		lockTTL:     cfg.LockTTL,
		eventLog:    cfg.EventLog,
		eventLogTTL: cfg.EventLogTTL,
		onActivated: cfg.OnActivated,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}, nil
}

// change is the normalised form of every subscription-affecting event
type change struct {
	subscriberID           string
	email                  string
	externalCustomerID     string
	externalSubscriptionID string
	status                 SubscriptionStatus
	product                ProductRef
	period                 Period
	// repairOnly: a missing row is only created when the status is active
	repairOnly bool
}

// Apply merges ev into stored state
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	meta := ev.Meta()
	kind := ev.Kind()

	if r.processed(ctx, meta.ID) {
		r.logger.Debug("billing event already processed", F("event_id", meta.ID), F("event_type", meta.Type))
		r.metrics.RecordReconciliation(kind, "skipped")
		return nil
	}

	var err error
	switch e := ev.(type) {
	case *CheckoutCompleted:
		err = r.applyCheckout(ctx, e)
	case *SubscriptionUpdated:
		err = r.commit(ctx, change{
			subscriberID:           e.SubscriberID,
			externalCustomerID:     e.ExternalCustomerID,
			externalSubscriptionID: e.ExternalSubscriptionID,
			status:                 e.Status,
			product:                e.Product,
			period:                 e.Period,
			repairOnly:             true,
		})
	case *SubscriptionDeleted:
		err = r.commit(ctx, change{
			subscriberID:           e.SubscriberID,
			externalCustomerID:     e.ExternalCustomerID,
			externalSubscriptionID: e.ExternalSubscriptionID,
			status:                 StatusCanceled,
		})
	default:
		r.logger.Info("ignoring unhandled billing event", F("event_id", meta.ID), F("event_type", meta.Type))
		r.metrics.RecordReconciliation(kind, "skipped")
		return nil
	}

	if err != nil {
		r.metrics.RecordReconciliation(kind, "error")
		return fmt.Errorf("reconcile %s %s: %w", meta.Type, meta.ID, err)
	}

	r.markProcessed(ctx, meta.ID)
	r.metrics.RecordReconciliation(kind, "applied")
	return nil
}

func (r *Reconciler) applyCheckout(ctx context.Context, e *CheckoutCompleted) error {
	subscriberID := e.SubscriberID
	if subscriberID == "" {
		subscriberID = r.subscriberForCustomer(ctx, e.ExternalCustomerID)
	}
	if subscriberID == "" {
		return ErrSubscriberUnknown
	}
	if e.ExternalSubscriptionID == "" {
		r.logger.Info("checkout completed without a subscription",
			F("event_id", e.ID), F("subscriber_id", subscriberID))
		return nil
	}

	r.ensureCustomer(ctx, subscriberID, e.ExternalCustomerID, e.Email)

	return r.commit(ctx, change{
		subscriberID:           subscriberID,
		email:                  e.Email,
		externalCustomerID:     e.ExternalCustomerID,
		externalSubscriptionID: e.ExternalSubscriptionID,
		status:                 StatusActive,
		product:                e.Product,
		period:                 e.Period,
	})
}

func (r *Reconciler) commit(ctx context.Context, c change) error {
	if c.externalSubscriptionID == "" {
		return errors.New("event has no subscription id")
	}

	if c.subscriberID == "" {
		c.subscriberID = r.subscriberForCustomer(ctx, c.externalCustomerID)
	}
	if c.subscriberID == "" {
		if existing, err := r.storage.GetSubscriptionByExternalID(ctx, c.externalSubscriptionID); err == nil {
			c.subscriberID = existing.SubscriberID
		}
	}

	stored, activated, err := r.write(ctx, c)
	if err != nil {
		return err
	}

	// Outside the subscriber lock
	if activated && r.onActivated != nil {
		r.onActivated(ctx, stored)
	}
	return nil
}

// write applies c under the subscriber lock. It reports whether the stored
// row became active for a known subscriber: either it was not active before,
// or it was active without a subscriber.
func (r *Reconciler) write(ctx context.Context, c change) (*Subscription, bool, error) {
	lockKey := "subscriber:" + c.subscriberID
	if c.subscriberID == "" {
		lockKey = "subscription:" + c.externalSubscriptionID
	}
	release := r.lock(ctx, lockKey)
	defer release()

	existing, err := r.storage.GetSubscriptionByExternalID(ctx, c.externalSubscriptionID)
	switch {
	case errors.Is(err, ErrSubscriptionNotFound):
		existing = nil
	case err != nil:
		return nil, false, fmt.Errorf("load subscription: %w", err)
	}

	if existing == nil && c.repairOnly && c.status == StatusPastDue {
		r.logger.Info("ignoring update for unknown subscription",
			F("external_subscription_id", c.externalSubscriptionID), F("status", c.status))
		return nil, false, nil
	}
	if c.subscriberID == "" {
		r.logger.Warn("subscription has no known subscriber yet",
			F("external_subscription_id", c.externalSubscriptionID))
	}

	profile, keep := r.profileFor(ctx, c, existing)
	sub := &Subscription{
		SubscriberID:           c.subscriberID,
		ExternalSubscriptionID: c.externalSubscriptionID,
		ExternalCustomerID:     c.externalCustomerID,
		Status:                 c.status,
		PeriodStart:            c.period.Start,
		PeriodEnd:              c.period.End,
	}
	sub.ApplyProfile(profile)

	activating := c.status == StatusActive && c.subscriberID != "" &&
		(existing == nil || existing.Status != StatusCanceled)
	if activating {
		r.cancelSiblings(ctx, c.subscriberID, c.externalSubscriptionID)
	}

	opts := UpsertOptions{KeepProfile: keep}
	res, err := r.storage.UpsertSubscription(ctx, sub, opts)
	if errors.Is(err, ErrActiveConflict) && c.subscriberID != "" {
		r.logger.Warn("active subscription conflict, retrying after cancelling siblings",
			F("subscriber_id", c.subscriberID), F("external_subscription_id", c.externalSubscriptionID))
		r.cancelSiblings(ctx, c.subscriberID, c.externalSubscriptionID)
		res, err = r.storage.UpsertSubscription(ctx, sub, opts)
	}
	if err != nil {
		return nil, false, fmt.Errorf("upsert subscription: %w", err)
	}

	stored := res.Subscription
	r.logger.Info("subscription reconciled",
		F("subscriber_id", stored.SubscriberID),
		F("external_subscription_id", stored.ExternalSubscriptionID),
		F("status", stored.Status),
		F("tier", stored.Tier),
		F("created", res.Created),
	)

	wasUnowned := existing != nil && existing.SubscriberID == ""
	activated := stored.Status == StatusActive && stored.SubscriberID != "" &&
		(res.PreviousStatus != StatusActive || wasUnowned)
	return stored, activated, nil
}

// profileFor returns the tier profile to write and whether the stored
// profile of an existing row should be kept instead.
func (r *Reconciler) profileFor(ctx context.Context, c change, existing *Subscription) (TierProfile, bool) {
	if c.status == StatusCanceled && existing != nil {
		return existing.Profile(), true
	}

	if c.product.Inline != nil {
		return Resolve(*c.product.Inline), false
	}

	if c.product.PriceID != "" && r.catalog != nil {
		info, err := r.catalog.Product(ctx, c.product.PriceID)
		if err == nil {
			return Resolve(*info), false
		}
		r.logger.Warn("product lookup failed, keeping last known tier",
			F("price_id", c.product.PriceID),
			F("external_subscription_id", c.externalSubscriptionID),
			F("error", err),
		)
	}

	if existing != nil {
		return existing.Profile(), true
	}
	if c.status != StatusCanceled {
		r.logger.Warn("no product data for new subscription, using standard tier defaults",
			F("external_subscription_id", c.externalSubscriptionID))
	}
	return DefaultProfile(TierStandard), false
}

func (r *Reconciler) cancelSiblings(ctx context.Context, subscriberID, keepExternalID string) {
	n, err := r.storage.CancelActiveSiblings(ctx, subscriberID, keepExternalID)
	if err != nil {
		r.logger.Error("failed to cancel sibling subscriptions",
			F("subscriber_id", subscriberID), F("error", err))
		return
	}
	if n > 0 {
		r.metrics.RecordSiblingCancellations(n)
		r.logger.Info("canceled sibling subscriptions",
			F("subscriber_id", subscriberID), F("count", n), F("kept", keepExternalID))
	}
}

func (r *Reconciler) ensureCustomer(ctx context.Context, subscriberID, externalCustomerID, email string) {
	if externalCustomerID == "" {
		return
	}
	stored, err := r.storage.SaveBillingCustomer(ctx, &BillingCustomer{
		SubscriberID:       subscriberID,
		ExternalCustomerID: externalCustomerID,
		Email:              email,
	})
	if err != nil {
		r.logger.Error("failed to save billing customer",
			F("subscriber_id", subscriberID), F("customer_id", externalCustomerID), F("error", err))
		return
	}
	if stored.ExternalCustomerID != externalCustomerID {
		r.logger.Warn("subscriber already mapped to another billing customer",
			F("subscriber_id", subscriberID),
			F("stored_customer_id", stored.ExternalCustomerID),
			F("event_customer_id", externalCustomerID),
		)
	}
}

func (r *Reconciler) subscriberForCustomer(ctx context.Context, externalCustomerID string) string {
	if externalCustomerID == "" {
		return ""
	}
	c, err := r.storage.GetBillingCustomerByExternalID(ctx, externalCustomerID)
	if err != nil {
		if !errors.Is(err, ErrCustomerNotFound) {
			r.logger.Warn("billing customer lookup failed", F("customer_id", externalCustomerID), F("error", err))
		}
		return ""
	}
	return c.SubscriberID
}

func (r *Reconciler) lock(ctx context.Context, key string) func() {
	release, err := r.locker.Acquire(ctx, key, r.lockTTL)
	if err != nil {
		r.logger.Warn("could not acquire reconciliation lock, continuing without it",
			F("key", key), F("error", err))
		return func() {}
	}
	return release
}

func (r *Reconciler) processed(ctx context.Context, eventID string) bool {
	if r.eventLog == nil || eventID == "" {
		return false
	}
	seen, err := r.eventLog.Seen(ctx, eventID)
	if err != nil {
		r.logger.Warn("event log lookup failed", F("event_id", eventID), F("error", err))
		return false
	}
	return seen
}

func (r *Reconciler) markProcessed(ctx context.Context, eventID string) {
	if r.eventLog == nil || eventID == "" {
		return
	}
	if err := r.eventLog.MarkProcessed(ctx, eventID, r.eventLogTTL); err != nil {
		r.logger.Warn("failed to record processed event", F("event_id", eventID), F("error", err))
	}
}
