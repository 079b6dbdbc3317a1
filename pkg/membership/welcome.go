package membership

import (
	"context"
	"errors"
	"fmt"
)

// Directory is the identity provider seen from this package
type Directory interface {
	// Lookup returns the identity for a subscriber
	Lookup(ctx context.Context, subscriberID string) (*Identity, error)
}

// Geocoder resolves a postcode to a location
type Geocoder interface {
	Geocode(ctx context.Context, postcode string) (*Location, error)
}

// Notification templates
const (
	TemplateWelcome    = "welcome"
	TemplatePassIssued = "pass_issued"
)

// Notification is a structured outbound message
type Notification struct {
	Recipient  string
	Name       string
	Template   string
	Tier       Tier
	Pass       *Pass
	Facilities []RankedFacility
}

// Notifier delivers notifications. Failures are reported, never retried.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to a Logger instead of delivering them
type LogNotifier struct {
	Logger Logger
}

func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	if msg.Recipient == "" {
		return errors.New("notification has no recipient")
	}
	ids := make([]string, 0, len(msg.Facilities))
	for _, f := range msg.Facilities {
		ids = append(ids, f.Facility.ID)
	}
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info("notification",
		F("template", msg.Template),
		F("recipient", msg.Recipient),
		F("tier", msg.Tier),
		F("facilities", ids),
	)
	return nil
}

// NearbyFacilityCount is the number of facilities in a welcome notification
const NearbyFacilityCount = 3

// Welcomer sends the welcome notification for a newly active subscription
type Welcomer struct {
	Directory  Directory
	Geocoder   Geocoder
	Facilities interface {
		ListFacilities(ctx context.Context) ([]Facility, error)
	}
	Notifier Notifier
	Logger   Logger
}

// Welcome builds and sends the notification. Errors are logged and dropped;
// its signature matches ReconcilerConfig.OnActivated.
func (w *Welcomer) Welcome(ctx context.Context, sub *Subscription) {
	if err := w.send(ctx, sub); err != nil {
		w.logger().Error("welcome notification failed",
			F("subscriber_id", sub.SubscriberID), F("error", err))
	}
}

func (w *Welcomer) send(ctx context.Context, sub *Subscription) error {
	if sub.SubscriberID == "" {
		return errors.New("subscription has no subscriber")
	}
	id, err := w.Directory.Lookup(ctx, sub.SubscriberID)
	if err != nil {
		return fmt.Errorf("lookup subscriber: %w", err)
	}

	msg := Notification{
		Recipient: id.Email,
		Name:      id.DisplayName,
		Template:  TemplateWelcome,
		Tier:      sub.Tier,
	}
	msg.Facilities = w.nearby(ctx, id.Postcode, sub.Tier)

	return w.Notifier.Send(ctx, msg)
}

// nearby returns the closest facilities the tier can use. A missing
// postcode or a geocoding failure yields no facilities, not an error.
func (w *Welcomer) nearby(ctx context.Context, postcode string, tier Tier) []RankedFacility {
	if postcode == "" || w.Geocoder == nil || w.Facilities == nil {
		return nil
	}
	origin, err := w.Geocoder.Geocode(ctx, postcode)
	if err != nil {
		w.logger().Warn("geocoding failed", F("postcode", postcode), F("error", err))
		return nil
	}
	all, err := w.Facilities.ListFacilities(ctx)
	if err != nil {
		w.logger().Warn("listing facilities failed", F("error", err))
		return nil
	}

	usable := all[:0:0]
	for _, f := range all {
		if f.Operational() && tier.Satisfies(f.RequiredTier) {
			usable = append(usable, f)
		}
	}
	return RankFacilities(*origin, usable, NearbyFacilityCount)
}

func (w *Welcomer) logger() Logger {
	if w.Logger == nil {
		return &NoopLogger{}
	}
	return w.Logger
}
