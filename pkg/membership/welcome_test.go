package membership_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gympass/pkg/membership"
	"github.com/mihaimyh/gympass/storage/memory"
)

type stubGeocoder struct {
	loc *membership.Location
	err error
}

func (g stubGeocoder) Geocode(context.Context, string) (*membership.Location, error) {
	return g.loc, g.err
}

func welcomeStore() *memory.Storage {
	store := memory.New()
	add := func(id string, lat, lon float64, tier membership.Tier, status membership.FacilityStatus) {
		store.PutFacility(membership.Facility{
			ID: id, RequiredTier: tier, Status: status,
			Location: &membership.Location{Latitude: lat, Longitude: lon},
		})
	}
	add("camden", 51.5390, -0.1426, membership.TierStandard, membership.FacilityActive)
	add("croydon", 51.3762, -0.0982, membership.TierStandard, membership.FacilityActive)
	add("brighton", 50.8225, -0.1372, membership.TierStandard, membership.FacilityActive)
	add("manchester", 53.4808, -2.2426, membership.TierStandard, membership.FacilityActive)
	add("mayfair", 51.5117, -0.1478, membership.TierElite, membership.FacilityActive)
	add("soho", 51.5136, -0.1365, membership.TierStandard, membership.FacilityInactive)
	return store
}

func TestWelcomer_SendsNearestUsableFacilities(t *testing.T) {
	notifier := &recordingNotifier{}
	w := &membership.Welcomer{
		Directory:  staticDirectory{"user1": {SubscriberID: "user1", Email: "u1@example.com", Postcode: "WC2N 5DU"}},
		Geocoder:   stubGeocoder{loc: &membership.Location{Latitude: 51.5074, Longitude: -0.1278}},
		Facilities: welcomeStore(),
		Notifier:   notifier,
	}

	w.Welcome(context.Background(), &membership.Subscription{SubscriberID: "user1", Tier: membership.TierStandard})

	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, membership.TemplateWelcome, msg.Template)
	assert.Equal(t, "u1@example.com", msg.Recipient)
	require.Len(t, msg.Facilities, 3)
	assert.Equal(t, "camden", msg.Facilities[0].Facility.ID)
	assert.Equal(t, "croydon", msg.Facilities[1].Facility.ID)
	assert.Equal(t, "brighton", msg.Facilities[2].Facility.ID)
}

func TestWelcomer_GeocodeFailureStillSends(t *testing.T) {
	notifier := &recordingNotifier{}
	w := &membership.Welcomer{
		Directory:  staticDirectory{"user1": {SubscriberID: "user1", Email: "u1@example.com", Postcode: "ZZ1 1ZZ"}},
		Geocoder:   stubGeocoder{err: errors.New("postcode not found")},
		Facilities: welcomeStore(),
		Notifier:   notifier,
	}

	w.Welcome(context.Background(), &membership.Subscription{SubscriberID: "user1", Tier: membership.TierElite})

	require.Len(t, notifier.sent, 1)
	assert.Empty(t, notifier.sent[0].Facilities)
}

func TestWelcomer_FailuresAreSwallowed(t *testing.T) {
	w := &membership.Welcomer{
		Directory: staticDirectory{},
		Notifier:  &recordingNotifier{err: errors.New("boom")},
	}
	assert.NotPanics(t, func() {
		w.Welcome(context.Background(), &membership.Subscription{SubscriberID: "ghost"})
	})
}

func TestLogNotifier_RequiresRecipient(t *testing.T) {
	n := &membership.LogNotifier{Logger: &membership.NoopLogger{}}
	assert.Error(t, n.Send(context.Background(), membership.Notification{}))
	assert.NoError(t, n.Send(context.Background(), membership.Notification{Recipient: "a@b.c"}))
}
