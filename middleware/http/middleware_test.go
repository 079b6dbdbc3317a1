package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mihaimyh/gympass/pkg/membership"
	"github.com/mihaimyh/gympass/storage/memory"
)

type failingStorage struct{}

func (failingStorage) GetActiveSubscription(context.Context, string) (*membership.Subscription, error) {
	return nil, errors.New("connection refused")
}

// Test helper to create storage with one active subscriber
func setupStorage(t *testing.T, subscriberID string, tier membership.Tier) *memory.Storage {
	t.Helper()

	store := memory.New()
	_, err := store.UpsertSubscription(context.Background(), &membership.Subscription{
		SubscriberID:           subscriberID,
		ExternalSubscriptionID: "sub_" + subscriberID,
		Tier:                   tier,
		MonthlyLimit:           membership.DefaultProfile(tier).MonthlyLimit,
		Status:                 membership.StatusActive,
	}, membership.UpsertOptions{})
	if err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}
	return store
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := SubscriptionFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(sub.Tier))
	})
}

func serve(handler http.Handler, subscriberID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/classes", nil)
	if subscriberID != "" {
		req.Header.Set("X-Subscriber-ID", subscriberID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireMembership_Success(t *testing.T) {
	store := setupStorage(t, "user1", membership.TierPremium)

	mw := RequireMembership(Config{
		Storage:         store,
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
	})
	rec := serve(mw(okHandler()), "user1")

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "premium" {
		t.Errorf("Expected 'premium', got %s", rec.Body.String())
	}
}

func TestRequireMembership_NoSubscription(t *testing.T) {
	store := setupStorage(t, "user1", membership.TierPremium)

	mw := RequireMembership(Config{
		Storage:         store,
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
	})
	rec := serve(mw(okHandler()), "user2")

	if rec.Code != http.StatusForbidden {
		t.Fatalf("Expected status 403, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["error"] != "no_active_subscription" {
		t.Errorf("Expected no_active_subscription, got %s", body["error"])
	}
}

func TestRequireMembership_MinimumTier(t *testing.T) {
	store := setupStorage(t, "user1", membership.TierStandard)

	var denied *membership.IssuanceError
	mw := RequireMembership(Config{
		Storage:         store,
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
		MinimumTier:     membership.TierElite,
		OnDenied: func(w http.ResponseWriter, _ *http.Request, d *membership.IssuanceError) {
			denied = d
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})
	rec := serve(mw(okHandler()), "user1")

	if rec.Code != http.StatusPaymentRequired {
		t.Errorf("Expected custom status 402, got %d", rec.Code)
	}
	if denied == nil || denied.Code != membership.CodeTierTooLow {
		t.Errorf("Expected tier_too_low denial, got %v", denied)
	}
}

func TestRequireMembership_MissingAuth(t *testing.T) {
	store := setupStorage(t, "user1", membership.TierStandard)

	mw := RequireMembership(Config{
		Storage:         store,
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
	})
	rec := serve(mw(okHandler()), "")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rec.Code)
	}
}

func TestRequireMembership_StorageError(t *testing.T) {
	var captured error
	mw := RequireMembership(Config{
		Storage:         failingStorage{},
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			captured = err
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	})
	rec := serve(mw(okHandler()), "user1")

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rec.Code)
	}
	if captured == nil {
		t.Error("Expected OnError to receive the storage error")
	}
}

func TestRequireMembership_PanicsOnMissingConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic for missing storage")
		}
	}()
	RequireMembership(Config{GetSubscriberID: FromHeader("X-Subscriber-ID")})
}

func TestHandlerFunc(t *testing.T) {
	store := setupStorage(t, "user1", membership.TierElite)

	wrap := HandlerFunc(Config{
		Storage:         store,
		GetSubscriberID: FromContext(SubscriberIDKey),
	})
	handler := wrap(okHandler().ServeHTTP)

	req := httptest.NewRequest("GET", "/classes", nil)
	req = req.WithContext(WithSubscriberID(req.Context(), "user1"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "elite" {
		t.Errorf("Expected 200 elite, got %d %s", rec.Code, rec.Body.String())
	}
}
