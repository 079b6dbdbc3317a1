package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
	"github.com/mihaimyh/gympass/storage/memory"
)

const (
	testSecret     = "whsec_test_secret"
	testUserID     = "user_123"
	testCustomerID = "cus_123"
)

// eventJSON wraps obj in a Stripe event envelope
func eventJSON(t *testing.T, id, eventType string, obj interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(obj)
	require.NoError(t, err)
	env := map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]json.RawMessage{"object": raw},
	}
	out, err := json.Marshal(env)
	require.NoError(t, err)
	return out
}

func sign(payload []byte, secret string, at time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	}).Header
}

func signedRequest(payload []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", sign(payload, testSecret, time.Now()))
	return req
}

func subscriptionObject(id, status, priceID string, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"customer": testCustomerID,
		"metadata": map[string]string{"user_id": testUserID},
		"items": map[string]interface{}{
			"object": "list",
			"data": []map[string]interface{}{{
				"id":                   "si_" + id,
				"object":               "subscription_item",
				"current_period_start": start.Unix(),
				"current_period_end":   end.Unix(),
				"price": map[string]interface{}{
					"id":          priceID,
					"object":      "price",
					"unit_amount": 4999,
					"currency":    "gbp",
					"product":     "prod_" + priceID,
				},
			}},
		},
	}
}

type fakeCustomers struct {
	mu     sync.Mutex
	calls  []*stripe.CustomerCreateParams
	nextID int
	err    error
}

func (f *fakeCustomers) Create(_ context.Context, params *stripe.CustomerCreateParams) (*stripe.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	f.nextID++
	return &stripe.Customer{ID: fmt.Sprintf("cus_new_%d", f.nextID)}, nil
}

type fakeSessions struct {
	mu    sync.Mutex
	calls []*stripe.CheckoutSessionCreateParams
	err   error
}

func (f *fakeSessions) Create(_ context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

type staticCatalog map[string]membership.ProductInfo

func (c staticCatalog) Product(_ context.Context, priceID string) (*membership.ProductInfo, error) {
	p, ok := c[priceID]
	if !ok {
		return nil, fmt.Errorf("unknown price %s", priceID)
	}
	return &p, nil
}

type testEnv struct {
	provider   *Provider
	store      *memory.Storage
	dispatcher *billing.Dispatcher
	customers  *fakeCustomers
	sessions   *fakeSessions
}

func newTestEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	store := memory.New()
	reconciler, err := membership.NewReconciler(membership.ReconcilerConfig{
		Storage: store,
		Catalog: staticCatalog{
			"price_standard": {Name: "Standard", UnitAmount: 2999, Currency: "gbp"},
			"price_premium":  {Name: "Premium", UnitAmount: 4999, Currency: "gbp"},
		},
	})
	require.NoError(t, err)

	// One worker keeps deliveries in submission order
	dispatcher := billing.NewDispatcher(billing.DispatcherConfig{Workers: 1})

	p, err := NewProvider(Config{
		Config: billing.Config{
			WebhookSecret: secret,
			APIKey:        "sk_test_123",
			Reconciler:    reconciler,
			Storage:       store,
			Dispatcher:    dispatcher,
		},
	})
	require.NoError(t, err)

	env := &testEnv{
		provider:   p,
		store:      store,
		dispatcher: dispatcher,
		customers:  &fakeCustomers{},
		sessions:   &fakeSessions{},
	}
	p.customers = env.customers
	p.sessions = env.sessions
	return env
}

// drain waits for all dispatched webhook work
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.dispatcher.Close(ctx))
}
