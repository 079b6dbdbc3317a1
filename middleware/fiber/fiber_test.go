package fiber

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gympass/pkg/membership"
	"github.com/mihaimyh/gympass/storage/memory"
)

// Test helper to create storage with one active subscriber
func setupStorage(t *testing.T) *memory.Storage {
	t.Helper()

	store := memory.New()
	_, err := store.UpsertSubscription(context.Background(), &membership.Subscription{
		SubscriberID: "user1", ExternalSubscriptionID: "sub_1",
		Tier: membership.TierElite, MonthlyLimit: 30, Status: membership.StatusActive,
	}, membership.UpsertOptions{})
	if err != nil {
		t.Fatalf("Failed to seed subscription: %v", err)
	}
	return store
}

func setupApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(RequireMembership(cfg))
	app.Get("/classes", func(c *fiber.Ctx) error {
		sub, ok := SubscriptionFrom(c)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(string(sub.Tier))
	})
	return app
}

func get(t *testing.T, app *fiber.App, subscriberID string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/classes", nil)
	if subscriberID != "" {
		req.Header.Set("X-Subscriber-ID", subscriberID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Failed to execute request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRequireMembership_Success(t *testing.T) {
	app := setupApp(Config{Storage: setupStorage(t), GetSubscriberID: FromHeader("X-Subscriber-ID")})

	status, body := get(t, app, "user1")
	if status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", status)
	}
	if body != "elite" {
		t.Errorf("Expected 'elite', got %s", body)
	}
}

func TestRequireMembership_Denied(t *testing.T) {
	var denied *membership.IssuanceError
	app := setupApp(Config{
		Storage:         setupStorage(t),
		GetSubscriberID: FromHeader("X-Subscriber-ID"),
		OnDenied: func(c *fiber.Ctx, d *membership.IssuanceError) error {
			denied = d
			return c.SendStatus(fiber.StatusForbidden)
		},
	})

	status, _ := get(t, app, "user2")
	if status != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", status)
	}
	if denied == nil || denied.Code != membership.CodeNoActiveSubscription {
		t.Errorf("Expected no_active_subscription, got %v", denied)
	}
}

func TestRequireMembership_Unauthorized(t *testing.T) {
	app := setupApp(Config{Storage: setupStorage(t), GetSubscriberID: FromHeader("X-Subscriber-ID")})

	status, _ := get(t, app, "")
	if status != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", status)
	}
}

func TestRequireMembership_FromLocals(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("uid", "user1")
		return c.Next()
	})
	app.Use(RequireMembership(Config{Storage: setupStorage(t), GetSubscriberID: FromLocals("uid")}))
	app.Get("/classes", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	status, _ := get(t, app, "")
	if status != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", status)
	}
}
