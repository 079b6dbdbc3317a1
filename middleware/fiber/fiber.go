// Package fiber provides Fiber middleware that gates routes on an active membership
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// SubscriptionKey is the Fiber locals key holding the active *membership.Subscription
const SubscriptionKey = "gympass.subscription"

// SubscriberIDExtractor extracts the subscriber ID from a Fiber context.
// Return empty string if the caller is not authenticated.
type SubscriberIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Storage resolves the active subscription (required)
	Storage membership.SubscriptionReader

	// GetSubscriberID extracts the subscriber from context (required)
	GetSubscriberID SubscriberIDExtractor

	// MinimumTier rejects subscriptions below this tier. Empty accepts any tier.
	MinimumTier membership.Tier

	// OnUnauthorized is called when no subscriber is found.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *fiber.Ctx) error

	// OnDenied is called without an active subscription or with a tier too low.
	// If nil, returns 403 with {error, message}
	OnDenied func(c *fiber.Ctx, denial *membership.IssuanceError) error

	// OnError is called when the storage lookup fails.
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// RequireMembership creates a Fiber middleware that rejects requests from
// subscribers without an active subscription
func RequireMembership(cfg Config) fiber.Handler {
	if cfg.Storage == nil {
		panic("gympass/fiber: Config.Storage is required")
	}
	if cfg.GetSubscriberID == nil {
		panic("gympass/fiber: Config.GetSubscriberID is required")
	}

	return func(c *fiber.Ctx) error {
		subscriberID := cfg.GetSubscriberID(c)
		if subscriberID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}

		sub, err := membership.CheckAccess(c.UserContext(), cfg.Storage, subscriberID, cfg.MinimumTier)
		if err != nil {
			if denial, ok := membership.AsIssuanceError(err); ok {
				if cfg.OnDenied != nil {
					return cfg.OnDenied(c, denial)
				}
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error":   string(denial.Code),
					"message": denial.Message,
				})
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
		}

		c.Locals(SubscriptionKey, sub)
		return c.Next()
	}
}

// SubscriptionFrom returns the subscription set by RequireMembership
func SubscriptionFrom(c *fiber.Ctx) (*membership.Subscription, bool) {
	sub, ok := c.Locals(SubscriptionKey).(*membership.Subscription)
	return sub, ok
}

// FromLocals returns a SubscriberIDExtractor that reads a Fiber locals value
func FromLocals(key string) SubscriberIDExtractor {
	return func(c *fiber.Ctx) string {
		if str, ok := c.Locals(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a SubscriberIDExtractor that reads a header
func FromHeader(headerName string) SubscriberIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}

// FromParam returns a SubscriberIDExtractor that reads a route parameter
func FromParam(paramName string) SubscriberIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Params(paramName)
	}
}
