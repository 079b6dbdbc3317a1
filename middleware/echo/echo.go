// Package echo provides Echo middleware that gates routes on an active membership
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// SubscriptionKey is the Echo context key holding the active *membership.Subscription
const SubscriptionKey = "gympass.subscription"

// SubscriberIDExtractor extracts the subscriber ID from an Echo context.
// Return empty string if the caller is not authenticated.
type SubscriberIDExtractor func(c echo.Context) string

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
	OnUnauthorized func(c echo.Context) error

	// OnDenied is called without an active subscription or with a tier too low.
	// If nil, returns 403 with {error, message}
	OnDenied func(c echo.Context, denial *membership.IssuanceError) error

	// OnError is called when the storage lookup fails.
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// RequireMembership creates an Echo middleware that rejects requests from
// subscribers without an active subscription
func RequireMembership(cfg Config) echo.MiddlewareFunc {
	if cfg.Storage == nil {
		panic("gympass/echo: Config.Storage is required")
	}
	if cfg.GetSubscriberID == nil {
		panic("gympass/echo: Config.GetSubscriberID is required")
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			subscriberID := cfg.GetSubscriberID(c)
			if subscriberID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			}

			sub, err := membership.CheckAccess(c.Request().Context(), cfg.Storage, subscriberID, cfg.MinimumTier)
			if err != nil {
				if denial, ok := membership.AsIssuanceError(err); ok {
					if cfg.OnDenied != nil {
						return cfg.OnDenied(c, denial)
					}
					return c.JSON(http.StatusForbidden, map[string]string{
						"error":   string(denial.Code),
						"message": denial.Message,
					})
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal_error"})
			}

			c.Set(SubscriptionKey, sub)
			return next(c)
		}
	}
}

// SubscriptionFrom returns the subscription set by RequireMembership
func SubscriptionFrom(c echo.Context) (*membership.Subscription, bool) {
	sub, ok := c.Get(SubscriptionKey).(*membership.Subscription)
	return sub, ok
}

// FromContext returns a SubscriberIDExtractor that reads an Echo context value
func FromContext(key string) SubscriberIDExtractor {
	return func(c echo.Context) string {
		if str, ok := c.Get(key).(string); ok {
			return str
		}
		return ""
	}
}

// FromHeader returns a SubscriberIDExtractor that reads a header
func FromHeader(headerName string) SubscriberIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}

// FromParam returns a SubscriberIDExtractor that reads a route parameter
func FromParam(paramName string) SubscriberIDExtractor {
	return func(c echo.Context) string {
		return c.Param(paramName)
	}
}
