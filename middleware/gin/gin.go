// Package gin provides Gin middleware that gates routes on an active membership
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// SubscriptionKey is the Gin context key holding the active *membership.Subscription
const SubscriptionKey = "gympass.subscription"

// SubscriberIDExtractor extracts the subscriber ID from a Gin context.
// Return empty string if the caller is not authenticated.
type SubscriberIDExtractor func(c *gongin.Context) string

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
	OnUnauthorized func(c *gongin.Context)

	// OnDenied is called without an active subscription or with a tier too low.
	// If nil, returns 403 with {error, message}
	OnDenied func(c *gongin.Context, denial *membership.IssuanceError)

	// OnError is called when the storage lookup fails.
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// RequireMembership creates a Gin middleware that aborts requests from
// subscribers without an active subscription
func RequireMembership(cfg Config) gongin.HandlerFunc {
	if cfg.Storage == nil {
		panic("gympass/gin: Config.Storage is required")
	}
	if cfg.GetSubscriberID == nil {
		panic("gympass/gin: Config.GetSubscriberID is required")
	}

	return func(c *gongin.Context) {
		subscriberID := cfg.GetSubscriberID(c)
		if subscriberID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		sub, err := membership.CheckAccess(c.Request.Context(), cfg.Storage, subscriberID, cfg.MinimumTier)
		if err != nil {
			if denial, ok := membership.AsIssuanceError(err); ok {
				if cfg.OnDenied != nil {
					cfg.OnDenied(c, denial)
				} else {
					c.JSON(http.StatusForbidden, gongin.H{"error": denial.Code, "message": denial.Message})
				}
			} else if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "internal_error"})
			}
			c.Abort()
			return
		}

		c.Set(SubscriptionKey, sub)
		c.Next()
	}
}

// SubscriptionFrom returns the subscription set by RequireMembership
func SubscriptionFrom(c *gongin.Context) (*membership.Subscription, bool) {
	val, exists := c.Get(SubscriptionKey)
	if !exists {
		return nil, false
	}
	sub, ok := val.(*membership.Subscription)
	return sub, ok
}

// FromContext returns a SubscriberIDExtractor that reads a Gin context value,
// typically set by an auth middleware with c.Set(key, id)
func FromContext(key string) SubscriberIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetString(key)
	}
}

// FromHeader returns a SubscriberIDExtractor that reads a header
func FromHeader(headerName string) SubscriberIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromParam returns a SubscriberIDExtractor that reads a route parameter
func FromParam(paramName string) SubscriberIDExtractor {
	return func(c *gongin.Context) string {
		return c.Param(paramName)
	}
}
