// Package http provides net/http middleware that gates routes on an active membership
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// SubscriberIDExtractor extracts the subscriber ID from an HTTP request.
// Return empty string if the caller is not authenticated.
type SubscriberIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Storage resolves the active subscription (required)
	Storage membership.SubscriptionReader

	// GetSubscriberID extracts the subscriber from the request (required)
	GetSubscriberID SubscriberIDExtractor

	// MinimumTier rejects subscriptions below this tier. Empty accepts any tier.
	MinimumTier membership.Tier

	// OnUnauthorized is called when no subscriber is found.
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnDenied is called without an active subscription or with a tier too low.
	// If nil, returns 403 with {error, message}
	OnDenied func(w http.ResponseWriter, r *http.Request, denial *membership.IssuanceError)

	// OnError is called when the storage lookup fails.
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// ContextKey is a type for context keys
type ContextKey string

const (
	// SubscriberIDKey is the context key for the subscriber ID
	SubscriberIDKey ContextKey = "gympass:subscriberID"

	subscriptionKey ContextKey = "gympass:subscription"
)

// RequireMembership creates middleware that only lets requests from subscribers
// with an active subscription through. The subscription is stored on the request
// context; read it with SubscriptionFromContext.
func RequireMembership(config Config) func(http.Handler) http.Handler {
	if config.Storage == nil {
		panic("gympass/http: Config.Storage is required")
	}
	if config.GetSubscriberID == nil {
		panic("gympass/http: Config.GetSubscriberID is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subscriberID := config.GetSubscriberID(r)
			if subscriberID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				}
				return
			}

			sub, err := membership.CheckAccess(r.Context(), config.Storage, subscriberID, config.MinimumTier)
			if err != nil {
				if denial, ok := membership.AsIssuanceError(err); ok {
					if config.OnDenied != nil {
						config.OnDenied(w, r, denial)
					} else {
						writeJSON(w, http.StatusForbidden, map[string]string{
							"error":   string(denial.Code),
							"message": denial.Message,
						})
					}
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subscriptionKey, sub)))
		})
	}
}

// HandlerFunc is RequireMembership for http.HandlerFunc
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequireMembership(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// SubscriptionFromContext returns the subscription set by RequireMembership
func SubscriptionFromContext(ctx context.Context) (*membership.Subscription, bool) {
	sub, ok := ctx.Value(subscriptionKey).(*membership.Subscription)
	return sub, ok
}

// FromContext returns a SubscriberIDExtractor that reads the request context
func FromContext(key ContextKey) SubscriberIDExtractor {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}

// FromHeader returns a SubscriberIDExtractor that reads a header
func FromHeader(headerName string) SubscriberIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// WithSubscriberID adds the subscriber ID to a context
func WithSubscriberID(ctx context.Context, subscriberID string) context.Context {
	return context.WithValue(ctx, SubscriberIDKey, subscriberID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
