package api

import (
	"fmt"
	"net/http"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

// Config holds configuration for the membership API handler
type Config struct {
	// Issuer issues and looks up passes (required)
	Issuer *membership.Issuer

	// Storage backs the membership status endpoint (required)
	Storage membership.Storage

	// Billing creates checkout sessions. If nil, POST /checkout answers 503.
	Billing billing.Provider

	// Directory supplies email and name for checkout (optional)
	Directory membership.Directory

	// GetSubscriberID extracts the authenticated subscriber from the request (required)
	GetSubscriberID func(*http.Request) string

	// OnError handles errors. If nil, a JSON body {error, message} is written.
	OnError func(http.ResponseWriter, *http.Request, error)

	Logger membership.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Issuer == nil {
		return fmt.Errorf("issuer is required")
	}
	if c.Storage == nil {
		return fmt.Errorf("storage is required")
	}
	if c.GetSubscriberID == nil {
		return fmt.Errorf("getSubscriberID is required")
	}
	return nil
}

// NewHandler creates a new membership API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.Logger == nil {
		config.Logger = &membership.NoopLogger{}
	}
	return &Handler{
		config: config,
	}, nil
}

// FromHeader returns a GetSubscriberID function that reads a header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a GetSubscriberID function that reads a request context value
func FromContext(key interface{}) func(*http.Request) string {
	return func(r *http.Request) string {
		if id, ok := r.Context().Value(key).(string); ok {
			return id
		}
		return ""
	}
}
