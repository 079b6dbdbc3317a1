package billing

import "errors"

var (
	// ErrProviderNotConfigured is returned when a provider is not properly configured
	ErrProviderNotConfigured = errors.New("billing provider not configured")

	// ErrMissingSignature is returned when a webhook request carries no signature header
	ErrMissingSignature = errors.New("missing webhook signature")

	// ErrMissingSecret is returned when no webhook secret is configured.
	// This is a deployment error, not a client error.
	ErrMissingSecret = errors.New("webhook secret not configured")

	// ErrInvalidSignature is returned when webhook signature validation fails
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidWebhookPayload is returned when a verified webhook payload cannot be parsed
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")

	// ErrProviderAPIError is returned when the provider's API returns an error
	ErrProviderAPIError = errors.New("billing provider API error")

	// ErrInvalidCheckout is returned when a checkout request lacks a subscriber or price
	ErrInvalidCheckout = errors.New("invalid checkout request")

	// ErrDispatcherClosed is returned when work is submitted after shutdown
	ErrDispatcherClosed = errors.New("dispatcher closed")

	// ErrDispatcherBusy is returned when the queue and spill goroutines stay
	// full until the submitting request ends
	ErrDispatcherBusy = errors.New("dispatcher busy")
)
