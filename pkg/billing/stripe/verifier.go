package stripe

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

// Verifier authenticates Stripe webhook payloads against the endpoint secret.
type Verifier struct {
	secret string
	logger membership.Logger
}

// NewVerifier creates a Verifier. An empty secret makes every call fail
// with billing.ErrMissingSecret.
func NewVerifier(secret string, logger membership.Logger) *Verifier {
	if logger == nil {
		logger = &membership.NoopLogger{}
	}
	return &Verifier{secret: strings.TrimSpace(secret), logger: logger}
}

// Verify checks sigHeader against the raw request body. It must be given the
// exact bytes that were received.
func (v *Verifier) Verify(raw []byte, sigHeader string) (*billing.VerifiedEvent, error) {
	if v.secret == "" {
		v.logger.Error("webhook verification impossible", membership.F("reason", "secret not configured"))
		return nil, billing.ErrMissingSecret
	}
	if strings.TrimSpace(sigHeader) == "" {
		v.logger.Warn("webhook rejected", membership.F("reason", "missing signature"))
		return nil, billing.ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(raw, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		reason := "invalid signature"
		switch {
		case errors.Is(err, webhook.ErrNotSigned):
			v.logger.Warn("webhook rejected", membership.F("reason", "missing signature"))
			return nil, billing.ErrMissingSignature
		case errors.Is(err, webhook.ErrTooOld):
			reason = "timestamp outside tolerance"
		case errors.Is(err, webhook.ErrInvalidHeader):
			reason = "malformed signature header"
		case errors.Is(err, webhook.ErrNoValidSignature):
		default:
			// Signature matched but the body is not an event
			v.logger.Warn("webhook rejected", membership.F("reason", "unparseable payload"))
			return nil, fmt.Errorf("%w: %v", billing.ErrInvalidWebhookPayload, err)
		}
		v.logger.Warn("webhook rejected", membership.F("reason", reason))
		return nil, billing.ErrInvalidSignature
	}

	v.logger.Debug("webhook verified",
		membership.F("event_id", event.ID),
		membership.F("event_type", string(event.Type)),
	)

	var payload []byte
	if event.Data != nil {
		payload = event.Data.Raw
	}
	return &billing.VerifiedEvent{
		ID:      event.ID,
		Type:    string(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
		Payload: payload,
	}, nil
}
