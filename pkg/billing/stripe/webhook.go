package stripe

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/billing/internal"
	"github.com/mihaimyh/gympass/pkg/membership"
)

// handleWebhook verifies the request, acknowledges it and defers
// reconciliation to the dispatcher.
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			return
		}
		http.Error(w, "invalid payload", http.StatusBadRequest)
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		return
	}

	ev, err := p.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrMissingSecret):
			http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
			p.metrics.RecordWebhookError(providerName, "not_configured")
		case errors.Is(err, billing.ErrMissingSignature):
			http.Error(w, "missing signature", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "missing_signature")
		case errors.Is(err, billing.ErrInvalidWebhookPayload):
			http.Error(w, "invalid payload", http.StatusBadRequest)
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
		default:
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			p.metrics.RecordWebhookError(providerName, "auth_failed")
		}
		return
	}

	if err := p.dispatcher.Submit(r.Context(), "stripe:"+ev.Type, p.process(ev)); err != nil {
		// A non-2xx makes Stripe redeliver
		p.logger.Warn("webhook not accepted", membership.F("event_id", ev.ID), membership.F("error", err))
		reason := "dispatcher_closed"
		if errors.Is(err, billing.ErrDispatcherBusy) {
			reason = "dispatcher_busy"
		}
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		p.metrics.RecordWebhookError(providerName, reason)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, ev.Type, "accepted")
	_ = internal.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (p *Provider) process(ev *billing.VerifiedEvent) billing.Task {
	return func(ctx context.Context) error {
		start := time.Now()
		defer func() {
			p.metrics.RecordWebhookProcessingDuration(providerName, ev.Type, time.Since(start))
		}()

		decoded, err := Decode(ev)
		if err != nil {
			p.metrics.RecordWebhookEvent(providerName, ev.Type, "error")
			p.metrics.RecordWebhookError(providerName, "invalid_payload")
			return err
		}
		if err := p.reconciler.Apply(ctx, decoded); err != nil {
			p.metrics.RecordWebhookEvent(providerName, ev.Type, "error")
			p.metrics.RecordWebhookError(providerName, "processing_error")
			return err
		}
		p.metrics.RecordWebhookEvent(providerName, ev.Type, "processed")
		return nil
	}
}
