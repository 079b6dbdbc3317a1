package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/mihaimyh/gympass/pkg/billing"
	"github.com/mihaimyh/gympass/pkg/membership"
)

const (
	maxSubscriberIDLen = 255
	maxRequestBytes    = 16 << 10

	codeUnauthorized   = "unauthorized"
	codeBadRequest     = "invalid_request"
	codeNotFound       = "not_found"
	codeUnavailable    = "unavailable"
	codeUpstream       = "upstream_error"
	codeInternal       = "internal_error"
	codeNoSubscription = string(membership.CodeNoActiveSubscription)
)

// Handler provides the membership HTTP endpoints
type Handler struct {
	config Config
}

// Routes registers every endpoint on a new ServeMux
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /membership", h.GetMembership)
	mux.HandleFunc("POST /passes", h.IssuePass)
	mux.HandleFunc("GET /passes/{code}", h.GetPass)
	mux.HandleFunc("POST /checkout", h.Checkout)
	return mux
}

// GetMembership returns the subscriber's active subscription with remaining quota
func (h *Handler) GetMembership(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	sub, err := h.config.Storage.GetActiveSubscription(r.Context(), subscriberID)
	if err != nil {
		if errors.Is(err, membership.ErrSubscriptionNotFound) {
			h.handleError(w, r, http.StatusNotFound, codeNoSubscription, err)
			return
		}
		h.internalError(w, r, "load subscription", err)
		return
	}

	writeJSON(w, http.StatusOK, newMembershipResponse(sub))
}

// IssuePass issues a pass for the requested facility
func (h *Handler) IssuePass(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	var req IssuePassRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, err)
		return
	}
	if req.FacilityID == "" {
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, fmt.Errorf("facility_id is required"))
		return
	}

	result, err := h.config.Issuer.Issue(r.Context(), membership.IssueRequest{
		SubscriberID: subscriberID,
		FacilityID:   req.FacilityID,
		Guest:        req.Guest,
	})
	if err != nil {
		if ie, ok := membership.AsIssuanceError(err); ok {
			h.handleError(w, r, issuanceStatus(ie.Code), string(ie.Code), ie)
			return
		}
		h.internalError(w, r, "issue pass", err)
		return
	}

	resp := newPassResponse(result.Pass)
	if result.Subscription != nil {
		remaining := result.Subscription.VisitsRemaining()
		if req.Guest {
			remaining = result.Subscription.GuestPassesRemaining()
		}
		resp.VisitsRemaining = &remaining
	}
	resp.Warnings = result.Warnings
	writeJSON(w, http.StatusCreated, resp)
}

// GetPass returns a pass owned by the subscriber, with its status derived from the current time
func (h *Handler) GetPass(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := h.subscriber(w, r)
	if !ok {
		return
	}

	code := passCode(r)
	if code == "" || code == "/" || code == "." {
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, fmt.Errorf("pass code is required"))
		return
	}

	pass, err := h.config.Issuer.Lookup(r.Context(), code)
	if err != nil {
		if errors.Is(err, membership.ErrPassNotFound) {
			h.handleError(w, r, http.StatusNotFound, codeNotFound, err)
			return
		}
		h.internalError(w, r, "lookup pass", err)
		return
	}
	// Someone else's pass is reported as missing.
	if pass.SubscriberID != subscriberID {
		h.handleError(w, r, http.StatusNotFound, codeNotFound, membership.ErrPassNotFound)
		return
	}

	writeJSON(w, http.StatusOK, newPassResponse(pass))
}

// Checkout creates a hosted checkout session for the subscriber
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	subscriberID, ok := h.subscriber(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.handleError(w, r, http.StatusServiceUnavailable, codeUnavailable, billing.ErrProviderNotConfigured)
		return
	}

	var req CheckoutRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, err)
		return
	}

	checkout := billing.CheckoutRequest{
		SubscriberID: subscriberID,
		PriceID:      req.PriceID,
		SuccessURL:   req.SuccessURL,
		CancelURL:    req.CancelURL,
	}
	if h.config.Directory != nil {
		id, err := h.config.Directory.Lookup(r.Context(), subscriberID)
		if err != nil {
			h.config.Logger.Warn("identity lookup failed, continuing checkout without it",
				membership.F("subscriber_id", subscriberID), membership.F("error", err))
		} else {
			checkout.Email = id.Email
			checkout.Name = id.DisplayName
		}
	}

	session, err := h.config.Billing.Checkout(r.Context(), checkout)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, CheckoutResponse{ID: session.ID, URL: session.URL})
	case errors.Is(err, billing.ErrInvalidCheckout):
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, err)
	case errors.Is(err, billing.ErrProviderAPIError):
		h.config.Logger.Error("checkout failed", membership.F("subscriber_id", subscriberID), membership.F("error", err))
		h.handleError(w, r, http.StatusBadGateway, codeUpstream, fmt.Errorf("payment provider unavailable"))
	default:
		h.internalError(w, r, "checkout", err)
	}
}

func (h *Handler) subscriber(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := h.config.GetSubscriberID(r)
	if id == "" {
		h.handleError(w, r, http.StatusUnauthorized, codeUnauthorized, fmt.Errorf("subscriber ID not found"))
		return "", false
	}
	if len(id) > maxSubscriberIDLen {
		h.handleError(w, r, http.StatusBadRequest, codeBadRequest, fmt.Errorf("invalid subscriber ID format"))
		return "", false
	}
	return id, true
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.config.Logger.Error(op+" failed", membership.F("path", r.URL.Path), membership.F("error", err))
	h.handleError(w, r, http.StatusInternalServerError, codeInternal, fmt.Errorf("internal error"))
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, statusCode int, code string, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	resp := ErrorResponse{Error: code, Message: err.Error()}
	if ie, ok := membership.AsIssuanceError(err); ok {
		resp.Message = ie.Message
	}
	writeJSON(w, statusCode, resp)
}

// issuanceStatus maps a denial code to its HTTP status
func issuanceStatus(code membership.IssuanceCode) int {
	switch code {
	case membership.CodeNoActiveSubscription, membership.CodeTierTooLow:
		return http.StatusForbidden
	case membership.CodeQuotaExhausted:
		return http.StatusConflict
	case membership.CodeFacilityNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// passCode reads the {code} path value, falling back to the last path
// segment for routers that do not populate it.
func passCode(r *http.Request) string {
	if code := r.PathValue("code"); code != "" {
		return code
	}
	return path.Base(r.URL.Path)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Response already started; nothing useful to do on failure.
	_ = json.NewEncoder(w).Encode(v)
}
