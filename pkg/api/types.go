package api

import (
	"time"

	"github.com/mihaimyh/gympass/pkg/membership"
)

// MembershipResponse is the current standing of a subscriber
type MembershipResponse struct {
	SubscriberID         string     `json:"subscriber_id"`
	Tier                 string     `json:"tier"`
	Status               string     `json:"status"`
	MonthlyLimit         int        `json:"monthly_limit"`
	VisitsUsed           int        `json:"visits_used"`
	VisitsRemaining      int        `json:"visits_remaining"`
	GuestPassesLimit     int        `json:"guest_passes_limit"`
	GuestPassesRemaining int        `json:"guest_passes_remaining"`
	Price                string     `json:"price"`
	Currency             string     `json:"currency,omitempty"`
	PeriodStart          *time.Time `json:"period_start,omitempty"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
}

// PassResponse is an issued pass
type PassResponse struct {
	Code       string    `json:"code"`
	FacilityID string    `json:"facility_id"`
	Status     string    `json:"status"`
	Guest      bool      `json:"guest"`
	IssuedAt   time.Time `json:"issued_at"`
	ValidUntil time.Time `json:"valid_until"`
	Tier       string    `json:"tier"`
	Cost       string    `json:"cost"`

	// Set only on issuance
	VisitsRemaining *int     `json:"visits_remaining,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// IssuePassRequest is the body of POST /passes
type IssuePassRequest struct {
	FacilityID string `json:"facility_id"`
	Guest      bool   `json:"guest"`
}

// CheckoutRequest is the body of POST /checkout
type CheckoutRequest struct {
	PriceID    string `json:"price_id"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// CheckoutResponse points the client at the hosted checkout page
type CheckoutResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func newMembershipResponse(sub *membership.Subscription) MembershipResponse {
	resp := MembershipResponse{
		SubscriberID:         sub.SubscriberID,
		Tier:                 string(sub.Tier),
		Status:               string(sub.Status),
		MonthlyLimit:         sub.MonthlyLimit,
		VisitsUsed:           sub.VisitsUsed,
		VisitsRemaining:      sub.VisitsRemaining(),
		GuestPassesLimit:     sub.GuestPassesLimit,
		GuestPassesRemaining: sub.GuestPassesRemaining(),
		Price:                sub.Price.StringFixed(2),
		Currency:             sub.Currency,
	}
	if !sub.PeriodStart.IsZero() {
		start := sub.PeriodStart
		resp.PeriodStart = &start
	}
	if !sub.PeriodEnd.IsZero() {
		end := sub.PeriodEnd
		resp.PeriodEnd = &end
	}
	return resp
}

func newPassResponse(p *membership.Pass) PassResponse {
	return PassResponse{
		Code:       p.Code,
		FacilityID: p.FacilityID,
		Status:     string(p.Status),
		Guest:      p.Guest,
		IssuedAt:   p.IssuedAt,
		ValidUntil: p.ValidUntil,
		Tier:       string(p.TierAtIssuance),
		Cost:       p.CostAtIssuance.StringFixed(2),
	}
}
