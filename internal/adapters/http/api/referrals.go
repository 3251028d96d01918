package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stridewell/growthloop/internal/domain/referral"
)

// ReferralsHandler exposes the referral lifecycle over HTTP.
type ReferralsHandler struct {
	deps Dependencies
}

// NewReferralsHandler creates a new referrals handler.
func NewReferralsHandler(deps Dependencies) *ReferralsHandler {
	return &ReferralsHandler{deps: deps}
}

type issueLinkRequest struct {
	ReferrerID        string `json:"referrer_id"`
	ContentInstanceID string `json:"content_instance_id"`
	Platform          string `json:"platform"`
}

// HandleIssueLink handles POST /referrals/links requests.
func (h *ReferralsHandler) HandleIssueLink(w http.ResponseWriter, r *http.Request) {
	const op = "api.referral_links"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req issueLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	link, err := h.deps.IssueLink(r.Context(), req.ReferrerID, req.ContentInstanceID, req.Platform)
	if err != nil {
		if errors.Is(err, referral.ErrInvalidLink) {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusCreated, link)
}

type referralSignupRequest struct {
	Code            string  `json:"code"`
	Signature       string  `json:"signature"`
	RefereeID       string  `json:"referee_id"`
	AccountAgeHours float64 `json:"account_age_hours"`
}

func (req referralSignupRequest) validate() error {
	switch {
	case strings.TrimSpace(req.Code) == "":
		return errors.New("missing code")
	case strings.TrimSpace(req.Signature) == "":
		return errors.New("missing signature")
	case strings.TrimSpace(req.RefereeID) == "":
		return errors.New("missing referee_id")
	}
	return nil
}

// HandleSignup handles POST /referrals/signup requests.
func (h *ReferralsHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	const op = "api.referral_signup"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req referralSignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	created, err := h.deps.CreateReferral(r.Context(), req.Code, req.Signature, referral.Signup{
		RefereeID:  req.RefereeID,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
		AccountAge: time.Duration(req.AccountAgeHours * float64(time.Hour)),
	})
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrBadSignature):
			writeError(w, http.StatusUnauthorized, "bad_signature", err)
		case errors.Is(err, referral.ErrInvalidLink), errors.Is(err, referral.ErrSelfReferral):
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal", err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

type refereeRequest struct {
	RefereeID   string `json:"referee_id"`
	AmountCents int64  `json:"amount_cents,omitempty"`
}

// HandleEmailConfirmed handles POST /referrals/email-confirmed requests.
func (h *ReferralsHandler) HandleEmailConfirmed(w http.ResponseWriter, r *http.Request) {
	h.lifecycleStep(w, r, "api.referral_email", func(req refereeRequest) (any, error) {
		return h.deps.ConfirmEmail(r.Context(), req.RefereeID)
	})
}

// HandlePaymentConfirmed handles POST /referrals/payment-confirmed requests.
func (h *ReferralsHandler) HandlePaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	h.lifecycleStep(w, r, "api.referral_payment", func(req refereeRequest) (any, error) {
		return h.deps.ConfirmPayment(r.Context(), req.RefereeID, req.AmountCents)
	})
}

// lifecycleStep factors the shared decode/validate/respond shape of the
// referee-keyed lifecycle endpoints.
func (h *ReferralsHandler) lifecycleStep(w http.ResponseWriter, r *http.Request, op string, step func(refereeRequest) (any, error)) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req refereeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.RefereeID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	result, err := step(req)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrBadTransition), errors.Is(err, referral.ErrInvalidAmount):
			writeError(w, http.StatusConflict, "conflict", err)
		case strings.Contains(err.Error(), "not found"):
			writeError(w, http.StatusNotFound, "not_found", err)
		default:
			writeError(w, http.StatusInternalServerError, "internal", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type redeemRequest struct {
	ReferrerID string `json:"referrer_id"`
}

type redeemResponse struct {
	RedeemedCents int64 `json:"redeemed_cents"`
}

// HandleRedeem handles POST /referrals/redeem requests.
func (h *ReferralsHandler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	const op = "api.referral_redeem"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.ReferrerID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}

	total, err := h.deps.Redeem(r.Context(), req.ReferrerID)
	if err != nil {
		if errors.Is(err, referral.ErrNothingToRedeem) {
			writeError(w, http.StatusConflict, "nothing_to_redeem", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, redeemResponse{RedeemedCents: total})
}

type balanceResponse struct {
	ReferrerID   string `json:"referrer_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// HandleBalance handles GET /referrals/balance requests.
func (h *ReferralsHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	const op = "api.referral_balance"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	referrerID := r.URL.Query().Get("referrer_id")
	if referrerID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	balance, err := h.deps.Balance(r.Context(), referrerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{ReferrerID: referrerID, BalanceCents: balance})
}
