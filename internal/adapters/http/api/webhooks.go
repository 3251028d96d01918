package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// Signature and timestamp headers expected on platform webhook deliveries.
const (
	signatureHeader = "X-Growth-Signature"
	timestampHeader = "X-Growth-Timestamp"

	maxWebhookBody = 1 << 20 // 1 MiB
)

// WebhooksHandler verifies and normalizes inbound platform webhooks.
type WebhooksHandler struct {
	deps         Dependencies
	secrets      map[string]string
	replayWindow time.Duration
	now          func() time.Time
}

// NewWebhooksHandler creates a new webhooks handler.
func NewWebhooksHandler(deps Dependencies, secrets map[string]string, replayWindowSeconds int) *WebhooksHandler {
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &WebhooksHandler{
		deps:         deps,
		secrets:      secrets,
		replayWindow: time.Duration(replayWindowSeconds) * time.Second,
		now:          time.Now,
	}
}

// webhookRequest is the normalized shape all platform payloads reduce to.
type webhookRequest struct {
	EventID         string  `json:"event_id"`
	ExternalID      string  `json:"external_id"`             // platform-side post id
	ReferralCode    string  `json:"referral_code,omitempty"` // alternative attribution handle
	Metric          string  `json:"metric"`
	Amount          float64 `json:"amount"`
	ActorID         string  `json:"actor_id"`
	AccountAgeHours float64 `json:"account_age_hours"`
	OccurredAt      string  `json:"occurred_at"` // RFC3339
}

func (e webhookRequest) validate() error {
	switch {
	case strings.TrimSpace(e.Metric) == "":
		return errors.New("missing metric")
	case !model.Metric(e.Metric).Valid():
		return errors.New("unknown metric")
	case strings.TrimSpace(e.ExternalID) == "" && strings.TrimSpace(e.ReferralCode) == "":
		return errors.New("missing external_id or referral_code")
	case strings.TrimSpace(e.OccurredAt) == "":
		return errors.New("missing occurred_at")
	}
	if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		return errors.New("invalid occurred_at; must be RFC3339")
	}
	return nil
}

// HandleWebhook handles POST /webhooks/{platform} requests.
//
// The signature is computed over the exact raw body; the body must be read
// before any decoding so the verification sees what the platform signed.
// A delivery with a valid signature but a stale timestamp is refused:
// replaying a captured payload after the window must not count twice.
func (h *WebhooksHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	platform := strings.Trim(strings.TrimPrefix(r.URL.Path, "/webhooks/"), "/")
	if platform == "" {
		writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
		return
	}
	secret, ok := h.secrets[platform]
	if !ok {
		metrics.RecordWebhookEvent(platform, "unknown_platform")
		writeError(w, http.StatusNotFound, "unknown_platform", NewKind(op, ErrUnknownPlatform))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	if !verifySignature(secret, body, r.Header.Get(signatureHeader)) {
		metrics.RecordWebhookEvent(platform, "bad_signature")
		writeError(w, http.StatusUnauthorized, "bad_signature", NewKind(op, ErrBadSignature))
		return
	}

	if err := h.checkTimestamp(r.Header.Get(timestampHeader)); err != nil {
		metrics.RecordWebhookEvent(platform, "stale_timestamp")
		writeError(w, http.StatusBadRequest, "stale_timestamp", WrapKind(op, ErrStaleTimestamp, err))
		return
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	// Platforms without native delivery ids fall back to a body digest, so
	// byte-identical redeliveries still collapse to one event.
	dedupKey := platform + ":" + req.EventID
	if req.EventID == "" {
		digest := sha256.Sum256(body)
		dedupKey = platform + ":" + hex.EncodeToString(digest[:])
	}
	if h.deps.SeenAndRecord(r.Context(), dedupKey) {
		metrics.RecordEventDuplicate()
		metrics.RecordWebhookEvent(platform, "duplicate")
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	occurredAt, _ := time.Parse(time.RFC3339, req.OccurredAt)
	amount := req.Amount
	if amount <= 0 {
		amount = 1
	}
	ev := model.RawEngagementEvent{
		EventID:      dedupKey,
		Platform:     platform,
		Metric:       model.Metric(req.Metric),
		Amount:       amount,
		Source:       model.SourceWebhook,
		Level:        model.LevelSignedWebhook,
		ActorID:      req.ActorID,
		ExternalID:   req.ExternalID,
		ReferralCode: req.ReferralCode,
		RemoteAddr:   r.RemoteAddr,
		UserAgent:    r.UserAgent(),
		AccountAge:   time.Duration(req.AccountAgeHours * float64(time.Hour)),
		OccurredAt:   occurredAt,
	}

	attributed := true
	if err := h.deps.Attribute(r.Context(), &ev); err != nil {
		if !errors.Is(err, repository.ErrUnattributed) {
			h.deps.Unrecord(r.Context(), dedupKey)
			writeError(w, http.StatusInternalServerError, "internal", err)
			return
		}
		attributed = false
	}

	if attributed {
		if ok := h.deps.Enqueue(r.Context(), ev); !ok {
			// Rollback the "seen" status since enqueue failed
			h.deps.Unrecord(r.Context(), dedupKey)
			metrics.RecordWebhookEvent(platform, "backpressure")
			writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
			return
		}
		metrics.RecordWebhookEvent(platform, "accepted")
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
		return
	}

	// Unattributed events are still acknowledged; they are parked and
	// retried once the matching content instance registers.
	metrics.RecordWebhookEvent(platform, "unattributed")
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "unattributed", Duplicate: false})
}

// checkTimestamp enforces the replay window on the delivery timestamp.
func (h *WebhooksHandler) checkTimestamp(raw string) error {
	if raw == "" {
		return errors.New("missing timestamp header")
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return errors.New("invalid timestamp header")
	}
	age := h.now().Sub(time.Unix(ts, 0))
	if age < -h.replayWindow || age > h.replayWindow {
		return errors.New("timestamp too far from server time")
	}
	return nil
}

// verifySignature compares the delivery signature against a fresh HMAC of
// the raw body in constant time.
func verifySignature(secret string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.TrimPrefix(signature, "sha256=")))
}
