package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// SelfReportHandler accepts user-submitted engagement claims. These enter
// the pipeline at the lowest trust tier; authentication only proves the
// reporter holds an API token, not that the engagement happened.
type SelfReportHandler struct {
	deps      Dependencies
	authToken string
}

// NewSelfReportHandler creates a new self-report handler.
func NewSelfReportHandler(deps Dependencies, authToken string) *SelfReportHandler {
	return &SelfReportHandler{deps: deps, authToken: authToken}
}

type selfReportRequest struct {
	EventID           string  `json:"event_id"`
	ContentInstanceID string  `json:"content_instance_id"`
	ExternalID        string  `json:"external_id,omitempty"`
	Metric            string  `json:"metric"`
	Amount            float64 `json:"amount"`
	OccurredAt        string  `json:"occurred_at"`
}

func (e selfReportRequest) validate() error {
	switch {
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("missing event_id")
	case strings.TrimSpace(e.ContentInstanceID) == "" && strings.TrimSpace(e.ExternalID) == "":
		return errors.New("missing content_instance_id or external_id")
	case !model.Metric(e.Metric).Valid():
		return errors.New("unknown metric")
	case strings.TrimSpace(e.OccurredAt) == "":
		return errors.New("missing occurred_at")
	}
	if _, err := time.Parse(time.RFC3339, e.OccurredAt); err != nil {
		return errors.New("invalid occurred_at; must be RFC3339")
	}
	return nil
}

// HandleSelfReport handles POST /events/self-report requests.
func (h *SelfReportHandler) HandleSelfReport(w http.ResponseWriter, r *http.Request) {
	const op = "api.self_report"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", NewKind(op, ErrUnauthorized))
		return
	}

	var req selfReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	dedupKey := "self:" + req.EventID
	if h.deps.SeenAndRecord(r.Context(), dedupKey) {
		metrics.RecordEventDuplicate()
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true})
		return
	}

	occurredAt, _ := time.Parse(time.RFC3339, req.OccurredAt)
	amount := req.Amount
	if amount <= 0 {
		amount = 1
	}
	ev := model.RawEngagementEvent{
		EventID:           dedupKey,
		ContentInstanceID: req.ContentInstanceID,
		ExternalID:        req.ExternalID,
		Metric:            model.Metric(req.Metric),
		Amount:            amount,
		Source:            model.SourceSelfReport,
		Level:             model.LevelSelfClaimed,
		RemoteAddr:        r.RemoteAddr,
		UserAgent:         r.UserAgent(),
		OccurredAt:        occurredAt,
	}

	if err := h.deps.Attribute(r.Context(), &ev); err != nil {
		if !errors.Is(err, repository.ErrUnattributed) {
			h.deps.Unrecord(r.Context(), dedupKey)
			writeError(w, http.StatusInternalServerError, "internal", err)
			return
		}
		// The claim is parked for reconciliation, so the dedup record must
		// stay: releasing it would let a retry fold the same event a
		// second time once the parked copy replays.
		writeJSON(w, http.StatusAccepted, ackResponse{Status: "unattributed", Duplicate: false})
		return
	}

	if ok := h.deps.Enqueue(r.Context(), ev); !ok {
		h.deps.Unrecord(r.Context(), dedupKey)
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Duplicate: false})
}

// authorized checks the bearer token in constant time.
func (h *SelfReportHandler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}
