package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// InstancesHandler registers content instances so later engagement events
// have something to attribute to.
type InstancesHandler struct {
	deps Dependencies
}

// NewInstancesHandler creates a new instances handler.
func NewInstancesHandler(deps Dependencies) *InstancesHandler {
	return &InstancesHandler{deps: deps}
}

type createInstanceRequest struct {
	OwnerID         string `json:"owner_id"`
	VariantID       string `json:"variant_id"`
	Platform        string `json:"platform"`
	ExternalID      string `json:"external_id,omitempty"`
	PlatformAccount string `json:"platform_account,omitempty"`
	ReferralCode    string `json:"referral_code,omitempty"`
}

func (c createInstanceRequest) validate() error {
	switch {
	case strings.TrimSpace(c.OwnerID) == "":
		return errors.New("missing owner_id")
	case strings.TrimSpace(c.VariantID) == "":
		return errors.New("missing variant_id")
	}
	return nil
}

// HandleCreateInstance handles POST /instances requests.
func (h *InstancesHandler) HandleCreateInstance(w http.ResponseWriter, r *http.Request) {
	const op = "api.instances"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}

	var req createInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	created, err := h.deps.CreateInstance(r.Context(), model.ContentInstance{
		OwnerID:         req.OwnerID,
		VariantID:       req.VariantID,
		Platform:        req.Platform,
		ExternalID:      req.ExternalID,
		PlatformAccount: req.PlatformAccount,
		ReferralCode:    req.ReferralCode,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusCreated, created)
}
