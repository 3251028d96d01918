package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/model"
)

// VariantsHandler administers the variant catalog.
type VariantsHandler struct {
	deps Dependencies
}

// NewVariantsHandler creates a new variants handler.
func NewVariantsHandler(deps Dependencies) *VariantsHandler {
	return &VariantsHandler{deps: deps}
}

type createVariantRequest struct {
	Category string          `json:"category"`
	Layout   string          `json:"layout"`
	Style    string          `json:"style"`
	Params   json.RawMessage `json:"params,omitempty"`
}

func (c createVariantRequest) validate() error {
	switch {
	case strings.TrimSpace(c.Category) == "":
		return errors.New("missing category")
	case strings.TrimSpace(c.Layout) == "":
		return errors.New("missing layout")
	case strings.TrimSpace(c.Style) == "":
		return errors.New("missing style")
	}
	return nil
}

// HandleVariants handles POST /variants and GET /variants requests.
func (h *VariantsHandler) HandleVariants(w http.ResponseWriter, r *http.Request) {
	const op = "api.variants"
	switch r.Method {
	case http.MethodPost:
		var req createVariantRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		if err := req.validate(); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
			return
		}
		created, err := h.deps.CreateVariant(r.Context(), model.Variant{
			Category: req.Category,
			Layout:   req.Layout,
			Style:    req.Style,
			Params:   req.Params,
			Active:   true,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err)
			return
		}
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		variants, err := h.deps.ListVariants(r.Context(), activeOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err)
			return
		}
		writeJSON(w, http.StatusOK, variants)

	default:
		http.NotFound(w, r)
	}
}

// HandleVariant handles per-variant routes:
//
//	GET    /variants/{id}/stats
//	DELETE /variants/{id}
func (h *VariantsHandler) HandleVariant(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/variants/"), "/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}

	if id, ok := strings.CutSuffix(rest, "/stats"); ok {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		stats, err := h.deps.VariantStats(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
		return
	}

	if r.Method != http.MethodDelete {
		http.NotFound(w, r)
		return
	}
	if err := h.deps.DeactivateVariant(r.Context(), rest); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}
