package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/stridewell/growthloop/internal/domain/bandit"
	"github.com/stridewell/growthloop/internal/domain/model"
)

// SuggestHandler serves variant suggestions.
type SuggestHandler struct {
	deps Dependencies
	now  func() time.Time
}

// NewSuggestHandler creates a new suggest handler.
func NewSuggestHandler(deps Dependencies) *SuggestHandler {
	return &SuggestHandler{deps: deps, now: time.Now}
}

type suggestResponse struct {
	Variant    model.Variant `json:"variant"`
	Confidence float64       `json:"confidence"`
}

// HandleSuggest handles GET /suggest requests. The context key is built
// from query parameters; the day part comes from server time so callers
// cannot skew segmentation by lying about their clock.
func (h *SuggestHandler) HandleSuggest(w http.ResponseWriter, r *http.Request) {
	const op = "api.suggest"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	key := bandit.ContextKey{
		Tier:     r.URL.Query().Get("tier"),
		Platform: r.URL.Query().Get("platform"),
		DayPart:  bandit.DayPart(h.now()),
	}

	variant, confidence, err := h.deps.Suggest(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, bandit.ErrNoActiveVariants):
			writeError(w, http.StatusNotFound, "no_active_variants", err)
		case errors.Is(err, bandit.ErrMalformedContext):
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		default:
			writeError(w, http.StatusInternalServerError, "internal", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, suggestResponse{Variant: variant, Confidence: confidence})
}
