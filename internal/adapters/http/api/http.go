// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/stridewell/growthloop/internal/domain/bandit"
	"github.com/stridewell/growthloop/internal/domain/dedupe"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/internal/domain/referral"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	dedupe.Deduper

	// Enqueue pushes an event for async verification. Returns false on backpressure.
	Enqueue(ctx context.Context, e model.RawEngagementEvent) bool

	// Attribute resolves the event's content instance and variant in place.
	// Returns ErrUnattributed when no instance matches; the event is then
	// parked for later reconciliation.
	Attribute(ctx context.Context, ev *model.RawEngagementEvent) error

	// Suggest returns the variant to render for a context, with confidence.
	Suggest(ctx context.Context, key bandit.ContextKey) (model.Variant, float64, error)

	// Variant administration.
	CreateVariant(ctx context.Context, v model.Variant) (model.Variant, error)
	ListVariants(ctx context.Context, activeOnly bool) ([]model.Variant, error)
	DeactivateVariant(ctx context.Context, id string) error
	VariantStats(ctx context.Context, variantID string) (model.VariantStats, error)

	// Content instance registration.
	CreateInstance(ctx context.Context, inst model.ContentInstance) (model.ContentInstance, error)

	// Referral lifecycle.
	IssueLink(ctx context.Context, referrerID, contentInstanceID, platform string) (referral.Link, error)
	CreateReferral(ctx context.Context, code, signature string, signup referral.Signup) (model.Referral, error)
	ConfirmEmail(ctx context.Context, refereeID string) (model.Referral, error)
	ConfirmPayment(ctx context.Context, refereeID string, amountCents int64) (model.Referral, error)
	Redeem(ctx context.Context, referrerID string) (int64, error)
	Balance(ctx context.Context, referrerID string) (int64, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	webhooksHandler   *WebhooksHandler
	selfReportHandler *SelfReportHandler
	suggestHandler    *SuggestHandler
	variantsHandler   *VariantsHandler
	instancesHandler  *InstancesHandler
	referralsHandler  *ReferralsHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	cfg := serverConfig{
		replayWindowSeconds: 300,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(statsProvider),
		webhooksHandler:   NewWebhooksHandler(deps, cfg.platformSecrets, cfg.replayWindowSeconds),
		selfReportHandler: NewSelfReportHandler(deps, cfg.authToken),
		suggestHandler:    NewSuggestHandler(deps),
		variantsHandler:   NewVariantsHandler(deps),
		instancesHandler:  NewInstancesHandler(deps),
		referralsHandler:  NewReferralsHandler(deps),
	}
}

// serverConfig carries gateway settings supplied by the composition root.
type serverConfig struct {
	platformSecrets     map[string]string
	authToken           string
	replayWindowSeconds int
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*serverConfig)

// WithPlatformSecrets sets per-platform webhook HMAC secrets.
func WithPlatformSecrets(secrets map[string]string) ServerOption {
	return func(c *serverConfig) {
		if secrets != nil {
			c.platformSecrets = secrets
		}
	}
}

// WithAuthToken sets the bearer token required on self-report submissions.
func WithAuthToken(token string) ServerOption {
	return func(c *serverConfig) {
		c.authToken = token
	}
}

// WithReplayWindow sets the webhook timestamp freshness bound in seconds.
func WithReplayWindow(seconds int) ServerOption {
	return func(c *serverConfig) {
		if seconds > 0 {
			c.replayWindowSeconds = seconds
		}
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/webhooks/", MetricsMiddleware(s.webhooksHandler.HandleWebhook, "webhooks"))
	mux.HandleFunc("/events/self-report", MetricsMiddleware(s.selfReportHandler.HandleSelfReport, "self_report"))
	mux.HandleFunc("/suggest", MetricsMiddleware(s.suggestHandler.HandleSuggest, "suggest"))
	mux.HandleFunc("/variants", MetricsMiddleware(s.variantsHandler.HandleVariants, "variants"))
	mux.HandleFunc("/variants/", MetricsMiddleware(s.variantsHandler.HandleVariant, "variants"))
	mux.HandleFunc("/instances", MetricsMiddleware(s.instancesHandler.HandleCreateInstance, "instances"))
	mux.HandleFunc("/referrals/links", MetricsMiddleware(s.referralsHandler.HandleIssueLink, "referral_links"))
	mux.HandleFunc("/referrals/signup", MetricsMiddleware(s.referralsHandler.HandleSignup, "referral_signup"))
	mux.HandleFunc("/referrals/email-confirmed", MetricsMiddleware(s.referralsHandler.HandleEmailConfirmed, "referral_email"))
	mux.HandleFunc("/referrals/payment-confirmed", MetricsMiddleware(s.referralsHandler.HandlePaymentConfirmed, "referral_payment"))
	mux.HandleFunc("/referrals/redeem", MetricsMiddleware(s.referralsHandler.HandleRedeem, "referral_redeem"))
	mux.HandleFunc("/referrals/balance", MetricsMiddleware(s.referralsHandler.HandleBalance, "referral_balance"))
}

type ackResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// NewKind tags a sentinel kind with the failing operation.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags a sentinel kind with the failing operation and cause.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
