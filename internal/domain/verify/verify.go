// Package verify assigns a trust weight and fraud score to every reported
// engagement event. Verification levels carry fixed weight multipliers;
// the fraud score decides whether an event is accepted, down-weighted, or
// rejected outright.
package verify

import (
	"context"
	"fmt"

	"github.com/stridewell/growthloop/internal/domain/fraud"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/internal/domain/ratelimit"
)

// Default decision thresholds. Both are tunable via options; the defaults
// match the shipped policy.
const (
	defaultRejectThreshold     = 0.7
	defaultDownweightThreshold = 0.3
)

// levelWeights are the fixed multipliers per verification level.
func levelWeights() map[model.VerificationLevel]float64 {
	return map[model.VerificationLevel]float64{
		model.LevelPlatformAPI:   1.0,
		model.LevelSignedWebhook: 1.0,
		model.LevelInferred:      0.5,
		model.LevelSelfClaimed:   0.3,
		model.LevelSuspicious:    0.0,
	}
}

// Verifier turns raw engagement events into verified, weighted ones.
type Verifier interface {
	Verify(ctx context.Context, ev model.RawEngagementEvent) (model.VerifiedEngagementEvent, error)
}

// EngagementVerifier implements Verifier over a fraud pipeline and a rate
// limiter registry.
type EngagementVerifier struct {
	pipeline *fraud.Pipeline
	limits   *ratelimit.Registry

	rejectThreshold     float64
	downweightThreshold float64
	weights             map[model.VerificationLevel]float64
	successMetrics      map[model.Metric]bool
}

// Option applies a configuration option to the EngagementVerifier.
type Option func(*EngagementVerifier)

// WithThresholds sets the fraud-score decision band edges.
func WithThresholds(downweight, reject float64) Option {
	return func(v *EngagementVerifier) {
		if downweight > 0 && reject > downweight && reject <= 1 {
			v.downweightThreshold = downweight
			v.rejectThreshold = reject
		}
	}
}

// WithSuccessMetrics overrides which metrics fold into the success side of
// the posterior. Everything else folds as a failure observation.
func WithSuccessMetrics(metrics ...model.Metric) Option {
	return func(v *EngagementVerifier) {
		if len(metrics) == 0 {
			return
		}
		v.successMetrics = make(map[model.Metric]bool, len(metrics))
		for _, m := range metrics {
			v.successMetrics[m] = true
		}
	}
}

// New creates an EngagementVerifier with configuration options.
func New(pipeline *fraud.Pipeline, limits *ratelimit.Registry, opts ...Option) *EngagementVerifier {
	v := &EngagementVerifier{
		pipeline:            pipeline,
		limits:              limits,
		rejectThreshold:     defaultRejectThreshold,
		downweightThreshold: defaultDownweightThreshold,
		weights:             levelWeights(),
		successMetrics: map[model.Metric]bool{
			model.MetricShare:  true,
			model.MetricClick:  true,
			model.MetricSignup: true,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify scores ev and returns the weighted ruling. The rate-limit check
// runs first and hard-rejects independently of the fraud score. Scoring
// never errors on policy grounds; the error return is reserved for
// malformed events.
func (v *EngagementVerifier) Verify(ctx context.Context, ev model.RawEngagementEvent) (model.VerifiedEngagementEvent, error) {
	if !ev.Metric.Valid() {
		return model.VerifiedEngagementEvent{}, fmt.Errorf("verify event %s: %w", ev.EventID, ErrUnknownMetric)
	}

	out := model.VerifiedEngagementEvent{
		Raw:     ev,
		Level:   ev.Level,
		Success: v.successMetrics[ev.Metric],
	}

	ec := &fraud.Context{
		ActorID:        ev.ActorID,
		CounterpartyID: ev.CounterpartyID,
		VariantID:      ev.VariantID,
		Metric:         ev.Metric,
		RemoteAddr:     ev.RemoteAddr,
		UserAgent:      ev.UserAgent,
		AccountAge:     ev.AccountAge,
		At:             ev.OccurredAt,
	}
	defer v.pipeline.Record(ec)

	if !v.limits.Allow(ev.Metric, v.scope(ev)) {
		out.Level = model.LevelSuspicious
		out.Weight = 0
		out.Decision = model.DecisionRejected
		out.Reasons = []string{fmt.Sprintf("rate ceiling exceeded for %s", ev.Metric)}
		return out, nil
	}

	score, reasons := v.pipeline.Score(ctx, ec)
	out.FraudScore = score
	out.Reasons = reasons

	base := v.weights[ev.Level]
	switch {
	case score >= v.rejectThreshold:
		out.Level = model.LevelSuspicious
		out.Weight = 0
		out.Decision = model.DecisionRejected
	case score >= v.downweightThreshold:
		out.Weight = base * (1 - score)
		out.Decision = model.DecisionDownWeighted
	default:
		out.Weight = base
		out.Decision = model.DecisionAccepted
	}
	return out, nil
}

// scope picks the bucket scope for rate limiting: signups are bounded per
// originating address, everything else per variant.
func (v *EngagementVerifier) scope(ev model.RawEngagementEvent) string {
	if ev.Metric == model.MetricSignup && ev.RemoteAddr != "" {
		return ev.RemoteAddr
	}
	if ev.VariantID != "" {
		return ev.VariantID
	}
	return ev.OwnerID
}
