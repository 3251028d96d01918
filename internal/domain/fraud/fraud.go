// Package fraud scores engagement events against an ordered list of
// independent heuristics. Each check contributes additively to a [0,1]
// score; the fixed order keeps results reproducible.
package fraud

import (
	"context"
	"time"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// Pipeline runs the checks in registration order and sums contributions.
type Pipeline struct {
	tracker *Tracker
	checks  []Check

	maxSignupsPerAddr  int
	signupWindow       time.Duration
	maxVariantEvents   int
	variantWindow      time.Duration
	minAccountAge      time.Duration
	newAccountCeiling  int
	automationSigs     []string
	reciprocalScore    float64
	addressScore       float64
	burstScore         float64
	newAccountScore    float64
	automationScore    float64
}

// NewPipeline creates the standard check pipeline over the given tracker.
// The check order is fixed: reciprocal attribution, address velocity,
// event rate, new-account volume, automation signatures.
func NewPipeline(tracker *Tracker, opts ...Option) *Pipeline {
	p := &Pipeline{
		tracker:           tracker,
		maxSignupsPerAddr: 5,
		signupWindow:      24 * time.Hour,
		maxVariantEvents:  120,
		variantWindow:     time.Hour,
		minAccountAge:     24 * time.Hour,
		newAccountCeiling: 30,
		automationSigs:    []string{"headless", "phantomjs", "selenium", "puppeteer", "python-requests", "curl/"},
		reciprocalScore:   0.6,
		addressScore:      0.4,
		burstScore:        0.3,
		newAccountScore:   0.3,
		automationScore:   0.8,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.checks = []Check{
		&reciprocalCheck{tracker: tracker, contribution: p.reciprocalScore},
		&addressVelocityCheck{tracker: tracker, maxSignups: p.maxSignupsPerAddr, window: p.signupWindow, contribution: p.addressScore},
		&burstCheck{tracker: tracker, maxPerWindow: p.maxVariantEvents, window: p.variantWindow, contribution: p.burstScore},
		&newAccountCheck{tracker: tracker, minAge: p.minAccountAge, maxEvents: p.newAccountCeiling, window: p.variantWindow, contribution: p.newAccountScore},
		&automationCheck{signatures: p.automationSigs, contribution: p.automationScore},
	}
	return p
}

// Score runs every check in order and returns the clamped sum plus the
// reasons of the checks that fired. Scoring reads rolling state but does
// not mutate it; call Record once the event's fate is decided.
func (p *Pipeline) Score(ctx context.Context, ec *Context) (float64, []string) {
	var total float64
	var reasons []string
	for _, c := range p.checks {
		contribution, reason := c.Score(ctx, ec)
		if contribution > 0 {
			total += contribution
			reasons = append(reasons, reason)
		}
	}
	if total > 1 {
		total = 1
	}
	return total, reasons
}

// Record folds the event into the rolling windows the checks read. The
// split from Score means an event is judged against the traffic that
// preceded it.
func (p *Pipeline) Record(ec *Context) {
	if ec.Metric == model.MetricSignup {
		p.tracker.RecordSignup(ec.RemoteAddr)
		p.tracker.RecordAttribution(ec.ActorID, ec.CounterpartyID)
	}
	p.tracker.RecordEvent(ec.VariantID, ec.ActorID)
}

// Tracker exposes the pipeline's rolling state for components that share it.
func (p *Pipeline) Tracker() *Tracker { return p.tracker }
