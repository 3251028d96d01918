// Package bandit selects content variants with Thompson Sampling and
// folds verified engagement outcomes into per-variant Beta posteriors.
//
// Selection draws one sample from every active variant's posterior and
// returns the max, so exploration follows each variant's actual
// uncertainty instead of a fixed rate. Posteriors are segmented by a small
// discrete context key with a global fallback for cold contexts.
package bandit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/pkg/logger"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// Default engine parameters. The Beta(0.5, 0.5) prior is Jeffreys'
// uninformative prior.
const (
	defaultPriorAlpha      = 0.5
	defaultPriorBeta       = 0.5
	defaultHalfLife        = 30 * 24 * time.Hour
	defaultMinContextObs   = 30.0
	confidenceAttemptScale = 20.0
)

// posterior accumulates discounted, trust-weighted outcome mass for one
// (variant, context) pair. Every access holds mu; readers copy the two
// fields out under the lock, so sampling never blocks behind more than a
// fold's critical section.
type posterior struct {
	mu   sync.Mutex
	succ float64
	fail float64
}

// snapshot returns a consistent (succ, fail) pair.
func (p *posterior) snapshot() (succ, fail float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.succ, p.fail
}

func (p *posterior) attempts() float64 {
	succ, fail := p.snapshot()
	return succ + fail
}

// Engine is the learning core. It owns all posterior state; the variant
// store only holds template definitions.
type Engine struct {
	variants repository.VariantStore
	audit    repository.AuditLog

	priorAlpha    float64
	priorBeta     float64
	halfLife      time.Duration
	minContextObs float64

	mu         sync.RWMutex
	global     map[string]*posterior            // variant id -> posterior
	contextual map[string]map[string]*posterior // context key -> variant id -> posterior

	srcMu sync.Mutex
	src   *rand.Rand

	now    func() time.Time
	logger logger.Logger
}

// New creates an Engine over the given stores with configuration options.
func New(variants repository.VariantStore, audit repository.AuditLog, opts ...Option) *Engine {
	e := &Engine{
		variants:      variants,
		audit:         audit,
		priorAlpha:    defaultPriorAlpha,
		priorBeta:     defaultPriorBeta,
		halfLife:      defaultHalfLife,
		minContextObs: defaultMinContextObs,
		global:        make(map[string]*posterior),
		contextual:    make(map[string]map[string]*posterior),
		src:           rand.New(rand.NewSource(uint64(time.Now().UnixNano()))),
		now:           time.Now,
		logger:        logger.Get().Named("bandit"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Suggest samples every active variant's posterior for the given context
// and returns the variant with the highest draw plus its confidence.
func (e *Engine) Suggest(ctx context.Context, key ContextKey) (model.Variant, float64, error) {
	start := time.Now()
	defer func() {
		metrics.RecordSuggestionLatency(float64(time.Since(start).Milliseconds()))
	}()

	if err := key.Validate(); err != nil {
		return model.Variant{}, 0, err
	}
	variants, err := e.variants.List(ctx, true)
	if err != nil {
		return model.Variant{}, 0, fmt.Errorf("list active variants: %w", err)
	}
	if len(variants) == 0 {
		return model.Variant{}, 0, ErrNoActiveVariants
	}

	var best model.Variant
	var bestSucc, bestFail float64
	bestSample := math.Inf(-1)
	for _, v := range variants {
		succ, fail := e.posteriorFor(v.ID, key).snapshot()
		sample := e.sampleBeta(e.priorAlpha+succ, e.priorBeta+fail)
		if sample > bestSample {
			bestSample = sample
			best = v
			bestSucc, bestFail = succ, fail
		}
	}

	metrics.RecordSuggestion()
	return best, e.confidence(bestSucc, bestFail), nil
}

// Update folds a verified event into the winning variant's posteriors.
// The contribution is the event's trust weight times its amount, decayed
// by the content instance's age under the configured half-life. Rejected
// events (weight 0) are a no-op here; they exist only in the audit log.
func (e *Engine) Update(ctx context.Context, key ContextKey, ev model.VerifiedEngagementEvent) error {
	if ev.Raw.VariantID == "" {
		return ErrUnknownVariant
	}
	if _, err := e.variants.Get(ctx, ev.Raw.VariantID); err != nil {
		return fmt.Errorf("variant %s: %w", ev.Raw.VariantID, ErrUnknownVariant)
	}
	if err := key.Validate(); err != nil {
		return err
	}
	if ev.Weight <= 0 {
		return nil
	}

	age := e.now().Sub(ev.Raw.InstanceCreatedAt)
	w := ev.Weight * ev.Raw.Amount * decay(age, e.halfLife)
	e.fold(ev.Raw.VariantID, key, ev.Success, w)
	metrics.RecordBanditUpdate()
	return nil
}

// fold applies one discounted observation to the global posterior and,
// for non-empty keys, the contextual one. The per-posterior mutex
// serializes same-variant updates; different variants do not contend.
func (e *Engine) fold(variantID string, key ContextKey, success bool, w float64) {
	apply := func(p *posterior) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if success {
			p.succ += w
		} else {
			p.fail += w
		}
	}
	apply(e.globalPosterior(variantID))
	if k := key.String(); k != "" {
		apply(e.contextPosterior(k, variantID))
	}
}

// Stats returns the read-only learned snapshot for a variant. Score is
// the posterior mean, recomputed on every call.
func (e *Engine) Stats(ctx context.Context, variantID string) (model.VariantStats, error) {
	if _, err := e.variants.Get(ctx, variantID); err != nil {
		return model.VariantStats{}, fmt.Errorf("variant %s: %w", variantID, ErrUnknownVariant)
	}
	succ, fail := e.globalPosterior(variantID).snapshot()
	return model.VariantStats{
		VariantID:         variantID,
		Attempts:          succ + fail,
		SuccessesWeighted: succ,
		FailuresWeighted:  fail,
		Score:             e.mean(succ, fail),
		Confidence:        e.confidence(succ, fail),
	}, nil
}

// ScoreOverWindow recomputes a variant's success rate from audit entries
// whose event time falls inside the trailing window. Used for reporting
// and cold-restart re-seeding; the variant's live posterior is untouched.
func (e *Engine) ScoreOverWindow(ctx context.Context, variantID string, days int) (float64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("window of %d days: %w", days, ErrMalformedContext)
	}
	if _, err := e.variants.Get(ctx, variantID); err != nil {
		return 0, fmt.Errorf("variant %s: %w", variantID, ErrUnknownVariant)
	}

	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)
	var succ, fail float64
	err := e.audit.Replay(ctx, func(entry model.AuditEntry) error {
		if entry.VariantID != variantID || entry.Weight <= 0 || entry.EventAt.Before(cutoff) {
			return nil
		}
		w := entry.Weight * entry.Amount * decay(e.now().Sub(entry.InstanceAt), e.halfLife)
		if entry.Success {
			succ += w
		} else {
			fail += w
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replay audit log: %w", err)
	}
	return (e.priorAlpha + succ) / (e.priorAlpha + e.priorBeta + succ + fail), nil
}

// Rebuild resets all posteriors and re-folds the audit log, deriving each
// entry's context from its platform and event time. Run on cold start so
// the live posteriors always match a full replay.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	e.global = make(map[string]*posterior)
	e.contextual = make(map[string]map[string]*posterior)
	e.mu.Unlock()

	var folded int
	err := e.audit.Replay(ctx, func(entry model.AuditEntry) error {
		if entry.Weight <= 0 || entry.VariantID == "" {
			return nil
		}
		key := ContextKey{Platform: entry.Platform, DayPart: DayPart(entry.EventAt)}
		w := entry.Weight * entry.Amount * decay(e.now().Sub(entry.InstanceAt), e.halfLife)
		e.fold(entry.VariantID, key, entry.Success, w)
		folded++
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild posteriors: %w", err)
	}
	e.logger.Info(ctx, "posteriors rebuilt from audit log", logger.Int("entries", folded))
	return nil
}

// mean is the posterior mean including the prior.
func (e *Engine) mean(succ, fail float64) float64 {
	return (e.priorAlpha + succ) / (e.priorAlpha + e.priorBeta + succ + fail)
}

// confidence blends attempt mass with outcome dispersion: many attempts
// raise it, inconsistent outcomes (mean near 0.5) pull it back down.
func (e *Engine) confidence(succ, fail float64) float64 {
	base := 1 - math.Exp(-(succ+fail)/confidenceAttemptScale)
	m := e.mean(succ, fail)
	return base * (1 - 2*m*(1-m))
}

// posteriorFor returns the contextual posterior when the context has
// enough observations, falling back to the global one (cold-start guard).
func (e *Engine) posteriorFor(variantID string, key ContextKey) *posterior {
	if k := key.String(); k != "" {
		e.mu.RLock()
		p, ok := e.contextual[k][variantID]
		e.mu.RUnlock()
		if ok && p.attempts() >= e.minContextObs {
			return p
		}
	}
	return e.globalPosterior(variantID)
}

func (e *Engine) globalPosterior(variantID string) *posterior {
	e.mu.RLock()
	p, ok := e.global[variantID]
	e.mu.RUnlock()
	if ok {
		return p
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok = e.global[variantID]; ok {
		return p
	}
	p = &posterior{}
	e.global[variantID] = p
	return p
}

func (e *Engine) contextPosterior(key, variantID string) *posterior {
	e.mu.Lock()
	defer e.mu.Unlock()
	byVariant, ok := e.contextual[key]
	if !ok {
		byVariant = make(map[string]*posterior)
		e.contextual[key] = byVariant
	}
	p, ok := byVariant[variantID]
	if !ok {
		p = &posterior{}
		byVariant[variantID] = p
	}
	return p
}

// sampleBeta draws one Beta(alpha, beta) sample. The shared source is
// mutex-guarded; distuv distributions are not safe for concurrent draws.
func (e *Engine) sampleBeta(alpha, beta float64) float64 {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()
	return distuv.Beta{Alpha: alpha, Beta: beta, Src: e.src}.Rand()
}

// decay is half-life decay: 2^(-age/halfLife). A 60-day-old instance under
// a 30-day half-life contributes 25% of nominal weight.
func decay(age time.Duration, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(halfLife))
}
