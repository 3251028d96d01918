package bandit

import (
	"time"

	"golang.org/x/exp/rand"

	"github.com/stridewell/growthloop/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithPrior sets the Beta prior parameters.
func WithPrior(alpha, beta float64) Option {
	return func(e *Engine) {
		if alpha > 0 && beta > 0 {
			e.priorAlpha = alpha
			e.priorBeta = beta
		}
	}
}

// WithHalfLife sets the temporal discounting half-life.
func WithHalfLife(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.halfLife = d
		}
	}
}

// WithMinContextObservations sets the cold-start guard: contexts with
// fewer discounted observations fall back to the global posterior.
func WithMinContextObservations(n float64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minContextObs = n
		}
	}
}

// WithRandSeed seeds the sampling source. Tests use this for
// reproducible draws.
func WithRandSeed(seed uint64) Option {
	return func(e *Engine) {
		e.src = rand.New(rand.NewSource(seed))
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
