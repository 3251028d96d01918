package referral

import (
	"time"

	"github.com/stridewell/growthloop/pkg/logger"
)

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithBaseURL sets the public base URL issued links point at.
func WithBaseURL(u string) Option {
	return func(p *Pipeline) {
		if u != "" {
			p.baseURL = u
		}
	}
}

// WithRewardCents sets the reward amount released on payment verification.
func WithRewardCents(cents int64) Option {
	return func(p *Pipeline) {
		if cents > 0 {
			p.rewardCents = cents
		}
	}
}

// WithRejectThreshold sets the fraud score at which a referral is marked
// fraudulent instead of advancing.
func WithRejectThreshold(t float64) Option {
	return func(p *Pipeline) {
		if t > 0 && t <= 1 {
			p.rejectThreshold = t
		}
	}
}

// WithClock overrides the pipeline's time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets a custom logger for the pipeline.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}
