// Package fraud scores engagement events against an ordered list of
// independent heuristics.
package fraud

import (
	"strings"
	"time"
)

// Option applies a configuration option to the Pipeline.
type Option func(*Pipeline)

// WithSignupCeiling sets the per-address signup ceiling and rolling window.
func WithSignupCeiling(maxSignups int, window time.Duration) Option {
	return func(p *Pipeline) {
		if maxSignups > 0 {
			p.maxSignupsPerAddr = maxSignups
		}
		if window > 0 {
			p.signupWindow = window
		}
	}
}

// WithVariantCeiling sets the per-variant event-rate ceiling and window.
func WithVariantCeiling(maxEvents int, window time.Duration) Option {
	return func(p *Pipeline) {
		if maxEvents > 0 {
			p.maxVariantEvents = maxEvents
		}
		if window > 0 {
			p.variantWindow = window
		}
	}
}

// WithNewAccountPolicy sets the minimum trusted account age and the event
// volume a younger account may produce before being flagged.
func WithNewAccountPolicy(minAge time.Duration, maxEvents int) Option {
	return func(p *Pipeline) {
		if minAge > 0 {
			p.minAccountAge = minAge
		}
		if maxEvents > 0 {
			p.newAccountCeiling = maxEvents
		}
	}
}

// WithAutomationSignatures sets the known automation client signatures.
// Matching is case-insensitive substring over the reported user agent.
func WithAutomationSignatures(sigs []string) Option {
	return func(p *Pipeline) {
		cleaned := make([]string, 0, len(sigs))
		for _, s := range sigs {
			if s != "" {
				cleaned = append(cleaned, strings.ToLower(s))
			}
		}
		p.automationSigs = cleaned
	}
}

// WithContributions overrides the per-check additive contributions, in
// check order: reciprocal, address velocity, event rate, new account,
// automation. Zero values keep the defaults.
func WithContributions(reciprocal, address, burst, newAccount, automation float64) Option {
	return func(p *Pipeline) {
		if reciprocal > 0 {
			p.reciprocalScore = reciprocal
		}
		if address > 0 {
			p.addressScore = address
		}
		if burst > 0 {
			p.burstScore = burst
		}
		if newAccount > 0 {
			p.newAccountScore = newAccount
		}
		if automation > 0 {
			p.automationScore = automation
		}
	}
}
