// Package model contains domain entities passed between layers.
package model

import "time"

// Metric identifies the kind of engagement being reported.
type Metric string

// Supported engagement metrics.
const (
	MetricView   Metric = "view"
	MetricShare  Metric = "share"
	MetricClick  Metric = "click"
	MetricSignup Metric = "signup"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricView, MetricShare, MetricClick, MetricSignup:
		return true
	default:
		return false
	}
}

// Source identifies how an engagement signal reached the gateway.
type Source string

// Supported event sources.
const (
	SourceWebhook    Source = "platform_webhook"
	SourceAPIPull    Source = "platform_api"
	SourceSelfReport Source = "self_report"
	SourceInferred   Source = "inferred"
)

// VerificationLevel is the trust tier assigned to an engagement signal.
type VerificationLevel string

// Verification levels, from most to least trusted.
const (
	LevelPlatformAPI   VerificationLevel = "platform_api"
	LevelSignedWebhook VerificationLevel = "signed_webhook"
	LevelInferred      VerificationLevel = "inferred"
	LevelSelfClaimed   VerificationLevel = "self_claimed"
	LevelSuspicious    VerificationLevel = "suspicious"
)

// Decision is the verifier's ruling on a single event.
type Decision string

// Possible verification decisions.
const (
	DecisionAccepted     Decision = "accepted"
	DecisionDownWeighted Decision = "down_weighted"
	DecisionRejected     Decision = "rejected"
)

// RawEngagementEvent is the normalized event emitted by the gateway after
// signature, timestamp and dedup checks. Platform specifics never survive
// past this struct.
type RawEngagementEvent struct {
	EventID           string // platform event id or derived dedup key
	ContentInstanceID string // set by attribution; empty when unattributed
	VariantID         string // resolved from the content instance
	OwnerID           string // owner of the content instance
	Platform          string // source platform name
	Metric            Metric
	Amount            float64 // metric delta, usually 1
	Source            Source
	Level             VerificationLevel // provisional trust tier from the gateway
	ActorID           string            // account that performed the engagement
	CounterpartyID    string            // attribution counterpart (e.g. referrer)
	ExternalID        string            // platform-side post id, attribution hint
	ReferralCode      string            // embedded referral code, attribution hint
	RemoteAddr        string            // originating network address
	UserAgent         string            // reporting client signature
	AccountAge        time.Duration     // age of the acting account, if known
	OccurredAt        time.Time         // platform-reported event time
	InstanceCreatedAt time.Time         // creation time of the content instance
}

// VerifiedEngagementEvent is a raw event plus the verifier's ruling.
// Weight is the final multiplier applied to the event's contribution:
// the level weight, scaled down inside the fraud gray band, zero when
// rejected.
type VerifiedEngagementEvent struct {
	Raw        RawEngagementEvent
	Level      VerificationLevel
	FraudScore float64
	Weight     float64
	Decision   Decision
	Success    bool // counts toward the success side of the posterior
	Reasons    []string
}
