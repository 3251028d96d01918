package model

import (
	"encoding/json"
	"time"
)

// Variant is a content template being learned over. Learned statistics are
// not stored on the struct; they live in the bandit engine's posterior state
// and are exposed as a VariantStats snapshot recomputed on read.
type Variant struct {
	ID        string          `json:"id"`
	Category  string          `json:"category"` // e.g. "profile_composite", "progress_summary"
	Layout    string          `json:"layout"`
	Style     string          `json:"style"`
	Params    json.RawMessage `json:"params,omitempty"` // free-form rendering parameters
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
}

// VariantStats is a read-only snapshot of a variant's learned state.
// Score is always the posterior mean, never a stored value.
type VariantStats struct {
	VariantID         string  `json:"variant_id"`
	Attempts          float64 `json:"attempts"` // discounted weighted attempts
	SuccessesWeighted float64 `json:"successes_weighted"`
	FailuresWeighted  float64 `json:"failures_weighted"`
	Score             float64 `json:"score"`
	Confidence        float64 `json:"confidence"`
}

// ContentInstance is one concrete post generated from a variant for one
// user. Raw counters only ever grow; weighted counters are folded from the
// audit log and never edited directly.
type ContentInstance struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"owner_id"`
	VariantID       string    `json:"variant_id"`
	Platform        string    `json:"platform,omitempty"`
	ExternalID      string    `json:"external_id,omitempty"` // platform-side post id
	PlatformAccount string    `json:"platform_account,omitempty"`
	ReferralCode    string    `json:"referral_code,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	Raw      map[Metric]float64 `json:"raw"`      // as reported, append-only
	Weighted map[Metric]float64 `json:"weighted"` // verified, trust-weighted
}

// AuditEntry is one immutable record per reported event. Folding audit
// entries is the only path by which instance and variant statistics change.
type AuditEntry struct {
	ID                string            `json:"id"`
	Seq               uint64            `json:"seq"` // assigned by the log on append
	ContentInstanceID string            `json:"content_instance_id"`
	VariantID         string            `json:"variant_id"`
	OwnerID           string            `json:"owner_id"`
	Platform          string            `json:"platform,omitempty"`
	Metric            Metric            `json:"metric"`
	Amount            float64           `json:"amount"`
	Source            Source            `json:"source"`
	Level             VerificationLevel `json:"level"`
	FraudScore        float64           `json:"fraud_score"`
	Weight            float64           `json:"weight"`
	Decision          Decision          `json:"decision"`
	Success           bool              `json:"success"`
	Reasons           []string          `json:"reasons,omitempty"`
	EventAt           time.Time         `json:"event_at"`
	InstanceAt        time.Time         `json:"instance_at"` // content instance creation time
	RecordedAt        time.Time         `json:"recorded_at"`
}
