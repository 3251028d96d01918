package model

import "time"

// ReferralState is a node in the referral lifecycle state machine.
type ReferralState string

// Referral lifecycle states. Fraudulent is absorbing: once entered no
// further transition is permitted and no reward is issued.
const (
	ReferralPending         ReferralState = "pending"
	ReferralEmailVerified   ReferralState = "email_verified"
	ReferralPaymentVerified ReferralState = "payment_verified"
	ReferralEarned          ReferralState = "earned"
	ReferralRedeemed        ReferralState = "redeemed"
	ReferralFraudulent      ReferralState = "fraudulent"
)

// Terminal reports whether no further transitions are allowed from s.
func (s ReferralState) Terminal() bool {
	return s == ReferralRedeemed || s == ReferralFraudulent
}

// CanTransition reports whether the edge s -> to exists in the lifecycle.
func (s ReferralState) CanTransition(to ReferralState) bool {
	if to == ReferralFraudulent {
		return !s.Terminal()
	}
	switch s {
	case ReferralPending:
		return to == ReferralEmailVerified
	case ReferralEmailVerified:
		return to == ReferralPaymentVerified
	case ReferralPaymentVerified:
		return to == ReferralEarned
	case ReferralEarned:
		return to == ReferralRedeemed
	default:
		return false
	}
}

// Referral is an attribution edge from a referring user to a referred user.
type Referral struct {
	ID                string        `json:"id"`
	ReferrerID        string        `json:"referrer_id"`
	RefereeID         string        `json:"referee_id"`
	ContentInstanceID string        `json:"content_instance_id"`
	Platform          string        `json:"platform"`
	Code              string        `json:"code"`
	Signature         string        `json:"signature"`
	State             ReferralState `json:"state"`
	RewardCents       int64         `json:"reward_cents"`
	RefereeAddr       string        `json:"referee_addr,omitempty"`
	FraudReasons      []string      `json:"fraud_reasons,omitempty"`

	CreatedAt         time.Time  `json:"created_at"`
	EmailVerifiedAt   *time.Time `json:"email_verified_at,omitempty"`
	PaymentVerifiedAt *time.Time `json:"payment_verified_at,omitempty"`
	EarnedAt          *time.Time `json:"earned_at,omitempty"`
	RedeemedAt        *time.Time `json:"redeemed_at,omitempty"`
	FraudFlaggedAt    *time.Time `json:"fraud_flagged_at,omitempty"`
}

// LedgerKind classifies reward ledger entries.
type LedgerKind string

// Ledger entry kinds. Reversals are compensating entries; balances are
// never edited in place.
const (
	LedgerReward     LedgerKind = "reward"
	LedgerRedemption LedgerKind = "redemption"
	LedgerReversal   LedgerKind = "reversal"
)

// LedgerEntry is one append-only reward ledger row.
type LedgerEntry struct {
	ID          string     `json:"id"`
	ReferralID  string     `json:"referral_id"`
	ReferrerID  string     `json:"referrer_id"`
	AmountCents int64      `json:"amount_cents"`
	Kind        LedgerKind `json:"kind"`
	CreatedAt   time.Time  `json:"created_at"`
}
