package referral

import "errors"

// Sentinel kinds for referral pipeline errors.
var (
	ErrInvalidLink     = errors.New("invalid referral link")
	ErrBadSignature    = errors.New("referral signature mismatch")
	ErrSelfReferral    = errors.New("self referral")
	ErrBadTransition   = errors.New("illegal referral state transition")
	ErrInvalidAmount   = errors.New("invalid payment amount")
	ErrNothingToRedeem = errors.New("no earned referrals to redeem")
)
