// Package repository defines the engine's store interfaces and their
// adapters: in-process variant/instance/referral stores and an embedded
// append-only audit log.
package repository

import (
	"context"
	"time"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// VariantStore holds content templates. Variants are never hard-deleted;
// Deactivate flips the soft flag so historical learning survives.
type VariantStore interface {
	Create(ctx context.Context, v model.Variant) error
	Get(ctx context.Context, id string) (model.Variant, error)
	List(ctx context.Context, activeOnly bool) ([]model.Variant, error)
	Deactivate(ctx context.Context, id string) error
	Count(ctx context.Context) int
}

// InstanceStore holds content instances and their engagement counters.
// Raw counters are append-only; weighted counters change only through
// ApplyVerified, which callers invoke after the audit entry is durable.
type InstanceStore interface {
	Create(ctx context.Context, ci model.ContentInstance) error
	Get(ctx context.Context, id string) (model.ContentInstance, error)
	SetExternalID(ctx context.Context, id, platform, externalID, account string) error
	FindByExternalID(ctx context.Context, platform, externalID string) (model.ContentInstance, error)
	FindByReferralCode(ctx context.Context, code string) (model.ContentInstance, error)
	// FindNearest matches a platform account to the instance created
	// closest to at, within tolerance. Last-resort fuzzy attribution.
	FindNearest(ctx context.Context, platform, account string, at time.Time, tolerance time.Duration) (model.ContentInstance, error)
	AddRaw(ctx context.Context, id string, metric model.Metric, amount float64) error
	ApplyVerified(ctx context.Context, id string, metric model.Metric, weighted float64) error
	Count(ctx context.Context) int
}

// ReferralLink is an issued, signed referral link.
type ReferralLink struct {
	Code              string    `json:"code"`
	ReferrerID        string    `json:"referrer_id"`
	ContentInstanceID string    `json:"content_instance_id"`
	Platform          string    `json:"platform"`
	Signature         string    `json:"signature"`
	IssuedAt          time.Time `json:"issued_at"`
}

// ReferralStore holds referral links, referrals, and the reward ledger.
// Ledger rows are append-only; balances are always computed by summing.
type ReferralStore interface {
	PutLink(ctx context.Context, link ReferralLink) error
	GetLink(ctx context.Context, code string) (ReferralLink, error)

	Create(ctx context.Context, r model.Referral) error
	Get(ctx context.Context, id string) (model.Referral, error)
	FindByReferee(ctx context.Context, refereeID string) (model.Referral, error)
	Update(ctx context.Context, r model.Referral) error
	ListByReferrer(ctx context.Context, referrerID string) ([]model.Referral, error)

	AppendLedger(ctx context.Context, e model.LedgerEntry) error
	LedgerBalance(ctx context.Context, referrerID string) (int64, error)
	LedgerEntries(ctx context.Context, referralID string) ([]model.LedgerEntry, error)
}

// AuditLog is the append-only record of verification decisions. Replay
// iterates entries in append order; aggregates must always be
// reconstructible from it.
type AuditLog interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	Replay(ctx context.Context, fn func(model.AuditEntry) error) error
	Len(ctx context.Context) (uint64, error)
	Close() error
}

// UnattributedStore queues events the gateway could not attribute, for
// periodic reconciliation. Queued, not dropped.
type UnattributedStore interface {
	Add(ctx context.Context, ev model.RawEngagementEvent)
	Drain(ctx context.Context, max int) []model.RawEngagementEvent
	Len(ctx context.Context) int
}
