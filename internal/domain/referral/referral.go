// Package referral turns signups into confirmed, payment-verified rewards.
//
// The lifecycle is a strict state machine: pending -> email_verified ->
// payment_verified -> earned -> redeemed, with fraudulent absorbing from
// any non-terminal state. Rewards move only through append-only ledger
// entries; a fraudulent redemption is undone with a compensating reversal,
// never a balance edit.
package referral

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/domain/fraud"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/pkg/logger"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// Defaults for the pipeline.
const (
	defaultRewardCents     = 500
	defaultRejectThreshold = 0.7
	codeLength             = 10
)

// Link is an issued, signed referral link.
type Link struct {
	URL       string `json:"url"`
	Code      string `json:"code"`
	Signature string `json:"signature"`
}

// Signup carries the referee-side facts Create needs for fraud checks.
type Signup struct {
	RefereeID  string
	RemoteAddr string
	UserAgent  string
	AccountAge time.Duration
}

// Pipeline implements the referral attribution contract over a referral
// store and the shared fraud pipeline.
type Pipeline struct {
	store  repository.ReferralStore
	checks *fraud.Pipeline

	secret          []byte
	baseURL         string
	rewardCents     int64
	rejectThreshold float64
	now             func() time.Time
	logger          logger.Logger
}

// New creates a Pipeline with configuration options.
func New(store repository.ReferralStore, checks *fraud.Pipeline, secret []byte, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:           store,
		checks:          checks,
		secret:          secret,
		baseURL:         "https://growthloop.app/r",
		rewardCents:     defaultRewardCents,
		rejectThreshold: defaultRejectThreshold,
		now:             time.Now,
		logger:          logger.Get().Named("referral"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IssueLink creates and stores a signed referral link. The signature is a
// keyed hash over referrer, content instance, platform and issue time, so
// tampering with any part of the link is detectable before attribution.
func (p *Pipeline) IssueLink(ctx context.Context, referrerID, contentInstanceID, platform string) (Link, error) {
	if referrerID == "" || contentInstanceID == "" {
		return Link{}, ErrInvalidLink
	}
	issuedAt := p.now().UTC()
	code := shortCode()
	sig := p.sign(referrerID, contentInstanceID, platform, issuedAt)

	link := repository.ReferralLink{
		Code:              code,
		ReferrerID:        referrerID,
		ContentInstanceID: contentInstanceID,
		Platform:          platform,
		Signature:         sig,
		IssuedAt:          issuedAt,
	}
	if err := p.store.PutLink(ctx, link); err != nil {
		return Link{}, fmt.Errorf("store referral link: %w", err)
	}
	return Link{
		URL:       fmt.Sprintf("%s/%s?sig=%s", strings.TrimRight(p.baseURL, "/"), code, sig),
		Code:      code,
		Signature: sig,
	}, nil
}

// Create records a new referral from a signed link. The signature is
// verified against the stored link before anything is attributed; fraud
// checks run immediately and may land the referral in the fraudulent
// state from the start.
func (p *Pipeline) Create(ctx context.Context, code, signature string, signup Signup) (model.Referral, error) {
	link, err := p.store.GetLink(ctx, code)
	if err != nil {
		return model.Referral{}, fmt.Errorf("referral link %s: %w", code, ErrInvalidLink)
	}
	expected := p.sign(link.ReferrerID, link.ContentInstanceID, link.Platform, link.IssuedAt)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return model.Referral{}, fmt.Errorf("referral link %s: %w", code, ErrBadSignature)
	}
	if link.ReferrerID == signup.RefereeID {
		return model.Referral{}, fmt.Errorf("self referral by %s: %w", signup.RefereeID, ErrSelfReferral)
	}

	now := p.now().UTC()
	r := model.Referral{
		ID:                uuid.NewString(),
		ReferrerID:        link.ReferrerID,
		RefereeID:         signup.RefereeID,
		ContentInstanceID: link.ContentInstanceID,
		Platform:          link.Platform,
		Code:              code,
		Signature:         signature,
		State:             model.ReferralPending,
		RefereeAddr:       signup.RemoteAddr,
		CreatedAt:         now,
	}

	if score, reasons := p.score(ctx, r, signup); score >= p.rejectThreshold || p.circular(r) {
		r.State = model.ReferralFraudulent
		r.FraudReasons = reasons
		r.FraudFlaggedAt = &now
	}

	if err := p.store.Create(ctx, r); err != nil {
		return model.Referral{}, fmt.Errorf("create referral: %w", err)
	}
	p.checks.Record(p.fraudContext(r, signup))
	metrics.RecordReferralTransition(string(r.State))
	p.logger.Info(ctx, "referral created",
		logger.String("referral_id", r.ID),
		logger.String("referrer_id", r.ReferrerID),
		logger.String("state", string(r.State)),
	)
	return r, nil
}

// ConfirmEmail advances the referee's referral to email_verified.
func (p *Pipeline) ConfirmEmail(ctx context.Context, refereeID string) (model.Referral, error) {
	r, err := p.store.FindByReferee(ctx, refereeID)
	if err != nil {
		return model.Referral{}, fmt.Errorf("referee %s: %w", refereeID, err)
	}
	now := p.now().UTC()
	if err := p.advance(&r, model.ReferralEmailVerified, now); err != nil {
		return model.Referral{}, err
	}
	r.EmailVerifiedAt = &now
	if err := p.recheck(ctx, &r, now); err != nil {
		return model.Referral{}, err
	}
	if err := p.store.Update(ctx, r); err != nil {
		return model.Referral{}, fmt.Errorf("update referral %s: %w", r.ID, err)
	}
	metrics.RecordReferralTransition(string(r.State))
	return r, nil
}

// ConfirmPayment advances the referral to payment_verified and, when the
// fraud re-check passes, computes the reward and moves to earned with one
// ledger entry. Only this path releases a reward.
func (p *Pipeline) ConfirmPayment(ctx context.Context, refereeID string, amountCents int64) (model.Referral, error) {
	if amountCents <= 0 {
		return model.Referral{}, fmt.Errorf("payment of %d cents: %w", amountCents, ErrInvalidAmount)
	}
	r, err := p.store.FindByReferee(ctx, refereeID)
	if err != nil {
		return model.Referral{}, fmt.Errorf("referee %s: %w", refereeID, err)
	}
	now := p.now().UTC()
	if err := p.advance(&r, model.ReferralPaymentVerified, now); err != nil {
		return model.Referral{}, err
	}
	r.PaymentVerifiedAt = &now
	if err := p.recheck(ctx, &r, now); err != nil {
		return model.Referral{}, err
	}

	if r.State == model.ReferralPaymentVerified {
		if err := p.advance(&r, model.ReferralEarned, now); err != nil {
			return model.Referral{}, err
		}
		r.EarnedAt = &now
		r.RewardCents = p.rewardCents
		if err := p.store.AppendLedger(ctx, model.LedgerEntry{
			ID:          uuid.NewString(),
			ReferralID:  r.ID,
			ReferrerID:  r.ReferrerID,
			AmountCents: r.RewardCents,
			Kind:        model.LedgerReward,
			CreatedAt:   now,
		}); err != nil {
			return model.Referral{}, fmt.Errorf("append reward ledger entry: %w", err)
		}
	}
	if err := p.store.Update(ctx, r); err != nil {
		return model.Referral{}, fmt.Errorf("update referral %s: %w", r.ID, err)
	}
	metrics.RecordReferralTransition(string(r.State))
	return r, nil
}

// Redeem claims every earned referral for the referrer, appending one
// redemption ledger entry per referral. Returns the redeemed total.
func (p *Pipeline) Redeem(ctx context.Context, referrerID string) (int64, error) {
	referrals, err := p.store.ListByReferrer(ctx, referrerID)
	if err != nil {
		return 0, fmt.Errorf("list referrals for %s: %w", referrerID, err)
	}
	now := p.now().UTC()
	var total int64
	for i := range referrals {
		r := referrals[i]
		if r.State != model.ReferralEarned {
			continue
		}
		if err := p.advance(&r, model.ReferralRedeemed, now); err != nil {
			return total, err
		}
		r.RedeemedAt = &now
		if err := p.store.AppendLedger(ctx, model.LedgerEntry{
			ID:          uuid.NewString(),
			ReferralID:  r.ID,
			ReferrerID:  r.ReferrerID,
			AmountCents: -r.RewardCents,
			Kind:        model.LedgerRedemption,
			CreatedAt:   now,
		}); err != nil {
			return total, fmt.Errorf("append redemption ledger entry: %w", err)
		}
		if err := p.store.Update(ctx, r); err != nil {
			return total, fmt.Errorf("update referral %s: %w", r.ID, err)
		}
		metrics.RecordReferralTransition(string(r.State))
		total += r.RewardCents
	}
	if total == 0 {
		return 0, fmt.Errorf("referrer %s: %w", referrerID, ErrNothingToRedeem)
	}
	return total, nil
}

// FlagFraud forces a referral into the absorbing fraudulent state and,
// when a reward had been issued or redeemed, appends a compensating
// reversal entry so the ledger nets out.
func (p *Pipeline) FlagFraud(ctx context.Context, referralID string, reasons []string) (model.Referral, error) {
	r, err := p.store.Get(ctx, referralID)
	if err != nil {
		return model.Referral{}, err
	}
	now := p.now().UTC()
	rewarded := r.State == model.ReferralEarned || r.State == model.ReferralRedeemed

	// Redeemed is terminal for normal flow, but a fraud finding must
	// still be recordable after the fact.
	if !r.State.CanTransition(model.ReferralFraudulent) && r.State != model.ReferralRedeemed {
		return model.Referral{}, fmt.Errorf("referral %s in state %s: %w", r.ID, r.State, ErrBadTransition)
	}
	r.State = model.ReferralFraudulent
	r.FraudFlaggedAt = &now
	r.FraudReasons = append(r.FraudReasons, reasons...)

	if rewarded && r.RewardCents > 0 {
		if err := p.store.AppendLedger(ctx, model.LedgerEntry{
			ID:          uuid.NewString(),
			ReferralID:  r.ID,
			ReferrerID:  r.ReferrerID,
			AmountCents: -r.RewardCents,
			Kind:        model.LedgerReversal,
			CreatedAt:   now,
		}); err != nil {
			return model.Referral{}, fmt.Errorf("append reversal ledger entry: %w", err)
		}
	}
	if err := p.store.Update(ctx, r); err != nil {
		return model.Referral{}, fmt.Errorf("update referral %s: %w", r.ID, err)
	}
	metrics.RecordReferralTransition(string(r.State))
	p.logger.Warn(ctx, "referral flagged fraudulent",
		logger.String("referral_id", r.ID),
		logger.Any("reasons", reasons),
	)
	return r, nil
}

// Balance sums the referrer's reward ledger.
func (p *Pipeline) Balance(ctx context.Context, referrerID string) (int64, error) {
	return p.store.LedgerBalance(ctx, referrerID)
}

// advance applies one legal state transition in place.
func (p *Pipeline) advance(r *model.Referral, to model.ReferralState, _ time.Time) error {
	if !r.State.CanTransition(to) {
		return fmt.Errorf("referral %s: %s -> %s: %w", r.ID, r.State, to, ErrBadTransition)
	}
	r.State = to
	return nil
}

// recheck reruns the fraud pipeline at a lifecycle step and flips the
// referral to fraudulent when the score crosses the reject threshold.
func (p *Pipeline) recheck(ctx context.Context, r *model.Referral, now time.Time) error {
	signup := Signup{RefereeID: r.RefereeID, RemoteAddr: r.RefereeAddr}
	if score, reasons := p.score(ctx, *r, signup); score >= p.rejectThreshold || p.circular(*r) {
		r.State = model.ReferralFraudulent
		r.FraudReasons = append(r.FraudReasons, reasons...)
		r.FraudFlaggedAt = &now
	}
	return nil
}

// circular reports whether referrer and referee have referred each other.
// A mutual pair is categorical fraud for referrals: it never reaches
// earned, whatever the aggregate score. The attribution graph is the one
// the shared fraud tracker maintains.
func (p *Pipeline) circular(r model.Referral) bool {
	return p.checks.Tracker().Reciprocal(r.RefereeID, r.ReferrerID)
}

func (p *Pipeline) score(ctx context.Context, r model.Referral, signup Signup) (float64, []string) {
	return p.checks.Score(ctx, p.fraudContext(r, signup))
}

func (p *Pipeline) fraudContext(r model.Referral, signup Signup) *fraud.Context {
	return &fraud.Context{
		ActorID:        r.RefereeID,
		CounterpartyID: r.ReferrerID,
		Metric:         model.MetricSignup,
		RemoteAddr:     signup.RemoteAddr,
		UserAgent:      signup.UserAgent,
		AccountAge:     signup.AccountAge,
		At:             p.now(),
	}
}

// sign computes the keyed hash over the link's identity fields.
func (p *Pipeline) sign(referrerID, contentInstanceID, platform string, issuedAt time.Time) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(referrerID + "|" + contentInstanceID + "|" + platform + "|" + strconv.FormatInt(issuedAt.Unix(), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// shortCode derives a compact link code from a fresh uuid.
func shortCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:codeLength]
}
