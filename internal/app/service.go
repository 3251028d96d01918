// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	eventqueue "github.com/stridewell/growthloop/internal/adapters/mq/queue"
	workerpool "github.com/stridewell/growthloop/internal/adapters/mq/worker"
	"github.com/stridewell/growthloop/internal/adapters/repository"
	"github.com/stridewell/growthloop/internal/config"
	"github.com/stridewell/growthloop/internal/domain/bandit"
	"github.com/stridewell/growthloop/internal/domain/dedupe"
	"github.com/stridewell/growthloop/internal/domain/fraud"
	"github.com/stridewell/growthloop/internal/domain/model"
	"github.com/stridewell/growthloop/internal/domain/ratelimit"
	"github.com/stridewell/growthloop/internal/domain/referral"
	"github.com/stridewell/growthloop/internal/domain/verify"
	"github.com/stridewell/growthloop/pkg/logger"
	"github.com/stridewell/growthloop/pkg/metrics"
)

// Service implements the API dependencies for the growth engine.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	variants     repository.VariantStore
	instances    repository.InstanceStore
	unattributed repository.UnattributedStore
	audit        repository.AuditLog
	deduper      dedupe.Deduper
	eventQueue   eventqueue.Queue
	verifier     verify.Verifier
	engine       *bandit.Engine
	referrals    *referral.Pipeline
	workerPool   *workerpool.Pool

	// State
	started bool
	stopCh  chan struct{}

	now    func() time.Time
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the service's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a new Service from configuration.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start initializes and starts the service components. Posteriors are
// rebuilt from the audit log before any traffic is served, so the live
// learned state always matches a full replay.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting growth engine...")

	cfg := s.cfg

	s.variants = repository.NewMemVariantStore()
	s.instances = repository.NewMemInstanceStore()
	s.unattributed = repository.NewMemUnattributedStore(cfg.EventQueueSize)

	var err error
	if cfg.DataDir == "" {
		s.audit, err = repository.OpenAuditLog("", repository.WithInMemory())
	} else {
		s.audit, err = repository.OpenAuditLog(cfg.DataDir)
	}
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(cfg.DedupeSize),
	)
	s.eventQueue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(cfg.EventQueueSize),
		eventqueue.WithBufferSize(cfg.EventQueueSize),
	)

	tracker := fraud.NewTracker()
	pipeline := fraud.NewPipeline(tracker,
		fraud.WithSignupCeiling(cfg.MaxSignupsPerAddress24h, 24*time.Hour),
		fraud.WithVariantCeiling(cfg.MaxEventsPerVariantHour, time.Hour),
		fraud.WithNewAccountPolicy(time.Duration(cfg.MinAccountAgeHours)*time.Hour, cfg.NewAccountVolumeCeiling),
		fraud.WithAutomationSignatures(cfg.AutomationSignatures),
	)

	limits := ratelimit.NewRegistry(
		ratelimit.WithLimit(model.MetricShare, ratelimit.PerHour(cfg.SharesPerHour)),
		ratelimit.WithLimit(model.MetricView, ratelimit.PerHour(cfg.ViewsPerHour)),
		ratelimit.WithLimit(model.MetricClick, ratelimit.PerHour(cfg.ClicksPerHour)),
		ratelimit.WithLimit(model.MetricSignup, ratelimit.PerDay(cfg.SignupsPerDay)),
	)

	s.verifier = verify.New(pipeline, limits,
		verify.WithThresholds(cfg.DownweightThreshold, cfg.RejectThreshold),
	)

	s.engine = bandit.New(s.variants, s.audit,
		bandit.WithPrior(cfg.PriorAlpha, cfg.PriorBeta),
		bandit.WithHalfLife(time.Duration(cfg.HalfLifeDays)*24*time.Hour),
		bandit.WithMinContextObservations(cfg.MinContextObservations),
	)
	if err := s.engine.Rebuild(ctx); err != nil {
		return fmt.Errorf("rebuild posteriors: %w", err)
	}

	s.referrals = referral.New(repository.NewMemReferralStore(), pipeline, []byte(cfg.ReferralSecret),
		referral.WithBaseURL(cfg.ReferralBaseURL),
		referral.WithRewardCents(cfg.ReferralRewardCents),
		referral.WithRejectThreshold(cfg.RejectThreshold),
	)

	s.workerPool = workerpool.NewPool(cfg.WorkerCount, s.eventQueue, s.verifier, s)
	s.workerPool.Start(ctx)

	go s.reconcileLoop(ctx)

	s.started = true
	s.logger.Info(ctx, "growth engine started",
		logger.Int("workers", cfg.WorkerCount),
		logger.Int("queueSize", cfg.EventQueueSize),
		logger.Int("dedupeSize", cfg.DedupeSize),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping growth engine...")

	if s.workerPool != nil {
		s.workerPool.Stop()
	}
	if q, ok := s.eventQueue.(*eventqueue.InMemoryQueue); ok {
		_ = q.Close()
	}
	if s.audit != nil {
		_ = s.audit.Close()
	}

	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(context.Background(), "growth engine stopped")
}

// SeenAndRecord atomically checks if an event id was seen and records it if not.
func (s *Service) SeenAndRecord(ctx context.Context, id string) bool {
	return s.deduper.SeenAndRecord(ctx, id)
}

// Unrecord removes an event ID from the seen list, allowing it to be retried.
func (s *Service) Unrecord(ctx context.Context, id string) {
	s.deduper.Unrecord(ctx, id)
}

// Size returns the current number of entries in the deduper.
func (s *Service) Size() int64 {
	if s.deduper == nil {
		return 0
	}
	return s.deduper.Size()
}

// Enqueue submits an event for asynchronous verification.
func (s *Service) Enqueue(ctx context.Context, e model.RawEngagementEvent) bool {
	return s.eventQueue.Enqueue(ctx, e)
}

// Attribute resolves the event's content instance in place, trying the
// strategies from most to least reliable: direct instance id, platform
// external id, embedded referral code, then timestamp proximity. A fuzzy
// match demotes the event's trust level to inferred. Unmatched events are
// parked for reconciliation and ErrUnattributed is returned.
func (s *Service) Attribute(ctx context.Context, ev *model.RawEngagementEvent) error {
	ci, matched, fuzzy := s.resolve(ctx, ev)
	if !matched {
		s.unattributed.Add(ctx, *ev)
		metrics.UpdateUnattributedQueued(s.unattributed.Len(ctx))
		return fmt.Errorf("event %s: %w", ev.EventID, repository.ErrUnattributed)
	}

	ev.ContentInstanceID = ci.ID
	ev.VariantID = ci.VariantID
	ev.OwnerID = ci.OwnerID
	ev.InstanceCreatedAt = ci.CreatedAt
	if ev.Platform == "" {
		ev.Platform = ci.Platform
	}
	if fuzzy && ev.Level != model.LevelSelfClaimed {
		ev.Level = model.LevelInferred
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, ev *model.RawEngagementEvent) (ci model.ContentInstance, matched, fuzzy bool) {
	var err error
	if ev.ContentInstanceID != "" {
		if ci, err = s.instances.Get(ctx, ev.ContentInstanceID); err == nil {
			return ci, true, false
		}
	}
	if ev.ExternalID != "" {
		if ci, err = s.instances.FindByExternalID(ctx, ev.Platform, ev.ExternalID); err == nil {
			return ci, true, false
		}
	}
	if ev.ReferralCode != "" {
		if ci, err = s.instances.FindByReferralCode(ctx, ev.ReferralCode); err == nil {
			return ci, true, false
		}
	}
	if ev.ActorID != "" {
		tolerance := time.Duration(s.cfg.FuzzyMatchToleranceSeconds) * time.Second
		if ci, err = s.instances.FindNearest(ctx, ev.Platform, ev.ActorID, ev.OccurredAt, tolerance); err == nil {
			return ci, true, true
		}
	}
	return model.ContentInstance{}, false, false
}

// Fold applies a verified event: the audit entry is made durable first,
// then the derived aggregates and posteriors are updated. Rejected events
// land in the audit log and raw counters but touch nothing weighted.
func (s *Service) Fold(ctx context.Context, ev model.VerifiedEngagementEvent) error {
	entry := model.AuditEntry{
		ContentInstanceID: ev.Raw.ContentInstanceID,
		VariantID:         ev.Raw.VariantID,
		OwnerID:           ev.Raw.OwnerID,
		Platform:          ev.Raw.Platform,
		Metric:            ev.Raw.Metric,
		Amount:            ev.Raw.Amount,
		Source:            ev.Raw.Source,
		Level:             ev.Level,
		FraudScore:        ev.FraudScore,
		Weight:            ev.Weight,
		Decision:          ev.Decision,
		Success:           ev.Success,
		Reasons:           ev.Reasons,
		EventAt:           ev.Raw.OccurredAt,
		InstanceAt:        ev.Raw.InstanceCreatedAt,
	}
	if err := s.audit.Append(ctx, &entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	metrics.RecordVerificationDecision(string(ev.Decision))
	metrics.RecordFraudScore(ev.FraudScore)

	if err := s.instances.AddRaw(ctx, ev.Raw.ContentInstanceID, ev.Raw.Metric, ev.Raw.Amount); err != nil {
		return fmt.Errorf("add raw counter: %w", err)
	}

	if ev.Weight <= 0 {
		return nil
	}

	if err := s.instances.ApplyVerified(ctx, ev.Raw.ContentInstanceID, ev.Raw.Metric, ev.Weight*ev.Raw.Amount); err != nil {
		return fmt.Errorf("apply verified counter: %w", err)
	}

	key := bandit.ContextKey{
		Platform: ev.Raw.Platform,
		DayPart:  bandit.DayPart(ev.Raw.OccurredAt),
	}
	if err := s.engine.Update(ctx, key, ev); err != nil {
		metrics.RecordBanditError()
		return fmt.Errorf("update posterior: %w", err)
	}
	return nil
}

// reconcileLoop periodically retries parked unattributed events against
// newly registered content instances.
func (s *Service) reconcileLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.ReconcileIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.reconcile(ctx)
		}
	}
}

// reconcile drains the parked queue once; events that still do not match
// go back in. Resolve is used directly here so a second miss does not
// re-add through Attribute and double the entry.
func (s *Service) reconcile(ctx context.Context) {
	const batch = 1000
	events := s.unattributed.Drain(ctx, batch)
	requeued := 0
	for i := range events {
		ev := events[i]
		ci, matched, fuzzy := s.resolve(ctx, &ev)
		if !matched {
			s.unattributed.Add(ctx, ev)
			requeued++
			continue
		}
		ev.ContentInstanceID = ci.ID
		ev.VariantID = ci.VariantID
		ev.OwnerID = ci.OwnerID
		ev.InstanceCreatedAt = ci.CreatedAt
		if fuzzy && ev.Level != model.LevelSelfClaimed {
			ev.Level = model.LevelInferred
		}
		if !s.eventQueue.Enqueue(ctx, ev) {
			s.unattributed.Add(ctx, ev)
			requeued++
		}
	}
	metrics.UpdateUnattributedQueued(s.unattributed.Len(ctx))
	if len(events) > 0 {
		s.logger.Debug(ctx, "reconciled unattributed events",
			logger.Int("drained", len(events)),
			logger.Int("requeued", requeued),
		)
	}
}

// Suggest returns the variant to render for a context, with confidence.
func (s *Service) Suggest(ctx context.Context, key bandit.ContextKey) (model.Variant, float64, error) {
	return s.engine.Suggest(ctx, key)
}

// CreateVariant registers a new content template.
func (s *Service) CreateVariant(ctx context.Context, v model.Variant) (model.Variant, error) {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now().UTC()
	}
	if err := s.variants.Create(ctx, v); err != nil {
		return model.Variant{}, err
	}
	metrics.UpdateTotalVariants(s.variants.Count(ctx))
	return v, nil
}

// ListVariants returns the variant catalog.
func (s *Service) ListVariants(ctx context.Context, activeOnly bool) ([]model.Variant, error) {
	return s.variants.List(ctx, activeOnly)
}

// DeactivateVariant soft-deletes a variant; its statistics survive.
func (s *Service) DeactivateVariant(ctx context.Context, id string) error {
	return s.variants.Deactivate(ctx, id)
}

// VariantStats returns the learned snapshot for a variant.
func (s *Service) VariantStats(ctx context.Context, variantID string) (model.VariantStats, error) {
	return s.engine.Stats(ctx, variantID)
}

// CreateInstance registers a content instance for attribution.
func (s *Service) CreateInstance(ctx context.Context, inst model.ContentInstance) (model.ContentInstance, error) {
	if _, err := s.variants.Get(ctx, inst.VariantID); err != nil {
		return model.ContentInstance{}, fmt.Errorf("variant %s: %w", inst.VariantID, err)
	}
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = s.now().UTC()
	}
	if err := s.instances.Create(ctx, inst); err != nil {
		return model.ContentInstance{}, err
	}
	metrics.UpdateTotalInstances(s.instances.Count(ctx))
	return s.instances.Get(ctx, inst.ID)
}

// IssueLink creates a signed referral link.
func (s *Service) IssueLink(ctx context.Context, referrerID, contentInstanceID, platform string) (referral.Link, error) {
	return s.referrals.IssueLink(ctx, referrerID, contentInstanceID, platform)
}

// CreateReferral records a referred signup from a signed link.
func (s *Service) CreateReferral(ctx context.Context, code, signature string, signup referral.Signup) (model.Referral, error) {
	return s.referrals.Create(ctx, code, signature, signup)
}

// ConfirmEmail advances the referee's referral to email_verified.
func (s *Service) ConfirmEmail(ctx context.Context, refereeID string) (model.Referral, error) {
	return s.referrals.ConfirmEmail(ctx, refereeID)
}

// ConfirmPayment advances the referral through payment verification and
// reward issuance.
func (s *Service) ConfirmPayment(ctx context.Context, refereeID string, amountCents int64) (model.Referral, error) {
	return s.referrals.ConfirmPayment(ctx, refereeID, amountCents)
}

// Redeem claims the referrer's earned rewards.
func (s *Service) Redeem(ctx context.Context, referrerID string) (int64, error) {
	return s.referrals.Redeem(ctx, referrerID)
}

// Balance sums the referrer's reward ledger.
func (s *Service) Balance(ctx context.Context, referrerID string) (int64, error) {
	return s.referrals.Balance(ctx, referrerID)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.cfg.WorkerCount,
		"queueSize":   s.cfg.EventQueueSize,
		"dedupeSize":  s.cfg.DedupeSize,
	}

	if s.started {
		queueLen := s.eventQueue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["totalVariants"] = s.variants.Count(ctx)
		stats["totalInstances"] = s.instances.Count(ctx)
		stats["unattributed"] = s.unattributed.Len(ctx)
		if n, err := s.audit.Len(ctx); err == nil {
			stats["auditEntries"] = n
		}

		metrics.UpdateQueueSize(queueLen)
		metrics.UpdateTotalVariants(s.variants.Count(ctx))
		metrics.UpdateTotalInstances(s.instances.Count(ctx))
		metrics.UpdateWorkerCount(s.cfg.WorkerCount)
	}

	return stats
}
