package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// MemVariantStore is a mutex-guarded in-process VariantStore.
type MemVariantStore struct {
	mu       sync.RWMutex
	variants map[string]model.Variant
}

// NewMemVariantStore creates an empty variant store.
func NewMemVariantStore() *MemVariantStore {
	return &MemVariantStore{variants: make(map[string]model.Variant)}
}

// Create stores a new variant. Returns ErrAlreadyExists on id collision.
func (s *MemVariantStore) Create(_ context.Context, v model.Variant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.variants[v.ID]; ok {
		return fmt.Errorf("variant %s: %w", v.ID, ErrAlreadyExists)
	}
	s.variants[v.ID] = v
	return nil
}

// Get returns the variant with the given id.
func (s *MemVariantStore) Get(_ context.Context, id string) (model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[id]
	if !ok {
		return model.Variant{}, fmt.Errorf("variant %s: %w", id, ErrNotFound)
	}
	return v, nil
}

// List returns variants ordered by creation time, oldest first.
func (s *MemVariantStore) List(_ context.Context, activeOnly bool) ([]model.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Variant, 0, len(s.variants))
	for _, v := range s.variants {
		if activeOnly && !v.Active {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Deactivate soft-deletes a variant. Statistics are preserved.
func (s *MemVariantStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	if !ok {
		return fmt.Errorf("variant %s: %w", id, ErrNotFound)
	}
	v.Active = false
	s.variants[id] = v
	return nil
}

// Count returns the number of stored variants.
func (s *MemVariantStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.variants)
}

// MemInstanceStore is a mutex-guarded in-process InstanceStore with
// secondary indexes for the gateway's attribution strategies.
type MemInstanceStore struct {
	mu         sync.RWMutex
	instances  map[string]*model.ContentInstance
	byExternal map[string]string // platform|externalID -> instance id
	byCode     map[string]string // referral code -> instance id
	byAccount  map[string][]string
}

// NewMemInstanceStore creates an empty instance store.
func NewMemInstanceStore() *MemInstanceStore {
	return &MemInstanceStore{
		instances:  make(map[string]*model.ContentInstance),
		byExternal: make(map[string]string),
		byCode:     make(map[string]string),
		byAccount:  make(map[string][]string),
	}
}

func externalKey(platform, externalID string) string { return platform + "|" + externalID }
func accountKey(platform, account string) string     { return platform + "|" + account }

// Create stores a new content instance.
func (s *MemInstanceStore) Create(_ context.Context, ci model.ContentInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[ci.ID]; ok {
		return fmt.Errorf("instance %s: %w", ci.ID, ErrAlreadyExists)
	}
	if ci.Raw == nil {
		ci.Raw = make(map[model.Metric]float64)
	}
	if ci.Weighted == nil {
		ci.Weighted = make(map[model.Metric]float64)
	}
	s.instances[ci.ID] = &ci
	if ci.ExternalID != "" {
		s.byExternal[externalKey(ci.Platform, ci.ExternalID)] = ci.ID
	}
	if ci.ReferralCode != "" {
		s.byCode[ci.ReferralCode] = ci.ID
	}
	if ci.PlatformAccount != "" {
		k := accountKey(ci.Platform, ci.PlatformAccount)
		s.byAccount[k] = append(s.byAccount[k], ci.ID)
	}
	return nil
}

// Get returns a copy of the instance with the given id.
func (s *MemInstanceStore) Get(_ context.Context, id string) (model.ContentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.instances[id]
	if !ok {
		return model.ContentInstance{}, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return snapshot(ci), nil
}

// SetExternalID records the platform-side post id once the client learns it.
func (s *MemInstanceStore) SetExternalID(_ context.Context, id, platform, externalID, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	ci.Platform = platform
	ci.ExternalID = externalID
	s.byExternal[externalKey(platform, externalID)] = id
	if account != "" {
		ci.PlatformAccount = account
		k := accountKey(platform, account)
		s.byAccount[k] = append(s.byAccount[k], id)
	}
	return nil
}

// FindByExternalID resolves the direct external-id attribution strategy.
func (s *MemInstanceStore) FindByExternalID(_ context.Context, platform, externalID string) (model.ContentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byExternal[externalKey(platform, externalID)]
	if !ok {
		return model.ContentInstance{}, fmt.Errorf("external %s/%s: %w", platform, externalID, ErrNotFound)
	}
	return snapshot(s.instances[id]), nil
}

// FindByReferralCode resolves the referral-code attribution strategy.
func (s *MemInstanceStore) FindByReferralCode(_ context.Context, code string) (model.ContentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return model.ContentInstance{}, fmt.Errorf("referral code %s: %w", code, ErrNotFound)
	}
	return snapshot(s.instances[id]), nil
}

// FindNearest resolves the fuzzy timestamp+account attribution strategy.
func (s *MemInstanceStore) FindNearest(_ context.Context, platform, account string, at time.Time, tolerance time.Duration) (model.ContentInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.ContentInstance
	var bestGap time.Duration
	for _, id := range s.byAccount[accountKey(platform, account)] {
		ci := s.instances[id]
		gap := at.Sub(ci.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap > tolerance {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = ci, gap
		}
	}
	if best == nil {
		return model.ContentInstance{}, fmt.Errorf("account %s/%s near %s: %w", platform, account, at, ErrNotFound)
	}
	return snapshot(best), nil
}

// AddRaw increments an append-only raw counter.
func (s *MemInstanceStore) AddRaw(_ context.Context, id string, metric model.Metric, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("instance %s metric %s: negative raw delta", id, metric)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	ci.Raw[metric] += amount
	return nil
}

// ApplyVerified folds a trust-weighted contribution into the instance.
// Callers append the audit entry first; this is the derived side.
func (s *MemInstanceStore) ApplyVerified(_ context.Context, id string, metric model.Metric, weighted float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ci, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	ci.Weighted[metric] += weighted
	return nil
}

// Count returns the number of stored instances.
func (s *MemInstanceStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.instances)
}

func snapshot(ci *model.ContentInstance) model.ContentInstance {
	out := *ci
	out.Raw = make(map[model.Metric]float64, len(ci.Raw))
	for k, v := range ci.Raw {
		out.Raw[k] = v
	}
	out.Weighted = make(map[model.Metric]float64, len(ci.Weighted))
	for k, v := range ci.Weighted {
		out.Weighted[k] = v
	}
	return out
}

// MemUnattributedStore is a bounded in-process UnattributedStore.
type MemUnattributedStore struct {
	mu     sync.Mutex
	events []model.RawEngagementEvent
	max    int
}

// NewMemUnattributedStore creates a store bounded to max events; the
// oldest entries are dropped past the bound.
func NewMemUnattributedStore(max int) *MemUnattributedStore {
	if max <= 0 {
		max = 10_000
	}
	return &MemUnattributedStore{max: max}
}

// Add queues an unattributed event for later reconciliation.
func (s *MemUnattributedStore) Add(_ context.Context, ev model.RawEngagementEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
}

// Drain removes and returns up to max queued events.
func (s *MemUnattributedStore) Drain(_ context.Context, max int) []model.RawEngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || max > len(s.events) {
		max = len(s.events)
	}
	out := make([]model.RawEngagementEvent, max)
	copy(out, s.events[:max])
	s.events = append(s.events[:0], s.events[max:]...)
	return out
}

// Len returns the number of queued events.
func (s *MemUnattributedStore) Len(_ context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
