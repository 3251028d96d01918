package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// MemReferralStore is a mutex-guarded in-process ReferralStore.
type MemReferralStore struct {
	mu         sync.RWMutex
	links      map[string]ReferralLink
	referrals  map[string]model.Referral
	byReferee  map[string]string
	byReferrer map[string][]string
	ledger     []model.LedgerEntry
}

// NewMemReferralStore creates an empty referral store.
func NewMemReferralStore() *MemReferralStore {
	return &MemReferralStore{
		links:      make(map[string]ReferralLink),
		referrals:  make(map[string]model.Referral),
		byReferee:  make(map[string]string),
		byReferrer: make(map[string][]string),
	}
}

// PutLink stores an issued referral link by code.
func (s *MemReferralStore) PutLink(_ context.Context, link ReferralLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[link.Code]; ok {
		return fmt.Errorf("referral link %s: %w", link.Code, ErrAlreadyExists)
	}
	s.links[link.Code] = link
	return nil
}

// GetLink returns the issued link with the given code.
func (s *MemReferralStore) GetLink(_ context.Context, code string) (ReferralLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[code]
	if !ok {
		return ReferralLink{}, fmt.Errorf("referral link %s: %w", code, ErrNotFound)
	}
	return link, nil
}

// Create stores a new referral. One live referral per referee.
func (s *MemReferralStore) Create(_ context.Context, r model.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[r.ID]; ok {
		return fmt.Errorf("referral %s: %w", r.ID, ErrAlreadyExists)
	}
	if _, ok := s.byReferee[r.RefereeID]; ok {
		return fmt.Errorf("referee %s: %w", r.RefereeID, ErrAlreadyExists)
	}
	s.referrals[r.ID] = r
	s.byReferee[r.RefereeID] = r.ID
	s.byReferrer[r.ReferrerID] = append(s.byReferrer[r.ReferrerID], r.ID)
	return nil
}

// Get returns the referral with the given id.
func (s *MemReferralStore) Get(_ context.Context, id string) (model.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.referrals[id]
	if !ok {
		return model.Referral{}, fmt.Errorf("referral %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// FindByReferee returns the referral attributing the given referee.
func (s *MemReferralStore) FindByReferee(_ context.Context, refereeID string) (model.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byReferee[refereeID]
	if !ok {
		return model.Referral{}, fmt.Errorf("referee %s: %w", refereeID, ErrNotFound)
	}
	return s.referrals[id], nil
}

// Update replaces the stored referral.
func (s *MemReferralStore) Update(_ context.Context, r model.Referral) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrals[r.ID]; !ok {
		return fmt.Errorf("referral %s: %w", r.ID, ErrNotFound)
	}
	s.referrals[r.ID] = r
	return nil
}

// ListByReferrer returns the referrer's referrals, oldest first.
func (s *MemReferralStore) ListByReferrer(_ context.Context, referrerID string) ([]model.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byReferrer[referrerID]
	out := make([]model.Referral, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.referrals[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendLedger appends one reward ledger row.
func (s *MemReferralStore) AppendLedger(_ context.Context, e model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = append(s.ledger, e)
	return nil
}

// LedgerBalance sums the referrer's ledger rows.
func (s *MemReferralStore) LedgerBalance(_ context.Context, referrerID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, e := range s.ledger {
		if e.ReferrerID == referrerID {
			total += e.AmountCents
		}
	}
	return total, nil
}

// LedgerEntries returns the rows for one referral, in append order.
func (s *MemReferralStore) LedgerEntries(_ context.Context, referralID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LedgerEntry
	for _, e := range s.ledger {
		if e.ReferralID == referralID {
			out = append(out, e)
		}
	}
	return out, nil
}
