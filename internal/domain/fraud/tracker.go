package fraud

import (
	"sync"
	"time"
)

// Default tracker bounds.
const (
	defaultRetention  = 24 * time.Hour
	defaultMaxActors  = 200_000
	pruneEveryRecords = 1024
)

// Tracker keeps the rolling state the checks read: attribution edges,
// signups per originating address, and event timestamps per variant and per
// actor. All windows are pruned lazily against the retention horizon.
type Tracker struct {
	mu sync.Mutex

	attributions    map[string]map[string]struct{} // actor -> counterparties
	signupsByAddr   map[string][]time.Time
	eventsByVariant map[string][]time.Time
	eventsByActor   map[string][]time.Time

	retention time.Duration
	maxActors int
	records   int
	now       func() time.Time
}

// TrackerOption applies a configuration option to the Tracker.
type TrackerOption func(*Tracker)

// WithRetention bounds how far back the tracker remembers activity.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.retention = d
		}
	}
}

// WithMaxActors caps how many distinct keys each rolling map may hold;
// past the cap, pruning evicts arbitrary keys.
func WithMaxActors(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.maxActors = n
		}
	}
}

// WithClock overrides the tracker's time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker with configuration options.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		attributions:    make(map[string]map[string]struct{}),
		signupsByAddr:   make(map[string][]time.Time),
		eventsByVariant: make(map[string][]time.Time),
		eventsByActor:   make(map[string][]time.Time),
		retention:       defaultRetention,
		maxActors:       defaultMaxActors,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordAttribution remembers that actor was attributed to counterparty.
func (t *Tracker) RecordAttribution(actor, counterparty string) {
	if actor == "" || counterparty == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.attributions[actor]
	if !ok {
		set = make(map[string]struct{})
		t.attributions[actor] = set
	}
	set[counterparty] = struct{}{}
	t.maybePrune()
}

// Reciprocal reports whether actor and counterparty have attributed each
// other, in either recording order.
func (t *Tracker) Reciprocal(actor, counterparty string) bool {
	if actor == "" || counterparty == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ab := t.attributions[actor][counterparty]
	_, ba := t.attributions[counterparty][actor]
	return ab && ba
}

// RecordSignup remembers one signup from addr at the tracker's current time.
func (t *Tracker) RecordSignup(addr string) {
	if addr == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signupsByAddr[addr] = append(t.signupsByAddr[addr], t.now())
	t.maybePrune()
}

// SignupsWithin counts signups from addr inside the trailing window.
func (t *Tracker) SignupsWithin(addr string, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.signupsByAddr[addr], t.now().Add(-window))
}

// RecordEvent remembers one event for the variant and the acting account.
func (t *Tracker) RecordEvent(variantID, actor string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if variantID != "" {
		t.eventsByVariant[variantID] = append(t.eventsByVariant[variantID], now)
	}
	if actor != "" {
		t.eventsByActor[actor] = append(t.eventsByActor[actor], now)
	}
	t.maybePrune()
}

// VariantEventsWithin counts events for a variant inside the trailing window.
func (t *Tracker) VariantEventsWithin(variantID string, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.eventsByVariant[variantID], t.now().Add(-window))
}

// ActorEventsWithin counts events by one account inside the trailing window.
func (t *Tracker) ActorEventsWithin(actor string, window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.eventsByActor[actor], t.now().Add(-window))
}

// Size reports the largest per-map key count, the figure maxActors bounds.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.attributions)
	for _, l := range []int{len(t.signupsByAddr), len(t.eventsByVariant), len(t.eventsByActor)} {
		if l > n {
			n = l
		}
	}
	return n
}

// countSince counts timestamps at or after cutoff. Slices are append-ordered
// so the scan walks backwards and stops at the first stale entry.
func countSince(ts []time.Time, cutoff time.Time) int {
	n := 0
	for i := len(ts) - 1; i >= 0; i-- {
		if ts[i].Before(cutoff) {
			break
		}
		n++
	}
	return n
}

// maybePrune drops timestamps past retention and evicts keys past the
// maxActors cap, so rotating fresh ids cannot grow the maps without bound.
// Called with t.mu held, every pruneEveryRecords writes so steady-state
// cost stays amortized.
func (t *Tracker) maybePrune() {
	t.records++
	if t.records%pruneEveryRecords != 0 {
		return
	}
	cutoff := t.now().Add(-t.retention)
	for k, ts := range t.signupsByAddr {
		t.signupsByAddr[k] = dropBefore(ts, cutoff)
		if len(t.signupsByAddr[k]) == 0 {
			delete(t.signupsByAddr, k)
		}
	}
	for k, ts := range t.eventsByVariant {
		t.eventsByVariant[k] = dropBefore(ts, cutoff)
		if len(t.eventsByVariant[k]) == 0 {
			delete(t.eventsByVariant, k)
		}
	}
	for k, ts := range t.eventsByActor {
		t.eventsByActor[k] = dropBefore(ts, cutoff)
		if len(t.eventsByActor[k]) == 0 {
			delete(t.eventsByActor, k)
		}
	}

	// Attribution edges carry no timestamps, so the key cap is their only
	// bound. An evicted key loses its window and re-accumulates from zero.
	capKeys(t.attributions, t.maxActors)
	capKeys(t.signupsByAddr, t.maxActors)
	capKeys(t.eventsByVariant, t.maxActors)
	capKeys(t.eventsByActor, t.maxActors)
}

// capKeys evicts arbitrary keys until the map holds at most max entries.
func capKeys[V any](m map[string]V, max int) {
	if len(m) <= max {
		return
	}
	for k := range m {
		if len(m) <= max {
			return
		}
		delete(m, k)
	}
}

func dropBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}
