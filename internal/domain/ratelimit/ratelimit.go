// Package ratelimit bounds event throughput per (metric type, scope) with
// token buckets. Limits are a hard backstop independent of fraud scoring:
// once a bucket is drained, events are rejected regardless of trust level.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/stridewell/growthloop/internal/domain/model"
)

// Default bucket bound; beyond it the registry evicts arbitrary idle
// buckets. Approximate accounting is acceptable here: the property being
// defended is "hard to exceed by orders of magnitude", not exactness.
const defaultMaxBuckets = 100_000

// Limit describes one metric's ceiling as a refill rate plus burst.
type Limit struct {
	Rate  rate.Limit // tokens per second
	Burst int
}

// PerHour builds a Limit allowing n events per hour with burst n.
func PerHour(n int) Limit {
	return Limit{Rate: rate.Limit(float64(n) / 3600.0), Burst: n}
}

// PerDay builds a Limit allowing n events per day with burst n.
func PerDay(n int) Limit {
	return Limit{Rate: rate.Limit(float64(n) / 86400.0), Burst: n}
}

// Registry holds one token bucket per (metric, scope) pair.
type Registry struct {
	mu         sync.RWMutex
	buckets    map[string]*rate.Limiter
	limits     map[model.Metric]Limit
	maxBuckets int
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithLimit sets the ceiling for one metric type.
func WithLimit(metric model.Metric, limit Limit) Option {
	return func(r *Registry) {
		if limit.Rate > 0 && limit.Burst > 0 {
			r.limits[metric] = limit
		}
	}
}

// WithMaxBuckets bounds the number of live buckets.
func WithMaxBuckets(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxBuckets = n
		}
	}
}

// NewRegistry creates a registry with configuration options. Metrics
// without a configured limit are unbounded.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		buckets:    make(map[string]*rate.Limiter),
		limits:     make(map[model.Metric]Limit),
		maxBuckets: defaultMaxBuckets,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow consumes one token from the (metric, scope) bucket and reports
// whether the event is inside the ceiling. Safe for concurrent use.
func (r *Registry) Allow(metric model.Metric, scope string) bool {
	r.mu.RLock()
	limit, limited := r.limits[metric]
	if !limited {
		r.mu.RUnlock()
		return true
	}
	key := string(metric) + "|" + scope
	bucket, ok := r.buckets[key]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		bucket, ok = r.buckets[key]
		if !ok {
			if len(r.buckets) >= r.maxBuckets {
				r.evictLocked()
			}
			bucket = rate.NewLimiter(limit.Rate, limit.Burst)
			r.buckets[key] = bucket
		}
		r.mu.Unlock()
	}
	return bucket.Allow()
}

// Len returns the number of live buckets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}

// evictLocked drops roughly 10% of buckets. Map iteration order is random,
// so eviction is effectively a random sample. Must hold r.mu.
func (r *Registry) evictLocked() {
	drop := len(r.buckets)/10 + 1
	for key := range r.buckets {
		delete(r.buckets, key)
		drop--
		if drop == 0 {
			break
		}
	}
}
