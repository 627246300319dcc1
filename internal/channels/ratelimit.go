package channels

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys.
	maxTrackedKeys = 4096

	// idleLimiterTTL is how long an unused key keeps its limiter.
	idleLimiterTTL = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter holds one token bucket per key (instance name for emit,
// bot id for executor calls). Safe for concurrent use.
type KeyedRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

// NewKeyedRateLimiter allows perSecond events per key with the given burst.
// perSecond <= 0 disables limiting.
func NewKeyedRateLimiter(perSecond float64, burst int) *KeyedRateLimiter {
	r := &KeyedRateLimiter{entries: make(map[string]*limiterEntry)}
	r.SetLimit(perSecond, burst)
	return r
}

// SetLimit changes the rate for existing and future keys.
func (r *KeyedRateLimiter) SetLimit(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit, r.burst = limit, burst
	for _, e := range r.entries {
		e.limiter.SetLimit(limit)
		e.limiter.SetBurst(burst)
	}
}

// Allow reports whether an event for key may happen now.
func (r *KeyedRateLimiter) Allow(key string) bool {
	return r.get(key).Allow()
}

// Limiter returns the limiter of key, for callers that want to Wait.
func (r *KeyedRateLimiter) Limiter(key string) *rate.Limiter {
	return r.get(key)
}

func (r *KeyedRateLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if e, ok := r.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	// Prune idle entries when approaching the cap.
	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= idleLimiterTTL {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e := &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst), lastSeen: now}
	r.entries[key] = e
	return e.limiter
}
