package util

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HourlyLimiter enforces an hourly request budget as a token bucket that
// refills at budget/hour and bursts to the full budget.
type HourlyLimiter struct {
	inner *rate.Limiter
}

func NewHourlyLimiter(perHour int) *HourlyLimiter {
	if perHour <= 0 {
		perHour = 1
	}
	return &HourlyLimiter{
		inner: rate.NewLimiter(rate.Limit(float64(perHour)/3600.0), perHour),
	}
}

func (l *HourlyLimiter) Allow() bool {
	return l.inner.Allow()
}

// QuotaRegistry keeps one HourlyLimiter per client key. Idle limiters are
// dropped after ttl so the map does not grow with one-off clients.
type QuotaRegistry struct {
	mu       sync.Mutex
	limiters map[string]*quotaEntry
	perHour  int
	ttl      time.Duration
}

type quotaEntry struct {
	limiter  *HourlyLimiter
	lastUsed time.Time
}

func NewQuotaRegistry(perHour int, ttl time.Duration) *QuotaRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	reg := &QuotaRegistry{
		limiters: make(map[string]*quotaEntry),
		perHour:  perHour,
		ttl:      ttl,
	}
	go reg.cleanupLoop()
	return reg
}

// Allow reports whether the client identified by key has budget left.
func (r *QuotaRegistry) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.limiters[key]
	if !ok {
		entry = &quotaEntry{limiter: NewHourlyLimiter(r.perHour)}
		r.limiters[key] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter.Allow()
}

func (r *QuotaRegistry) cleanupLoop() {
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()

	for range ticker.C {
		r.cleanup()
	}
}

func (r *QuotaRegistry) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for key, entry := range r.limiters {
		if now.Sub(entry.lastUsed) > r.ttl {
			delete(r.limiters, key)
		}
	}
}
