package relationships

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emergent-company/tether/internal/config"
)

// RequestLimiter decides whether userID may send another friend request.
type RequestLimiter interface {
	Allow(userID string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per sending user. Buckets of senders
// idle long enough to have refilled are dropped by Sweep.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// NewRateLimiter builds the per-user limiter from config. A non-positive
// rate disables limiting.
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return newRateLimiter(cfg.Relationships.RequestsPerMinute, cfg.Relationships.RequestBurst)
}

func newRateLimiter(perMinute, burst int) *RateLimiter {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow consumes one token for userID.
func (m *RateLimiter) Allow(userID string) bool {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[userID] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// Sweep drops every bucket idle for at least the time a full refill takes;
// a fresh bucket admits exactly what such a bucket would. It returns how
// many were dropped.
func (m *RateLimiter) Sweep() int {
	idle := m.refillTime()
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for id, b := range m.buckets {
		if now.Sub(b.lastSeen) >= idle {
			delete(m.buckets, id)
			dropped++
		}
	}
	return dropped
}

// Len reports how many senders currently hold a bucket.
func (m *RateLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *RateLimiter) refillTime() time.Duration {
	if m.limit == rate.Inf {
		return 0
	}
	return time.Duration(float64(m.burst) / float64(m.limit) * float64(time.Second))
}

type unlimited struct{}

func (unlimited) Allow(string) bool { return true }
