package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Token-bucket rate limiting
// ──────────────────────────────────────────────────────────────────────────────
//
// Two keying strategies share one bucket implementation: public reads are
// limited per client IP, while bid submission is limited per authenticated
// address, so a wallet cannot spread its load across proxies.

// bucket tracks the remaining allowance for one key.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	refilled time.Time
}

// take refills based on elapsed time, caps at burst, and spends one token.
func (b *bucket) take(now time.Time, rate, burst float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens += now.Sub(b.refilled).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.refilled = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// limiter owns the per-key bucket map.
type limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	rate    float64
	burst   float64
}

// newLimiter allows rps sustained requests per second per key, with a burst
// of at least 10 so short spikes are absorbed. It evicts idle buckets in the
// background so the map cannot grow without bound.
func newLimiter(rps int) *limiter {
	burst := float64(rps)
	if burst < 10 {
		burst = 10
	}
	l := &limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(rps),
		burst:   burst,
	}
	go l.evictLoop()
	return l
}

func (l *limiter) allow(key string) bool {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		if b, ok = l.buckets[key]; !ok {
			b = &bucket{tokens: l.burst, refilled: time.Now()}
			l.buckets[key] = b
		}
		l.mu.Unlock()
	}
	return b.take(time.Now(), l.rate, l.burst)
}

func (l *limiter) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for key, b := range l.buckets {
			b.mu.Lock()
			if b.refilled.Before(cutoff) {
				delete(l.buckets, key)
			}
			b.mu.Unlock()
		}
		l.mu.Unlock()
	}
}

func rejectRateLimited(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"success": false,
		"error":   "too many requests, slow down",
		"code":    "ERR_RATE_LIMITED",
	})
}

// RateLimitMiddleware limits to rps requests per second per client IP.
// Used on the public read surface.
func RateLimitMiddleware(rps int) gin.HandlerFunc {
	l := newLimiter(rps)
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}

// BidRateLimitMiddleware limits to rps requests per second per authenticated
// address, falling back to the client IP when no address is on the context.
// Must run after JWTMiddleware.
func BidRateLimitMiddleware(rps int) gin.HandlerFunc {
	l := newLimiter(rps)
	return func(c *gin.Context) {
		key := GetAddress(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.allow(key) {
			rejectRateLimited(c)
			return
		}
		c.Next()
	}
}
