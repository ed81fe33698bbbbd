// ratelimit/ratelimit.go
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dalemusser/sessionkeep/httputil"
	"go.uber.org/zap"
)

// bucket is a token bucket. Callers hold the KeyLimiter lock.
type bucket struct {
	tokens   float64
	lastTime time.Time
}

func (b *bucket) take(now time.Time, rate float64, burst int) bool {
	b.tokens += now.Sub(b.lastTime).Seconds() * rate
	if b.tokens > float64(burst) {
		b.tokens = float64(burst)
	}
	b.lastTime = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// KeyLimiter is a token bucket per key (e.g. per client IP). Buckets idle
// for longer than it takes to refill are forgotten, since a fresh bucket
// behaves the same.
type KeyLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

// NewKeyLimiter allows rate requests per second per key with bursts of up
// to burst. A nil now uses time.Now.
func NewKeyLimiter(rate float64, burst int, now func() time.Time) *KeyLimiter {
	if now == nil {
		now = time.Now
	}
	return &KeyLimiter{
		buckets:   make(map[string]*bucket),
		rate:      rate,
		burst:     burst,
		now:       now,
		lastPrune: now(),
	}
}

// Allow consumes one token for key and reports whether one was available.
func (kl *KeyLimiter) Allow(key string) bool {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	now := kl.now()
	kl.prune(now)

	b, ok := kl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(kl.burst), lastTime: now}
		kl.buckets[key] = b
	}
	return b.take(now, kl.rate, kl.burst)
}

// refill is how long an empty bucket takes to fill up.
func (kl *KeyLimiter) refill() time.Duration {
	return time.Duration(float64(kl.burst) / kl.rate * float64(time.Second))
}

func (kl *KeyLimiter) prune(now time.Time) {
	idle := kl.refill()
	if now.Sub(kl.lastPrune) < idle {
		return
	}
	kl.lastPrune = now
	for key, b := range kl.buckets {
		if now.Sub(b.lastTime) >= idle {
			delete(kl.buckets, key)
		}
	}
}

// Size returns the number of tracked keys.
func (kl *KeyLimiter) Size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.buckets)
}

// ClientIP keys requests by RemoteAddr without its port. Run chi's RealIP
// middleware first when the service sits behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects requests over the limit with a JSON 429. A zero or
// negative rate disables limiting.
func Middleware(rate float64, burst int, logger *zap.Logger) func(http.Handler) http.Handler {
	if rate <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := NewKeyLimiter(rate, burst, nil)
	retryAfter := strconv.Itoa(max(1, int(1/rate)))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			if !limiter.Allow(ip) {
				logger.Warn("rate limited",
					zap.String("remote_ip", ip),
					zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", retryAfter)
				httputil.JSONError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
