package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	svcerrors "github.com/R3E-Network/marketpulse/internal/errors"
	"github.com/R3E-Network/marketpulse/internal/httputil"
	"github.com/R3E-Network/marketpulse/pkg/logger"
)

const limiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a token bucket per client IP.
type RateLimiter struct {
	limiters  map[string]*clientLimiter
	mu        sync.Mutex
	rate      rate.Limit
	rps       int
	burst     int
	logger    *logger.Logger
	proxies   httputil.TrustedProxies
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter creates a new rate limiter. A burst below one is raised to
// requestsPerSecond.
func NewRateLimiter(requestsPerSecond int, burst int, log *logger.Logger) *RateLimiter {
	if log == nil {
		log = logger.NewDefault("ratelimit")
	}
	if burst < 1 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rate.Limit(requestsPerSecond),
		rps:      requestsPerSecond,
		burst:    burst,
		logger:   log,
		now:      time.Now,
	}
}

// WithTrustedProxies keys requests from the listed peers on the forwarded
// client address instead of the peer address.
func (rl *RateLimiter) WithTrustedProxies(proxies httputil.TrustedProxies) *RateLimiter {
	rl.proxies = proxies
	return rl
}

// getLimiter returns the limiter for key, creating it on first use. Idle
// limiters are swept at most once per idle period.
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Handler returns the rate limiting middleware handler
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.proxies.ClientIP(r)
		if !rl.getLimiter(key).Allow() {
			rl.logger.WithContext(r.Context()).WithField("client", key).
				WithField("path", r.URL.Path).
				Warn("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			httputil.WriteServiceError(w, svcerrors.RateLimitExceeded(rl.rps, "1s"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup removes limiters idle for longer than ten minutes.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.sweep(rl.now())
}

func (rl *RateLimiter) sweep(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL)
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
