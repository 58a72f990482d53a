package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pulseone/vpengine/internal/common"
	"pulseone/vpengine/internal/config"
	"pulseone/vpengine/internal/constants"
)

// RateLimiter hands out one token bucket per client IP. Buckets of clients
// idle for longer than the configured TTL are evicted.
type RateLimiter struct {
	mu       sync.Mutex
	limiters common.CacheInterface
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration

	whitelistedIPs map[string]bool
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &RateLimiter{
		limiters: common.NewCacheService(idle, idle),
		limit:    rate.Limit(cfg.PerSecond),
		burst:    cfg.Burst,
		idleTTL:  idle,
		whitelistedIPs: map[string]bool{
			"127.0.0.1": true, // local tooling
		},
	}
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
	}
	// every request pushes the expiry out again
	rl.limiters.Set(ip, limiter, rl.idleTTL)
	return limiter.(*rate.Limiter)
}

// Clients returns the number of tracked client buckets.
func (rl *RateLimiter) Clients() int {
	return rl.limiters.Len()
}

// Middleware rejects requests over the per-IP budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if rl.whitelistedIPs[ip] {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.getLimiter(ip).Allow() {
			common.RespondError(w, time.Now(), http.StatusTooManyRequests, constants.ErrCodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
