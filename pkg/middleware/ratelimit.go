package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/window"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Requests admitted per client per window
	Requests int64
	// Window length
	Window time.Duration
}

// DefaultRateLimitConfig returns sensible defaults for the API server.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Requests: 120,
		Window:   time.Minute,
	}
}

// RateLimiter limits requests per client over a fixed window. Clients are
// keyed by authenticated actor when one is present on the request context,
// by client IP otherwise.
type RateLimiter struct {
	cfg     RateLimitConfig
	clk     clock.Clock
	counter *window.Counter
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(cfg RateLimitConfig, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		cfg: cfg,
		clk: clk,
		counter: window.NewCounter(window.Spec{
			Length: cfg.Window,
			Limit:  window.Of(cfg.Requests),
		}),
	}
}

// Allow reports whether key may make another request now, consuming one
// slot when it may.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.counter.TryConsume(key, 1, rl.clk.Now()) == nil
}

// Remaining returns the number of requests key has left in the current
// window.
func (rl *RateLimiter) Remaining(key string) int64 {
	used := rl.counter.Usage(key, rl.clk.Now())[0].Used
	if used >= rl.cfg.Requests {
		return 0
	}
	return rl.cfg.Requests - used
}

// ResetAt returns when the current window for key ends.
func (rl *RateLimiter) ResetAt(key string) time.Time {
	usage := rl.counter.Usage(key, rl.clk.Now())[0]
	return usage.WindowStart.Add(usage.Window)
}

// StartCleanup evicts idle clients in the background until ctx is
// cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	rl.counter.StartCleanup(ctx, rl.clk, rl.cfg.Window)
}

// actorFrom returns the authenticated actor on the request, if any.
func actorFrom(r *http.Request) string {
	return observability.GetActor(r.Context())
}

// clientKey identifies the caller for rate limiting purposes.
func (rl *RateLimiter) clientKey(r *http.Request) string {
	if actor := actorFrom(r); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + getClientIP(r)
}

// Middleware enforces the rate limit and sets X-RateLimit headers on every
// response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientKey(r)
		allowed := rl.Allow(key)
		reset := rl.ResetAt(key)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.cfg.Requests))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.Remaining(key)))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset.Unix()))

		if !allowed {
			retryAfter := int(reset.Sub(rl.clk.Now()).Seconds()) + 1
			w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (for proxies)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}

	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
