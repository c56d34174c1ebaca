package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/ratchet/pkg/window"
)

// DistributedRateLimiter enforces one request budget across all instances,
// backed by Redis. Redis outages fail open so an infrastructure problem does
// not take the API down with it.
type DistributedRateLimiter struct {
	cfg     RateLimitConfig
	counter *window.DistributedCounter
}

// NewDistributedRateLimiter creates a Redis-backed rate limiter.
func NewDistributedRateLimiter(client *redis.Client, cfg RateLimitConfig) *DistributedRateLimiter {
	counter := window.NewDistributedCounter(client, "ratchet:ratelimit", window.Spec{
		Length: cfg.Window,
		Limit:  window.Of(cfg.Requests),
	})
	return &DistributedRateLimiter{cfg: cfg, counter: counter}
}

// Allow reports whether key may make another request, consuming one slot
// when it may.
func (rl *DistributedRateLimiter) Allow(r *http.Request, key string) bool {
	return rl.counter.TryConsume(r.Context(), key, 1) == nil
}

func (rl *DistributedRateLimiter) clientKey(r *http.Request) string {
	if actor := actorFrom(r); actor != "" {
		return "actor:" + actor
	}
	return "ip:" + getClientIP(r)
}

// Middleware enforces the shared rate limit and sets X-RateLimit headers.
func (rl *DistributedRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rl.clientKey(r)
		allowed := rl.Allow(r, key)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", rl.cfg.Requests))
		if remaining, bounded, err := rl.counter.Remaining(r.Context(), key); err == nil && bounded {
			w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		}

		if !allowed {
			retryAfter := int(rl.cfg.Window.Seconds())
			if ttl, err := rl.counter.TTL(r.Context(), key, rl.cfg.Window); err == nil && ttl > 0 {
				retryAfter = int(ttl/time.Second) + 1
			}
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
