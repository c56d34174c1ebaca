package window

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedCounter implements windowed counting backed by Redis, so limits
// are shared across instances. Each (key, window) pair maps to one Redis key
// that expires at the window boundary; rollover falls out of expiry.
type DistributedCounter struct {
	redis   *redis.Client
	windows []Spec
	prefix  string

	// failOpen admits on Redis errors instead of rejecting, to avoid turning
	// an infrastructure outage into a payment outage.
	failOpen bool
}

// NewDistributedCounter creates a Redis-backed counter over the given
// windows.
func NewDistributedCounter(redisClient *redis.Client, prefix string, windows ...Spec) *DistributedCounter {
	if prefix == "" {
		prefix = "ratchet:window"
	}
	return &DistributedCounter{
		redis:    redisClient,
		windows:  windows,
		prefix:   prefix,
		failOpen: true,
	}
}

// SetFailOpen controls whether Redis errors admit (true) or reject (false).
func (c *DistributedCounter) SetFailOpen(enabled bool) {
	c.failOpen = enabled
}

func (c *DistributedCounter) redisKey(key string, w Spec) string {
	return fmt.Sprintf("%s:%s:%d", c.prefix, key, int64(w.Length.Seconds()))
}

// TryConsume admits amount for key if it fits inside every configured window,
// recording it in all of them. Increments applied before a later window
// rejects are undone so the windows stay consistent with each other.
func (c *DistributedCounter) TryConsume(ctx context.Context, key string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative amount %d", amount)
	}

	applied := make([]string, 0, len(c.windows))
	for _, w := range c.windows {
		if w.Limit.IsUnlimited() {
			continue
		}

		rk := c.redisKey(key, w)
		pipe := c.redis.Pipeline()
		incr := pipe.IncrBy(ctx, rk, amount)
		pipe.Expire(ctx, rk, w.Length)
		if _, err := pipe.Exec(ctx); err != nil {
			c.undo(ctx, applied, amount)
			if c.failOpen {
				return nil
			}
			return fmt.Errorf("redis error: %w", err)
		}

		limit, _ := w.Limit.Value()
		if incr.Val() > limit {
			// Undo this window's increment and every earlier one.
			c.undo(ctx, append(applied, rk), amount)
			return &LimitExceededError{
				Window: w.Length,
				Used:   incr.Val() - amount,
				Limit:  limit,
				Amount: amount,
			}
		}
		applied = append(applied, rk)
	}

	return nil
}

func (c *DistributedCounter) undo(ctx context.Context, keys []string, amount int64) {
	for _, rk := range keys {
		// Best effort: a failed undo over-counts until the window expires.
		c.redis.DecrBy(ctx, rk, amount)
	}
}

// Remaining returns the smallest remaining headroom across bounded windows,
// or (0, false) if every window is unlimited.
func (c *DistributedCounter) Remaining(ctx context.Context, key string) (int64, bool, error) {
	var (
		min   int64
		found bool
	)
	for _, w := range c.windows {
		limit, bounded := w.Limit.Value()
		if !bounded {
			continue
		}

		used, err := c.redis.Get(ctx, c.redisKey(key, w)).Int64()
		if err == redis.Nil {
			used = 0
		} else if err != nil {
			return 0, false, fmt.Errorf("redis error: %w", err)
		}

		rem := limit - used
		if rem < 0 {
			rem = 0
		}
		if !found || rem < min {
			min = rem
			found = true
		}
	}
	return min, found, nil
}

// TTL returns the time until the given window resets for key.
func (c *DistributedCounter) TTL(ctx context.Context, key string, length time.Duration) (time.Duration, error) {
	for _, w := range c.windows {
		if w.Length == length {
			return c.redis.TTL(ctx, c.redisKey(key, w)).Result()
		}
	}
	return 0, fmt.Errorf("no window of length %s configured", length)
}

// Reset clears all window state for key.
func (c *DistributedCounter) Reset(ctx context.Context, key string) error {
	for _, w := range c.windows {
		if err := c.redis.Del(ctx, c.redisKey(key, w)).Err(); err != nil {
			return err
		}
	}
	return nil
}
