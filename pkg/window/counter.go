package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/ratchet/pkg/clock"
)

// Spec configures one tracked window.
type Spec struct {
	// Length is the window duration.
	Length time.Duration
	// Limit is the maximum consumption admitted within one window.
	Limit Limit
}

// LimitExceededError is returned when a consume attempt does not fit inside
// one of the configured windows.
type LimitExceededError struct {
	Window time.Duration
	Used   int64
	Limit  int64
	Amount int64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("window limit exceeded: %d+%d over limit %d in %s window",
		e.Used, e.Amount, e.Limit, e.Window)
}

// IsLimitExceeded checks if an error is a window limit rejection.
func IsLimitExceeded(err error) bool {
	_, ok := err.(*LimitExceededError)
	return ok
}

// Usage is a point-in-time view of one window for one key.
type Usage struct {
	Window      time.Duration
	Limit       Limit
	Used        int64
	WindowStart time.Time
}

// state is the per-window accounting for one key.
type state struct {
	used        int64
	windowStart time.Time
}

type entry struct {
	mu     sync.Mutex
	states []state
	// touched is the last TryConsume time, used by Cleanup.
	touched time.Time
}

// Counter tracks usage for arbitrary keys against a fixed set of windows.
// All reads and mutations for one key are serialized; different keys do not
// contend beyond the entry lookup.
type Counter struct {
	windows []Spec

	mu      sync.RWMutex
	entries map[string]*entry
}

// NewCounter creates a counter over the given windows. At least one window is
// required.
func NewCounter(windows ...Spec) *Counter {
	return &Counter{
		windows: windows,
		entries: make(map[string]*entry),
	}
}

func (c *Counter) entryFor(key string) *entry {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entries[key]; ok {
		return e
	}
	e = &entry{states: make([]state, len(c.windows))}
	c.entries[key] = e
	return e
}

// rolled returns the effective state of s at now: a stale window resets to
// (0, now) in a single step regardless of how many boundaries were skipped.
func rolled(s state, length time.Duration, now time.Time) state {
	if s.windowStart.IsZero() || !now.Before(s.windowStart.Add(length)) {
		return state{used: 0, windowStart: now}
	}
	return s
}

// TryConsume admits amount for key if it fits inside every configured window
// at now, and records it in all of them. If any window rejects, no window's
// state changes and a *LimitExceededError for the first rejecting window is
// returned.
func (c *Counter) TryConsume(key string, amount int64, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("negative amount %d", amount)
	}

	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	// First pass decides against rolled-over views without committing, so a
	// rejection leaves the stored states untouched.
	next := make([]state, len(c.windows))
	for i, w := range c.windows {
		s := rolled(e.states[i], w.Length, now)
		if !w.Limit.Admits(s.used, amount) {
			limit, _ := w.Limit.Value()
			return &LimitExceededError{
				Window: w.Length,
				Used:   s.used,
				Limit:  limit,
				Amount: amount,
			}
		}
		s.used += amount
		next[i] = s
	}

	copy(e.states, next)
	e.touched = now
	return nil
}

// Usage returns the rolled-over view of every window for key at now. It does
// not mutate stored state.
func (c *Counter) Usage(key string, now time.Time) []Usage {
	e := c.entryFor(key)
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Usage, len(c.windows))
	for i, w := range c.windows {
		s := rolled(e.states[i], w.Length, now)
		out[i] = Usage{Window: w.Length, Limit: w.Limit, Used: s.used, WindowStart: s.windowStart}
	}
	return out
}

// Reset clears all window state for key.
func (c *Counter) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Cleanup removes keys idle for more than twice the longest window. It should
// be called periodically.
func (c *Counter) Cleanup(now time.Time) {
	var longest time.Duration
	for _, w := range c.windows {
		if w.Length > longest {
			longest = w.Length
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		e.mu.Lock()
		idle := e.touched.IsZero() || now.Sub(e.touched) > 2*longest
		e.mu.Unlock()
		if idle {
			delete(c.entries, key)
		}
	}
}

// StartCleanup runs Cleanup on a ticker until ctx is cancelled.
func (c *Counter) StartCleanup(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				c.Cleanup(clk.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}
