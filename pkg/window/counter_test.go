package window

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func TestTryConsume_WithinLimit(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(10)})

	require.NoError(t, c.TryConsume("k", 4, t0))
	require.NoError(t, c.TryConsume("k", 6, t0.Add(10*time.Second)))

	u := c.Usage("k", t0.Add(10*time.Second))
	assert.Equal(t, int64(10), u[0].Used)
}

func TestTryConsume_Rejects(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(10)})

	require.NoError(t, c.TryConsume("k", 8, t0))

	err := c.TryConsume("k", 3, t0.Add(time.Second))
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))

	lerr, ok := err.(*LimitExceededError)
	require.True(t, ok)
	assert.Equal(t, time.Minute, lerr.Window)
	assert.Equal(t, int64(8), lerr.Used)
	assert.Equal(t, int64(10), lerr.Limit)

	// Rejection leaves the counter untouched.
	u := c.Usage("k", t0.Add(time.Second))
	assert.Equal(t, int64(8), u[0].Used)
}

func TestTryConsume_LazyRollover(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(10)})

	require.NoError(t, c.TryConsume("k", 10, t0))
	assert.Error(t, c.TryConsume("k", 1, t0.Add(30*time.Second)))

	// Past the boundary the window resets in a single step, even after
	// skipping multiple boundaries.
	require.NoError(t, c.TryConsume("k", 10, t0.Add(5*time.Minute)))
	u := c.Usage("k", t0.Add(5*time.Minute))
	assert.Equal(t, int64(10), u[0].Used)
	assert.Equal(t, t0.Add(5*time.Minute), u[0].WindowStart)
}

func TestTryConsume_IdempotentRollover(t *testing.T) {
	// Two consumes inside the same window after a reset must account exactly
	// like one window, with no double reset.
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(10)})

	require.NoError(t, c.TryConsume("k", 2, t0))
	now1 := t0.Add(2 * time.Minute)
	now2 := t0.Add(2*time.Minute + 30*time.Second)

	require.NoError(t, c.TryConsume("k", 3, now1))
	require.NoError(t, c.TryConsume("k", 4, now2))

	u := c.Usage("k", now2)
	assert.Equal(t, int64(7), u[0].Used)
	assert.Equal(t, now1, u[0].WindowStart)
}

func TestTryConsume_AllOrNothing(t *testing.T) {
	c := NewCounter(
		Spec{Length: time.Minute, Limit: Of(100)},
		Spec{Length: time.Hour, Limit: Of(5)},
	)

	// Fits the minute window but not the hour window: neither mutates.
	err := c.TryConsume("k", 6, t0)
	require.Error(t, err)

	u := c.Usage("k", t0)
	assert.Equal(t, int64(0), u[0].Used)
	assert.Equal(t, int64(0), u[1].Used)

	require.NoError(t, c.TryConsume("k", 5, t0))
	u = c.Usage("k", t0)
	assert.Equal(t, int64(5), u[0].Used)
	assert.Equal(t, int64(5), u[1].Used)
}

func TestTryConsume_AllOrNothing_Randomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		c := NewCounter(
			Spec{Length: time.Minute, Limit: Of(rng.Int63n(50) + 1)},
			Spec{Length: time.Hour, Limit: Of(rng.Int63n(50) + 1)},
			Spec{Length: 24 * time.Hour, Limit: Of(rng.Int63n(50) + 1)},
		)

		now := t0
		for j := 0; j < 20; j++ {
			before := c.Usage("k", now)
			amount := rng.Int63n(30)
			err := c.TryConsume("k", amount, now)
			after := c.Usage("k", now)

			if err != nil {
				assert.Equal(t, before, after, "rejected attempt mutated state")
			} else {
				for w := range after {
					assert.Equal(t, before[w].Used+amount, after[w].Used)
				}
			}
		}
	}
}

func TestTryConsume_TriStateLimits(t *testing.T) {
	c := NewCounter(
		Spec{Length: time.Minute, Limit: Unlimited()},
		Spec{Length: time.Hour, Limit: Blocked()},
	)

	err := c.TryConsume("k", 1, t0)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))

	unconstrained := NewCounter(Spec{Length: time.Minute, Limit: Unlimited()})
	require.NoError(t, unconstrained.TryConsume("k", 1<<40, t0))
}

func TestTryConsume_ZeroIsBlocked(t *testing.T) {
	assert.Equal(t, Blocked(), Of(0))
	assert.Equal(t, Blocked(), Of(-5))

	c := NewCounter(Spec{Length: time.Minute, Limit: Of(0)})
	assert.Error(t, c.TryConsume("k", 0, t0))
}

func TestTryConsume_NegativeAmount(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(10)})
	err := c.TryConsume("k", -1, t0)
	require.Error(t, err)
	assert.False(t, IsLimitExceeded(err))
}

func TestTryConsume_IndependentKeys(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(5)})

	require.NoError(t, c.TryConsume("a", 5, t0))
	require.NoError(t, c.TryConsume("b", 5, t0))
	assert.Error(t, c.TryConsume("a", 1, t0))
}

func TestReset(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(5)})

	require.NoError(t, c.TryConsume("k", 5, t0))
	c.Reset("k")
	require.NoError(t, c.TryConsume("k", 5, t0))
}

func TestCleanup(t *testing.T) {
	c := NewCounter(Spec{Length: time.Minute, Limit: Of(5)})

	require.NoError(t, c.TryConsume("stale", 1, t0))
	require.NoError(t, c.TryConsume("fresh", 1, t0.Add(3*time.Minute)))

	c.Cleanup(t0.Add(3 * time.Minute))

	c.mu.RLock()
	_, staleOK := c.entries["stale"]
	_, freshOK := c.entries["fresh"]
	c.mu.RUnlock()
	assert.False(t, staleOK)
	assert.True(t, freshOK)
}

func TestLimitString(t *testing.T) {
	assert.Equal(t, "unlimited", Unlimited().String())
	assert.Equal(t, "blocked", Blocked().String())
	assert.Equal(t, "7", Of(7).String())
}
