package fees

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	s, err := Compute(10000, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(250), s.FeeCents)
	assert.Equal(t, int64(9750), s.NetCents)
}

func TestCompute_RoundsFeeDown(t *testing.T) {
	// 999 * 250 / 10000 = 24.975, fee floors to 24 and net keeps the
	// remainder.
	s, err := Compute(999, 250)
	require.NoError(t, err)
	assert.Equal(t, int64(24), s.FeeCents)
	assert.Equal(t, int64(975), s.NetCents)
}

func TestCompute_Boundaries(t *testing.T) {
	s, err := Compute(10000, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.FeeCents)
	assert.Equal(t, int64(10000), s.NetCents)

	s, err = Compute(10000, MaxBps)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), s.FeeCents)
	assert.Equal(t, int64(0), s.NetCents)

	s, err = Compute(0, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.FeeCents)
	assert.Equal(t, int64(0), s.NetCents)
}

func TestCompute_Invalid(t *testing.T) {
	_, err := Compute(-1, 100)
	assert.Error(t, err)

	_, err = Compute(100, -1)
	assert.Error(t, err)

	_, err = Compute(100, MaxBps+1)
	assert.Error(t, err)
}

func TestCompute_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 10000; i++ {
		gross := rng.Int63n(1 << 40)
		bps := rng.Int63n(MaxBps + 1)

		s, err := Compute(gross, bps)
		require.NoError(t, err)
		assert.Equal(t, gross, s.FeeCents+s.NetCents)
		assert.GreaterOrEqual(t, s.FeeCents, int64(0))
		assert.GreaterOrEqual(t, s.NetCents, int64(0))
	}
}

func TestValidateBps(t *testing.T) {
	assert.NoError(t, ValidateBps(250, 1000))
	assert.NoError(t, ValidateBps(0, 500))
	assert.NoError(t, ValidateBps(500, 500))

	assert.Error(t, ValidateBps(501, 500))
	assert.Error(t, ValidateBps(-1, 500))
	assert.Error(t, ValidateBps(100, -1))
	assert.Error(t, ValidateBps(100, MaxBps+1))
}
