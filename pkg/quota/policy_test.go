package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ratchet/pkg/window"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testConfigs() StaticConfigs {
	return StaticConfigs{
		"USD": {
			Currency:       "USD",
			Supported:      true,
			MinAmountCents: 100,
			MaxAmountCents: 50000,
			DailyCap:       window.Of(100000),
			GlobalDailyCap: window.Of(1000000),
			FeeBps:         250,
			FeeCollector:   "platform-fees",
		},
		"EUR": {
			Currency:       "EUR",
			Supported:      false,
			MinAmountCents: 100,
			MaxAmountCents: 50000,
			DailyCap:       window.Of(100000),
			GlobalDailyCap: window.Unlimited(),
		},
		"VIP": {
			Currency:       "VIP",
			Supported:      true,
			MinAmountCents: 1,
			MaxAmountCents: 1 << 40,
			DailyCap:       window.Unlimited(),
			GlobalDailyCap: window.Unlimited(),
			WhitelistOnly:  true,
		},
	}
}

func TestAdmit_Accepts(t *testing.T) {
	p := NewPolicy(testConfigs())

	require.NoError(t, p.Admit("alice", "USD", 5000, t0))
	assert.Equal(t, int64(5000), p.PayerSpent("alice", "USD", t0))
	assert.Equal(t, int64(5000), p.GlobalSpent("USD", t0))
}

func TestAdmit_UnsupportedCurrency(t *testing.T) {
	p := NewPolicy(testConfigs())

	err := p.Admit("alice", "EUR", 5000, t0)
	require.Error(t, err)
	assert.Equal(t, RejectUnsupportedCurrency, KindOf(err))

	err = p.Admit("alice", "XYZ", 5000, t0)
	require.Error(t, err)
	assert.Equal(t, RejectUnsupportedCurrency, KindOf(err))
}

func TestAdmit_AmountOutOfRange(t *testing.T) {
	p := NewPolicy(testConfigs())

	err := p.Admit("alice", "USD", 99, t0)
	require.Error(t, err)
	assert.Equal(t, RejectAmountOutOfRange, KindOf(err))

	err = p.Admit("alice", "USD", 50001, t0)
	require.Error(t, err)
	assert.Equal(t, RejectAmountOutOfRange, KindOf(err))

	assert.Equal(t, int64(0), p.PayerSpent("alice", "USD", t0))
}

func TestAdmit_PayerDailyCap(t *testing.T) {
	// Daily cap 1000, payer has spent 900: a charge of 150 is rejected and
	// spend stays 900; a charge of 100 lands exactly on the cap.
	configs := testConfigs()
	configs["USD"].MinAmountCents = 1
	configs["USD"].DailyCap = window.Of(1000)
	p := NewPolicy(configs)

	require.NoError(t, p.Admit("alice", "USD", 900, t0))

	err := p.Admit("alice", "USD", 150, t0)
	require.Error(t, err)
	assert.Equal(t, RejectPayerDailyLimitExceeded, KindOf(err))
	assert.Equal(t, int64(900), p.PayerSpent("alice", "USD", t0))

	require.NoError(t, p.Admit("alice", "USD", 100, t0))
	assert.Equal(t, int64(1000), p.PayerSpent("alice", "USD", t0))
}

func TestAdmit_GlobalDailyCap(t *testing.T) {
	configs := testConfigs()
	configs["USD"].GlobalDailyCap = window.Of(8000)
	p := NewPolicy(configs)

	require.NoError(t, p.Admit("alice", "USD", 5000, t0))
	require.NoError(t, p.Admit("bob", "USD", 3000, t0))

	err := p.Admit("carol", "USD", 1000, t0)
	require.Error(t, err)
	assert.Equal(t, RejectGlobalDailyLimitExceeded, KindOf(err))
	assert.Equal(t, int64(0), p.PayerSpent("carol", "USD", t0))
	assert.Equal(t, int64(8000), p.GlobalSpent("USD", t0))
}

func TestAdmit_Whitelist(t *testing.T) {
	p := NewPolicy(testConfigs())

	err := p.Admit("alice", "VIP", 100, t0)
	require.Error(t, err)
	assert.Equal(t, RejectNotWhitelisted, KindOf(err))

	p.SetWhitelisted("alice", true)
	require.NoError(t, p.Admit("alice", "VIP", 100, t0))

	p.SetWhitelisted("alice", false)
	err = p.Admit("alice", "VIP", 100, t0)
	require.Error(t, err)
	assert.Equal(t, RejectNotWhitelisted, KindOf(err))
}

func TestAdmit_LazyDailyRollover(t *testing.T) {
	configs := testConfigs()
	configs["USD"].MinAmountCents = 1
	configs["USD"].DailyCap = window.Of(1000)
	p := NewPolicy(configs)

	require.NoError(t, p.Admit("alice", "USD", 1000, t0))
	assert.Error(t, p.Admit("alice", "USD", 1, t0.Add(time.Hour)))

	// Past the day boundary the window resets before evaluation, even after
	// several idle days.
	later := t0.Add(72 * time.Hour)
	require.NoError(t, p.Admit("alice", "USD", 1000, later))
	assert.Equal(t, int64(1000), p.PayerSpent("alice", "USD", later))
}

func TestAdmit_CheckOrderShortCircuits(t *testing.T) {
	// An out-of-range amount against an unsupported currency reports the
	// currency first.
	p := NewPolicy(testConfigs())
	err := p.Admit("alice", "EUR", 1, t0)
	assert.Equal(t, RejectUnsupportedCurrency, KindOf(err))

	// An out-of-range amount short-circuits before cap checks even when caps
	// would also reject.
	configs := testConfigs()
	configs["USD"].DailyCap = window.Blocked()
	p = NewPolicy(configs)
	err = p.Admit("alice", "USD", 1, t0)
	assert.Equal(t, RejectAmountOutOfRange, KindOf(err))
}

func TestAdmit_RejectionMutatesNothing(t *testing.T) {
	configs := testConfigs()
	configs["USD"].MinAmountCents = 1
	configs["USD"].DailyCap = window.Of(1000)
	configs["USD"].GlobalDailyCap = window.Of(1500)
	p := NewPolicy(configs)

	require.NoError(t, p.Admit("alice", "USD", 800, t0))
	require.NoError(t, p.Admit("bob", "USD", 700, t0))

	// Rejected by global cap: neither payer nor global spend moves.
	err := p.Admit("alice", "USD", 100, t0)
	require.Error(t, err)
	assert.Equal(t, RejectGlobalDailyLimitExceeded, KindOf(err))
	assert.Equal(t, int64(800), p.PayerSpent("alice", "USD", t0))
	assert.Equal(t, int64(1500), p.GlobalSpent("USD", t0))
}

func TestAdmit_NegativeAmount(t *testing.T) {
	p := NewPolicy(testConfigs())
	err := p.Admit("alice", "USD", -1, t0)
	require.Error(t, err)
	assert.False(t, IsRejection(err))
}

func TestIsRejection(t *testing.T) {
	p := NewPolicy(testConfigs())
	err := p.Admit("alice", "XYZ", 100, t0)
	assert.True(t, IsRejection(err))
	assert.False(t, IsRejection(nil))
	assert.Equal(t, RejectionKind(""), KindOf(nil))
}
