package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/store"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "platform", cfg.Billing.PlatformAccount)
	assert.Equal(t, 3, cfg.Billing.MaxFailedPayments)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_Env(t *testing.T) {
	t.Setenv("RATCHET_PORT", "8181")
	t.Setenv("RATCHET_STORE_TYPE", "sqlite")
	t.Setenv("RATCHET_SQLITE_PATH", "/tmp/test.db")
	t.Setenv("RATCHET_LOG_LEVEL", "debug")
	t.Setenv("RATCHET_READ_TIMEOUT", "5s")
	t.Setenv("RATCHET_MAX_FAILED_PAYMENTS", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "/tmp/test.db", cfg.Store.SQLitePath)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5, cfg.Billing.MaxFailedPayments)
}

func TestLoadConfig_AccessGrants(t *testing.T) {
	t.Setenv("RATCHET_ADMINS", "root, ops-team")
	t.Setenv("RATCHET_OPERATORS", "billing-job")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"root", "ops-team"}, cfg.Access.Admins)
	assert.Equal(t, []string{"billing-job"}, cfg.Access.Operators)
	assert.Empty(t, cfg.Access.Subscribers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("RATCHET_STORE_TYPE", "cassandra")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("RATCHET_STORE_TYPE", "postgres")
	t.Setenv("RATCHET_POSTGRES_URL", "")
	_, err = LoadConfig()
	assert.Error(t, err)

	t.Setenv("RATCHET_STORE_TYPE", "memory")
	t.Setenv("RATCHET_HEALTH_PORT", "8080")
	_, err = LoadConfig()
	assert.Error(t, err)
}

const testCatalog = `
currencies:
  USD:
    supported: true
    min_amount_cents: 100
    max_amount_cents: 1000000
    daily_cap: 100000
    global_daily_cap: unlimited
    fee_bps: 250
    fee_collector: platform-fees
  FRZ:
    supported: true
    daily_cap: blocked
plans:
  pro-monthly:
    name: Pro Monthly
    currency: USD
    price_cents: 2500
    cycle: monthly
    max_subscribers: 100
    active: true
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(writeCatalog(t, testCatalog), nil)
	require.NoError(t, err)

	usd, ok := cat.CurrencyConfig("USD")
	require.True(t, ok)
	assert.True(t, usd.Supported)
	assert.Equal(t, int64(250), usd.FeeBps)
	limit, bounded := usd.DailyCap.Value()
	assert.True(t, bounded)
	assert.Equal(t, int64(100000), limit)
	assert.True(t, usd.GlobalDailyCap.IsUnlimited())

	frz, ok := cat.CurrencyConfig("FRZ")
	require.True(t, ok)
	assert.False(t, frz.DailyCap.Admits(0, 1))

	_, ok = cat.CurrencyConfig("EUR")
	assert.False(t, ok)

	plans := cat.Plans()
	require.Contains(t, plans, "pro-monthly")
	assert.Equal(t, store.CycleMonthly, plans["pro-monthly"].Cycle)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	_, err := LoadCatalog(writeCatalog(t, "currencies: {USD: {fee_bps: 20000}}"), nil)
	assert.Error(t, err)

	_, err = LoadCatalog(writeCatalog(t, `
currencies:
  USD: {supported: true}
plans:
  p: {currency: USD, cycle: fortnightly, price_cents: 1}
`), nil)
	assert.Error(t, err)

	_, err = LoadCatalog(writeCatalog(t, `
currencies:
  USD: {supported: true}
plans:
  p: {currency: EUR, cycle: monthly, price_cents: 1}
`), nil)
	assert.Error(t, err)

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestCatalog_SeedPlans(t *testing.T) {
	cat, err := LoadCatalog(writeCatalog(t, testCatalog), nil)
	require.NoError(t, err)

	mem := store.NewMemoryStore()
	clk := clock.NewFakeAt(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, cat.SeedPlans(context.Background(), mem, clk))

	plan, err := mem.GetPlan(context.Background(), "pro-monthly")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), plan.PriceCents)
	created := plan.CreatedAt

	// Reseeding updates without resetting creation time.
	clk.Advance(time.Hour)
	require.NoError(t, cat.SeedPlans(context.Background(), mem, clk))
	plan, err = mem.GetPlan(context.Background(), "pro-monthly")
	require.NoError(t, err)
	assert.Equal(t, created, plan.CreatedAt)
}

func TestCatalog_WatchReload(t *testing.T) {
	path := writeCatalog(t, testCatalog)
	cat, err := LoadCatalog(path, nil)
	require.NoError(t, err)
	require.NoError(t, cat.Watch())
	defer cat.Close()

	updated := `
currencies:
  USD:
    supported: true
    fee_bps: 250
  EUR:
    supported: true
    daily_cap: unlimited
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		_, ok := cat.CurrencyConfig("EUR")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// A broken rewrite keeps the previous catalog.
	require.NoError(t, os.WriteFile(path, []byte("currencies: {USD: {fee_bps: 99999}}"), 0o644))
	time.Sleep(200 * time.Millisecond)
	_, ok := cat.CurrencyConfig("EUR")
	assert.True(t, ok)
}
