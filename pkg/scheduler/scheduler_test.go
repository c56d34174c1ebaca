package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/store"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

// fakeCharger succeeds unless scripted to fail, and records every attempt.
type fakeCharger struct {
	mu       sync.Mutex
	failNext int
	failErr  error
	calls    []string
	seq      int
}

func (f *fakeCharger) ChargeSubscription(_ context.Context, sub *store.Subscription, plan *store.Plan) (*store.PaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sub.ID)
	f.seq++
	if f.failNext > 0 {
		f.failNext--
		err := f.failErr
		if err == nil {
			err = errors.New("transfer declined")
		}
		return nil, err
	}
	return &store.PaymentRecord{
		ID:             fmt.Sprintf("pay-%d", f.seq),
		SubscriptionID: sub.ID,
		Payer:          sub.Payer,
		Currency:       plan.Currency,
		GrossCents:     plan.PriceCents,
		Status:         store.PaymentSucceeded,
	}, nil
}

type fixture struct {
	sched   *Scheduler
	store   *store.MemoryStore
	charger *fakeCharger
	clk     *clockwork.FakeClock
	sink    *events.MemorySink
}

func newFixture(t *testing.T, opts *Options) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	charger := &fakeCharger{}
	clk := clock.NewFakeAt(t0)
	sink := events.NewMemorySink()
	sched := New(mem, mem, charger, &store.SequenceGenerator{Prefix: "id"}, clk, sink, nil, opts)

	require.NoError(t, mem.CreatePlan(context.Background(), &store.Plan{
		ID:         "plan-monthly",
		Name:       "Pro Monthly",
		Currency:   "USD",
		PriceCents: 2500,
		Cycle:      store.CycleMonthly,
		Active:     true,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}))
	return &fixture{sched: sched, store: mem, charger: charger, clk: clk, sink: sink}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)

	sub, err := f.sched.Subscribe(context.Background(), "plan-monthly", "alice", true)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, sub.Status)
	assert.Equal(t, t0, sub.StartAt)
	// Cycle of 2592000s puts the first charge exactly one cycle out.
	assert.Equal(t, t0.Add(2_592_000*time.Second), sub.NextBillingAt)
	assert.Len(t, f.sink.ByKind(events.KindSubscriptionCreated), 1)
}

func TestSubscribe_PlanGuards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.sched.Subscribe(ctx, "missing", "alice", true)
	assert.True(t, store.IsNotFound(err))

	require.NoError(t, f.store.CreatePlan(ctx, &store.Plan{
		ID: "plan-dead", Currency: "USD", PriceCents: 1, Cycle: store.CycleDaily, Active: false,
	}))
	_, err = f.sched.Subscribe(ctx, "plan-dead", "alice", true)
	assert.ErrorIs(t, err, ErrPlanInactive)

	require.NoError(t, f.store.CreatePlan(ctx, &store.Plan{
		ID: "plan-small", Currency: "USD", PriceCents: 1, Cycle: store.CycleDaily,
		Active: true, MaxSubscribers: 1,
	}))
	_, err = f.sched.Subscribe(ctx, "plan-small", "alice", true)
	require.NoError(t, err)
	_, err = f.sched.Subscribe(ctx, "plan-small", "bob", true)
	assert.ErrorIs(t, err, ErrPlanFull)

	// A cancellation frees the slot.
	subs, err := f.store.ListSubscriptionsByPayer(ctx, "alice")
	require.NoError(t, err)
	var small *store.Subscription
	for _, s := range subs {
		if s.PlanID == "plan-small" {
			small = s
		}
	}
	require.NotNil(t, small)
	_, err = f.sched.Cancel(ctx, small.ID)
	require.NoError(t, err)
	_, err = f.sched.Subscribe(ctx, "plan-small", "bob", true)
	assert.NoError(t, err)
}

func TestChargeDue_RenewalSchedule(t *testing.T) {
	// Subscribe at t=0 with a 30-day cycle: first charge due at 2592000.
	// Charging late (t=2600000) still advances to 5184000.
	f := newFixture(t, nil)
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)

	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotYetDue)

	f.clk.Advance(2_600_000 * time.Second)
	rec, err := f.sched.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentSucceeded, rec.Status)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, got.Status)
	assert.Equal(t, t0.Add(5_184_000*time.Second), got.NextBillingAt)
	assert.Zero(t, got.FailedPayments)
}

func TestChargeDue_MonotonicBilling(t *testing.T) {
	// After k successful charges, the next billing time is exactly
	// start + (k+1) cycles.
	f := newFixture(t, nil)
	ctx := context.Background()
	cycle := store.CycleMonthly.Duration()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)

	for k := 1; k <= 5; k++ {
		// Charge a little late every cycle.
		f.clk.Advance(cycle + 7*time.Hour)
		for {
			_, err := f.sched.ChargeDue(ctx, sub.ID)
			if errors.Is(err, ErrNotYetDue) {
				break
			}
			require.NoError(t, err)
		}
		got, err := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.True(t, got.NextBillingAt.After(f.clk.Now()))
		diff := got.NextBillingAt.Sub(sub.StartAt)
		assert.Zero(t, diff%cycle, "next billing time must stay a whole number of cycles from start")
	}
}

func TestChargeDue_NoAutoRenewExpires(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", false)
	require.NoError(t, err)

	f.clk.Advance(store.CycleMonthly.Duration())
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusExpired, got.Status)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, f.clk.Now(), *got.EndedAt)
	assert.Len(t, f.sink.ByKind(events.KindSubscriptionExpired), 1)

	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestChargeDue_FailureEscalation(t *testing.T) {
	// Three consecutive failures move the subscription to failed; a fourth
	// attempt is rejected as not active.
	f := newFixture(t, &Options{MaxFailedPayments: 3})
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)
	f.clk.Advance(store.CycleMonthly.Duration())
	f.charger.failNext = 4

	for i := 1; i <= 2; i++ {
		_, err = f.sched.ChargeDue(ctx, sub.ID)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrMaxFailuresReached))
		got, gerr := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, gerr)
		assert.Equal(t, store.StatusActive, got.Status)
		assert.Equal(t, i, got.FailedPayments)
	}

	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrMaxFailuresReached)

	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
	assert.Equal(t, 3, got.FailedPayments)

	// Terminal absorption.
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotActive)
	got, err = f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, got.Status)
}

func TestChargeDue_SuccessResetsFailures(t *testing.T) {
	f := newFixture(t, &Options{MaxFailedPayments: 3})
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)
	f.clk.Advance(store.CycleMonthly.Duration())

	f.charger.failNext = 2
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	require.Error(t, err)
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	require.Error(t, err)

	_, err = f.sched.ChargeDue(ctx, sub.ID)
	require.NoError(t, err)
	got, err := f.store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Zero(t, got.FailedPayments)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)

	f.clk.Advance(10 * 24 * time.Hour)
	paused, err := f.sched.Pause(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	_, err = f.sched.Pause(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotActive)

	// Resuming restarts the cycle clock from now; the 10 days already
	// elapsed are not credited.
	f.clk.Advance(5 * 24 * time.Hour)
	resumed, err := f.sched.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Equal(t, f.clk.Now().Add(store.CycleMonthly.Duration()), resumed.NextBillingAt)

	_, err = f.sched.Resume(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotPaused)
}

func TestCancel_Guards(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)

	cancelled, err := f.sched.Cancel(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.EndedAt)

	_, err = f.sched.Cancel(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestAdminResetFailures(t *testing.T) {
	f := newFixture(t, &Options{MaxFailedPayments: 1})
	ctx := context.Background()

	sub, err := f.sched.Subscribe(ctx, "plan-monthly", "alice", true)
	require.NoError(t, err)
	f.clk.Advance(store.CycleMonthly.Duration())
	f.charger.failNext = 1
	_, err = f.sched.ChargeDue(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrMaxFailuresReached)

	_, err = f.sched.AdminResetFailures(ctx, "missing")
	assert.True(t, store.IsNotFound(err))

	reset, err := f.sched.AdminResetFailures(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, reset.Status)
	assert.Zero(t, reset.FailedPayments)
	assert.Equal(t, f.clk.Now().Add(store.CycleMonthly.Duration()), reset.NextBillingAt)

	_, err = f.sched.AdminResetFailures(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrNotFailed)
}

func TestRunDue_BatchIndependence(t *testing.T) {
	f := newFixture(t, &Options{MaxFailedPayments: 5, BatchConcurrency: 4})
	ctx := context.Background()

	var subs []*store.Subscription
	for i := 0; i < 6; i++ {
		sub, err := f.sched.Subscribe(ctx, "plan-monthly", fmt.Sprintf("payer-%d", i), true)
		require.NoError(t, err)
		subs = append(subs, sub)
	}
	f.clk.Advance(store.CycleMonthly.Duration())

	// Two attempts in the batch fail; the other four must still succeed.
	f.charger.failNext = 2
	result, err := f.sched.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Due)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Len(t, result.Errors, 2)

	renewed := 0
	for _, sub := range subs {
		got, err := f.store.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, store.StatusActive, got.Status)
		if got.FailedPayments == 0 {
			renewed++
		}
	}
	assert.Equal(t, 4, renewed)
}

func TestLockTableDrains(t *testing.T) {
	// Per-subscription locks exist only while an operation is in flight;
	// long-running processes must not accumulate one mutex per subscription
	// ever touched.
	f := newFixture(t, nil)
	ctx := context.Background()

	var subs []*store.Subscription
	for i := 0; i < 8; i++ {
		sub, err := f.sched.Subscribe(ctx, "plan-monthly", fmt.Sprintf("payer-%d", i), true)
		require.NoError(t, err)
		subs = append(subs, sub)
	}

	_, err := f.sched.Pause(ctx, subs[0].ID)
	require.NoError(t, err)
	_, err = f.sched.Resume(ctx, subs[0].ID)
	require.NoError(t, err)

	f.clk.Advance(store.CycleMonthly.Duration())
	_, err = f.sched.ChargeDue(ctx, subs[1].ID)
	require.NoError(t, err)

	// Concurrent batch and per-id charges contend on the same locks.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.sched.RunDue(ctx)
	}()
	go func() {
		defer wg.Done()
		for _, sub := range subs {
			_, _ = f.sched.ChargeDue(ctx, sub.ID)
		}
	}()
	wg.Wait()

	f.sched.mu.Lock()
	defer f.sched.mu.Unlock()
	assert.Empty(t, f.sched.locks)
}

func TestRunDue_NothingDue(t *testing.T) {
	f := newFixture(t, nil)

	result, err := f.sched.RunDue(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Due)
	assert.Empty(t, f.charger.calls)
}
