package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testPlan(id string) *Plan {
	return &Plan{
		ID:         id,
		Name:       "Pro Monthly",
		Currency:   "USD",
		PriceCents: 2500,
		Cycle:      CycleMonthly,
		Active:     true,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}
}

func testSub(id, planID, payer string, next time.Time) *Subscription {
	return &Subscription{
		ID:            id,
		PlanID:        planID,
		Payer:         payer,
		Status:        StatusActive,
		AutoRenew:     true,
		StartAt:       t0,
		NextBillingAt: next,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func TestMemoryStore_Plans(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.CreatePlan(ctx, testPlan("plan-1")))

	got, err := m.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.PriceCents)

	// Mutating the returned copy never leaks back into the store.
	got.PriceCents = 9999
	again, err := m.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), again.PriceCents)

	_, err = m.GetPlan(ctx, "missing")
	assert.True(t, IsNotFound(err))

	got.PriceCents = 3000
	require.NoError(t, m.UpdatePlan(ctx, got))
	updated, err := m.GetPlan(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), updated.PriceCents)

	plans, err := m.ListPlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestMemoryStore_Subscriptions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreatePlan(ctx, testPlan("plan-1")))

	require.NoError(t, m.CreateSubscription(ctx, testSub("sub-1", "plan-1", "alice", t0.Add(time.Hour))))
	require.NoError(t, m.CreateSubscription(ctx, testSub("sub-2", "plan-1", "bob", t0.Add(2*time.Hour))))

	n, err := m.CountActiveSubscribers(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	sub, err := m.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	sub.Status = StatusCancelled
	now := t0.Add(time.Minute)
	sub.EndedAt = &now
	require.NoError(t, m.UpdateSubscription(ctx, sub))

	n, err = m.CountActiveSubscribers(ctx, "plan-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	byPayer, err := m.ListSubscriptionsByPayer(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, byPayer, 1)
	assert.Equal(t, "sub-2", byPayer[0].ID)
}

func TestMemoryStore_ListDue(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.CreateSubscription(ctx, testSub("sub-late", "p", "a", t0.Add(-time.Hour))))
	require.NoError(t, m.CreateSubscription(ctx, testSub("sub-now", "p", "b", t0)))
	require.NoError(t, m.CreateSubscription(ctx, testSub("sub-future", "p", "c", t0.Add(time.Hour))))

	paused := testSub("sub-paused", "p", "d", t0.Add(-time.Hour))
	paused.Status = StatusPaused
	require.NoError(t, m.CreateSubscription(ctx, paused))

	due, err := m.ListDue(ctx, t0, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "sub-late", due[0].ID)
	assert.Equal(t, "sub-now", due[1].ID)

	due, err = m.ListDue(ctx, t0, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestMemoryStore_Payments(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for i, payer := range []string{"alice", "bob", "alice"} {
		require.NoError(t, m.CreatePayment(ctx, &PaymentRecord{
			ID:             []string{"pay-1", "pay-2", "pay-3"}[i],
			SubscriptionID: "sub-1",
			Payer:          payer,
			Currency:       "USD",
			GrossCents:     1000,
			FeeCents:       25,
			NetCents:       975,
			Status:         PaymentSucceeded,
			CreatedAt:      t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec, err := m.GetPayment(ctx, "pay-2")
	require.NoError(t, err)
	assert.Equal(t, "bob", rec.Payer)

	// Newest first for payer listings.
	recs, err := m.ListPaymentsByPayer(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "pay-3", recs[0].ID)

	recs, err = m.ListPaymentsByPayer(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	bySub, err := m.ListPaymentsBySubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Len(t, bySub, 3)
}

func TestMemoryStore_RefundPayment(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	rec := &PaymentRecord{
		ID: "pay-1", SubscriptionID: "sub-1", Payer: "alice", Payee: "merchant",
		Currency: "USD", GrossCents: 10000, FeeCents: 250, NetCents: 9750,
		FeeCollector: "platform-fees", Status: PaymentSucceeded,
		IdempotencyKey: "key-1", CreatedAt: t0,
	}
	require.NoError(t, m.CreatePayment(ctx, rec))

	refundedAt := t0.Add(time.Hour)
	got, err := m.RefundPayment(ctx, "pay-1", refundedAt)
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, got.Status)
	require.NotNil(t, got.RefundedAt)
	assert.True(t, got.RefundedAt.Equal(refundedAt))

	// The flip touches exactly status and the refund timestamp; everything
	// else stays as written.
	want := *rec
	want.Status = PaymentRefunded
	want.RefundedAt = &refundedAt
	assert.Equal(t, &want, got)

	// Refunding twice fails; so does refunding a failed payment.
	_, err = m.RefundPayment(ctx, "pay-1", refundedAt)
	assert.True(t, IsNotRefundable(err))

	require.NoError(t, m.CreatePayment(ctx, &PaymentRecord{
		ID: "pay-2", Payer: "bob", Currency: "USD", GrossCents: 500,
		Status: PaymentFailed, Reason: "insufficient funds", CreatedAt: t0,
	}))
	_, err = m.RefundPayment(ctx, "pay-2", refundedAt)
	assert.True(t, IsNotRefundable(err))

	_, err = m.RefundPayment(ctx, "missing", refundedAt)
	assert.True(t, IsNotFound(err))

	// The returned copy does not alias store state.
	*got.RefundedAt = t0.Add(48 * time.Hour)
	again, err := m.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.True(t, again.RefundedAt.Equal(refundedAt))
}

func TestMemoryStore_PingClose(t *testing.T) {
	m := NewMemoryStore()
	assert.NoError(t, m.Ping(context.Background()))
	require.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
}

func TestSequenceGenerator(t *testing.T) {
	g := &SequenceGenerator{Prefix: "sub"}
	assert.Equal(t, "sub-1", g.NewID())
	assert.Equal(t, "sub-2", g.NewID())
}

func TestCachedPayments(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	c, err := NewCachedPayments(m, 8)
	require.NoError(t, err)

	rec := &PaymentRecord{ID: "pay-1", Payer: "alice", Currency: "USD", GrossCents: 100, Status: PaymentSucceeded, CreatedAt: t0}
	require.NoError(t, c.CreatePayment(ctx, rec))
	assert.Equal(t, 1, c.Len())

	got, err := c.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Payer)

	// A cached copy is a copy.
	got.Payer = "mallory"
	again, err := c.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Payer)

	_, err = c.GetPayment(ctx, "missing")
	assert.True(t, IsNotFound(err))

	// A refund refreshes the cached entry rather than serving the stale copy.
	refundedAt := t0.Add(time.Hour)
	_, err = c.RefundPayment(ctx, "pay-1", refundedAt)
	require.NoError(t, err)
	cached, err := c.GetPayment(ctx, "pay-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentRefunded, cached.Status)
	require.NotNil(t, cached.RefundedAt)
	assert.True(t, cached.RefundedAt.Equal(refundedAt))
}
