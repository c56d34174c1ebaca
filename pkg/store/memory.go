package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu            sync.RWMutex
	plans         map[string]*Plan
	subscriptions map[string]*Subscription
	payments      map[string]*PaymentRecord
	paymentOrder  []string
	closed        bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:         make(map[string]*Plan),
		subscriptions: make(map[string]*Subscription),
		payments:      make(map[string]*PaymentRecord),
	}
}

func copyPlan(p *Plan) *Plan {
	cp := *p
	return &cp
}

func copySubscription(s *Subscription) *Subscription {
	cp := *s
	if s.PausedAt != nil {
		t := *s.PausedAt
		cp.PausedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}

func copyPayment(r *PaymentRecord) *PaymentRecord {
	cp := *r
	if r.RefundedAt != nil {
		t := *r.RefundedAt
		cp.RefundedAt = &t
	}
	return &cp
}

// CreatePlan implements PlanStore.
func (m *MemoryStore) CreatePlan(_ context.Context, plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = copyPlan(plan)
	return nil
}

// GetPlan implements PlanStore.
func (m *MemoryStore) GetPlan(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, &NotFoundError{Kind: "plan", ID: id}
	}
	return copyPlan(p), nil
}

// ListPlans implements PlanStore.
func (m *MemoryStore) ListPlans(_ context.Context) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Plan, 0, len(m.plans))
	for _, p := range m.plans {
		out = append(out, copyPlan(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdatePlan implements PlanStore.
func (m *MemoryStore) UpdatePlan(_ context.Context, plan *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[plan.ID]; !ok {
		return &NotFoundError{Kind: "plan", ID: plan.ID}
	}
	m.plans[plan.ID] = copyPlan(plan)
	return nil
}

// CountActiveSubscribers implements PlanStore.
func (m *MemoryStore) CountActiveSubscribers(_ context.Context, planID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, s := range m.subscriptions {
		if s.PlanID == planID && !s.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// CreateSubscription implements SubscriptionStore.
func (m *MemoryStore) CreateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

// GetSubscription implements SubscriptionStore.
func (m *MemoryStore) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscriptions[id]
	if !ok {
		return nil, &NotFoundError{Kind: "subscription", ID: id}
	}
	return copySubscription(s), nil
}

// UpdateSubscription implements SubscriptionStore.
func (m *MemoryStore) UpdateSubscription(_ context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[sub.ID]; !ok {
		return &NotFoundError{Kind: "subscription", ID: sub.ID}
	}
	m.subscriptions[sub.ID] = copySubscription(sub)
	return nil
}

// ListSubscriptionsByPayer implements SubscriptionStore.
func (m *MemoryStore) ListSubscriptionsByPayer(_ context.Context, payer string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.Payer == payer {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDue implements SubscriptionStore.
func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Subscription
	for _, s := range m.subscriptions {
		if s.Status == StatusActive && !s.NextBillingAt.After(now) {
			out = append(out, copySubscription(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextBillingAt.Equal(out[j].NextBillingAt) {
			return out[i].NextBillingAt.Before(out[j].NextBillingAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreatePayment implements PaymentStore.
func (m *MemoryStore) CreatePayment(_ context.Context, rec *PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[rec.ID] = copyPayment(rec)
	m.paymentOrder = append(m.paymentOrder, rec.ID)
	return nil
}

// GetPayment implements PaymentStore.
func (m *MemoryStore) GetPayment(_ context.Context, id string) (*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.payments[id]
	if !ok {
		return nil, &NotFoundError{Kind: "payment", ID: id}
	}
	return copyPayment(r), nil
}

// ListPaymentsByPayer implements PaymentStore. Records come back newest
// first.
func (m *MemoryStore) ListPaymentsByPayer(_ context.Context, payer string, limit int) ([]*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PaymentRecord
	for i := len(m.paymentOrder) - 1; i >= 0; i-- {
		r := m.payments[m.paymentOrder[i]]
		if r.Payer != payer {
			continue
		}
		out = append(out, copyPayment(r))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListPaymentsBySubscription implements PaymentStore.
func (m *MemoryStore) ListPaymentsBySubscription(_ context.Context, subscriptionID string) ([]*PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PaymentRecord
	for _, id := range m.paymentOrder {
		r := m.payments[id]
		if r.SubscriptionID == subscriptionID {
			out = append(out, copyPayment(r))
		}
	}
	return out, nil
}

// RefundPayment implements PaymentStore.
func (m *MemoryStore) RefundPayment(_ context.Context, id string, now time.Time) (*PaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.payments[id]
	if !ok {
		return nil, &NotFoundError{Kind: "payment", ID: id}
	}
	if r.Status != PaymentSucceeded {
		return nil, &NotRefundableError{ID: id, Status: r.Status}
	}
	r.Status = PaymentRefunded
	r.RefundedAt = &now
	return copyPayment(r), nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
