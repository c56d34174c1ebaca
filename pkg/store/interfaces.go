// Package store persists plans, subscriptions and payment records.
//
// Three backends share one contract: an in-memory store for tests and local
// runs, and a SQL store speaking either PostgreSQL or SQLite. All methods
// are safe for concurrent use; serialization of state transitions on a
// single subscription is the caller's job.
package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// PlanStore persists subscription plans
type PlanStore interface {
	CreatePlan(ctx context.Context, plan *Plan) error
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]*Plan, error)
	UpdatePlan(ctx context.Context, plan *Plan) error

	// CountActiveSubscribers returns the number of non-terminal
	// subscriptions on a plan.
	CountActiveSubscribers(ctx context.Context, planID string) (int64, error)
}

// SubscriptionStore persists subscriptions
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *Subscription) error
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, sub *Subscription) error
	ListSubscriptionsByPayer(ctx context.Context, payer string) ([]*Subscription, error)

	// ListDue returns active subscriptions with NextBillingAt <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
}

// PaymentStore persists payment records
type PaymentStore interface {
	CreatePayment(ctx context.Context, rec *PaymentRecord) error
	GetPayment(ctx context.Context, id string) (*PaymentRecord, error)
	ListPaymentsByPayer(ctx context.Context, payer string, limit int) ([]*PaymentRecord, error)
	ListPaymentsBySubscription(ctx context.Context, subscriptionID string) ([]*PaymentRecord, error)

	// RefundPayment flips a succeeded payment to refunded and stamps
	// RefundedAt; every other field stays as written. Returns
	// NotRefundableError if the payment is not in the succeeded state.
	RefundPayment(ctx context.Context, id string, now time.Time) (*PaymentRecord, error)
}

// Store aggregates all persistence concerns behind one handle
type Store interface {
	PlanStore
	SubscriptionStore
	PaymentStore

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// IDGenerator mints identifiers for new records
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator mints random UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// SequenceGenerator mints deterministic prefixed IDs for tests.
type SequenceGenerator struct {
	Prefix string
	n      atomic.Int64
}

// NewID implements IDGenerator.
func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}
