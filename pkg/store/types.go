package store

import (
	"fmt"
	"time"
)

// Cycle represents the billing cycle length of a plan
type Cycle string

const (
	CycleDaily     Cycle = "daily"
	CycleWeekly    Cycle = "weekly"
	CycleMonthly   Cycle = "monthly"
	CycleQuarterly Cycle = "quarterly"
	CycleYearly    Cycle = "yearly"
)

// cycleSeconds fixes each cycle to a flat number of seconds. Months are 30
// days and years 365 days; there is no calendar arithmetic, so renewal
// timestamps stay exactly k cycles after the subscription start.
var cycleSeconds = map[Cycle]int64{
	CycleDaily:     86_400,
	CycleWeekly:    604_800,
	CycleMonthly:   2_592_000,
	CycleQuarterly: 7_776_000,
	CycleYearly:    31_536_000,
}

// Duration returns the fixed length of the cycle.
func (c Cycle) Duration() time.Duration {
	return time.Duration(cycleSeconds[c]) * time.Second
}

// Valid reports whether c is a known cycle.
func (c Cycle) Valid() bool {
	_, ok := cycleSeconds[c]
	return ok
}

// Status represents the lifecycle state of a subscription
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is absorbing. A terminal subscription
// never transitions again except by explicit admin reset out of failed.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired || s == StatusFailed
}

// Plan is a subscription product
type Plan struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Currency   string    `json:"currency"`
	PriceCents int64     `json:"price_cents"`
	Cycle      Cycle     `json:"cycle"`
	// MaxSubscribers caps concurrent subscriptions on the plan; zero means
	// unlimited. Enforced at subscribe time only.
	MaxSubscribers int64     `json:"max_subscribers"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscription is one payer's enrollment in a plan
type Subscription struct {
	ID     string `json:"id"`
	PlanID string `json:"plan_id"`
	Payer  string `json:"payer"`
	Status Status `json:"status"`
	// AutoRenew controls whether a successful charge schedules the next
	// cycle or expires the subscription.
	AutoRenew bool      `json:"auto_renew"`
	StartAt   time.Time `json:"start_at"`
	// NextBillingAt advances additively by whole cycles from StartAt, so
	// charging late never drifts the schedule.
	NextBillingAt  time.Time  `json:"next_billing_at"`
	FailedPayments int        `json:"failed_payments"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// PaymentStatus represents the outcome of a payment attempt
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// PaymentRecord is the durable record of one charge attempt that reached the
// ledger. Policy rejections never create payment records. A record is
// immutable once written except for the refund flip, which moves a succeeded
// payment to refunded and stamps RefundedAt.
type PaymentRecord struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id,omitempty"`
	Payer          string        `json:"payer"`
	Payee          string        `json:"payee"`
	Currency       string        `json:"currency"`
	GrossCents     int64         `json:"gross_cents"`
	FeeCents       int64         `json:"fee_cents"`
	NetCents       int64         `json:"net_cents"`
	// FeeCollector is the account the fee portion is owed to; settlement of
	// the split happens out of band from the gross transfer.
	FeeCollector   string        `json:"fee_collector,omitempty"`
	Status         PaymentStatus `json:"status"`
	Reason         string        `json:"reason,omitempty"`
	IdempotencyKey string        `json:"idempotency_key"`
	// CorrelationHash ties the record to the authorization payload that
	// approved it, when one was used.
	CorrelationHash string     `json:"correlation_hash,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NotFoundError reports a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// IsNotFound checks if an error is a missing-record error.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// NotRefundableError reports a refund attempted on a payment that is not in
// the succeeded state.
type NotRefundableError struct {
	ID     string
	Status PaymentStatus
}

func (e *NotRefundableError) Error() string {
	return fmt.Sprintf("payment %q is %s and cannot be refunded", e.ID, e.Status)
}

// IsNotRefundable checks if an error is a refund-precondition error.
func IsNotRefundable(err error) bool {
	_, ok := err.(*NotRefundableError)
	return ok
}
