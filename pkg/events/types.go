package events

import (
	"encoding/json"
	"time"
)

// Kind represents the category of billing event
type Kind string

const (
	// Charge lifecycle events
	KindChargeAccepted  Kind = "charge.accepted"
	KindChargeRejected  Kind = "charge.rejected"
	KindChargeFailed    Kind = "charge.failed"
	KindPaymentRefunded Kind = "payment.refunded"

	// Subscription lifecycle events
	KindSubscriptionCreated   Kind = "subscription.created"
	KindSubscriptionRenewed   Kind = "subscription.renewed"
	KindSubscriptionPaused    Kind = "subscription.paused"
	KindSubscriptionResumed   Kind = "subscription.resumed"
	KindSubscriptionCancelled Kind = "subscription.cancelled"
	KindSubscriptionExpired   Kind = "subscription.expired"
	KindSubscriptionFailed    Kind = "subscription.failed"

	// Policy administration events
	KindConfigUpdated     Kind = "config.updated"
	KindWhitelistUpdated  Kind = "whitelist.updated"
	KindFailuresReset     Kind = "admin.failures_reset"
	KindAccessDenied      Kind = "access.denied"
	KindAuthorizationUsed Kind = "authorization.used"
	KindBatchRunCompleted Kind = "batch.run_completed"
)

// Status represents the outcome recorded on an event
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusDenied  Status = "denied"
)

// Event is one emitted billing event. Events are advisory: emission never
// blocks or fails the operation that produced them.
type Event struct {
	ID             string          `json:"id"`
	Kind           Kind            `json:"kind"`
	Status         Status          `json:"status"`
	Timestamp      time.Time       `json:"timestamp"`
	Payer          string          `json:"payer,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	AmountCents    int64           `json:"amount_cents,omitempty"`
	SubscriptionID string          `json:"subscription_id,omitempty"`
	PaymentID      string          `json:"payment_id,omitempty"`
	Actor          string          `json:"actor,omitempty"`
	Message        string          `json:"message,omitempty"`
	Details        json.RawMessage `json:"details,omitempty"`
}

// WithDetails attaches a JSON-marshalable payload to the event. Marshal
// failures drop the details rather than failing the event.
func (e Event) WithDetails(v interface{}) Event {
	if data, err := json.Marshal(v); err == nil {
		e.Details = data
	}
	return e
}
