package api

import (
	"time"

	"github.com/platinummonkey/ratchet/pkg/store"
)

// SubscribeRequest enrolls a payer in a plan.
type SubscribeRequest struct {
	PlanID    string `json:"plan_id"`
	Payer     string `json:"payer"`
	AutoRenew bool   `json:"auto_renew"`
}

// ChargeRequest is a direct one-off charge.
type ChargeRequest struct {
	Payer       string `json:"payer"`
	Payee       string `json:"payee"`
	Currency    string `json:"currency"`
	AmountCents int64  `json:"amount_cents"`
}

// AuthorizedChargeRequest is a charge approved by a detached signature.
// Binary fields are hex encoded.
type AuthorizedChargeRequest struct {
	ChargeRequest
	Message        string   `json:"message"`
	Signature      string   `json:"signature"`
	PublicKey      string   `json:"public_key"`
	AllowlistProof []string `json:"allowlist_proof,omitempty"`
}

// WhitelistRequest sets a payer's whitelist membership.
type WhitelistRequest struct {
	Payer       string `json:"payer"`
	Whitelisted bool   `json:"whitelisted"`
}

// AllowlistRootRequest publishes a hex-encoded allowlist merkle root.
type AllowlistRootRequest struct {
	Root string `json:"root"`
}

// GrantRequest grants or revokes a capability.
type GrantRequest struct {
	Identity   string `json:"identity"`
	Capability string `json:"capability"`
}

// PlanResponse is the wire form of a plan.
type PlanResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Currency       string    `json:"currency"`
	PriceCents     int64     `json:"price_cents"`
	Cycle          string    `json:"cycle"`
	MaxSubscribers int64     `json:"max_subscribers,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
}

func toPlanResponse(p *store.Plan) PlanResponse {
	return PlanResponse{
		ID:             p.ID,
		Name:           p.Name,
		Currency:       p.Currency,
		PriceCents:     p.PriceCents,
		Cycle:          string(p.Cycle),
		MaxSubscribers: p.MaxSubscribers,
		Active:         p.Active,
		CreatedAt:      p.CreatedAt,
	}
}

// SubscriptionResponse is the wire form of a subscription.
type SubscriptionResponse struct {
	ID             string     `json:"id"`
	PlanID         string     `json:"plan_id"`
	Payer          string     `json:"payer"`
	Status         string     `json:"status"`
	AutoRenew      bool       `json:"auto_renew"`
	StartAt        time.Time  `json:"start_at"`
	NextBillingAt  time.Time  `json:"next_billing_at"`
	FailedPayments int        `json:"failed_payments"`
	PausedAt       *time.Time `json:"paused_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

func toSubscriptionResponse(s *store.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:             s.ID,
		PlanID:         s.PlanID,
		Payer:          s.Payer,
		Status:         string(s.Status),
		AutoRenew:      s.AutoRenew,
		StartAt:        s.StartAt,
		NextBillingAt:  s.NextBillingAt,
		FailedPayments: s.FailedPayments,
		PausedAt:       s.PausedAt,
		EndedAt:        s.EndedAt,
	}
}

// PaymentResponse is the wire form of a payment record.
type PaymentResponse struct {
	ID              string     `json:"id"`
	SubscriptionID  string     `json:"subscription_id,omitempty"`
	Payer           string     `json:"payer"`
	Payee           string     `json:"payee"`
	Currency        string     `json:"currency"`
	GrossCents      int64      `json:"gross_cents"`
	FeeCents        int64      `json:"fee_cents"`
	NetCents        int64      `json:"net_cents"`
	FeeCollector    string     `json:"fee_collector,omitempty"`
	Status          string     `json:"status"`
	Reason          string     `json:"reason,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	CorrelationHash string     `json:"correlation_hash,omitempty"`
	RefundedAt      *time.Time `json:"refunded_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toPaymentResponse(p *store.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		SubscriptionID:  p.SubscriptionID,
		Payer:           p.Payer,
		Payee:           p.Payee,
		Currency:        p.Currency,
		GrossCents:      p.GrossCents,
		FeeCents:        p.FeeCents,
		NetCents:        p.NetCents,
		FeeCollector:    p.FeeCollector,
		Status:          string(p.Status),
		Reason:          p.Reason,
		IdempotencyKey:  p.IdempotencyKey,
		CorrelationHash: p.CorrelationHash,
		RefundedAt:      p.RefundedAt,
		CreatedAt:       p.CreatedAt,
	}
}

func toPaymentResponses(recs []*store.PaymentRecord) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPaymentResponse(rec))
	}
	return out
}

// UsageResponse reports a payer's spend in the current daily window.
type UsageResponse struct {
	Payer            string `json:"payer"`
	Currency         string `json:"currency"`
	PayerSpentCents  int64  `json:"payer_spent_cents"`
	GlobalSpentCents int64  `json:"global_spent_cents"`
}

// BatchResponse summarizes a batch billing run.
type BatchResponse struct {
	Due       int               `json:"due"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}
