// Package engine executes charges: policy admission, fee split, ledger
// transfer and durable payment records.
//
// The engine is the only component that talks to the ledger. Policy
// rejections stop a charge before any money moves and leave no payment
// record; attempts that reach the ledger are recorded whether the transfer
// succeeds or fails. Every attempt carries a fresh idempotency key because
// the ledger guarantees none.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/fees"
	"github.com/platinummonkey/ratchet/pkg/ledger"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/quota"
	"github.com/platinummonkey/ratchet/pkg/signature"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// Engine coordinates one charge end to end.
type Engine struct {
	policy   *quota.Policy
	configs  quota.ConfigSource
	ledger   ledger.Ledger
	payments store.PaymentStore
	ids      store.IDGenerator
	clk      clock.Clock
	sink     events.Sink
	metrics  *observability.Metrics

	// platformAccount receives subscription charges.
	platformAccount string
	// allowlistRoot, when set, lets payers satisfy whitelist-only currencies
	// with a merkle inclusion proof instead of a prior whitelist entry.
	allowlistRoot [32]byte
	hasAllowlist  bool
}

// Config wires an Engine.
type Config struct {
	Policy          *quota.Policy
	Configs         quota.ConfigSource
	Ledger          ledger.Ledger
	Payments        store.PaymentStore
	IDs             store.IDGenerator
	Clock           clock.Clock
	Sink            events.Sink
	Metrics         *observability.Metrics
	PlatformAccount string
}

// New creates an Engine.
func New(cfg Config) *Engine {
	sink := cfg.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Engine{
		policy:          cfg.Policy,
		configs:         cfg.Configs,
		ledger:          cfg.Ledger,
		payments:        cfg.Payments,
		ids:             cfg.IDs,
		clk:             cfg.Clock,
		sink:            sink,
		metrics:         cfg.Metrics,
		platformAccount: cfg.PlatformAccount,
	}
}

// SetAllowlistRoot publishes the merkle root payers can prove membership
// against for whitelist-only currencies.
func (e *Engine) SetAllowlistRoot(root [32]byte) {
	e.allowlistRoot = root
	e.hasAllowlist = true
}

// Fee ceilings per charge kind. Subscription charges tolerate a higher
// platform fee than one-off payments.
const (
	subscriptionFeeCeilingBps = 1000
	paymentFeeCeilingBps      = 500
)

// ChargeRequest describes one proposed charge.
type ChargeRequest struct {
	Payer          string
	Payee          string
	Currency       string
	AmountCents    int64
	SubscriptionID string
	// IdempotencyKey is minted fresh when empty. Reusing a key across
	// attempts is the caller's responsibility to avoid.
	IdempotencyKey  string
	correlationHash string
	feeCeilingBps   int64
}

// Charge runs the full pipeline: admission, fee split, transfer, record.
// A policy rejection returns the typed rejection error and writes nothing.
// A ledger failure returns a TransferFailedError alongside the failed
// payment record.
func (e *Engine) Charge(ctx context.Context, req ChargeRequest) (*store.PaymentRecord, error) {
	now := e.clk.Now()

	ceiling := req.feeCeilingBps
	if ceiling == 0 {
		ceiling = paymentFeeCeilingBps
	}
	// A currency priced past the ceiling is an operator mistake; catch it
	// before admission so the bad config consumes no quota. An unknown
	// currency falls through to Admit for the typed rejection.
	if cfg, ok := e.configs.CurrencyConfig(req.Currency); ok {
		if err := fees.ValidateBps(cfg.FeeBps, ceiling); err != nil {
			return nil, fmt.Errorf("currency %q misconfigured: %w", req.Currency, err)
		}
	}

	if err := e.policy.Admit(req.Payer, req.Currency, req.AmountCents, now); err != nil {
		if quota.IsRejection(err) {
			e.metrics.ObserveCharge(req.Currency, "rejected", req.AmountCents)
			e.metrics.ObserveRejection(req.Currency, string(quota.KindOf(err)))
			e.emitCharge(ctx, events.KindChargeRejected, events.StatusDenied, req, "", err.Error())
		}
		return nil, err
	}

	cfg, ok := e.configs.CurrencyConfig(req.Currency)
	if !ok {
		// Admit already vetted the currency; a vanished config means the
		// source changed mid-flight.
		return nil, fmt.Errorf("currency config for %q disappeared", req.Currency)
	}
	split, err := fees.Compute(req.AmountCents, cfg.FeeBps)
	if err != nil {
		return nil, fmt.Errorf("failed to split fee: %w", err)
	}

	key := req.IdempotencyKey
	if key == "" {
		key = e.ids.NewID()
	}

	rec := &store.PaymentRecord{
		ID:              e.ids.NewID(),
		SubscriptionID:  req.SubscriptionID,
		Payer:           req.Payer,
		Payee:           req.Payee,
		Currency:        req.Currency,
		GrossCents:      req.AmountCents,
		FeeCents:        split.FeeCents,
		NetCents:        split.NetCents,
		FeeCollector:    cfg.FeeCollector,
		IdempotencyKey:  key,
		CorrelationHash: req.correlationHash,
		CreatedAt:       now,
	}

	result := e.ledger.Transfer(ctx, ledger.Transfer{
		From:           req.Payer,
		To:             req.Payee,
		Currency:       req.Currency,
		AmountCents:    req.AmountCents,
		IdempotencyKey: key,
	})
	if !result.OK {
		rec.Status = store.PaymentFailed
		rec.Reason = result.Reason
		if err := e.payments.CreatePayment(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to record payment: %w", err)
		}
		e.metrics.ObserveCharge(req.Currency, "failed", req.AmountCents)
		e.emitCharge(ctx, events.KindChargeFailed, events.StatusFailure, req, rec.ID, result.Reason)
		return rec, &ledger.TransferFailedError{
			Transfer: ledger.Transfer{From: req.Payer, To: req.Payee, Currency: req.Currency, AmountCents: req.AmountCents, IdempotencyKey: key},
			Reason:   result.Reason,
		}
	}

	rec.Status = store.PaymentSucceeded
	if err := e.payments.CreatePayment(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}
	e.metrics.ObserveCharge(req.Currency, "accepted", req.AmountCents)
	e.metrics.ObserveFee(req.Currency, split.FeeCents)
	e.emitCharge(ctx, events.KindChargeAccepted, events.StatusSuccess, req, rec.ID, "charge accepted")
	return rec, nil
}

// Authorization is a detached approval for a charge.
type Authorization struct {
	// Message is the signed payload. Its exact layout is between signer and
	// verifier; the engine only checks the signature and correlates it.
	Message   []byte
	Signature []byte
	PublicKey []byte
	// AllowlistProof optionally proves the payer's membership in the
	// published allowlist for whitelist-only currencies.
	AllowlistProof [][32]byte
}

// ChargeWithAuthorization verifies the authorization, then charges. The
// resulting payment record carries a correlation hash tying it to the
// authorization inputs. A valid allowlist proof whitelists the payer before
// admission.
func (e *Engine) ChargeWithAuthorization(ctx context.Context, req ChargeRequest, auth Authorization) (*store.PaymentRecord, error) {
	identity, err := signature.Verify(auth.Message, auth.Signature, auth.PublicKey)
	if err != nil {
		e.emitCharge(ctx, events.KindChargeRejected, events.StatusDenied, req, "", err.Error())
		return nil, err
	}

	if len(auth.AllowlistProof) > 0 && e.hasAllowlist {
		if signature.MerkleVerify(auth.AllowlistProof, e.allowlistRoot, signature.Leaf([]byte(req.Payer))) {
			e.policy.SetWhitelisted(req.Payer, true)
		}
	}

	key := req.IdempotencyKey
	if key == "" {
		key = e.ids.NewID()
		req.IdempotencyKey = key
	}
	req.correlationHash = CorrelationHash(req.Payer, req.Currency, req.AmountCents, key)

	rec, err := e.Charge(ctx, req)
	if rec != nil {
		e.emitAuthUse(ctx, req, identity, rec.ID)
	}
	return rec, err
}

// ChargeSubscription implements the scheduler's Charger: one plan-priced
// charge from the subscription's payer to the platform account, under a
// fresh idempotency key.
func (e *Engine) ChargeSubscription(ctx context.Context, sub *store.Subscription, plan *store.Plan) (*store.PaymentRecord, error) {
	return e.Charge(ctx, ChargeRequest{
		Payer:          sub.Payer,
		Payee:          e.platformAccount,
		Currency:       plan.Currency,
		AmountCents:    plan.PriceCents,
		SubscriptionID: sub.ID,
		feeCeilingBps:  subscriptionFeeCeilingBps,
	})
}

// Refund flips a succeeded payment record to refunded. The record itself is
// otherwise immutable; reversing the money movement is the operator's job
// through the ledger, not the engine's.
func (e *Engine) Refund(ctx context.Context, paymentID string) (*store.PaymentRecord, error) {
	rec, err := e.payments.RefundPayment(ctx, paymentID, e.clk.Now())
	if err != nil {
		return nil, err
	}
	_ = e.sink.Emit(ctx, events.Event{
		ID:             e.ids.NewID(),
		Kind:           events.KindPaymentRefunded,
		Status:         events.StatusSuccess,
		Timestamp:      e.clk.Now(),
		Payer:          rec.Payer,
		Currency:       rec.Currency,
		AmountCents:    rec.GrossCents,
		SubscriptionID: rec.SubscriptionID,
		PaymentID:      rec.ID,
		Message:        "payment refunded",
	})
	return rec, nil
}

// CorrelationHash derives the stable digest linking a payment record to the
// authorization that approved it.
func CorrelationHash(payer, currency string, amountCents int64, idempotencyKey string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s", payer, currency, amountCents, idempotencyKey)
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) emitCharge(ctx context.Context, kind events.Kind, status events.Status, req ChargeRequest, paymentID, msg string) {
	_ = e.sink.Emit(ctx, events.Event{
		ID:             e.ids.NewID(),
		Kind:           kind,
		Status:         status,
		Timestamp:      e.clk.Now(),
		Payer:          req.Payer,
		Currency:       req.Currency,
		AmountCents:    req.AmountCents,
		SubscriptionID: req.SubscriptionID,
		PaymentID:      paymentID,
		Message:        msg,
	})
}

func (e *Engine) emitAuthUse(ctx context.Context, req ChargeRequest, identity, paymentID string) {
	_ = e.sink.Emit(ctx, events.Event{
		ID:        e.ids.NewID(),
		Kind:      events.KindAuthorizationUsed,
		Status:    events.StatusSuccess,
		Timestamp: e.clk.Now(),
		Payer:     req.Payer,
		Currency:  req.Currency,
		Actor:     identity,
		PaymentID: paymentID,
		Message:   "authorized charge",
	})
}
