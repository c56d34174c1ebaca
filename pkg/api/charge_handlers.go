package api

import (
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/engine"
	"github.com/platinummonkey/ratchet/pkg/httputil"
)

// Charge performs a direct one-off charge.
func (s *Server) Charge(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapOperator) {
		return
	}
	var req ChargeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !validChargeRequest(w, &req) {
		return
	}

	rec, err := s.engine.Charge(r.Context(), engine.ChargeRequest{
		Payer:       req.Payer,
		Payee:       req.Payee,
		Currency:    req.Currency,
		AmountCents: req.AmountCents,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, toPaymentResponse(rec))
}

// AuthorizedCharge performs a charge approved by a detached signature. A
// valid allowlist proof admits the payer to whitelist-only currencies.
func (s *Server) AuthorizedCharge(w http.ResponseWriter, r *http.Request) {
	var req AuthorizedChargeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !validChargeRequest(w, &req.ChargeRequest) {
		return
	}

	auth, err := decodeAuthorization(&req)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	rec, err := s.engine.ChargeWithAuthorization(r.Context(), engine.ChargeRequest{
		Payer:       req.Payer,
		Payee:       req.Payee,
		Currency:    req.Currency,
		AmountCents: req.AmountCents,
	}, auth)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, toPaymentResponse(rec))
}

func validChargeRequest(w http.ResponseWriter, req *ChargeRequest) bool {
	return httputil.RequireNonEmpty(w, req.Payer, "payer") &&
		httputil.RequireNonEmpty(w, req.Payee, "payee") &&
		httputil.RequireNonEmpty(w, req.Currency, "currency") &&
		httputil.RequirePositive(w, req.AmountCents, "amount_cents")
}

func decodeAuthorization(req *AuthorizedChargeRequest) (engine.Authorization, error) {
	message, err := hex.DecodeString(req.Message)
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("invalid hex in message: %w", err)
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("invalid hex in signature: %w", err)
	}
	pub, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		return engine.Authorization{}, fmt.Errorf("invalid hex in public_key: %w", err)
	}

	auth := engine.Authorization{Message: message, Signature: sig, PublicKey: pub}
	for i, node := range req.AllowlistProof {
		raw, err := hex.DecodeString(node)
		if err != nil || len(raw) != 32 {
			return engine.Authorization{}, fmt.Errorf("allowlist proof node %d is not a 32-byte hex digest", i)
		}
		var h [32]byte
		copy(h[:], raw)
		auth.AllowlistProof = append(auth.AllowlistProof, h)
	}
	return auth, nil
}

// GetPayment returns one payment record by id.
func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.store.GetPayment(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPaymentResponse(rec))
}

// ListPayerPayments returns a payer's payment history, newest first.
func (s *Server) ListPayerPayments(w http.ResponseWriter, r *http.Request) {
	payer, ok := httputil.ParsePathStringOrError(w, r, "payer")
	if !ok {
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	recs, err := s.store.ListPaymentsByPayer(r.Context(), payer, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPaymentResponses(recs))
}

// GetUsage reports a payer's spend in the current daily window for a
// currency, alongside the currency's global spend.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	payer, ok := httputil.ParsePathStringOrError(w, r, "payer")
	if !ok {
		return
	}
	currency := httputil.ParseQueryString(r, "currency", "")
	if !httputil.RequireNonEmpty(w, currency, "currency") {
		return
	}

	now := s.clk.Now()
	httputil.WriteSuccess(w, UsageResponse{
		Payer:            payer,
		Currency:         currency,
		PayerSpentCents:  s.policy.PayerSpent(payer, currency, now),
		GlobalSpentCents: s.policy.GlobalSpent(currency, now),
	})
}
