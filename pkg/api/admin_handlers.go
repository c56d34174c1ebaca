package api

import (
	"encoding/hex"
	"net/http"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/httputil"
)

// ResetFailures clears a failed subscription's failure count and
// reactivates it.
func (s *Server) ResetFailures(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapAdmin) {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.scheduler.AdminResetFailures(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toSubscriptionResponse(sub))
}

// RefundPayment flips a succeeded payment to refunded.
func (s *Server) RefundPayment(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapAdmin) {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.engine.Refund(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPaymentResponse(rec))
}

// SetWhitelist sets a payer's whitelist membership.
func (s *Server) SetWhitelist(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapAdmin) {
		return
	}
	var req WhitelistRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Payer, "payer") {
		return
	}
	s.policy.SetWhitelisted(req.Payer, req.Whitelisted)
	httputil.WriteSuccessMessage(w, "whitelist updated", map[string]interface{}{
		"payer":       req.Payer,
		"whitelisted": req.Whitelisted,
	})
}

// SetAllowlistRoot publishes the merkle root for proof-based allowlisting.
func (s *Server) SetAllowlistRoot(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapAdmin) {
		return
	}
	var req AllowlistRootRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	raw, err := hex.DecodeString(req.Root)
	if err != nil || len(raw) != 32 {
		httputil.WriteBadRequest(w, "root must be a 32-byte hex digest")
		return
	}
	var root [32]byte
	copy(root[:], raw)
	s.engine.SetAllowlistRoot(root)
	httputil.WriteSuccessMessage(w, "allowlist root updated", nil)
}

// Grant gives an identity a capability.
func (s *Server) Grant(w http.ResponseWriter, r *http.Request) {
	s.changeGrant(w, r, s.checker.Grant, "capability granted")
}

// Revoke removes a capability from an identity.
func (s *Server) Revoke(w http.ResponseWriter, r *http.Request) {
	s.changeGrant(w, r, s.checker.Revoke, "capability revoked")
}

func (s *Server) changeGrant(w http.ResponseWriter, r *http.Request,
	op func(identity string, cap access.Capability), msg string) {
	if !s.require(w, r, access.CapAdmin) {
		return
	}
	var req GrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Identity, "identity") {
		return
	}
	cap, ok := access.ParseCapability(req.Capability)
	if !ok {
		httputil.WriteBadRequest(w, "unknown capability: "+req.Capability)
		return
	}
	op(req.Identity, cap)
	httputil.WriteSuccessMessage(w, msg, map[string]interface{}{
		"identity":   req.Identity,
		"capability": string(cap),
	})
}

// RunDue triggers one batch billing pass immediately.
func (s *Server) RunDue(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapOperator) {
		return
	}
	result, err := s.scheduler.RunDue(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := BatchResponse{Due: result.Due, Succeeded: result.Succeeded, Failed: result.Failed}
	if len(result.Errors) > 0 {
		resp.Errors = make(map[string]string, len(result.Errors))
		for id, e := range result.Errors {
			resp.Errors[id] = e.Error()
		}
	}
	httputil.WriteSuccess(w, resp)
}
