package api

import (
	"context"
	"net/http"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/httputil"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// Subscribe enrolls a payer in a plan.
func (s *Server) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapSubscriber) {
		return
	}
	var req SubscribeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.PlanID, "plan_id") ||
		!httputil.RequireNonEmpty(w, req.Payer, "payer") {
		return
	}

	sub, err := s.scheduler.Subscribe(r.Context(), req.PlanID, req.Payer, req.AutoRenew)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, toSubscriptionResponse(sub))
}

// GetSubscription returns one subscription by id.
func (s *Server) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := s.store.GetSubscription(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toSubscriptionResponse(sub))
}

// PauseSubscription pauses an active subscription.
func (s *Server) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.scheduler.Pause)
}

// ResumeSubscription resumes a paused subscription.
func (s *Server) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.scheduler.Resume)
}

// CancelSubscription cancels an active subscription.
func (s *Server) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, s.scheduler.Cancel)
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, id string) (*store.Subscription, error)) {
	if !s.require(w, r, access.CapSubscriber) {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	sub, err := op(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toSubscriptionResponse(sub))
}

// ChargeSubscription attempts the due charge for a subscription now.
func (s *Server) ChargeSubscription(w http.ResponseWriter, r *http.Request) {
	if !s.require(w, r, access.CapOperator) {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.scheduler.ChargeDue(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPaymentResponse(rec))
}

// ListSubscriptionPayments returns a subscription's payment history.
func (s *Server) ListSubscriptionPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	recs, err := s.store.ListPaymentsBySubscription(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPaymentResponses(recs))
}
