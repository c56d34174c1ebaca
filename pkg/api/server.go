package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/clock"
	"github.com/platinummonkey/ratchet/pkg/engine"
	"github.com/platinummonkey/ratchet/pkg/events"
	"github.com/platinummonkey/ratchet/pkg/middleware"
	"github.com/platinummonkey/ratchet/pkg/observability"
	"github.com/platinummonkey/ratchet/pkg/quota"
	"github.com/platinummonkey/ratchet/pkg/scheduler"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// RateLimiter gates requests before they reach the route table. Both the
// in-process and the Redis-backed limiter satisfy it.
type RateLimiter interface {
	Middleware(next http.Handler) http.Handler
}

// Server wires the billing engine into HTTP handlers.
type Server struct {
	engine    *engine.Engine
	scheduler *scheduler.Scheduler
	store     store.Store
	policy    *quota.Policy
	checker   *access.Checker
	logger    *observability.Logger
	limiter   RateLimiter
	sink      events.Sink
	ids       store.IDGenerator
	clk       clock.Clock
}

// Config wires a Server.
type Config struct {
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Store     store.Store
	Policy    *quota.Policy
	Checker   *access.Checker
	Logger    *observability.Logger
	// Limiter is optional; without one requests are not rate limited.
	Limiter RateLimiter
	Sink    events.Sink
	IDs     store.IDGenerator
	Clock   clock.Clock
}

// NewServer creates a Server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = events.NopSink{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = store.UUIDGenerator{}
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Server{
		engine:    cfg.Engine,
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		policy:    cfg.Policy,
		checker:   cfg.Checker,
		logger:    logger,
		limiter:   cfg.Limiter,
		sink:      sink,
		ids:       ids,
		clk:       clk,
	}
}

// Router builds the full route table with the standard middleware chain.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()

	// Plans
	api.HandleFunc("/plans", s.ListPlans).Methods("GET")
	api.HandleFunc("/plans/{id}", s.GetPlan).Methods("GET")

	// Subscriptions
	api.HandleFunc("/subscriptions", s.Subscribe).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", s.GetSubscription).Methods("GET")
	api.HandleFunc("/subscriptions/{id}/pause", s.PauseSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/resume", s.ResumeSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/cancel", s.CancelSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/charge", s.ChargeSubscription).Methods("POST")
	api.HandleFunc("/subscriptions/{id}/payments", s.ListSubscriptionPayments).Methods("GET")

	// Charges and payments
	api.HandleFunc("/charges", s.Charge).Methods("POST")
	api.HandleFunc("/charges/authorized", s.AuthorizedCharge).Methods("POST")
	api.HandleFunc("/payments/{id}", s.GetPayment).Methods("GET")
	api.HandleFunc("/payers/{payer}/payments", s.ListPayerPayments).Methods("GET")
	api.HandleFunc("/payers/{payer}/usage", s.GetUsage).Methods("GET")

	// Admin
	api.HandleFunc("/admin/subscriptions/{id}/reset-failures", s.ResetFailures).Methods("POST")
	api.HandleFunc("/admin/payments/{id}/refund", s.RefundPayment).Methods("POST")
	api.HandleFunc("/admin/whitelist", s.SetWhitelist).Methods("POST")
	api.HandleFunc("/admin/allowlist-root", s.SetAllowlistRoot).Methods("POST")
	api.HandleFunc("/admin/grants", s.Grant).Methods("POST")
	api.HandleFunc("/admin/grants", s.Revoke).Methods("DELETE")
	api.HandleFunc("/admin/run-due", s.RunDue).Methods("POST")

	var handler http.Handler = r
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = middleware.RequestLogger(s.logger, handler)
	handler = middleware.Recover(s.logger, handler)
	handler = middleware.Actor(handler)
	handler = middleware.RequestID(handler)
	return handler
}

// require checks the caller's capability, writing the 403 itself on denial.
func (s *Server) require(w http.ResponseWriter, r *http.Request, cap access.Capability) bool {
	actor := observability.GetActor(r.Context())
	if err := s.checker.Require(actor, cap); err != nil {
		_ = s.sink.Emit(r.Context(), events.Event{
			ID:        s.ids.NewID(),
			Kind:      events.KindAccessDenied,
			Status:    events.StatusDenied,
			Actor:     actor,
			Message:   r.Method + " " + r.URL.Path,
			Timestamp: s.clk.Now(),
		})
		writeDomainError(w, err)
		return false
	}
	return true
}
