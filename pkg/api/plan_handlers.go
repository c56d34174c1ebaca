package api

import (
	"net/http"

	"github.com/platinummonkey/ratchet/pkg/httputil"
)

// ListPlans returns every plan in the catalog.
func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, toPlanResponse(p))
	}
	httputil.WriteSuccess(w, out)
}

// GetPlan returns one plan by id.
func (s *Server) GetPlan(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	plan, err := s.store.GetPlan(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, toPlanResponse(plan))
}
