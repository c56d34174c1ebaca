package api

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/ratchet/pkg/access"
	"github.com/platinummonkey/ratchet/pkg/httputil"
	"github.com/platinummonkey/ratchet/pkg/ledger"
	"github.com/platinummonkey/ratchet/pkg/quota"
	"github.com/platinummonkey/ratchet/pkg/scheduler"
	"github.com/platinummonkey/ratchet/pkg/signature"
	"github.com/platinummonkey/ratchet/pkg/store"
)

// writeDomainError maps typed domain errors onto HTTP statuses. Handlers
// funnel every non-validation error through here so the mapping stays in one
// place.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		httputil.WriteNotFoundError(w, err.Error())
	case store.IsNotRefundable(err):
		httputil.WriteConflict(w, err.Error())
	case access.IsDenied(err):
		httputil.WriteForbidden(w, err.Error())
	case signature.IsInvalidSignature(err):
		httputil.WriteUnauthorized(w, err.Error())
	case quota.IsRejection(err):
		if quota.KindOf(err) == quota.RejectNotWhitelisted {
			httputil.WriteForbidden(w, err.Error())
			return
		}
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	case ledger.IsTransferFailed(err),
		errors.Is(err, scheduler.ErrMaxFailuresReached):
		httputil.WriteErrorMessage(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, scheduler.ErrNotYetDue),
		errors.Is(err, scheduler.ErrNotActive),
		errors.Is(err, scheduler.ErrNotPaused),
		errors.Is(err, scheduler.ErrNotFailed),
		errors.Is(err, scheduler.ErrPlanInactive),
		errors.Is(err, scheduler.ErrPlanFull):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
