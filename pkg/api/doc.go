// Package api exposes the billing engine over HTTP.
//
// The surface splits into three groups. Read endpoints (plans, subscriptions,
// payments, usage) are open to any identified caller. Billing mutations
// (subscribe, pause, resume, cancel, charge) require the subscriber or
// operator capability. Admin endpoints (whitelist, allowlist root, grants,
// failure resets, batch runs) require the admin capability.
//
// Callers are identified by the actor placed on the request context by the
// middleware chain. Domain errors map onto HTTP statuses in one place, so a
// quota rejection is always 422, a failed transfer 402 and a precondition
// miss 409 no matter which handler surfaced it.
package api
