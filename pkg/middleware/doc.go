// Package middleware provides HTTP middleware for the API server:
// request identification, structured request logging, panic recovery and
// per-client rate limiting.
//
// Middleware composes in the usual inside-out order:
//
//	handler := middleware.RequestID(
//		middleware.Recover(logger,
//			middleware.RequestLogger(logger,
//				limiter.Middleware(mux))))
//
// Rate limiting is keyed by the authenticated actor when present and by
// client IP otherwise, and is backed by the same windowed counters that
// enforce spend quotas.
package middleware
