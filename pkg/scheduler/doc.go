// Package scheduler drives subscription lifecycles across billing attempts.
//
// # Overview
//
// A subscription moves between five states: active, paused, cancelled,
// expired and failed. Cancelled, expired and failed are terminal; failed can
// only be left through an explicit administrative reset. Charges are
// evaluated lazily when a caller (or the batch runner) asks, never by an
// internal timer: a subscription is chargeable once the clock reaches its
// next billing time, and the schedule advances by whole cycles from the
// start time so late charges never drift it.
//
// Charge attempts against one subscription are serialized behind a per-id
// lock; batches fan out across subscriptions with bounded parallelism and
// one subscription's failure never blocks the rest of the batch.
package scheduler
