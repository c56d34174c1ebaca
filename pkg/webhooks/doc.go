// Package webhooks delivers billing events to external HTTP endpoints.
//
// The Dispatcher implements events.Sink, so it slots into the same fan-out
// as logging and in-memory sinks. Each registered endpoint subscribes to
// event kinds; deliveries are signed with HMAC-SHA256 when the endpoint has
// a secret, and failed deliveries retry with exponential backoff in the
// background. Emit never blocks on a slow receiver.
package webhooks
