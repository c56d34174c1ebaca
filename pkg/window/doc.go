// Package window implements rolling time-window usage counters.
//
// # Overview
//
// A Counter tracks consumption against one or more fixed-length windows
// (per-minute, per-hour, per-day) without storing a timestamp per event.
// Rollover is lazy and demand-driven: a stale window is reset in a single
// step when it is next touched, so a long-idle key can skip any number of
// window boundaries in one update.
//
// Admission is all-or-nothing across windows: a consume attempt is admitted
// only if it fits inside every configured window, and a rejected attempt
// leaves every window's state untouched.
//
// # Limits
//
// Limits are an explicit tri-state rather than an overloaded zero:
//
//	window.Unlimited() // window never constrains
//	window.Blocked()   // window admits nothing
//	window.Of(n)       // at most n units per window
//
// # Usage Example
//
//	c := window.NewCounter(
//		window.Spec{Length: time.Minute, Limit: window.Of(10)},
//		window.Spec{Length: 24 * time.Hour, Limit: window.Of(1000)},
//	)
//	if err := c.TryConsume("payer:42", 3, time.Now()); err != nil {
//		// window.IsLimitExceeded(err) == true
//	}
//
// DistributedCounter provides the same per-window accounting backed by Redis
// for multi-instance deployments.
package window
