// Package clock pins the time source used by every billing component.
//
// All quota and scheduling logic takes time either as an explicit argument or
// from an injected Clock, so tests can drive rollovers and billing cycles
// deterministically with a fake clock.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time collaborator. Second resolution is sufficient for all
// billing decisions.
type Clock = clockwork.Clock

// System returns the wall clock.
func System() Clock {
	return clockwork.NewRealClock()
}

// NewFakeAt returns a fake clock frozen at t, for tests.
func NewFakeAt(t time.Time) *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(t)
}
