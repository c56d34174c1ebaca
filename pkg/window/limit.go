package window

import "fmt"

// Limit is the admission ceiling for one window. The zero value is Unlimited.
type Limit struct {
	n       int64
	bounded bool
	blocked bool
}

// Unlimited returns a limit that admits everything.
func Unlimited() Limit {
	return Limit{}
}

// Blocked returns a limit that admits nothing.
func Blocked() Limit {
	return Limit{blocked: true}
}

// Of returns a limit of at most n units per window. Of(0) is equivalent to
// Blocked.
func Of(n int64) Limit {
	if n <= 0 {
		return Blocked()
	}
	return Limit{n: n, bounded: true}
}

// Admits reports whether consuming amount on top of used stays within the
// limit.
func (l Limit) Admits(used, amount int64) bool {
	if l.blocked {
		return false
	}
	if !l.bounded {
		return true
	}
	return used+amount <= l.n
}

// IsUnlimited reports whether the limit never constrains.
func (l Limit) IsUnlimited() bool {
	return !l.bounded && !l.blocked
}

// Value returns the numeric ceiling and whether one exists. Blocked limits
// report (0, true).
func (l Limit) Value() (int64, bool) {
	if l.blocked {
		return 0, true
	}
	return l.n, l.bounded
}

func (l Limit) String() string {
	switch {
	case l.blocked:
		return "blocked"
	case !l.bounded:
		return "unlimited"
	default:
		return fmt.Sprintf("%d", l.n)
	}
}
