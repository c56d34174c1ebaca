// Package access gates privileged operations by caller capability.
//
// The engine itself stays policy-free: capability checks run at the dispatch
// layer (HTTP handlers, batch jobs) before an operation is invoked, and the
// operations trust their callers. Grants are held in memory and administered
// through the same surface they protect.
package access

import (
	"fmt"
	"sync"
)

// Capability names a privileged operation class
type Capability string

const (
	// CapSubscriber covers self-service subscription management.
	CapSubscriber Capability = "subscriber"
	// CapOperator covers running due-charge batches and reading any record.
	CapOperator Capability = "operator"
	// CapAdmin covers policy configuration, whitelist edits and failure
	// resets.
	CapAdmin Capability = "admin"
)

// ParseCapability maps a capability name to its constant.
func ParseCapability(name string) (Capability, bool) {
	switch Capability(name) {
	case CapSubscriber, CapOperator, CapAdmin:
		return Capability(name), true
	}
	return "", false
}

// DeniedError reports a capability the caller does not hold.
type DeniedError struct {
	Identity   string
	Capability Capability
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("access denied: %q lacks capability %q", e.Identity, e.Capability)
}

// IsDenied checks if an error is a capability denial.
func IsDenied(err error) bool {
	_, ok := err.(*DeniedError)
	return ok
}

// Checker holds capability grants. Admin implies operator, operator implies
// subscriber.
type Checker struct {
	mu     sync.RWMutex
	grants map[string]map[Capability]bool
}

// NewChecker creates an empty checker.
func NewChecker() *Checker {
	return &Checker{grants: make(map[string]map[Capability]bool)}
}

// Grant gives identity a capability.
func (c *Checker) Grant(identity string, cap Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grants[identity] == nil {
		c.grants[identity] = make(map[Capability]bool)
	}
	c.grants[identity][cap] = true
}

// Revoke removes a capability from identity.
func (c *Checker) Revoke(identity string, cap Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants[identity], cap)
}

// Has reports whether identity holds cap, directly or by implication.
func (c *Checker) Has(identity string, cap Capability) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g := c.grants[identity]
	if g == nil {
		return false
	}
	switch cap {
	case CapSubscriber:
		return g[CapSubscriber] || g[CapOperator] || g[CapAdmin]
	case CapOperator:
		return g[CapOperator] || g[CapAdmin]
	default:
		return g[cap]
	}
}

// Require returns a DeniedError unless identity holds cap.
func (c *Checker) Require(identity string, cap Capability) error {
	if !c.Has(identity, cap) {
		return &DeniedError{Identity: identity, Capability: cap}
	}
	return nil
}
