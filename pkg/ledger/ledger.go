// Package ledger defines the external transfer collaborator.
//
// The engine treats value movement as an opaque synchronous call against an
// external ledger: a transfer either succeeds or fails, and the caller
// decides what a failure means (for recurring billing it feeds the
// failure-count escalation, never a local retry). The ledger does not
// guarantee idempotency, so every attempt must carry a fresh idempotency
// key.
package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Transfer describes one value movement between two accounts.
type Transfer struct {
	From           string
	To             string
	Currency       string
	AmountCents    int64
	IdempotencyKey string
}

// Result is the synchronous outcome of a transfer. Failures carry a
// human-readable reason rather than an error to make the branch explicit at
// the call site.
type Result struct {
	OK     bool
	Reason string
}

// Ok returns a successful result.
func Ok() Result {
	return Result{OK: true}
}

// Failed returns a failed result with reason.
func Failed(reason string) Result {
	return Result{Reason: reason}
}

// Ledger is the external transfer collaborator.
type Ledger interface {
	Transfer(ctx context.Context, t Transfer) Result
}

// TransferFailedError wraps a failed transfer result for callers that
// propagate errors.
type TransferFailedError struct {
	Transfer Transfer
	Reason   string
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("ledger transfer failed: %s", e.Reason)
}

// IsTransferFailed checks if an error is a failed ledger transfer.
func IsTransferFailed(err error) bool {
	_, ok := err.(*TransferFailedError)
	return ok
}

// Fake is an in-memory ledger for tests and local runs. It records every
// transfer and can be scripted to fail.
type Fake struct {
	mu        sync.Mutex
	transfers []Transfer
	failNext  int
	failWith  string
	balances  map[string]map[string]int64 // account -> currency -> cents
}

// NewFake creates an empty fake ledger.
func NewFake() *Fake {
	return &Fake{balances: make(map[string]map[string]int64)}
}

// FailNext makes the next n transfers fail with reason.
func (f *Fake) FailNext(n int, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNext = n
	f.failWith = reason
}

// Transfer implements Ledger.
func (f *Fake) Transfer(_ context.Context, t Transfer) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transfers = append(f.transfers, t)
	if f.failNext > 0 {
		f.failNext--
		return Failed(f.failWith)
	}

	f.credit(t.From, t.Currency, -t.AmountCents)
	f.credit(t.To, t.Currency, t.AmountCents)
	return Ok()
}

func (f *Fake) credit(account, currency string, cents int64) {
	if f.balances[account] == nil {
		f.balances[account] = make(map[string]int64)
	}
	f.balances[account][currency] += cents
}

// Transfers returns a copy of all recorded transfers.
func (f *Fake) Transfers() []Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transfer, len(f.transfers))
	copy(out, f.transfers)
	return out
}

// Balance returns the fake balance of account in currency.
func (f *Fake) Balance(account, currency string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[account][currency]
}
