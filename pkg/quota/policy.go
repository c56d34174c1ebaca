package quota

import (
	"fmt"
	"sync"
	"time"
)

// day is the rolling window length for daily caps.
const day = 24 * time.Hour

// dailyState tracks spend inside the current rolling day for one key.
type dailyState struct {
	spentCents  int64
	windowStart time.Time
}

// stale reports whether the window has passed at now.
func (s *dailyState) stale(now time.Time) bool {
	return s.windowStart.IsZero() || !now.Before(s.windowStart.Add(day))
}

// Policy admits or rejects proposed charges. All state for one
// (payer, currency) pair is serialized behind the policy lock; the policy
// holds no references to external mutable state besides its ConfigSource.
type Policy struct {
	configs ConfigSource

	mu        sync.Mutex
	payers    map[string]*dailyState // keyed payer + "\x00" + currency
	global    map[string]*dailyState // keyed currency
	whitelist map[string]bool
}

// NewPolicy creates a policy reading currency configuration from configs.
func NewPolicy(configs ConfigSource) *Policy {
	return &Policy{
		configs:   configs,
		payers:    make(map[string]*dailyState),
		global:    make(map[string]*dailyState),
		whitelist: make(map[string]bool),
	}
}

// SetWhitelisted flags or unflags a payer for whitelist-only currencies.
func (p *Policy) SetWhitelisted(payer string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.whitelist[payer] = true
	} else {
		delete(p.whitelist, payer)
	}
}

// IsWhitelisted reports whether payer is whitelisted.
func (p *Policy) IsWhitelisted(payer string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.whitelist[payer]
}

func payerKey(payer, currency string) string {
	return payer + "\x00" + currency
}

func (p *Policy) payerState(payer, currency string) *dailyState {
	key := payerKey(payer, currency)
	s, ok := p.payers[key]
	if !ok {
		s = &dailyState{}
		p.payers[key] = s
	}
	return s
}

func (p *Policy) globalState(currency string) *dailyState {
	s, ok := p.global[currency]
	if !ok {
		s = &dailyState{}
		p.global[currency] = s
	}
	return s
}

// Admit decides whether payer may be charged amountCents in currency at now,
// and on acceptance records the spend in the payer's and the global daily
// windows. Checks run in a fixed order and short-circuit on the first
// failure; a rejection mutates nothing.
func (p *Policy) Admit(payer, currency string, amountCents int64, now time.Time) error {
	if amountCents < 0 {
		return fmt.Errorf("negative amount %d", amountCents)
	}

	cfg, ok := p.configs.CurrencyConfig(currency)
	if !ok || !cfg.Supported {
		return &RejectionError{
			Kind:     RejectUnsupportedCurrency,
			Currency: currency,
			Payer:    payer,
			Amount:   amountCents,
			Reason:   fmt.Sprintf("currency %q is not supported", currency),
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Lazy rollover before evaluating: a stale daily window resets to zero
	// in a single step.
	ps := p.payerState(payer, currency)
	if ps.stale(now) {
		ps.spentCents = 0
		ps.windowStart = now
	}
	gs := p.globalState(currency)
	if gs.stale(now) {
		gs.spentCents = 0
		gs.windowStart = now
	}

	if amountCents < cfg.MinAmountCents || amountCents > cfg.MaxAmountCents {
		return &RejectionError{
			Kind:     RejectAmountOutOfRange,
			Currency: currency,
			Payer:    payer,
			Amount:   amountCents,
			Reason: fmt.Sprintf("amount %d outside [%d, %d]",
				amountCents, cfg.MinAmountCents, cfg.MaxAmountCents),
		}
	}

	if !cfg.DailyCap.Admits(ps.spentCents, amountCents) {
		return &RejectionError{
			Kind:     RejectPayerDailyLimitExceeded,
			Currency: currency,
			Payer:    payer,
			Amount:   amountCents,
			Reason: fmt.Sprintf("payer daily spend %d+%d exceeds cap %s",
				ps.spentCents, amountCents, cfg.DailyCap),
		}
	}

	if !cfg.GlobalDailyCap.Admits(gs.spentCents, amountCents) {
		return &RejectionError{
			Kind:     RejectGlobalDailyLimitExceeded,
			Currency: currency,
			Payer:    payer,
			Amount:   amountCents,
			Reason: fmt.Sprintf("global daily spend %d+%d exceeds cap %s",
				gs.spentCents, amountCents, cfg.GlobalDailyCap),
		}
	}

	if cfg.WhitelistOnly && !p.whitelist[payer] {
		return &RejectionError{
			Kind:     RejectNotWhitelisted,
			Currency: currency,
			Payer:    payer,
			Amount:   amountCents,
			Reason:   fmt.Sprintf("payer %q is not whitelisted for %q", payer, currency),
		}
	}

	// Mutation happens only after every check has passed.
	ps.spentCents += amountCents
	gs.spentCents += amountCents
	return nil
}

// PayerSpent returns the payer's spend inside the current rolling day, after
// applying rollover at now. It does not mutate stored state.
func (p *Policy) PayerSpent(payer, currency string, now time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.payers[payerKey(payer, currency)]
	if !ok || s.stale(now) {
		return 0
	}
	return s.spentCents
}

// GlobalSpent returns the global spend for currency inside the current
// rolling day, after applying rollover at now.
func (p *Policy) GlobalSpent(currency string, now time.Time) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.global[currency]
	if !ok || s.stale(now) {
		return 0
	}
	return s.spentCents
}
