package quota

import (
	"fmt"

	"github.com/platinummonkey/ratchet/pkg/window"
)

// CurrencyConfig is the per-currency charge policy. Updating a config takes
// effect for all future charges immediately; there is no versioning.
type CurrencyConfig struct {
	Currency string `json:"currency"`
	// Supported gates the currency entirely.
	Supported bool `json:"supported"`
	// PricePerUnitCents is the reference unit price used by callers that
	// convert quantities to amounts.
	PricePerUnitCents int64 `json:"price_per_unit_cents"`
	// MinAmountCents and MaxAmountCents bound a single charge.
	MinAmountCents int64 `json:"min_amount_cents"`
	MaxAmountCents int64 `json:"max_amount_cents"`
	// DailyCap bounds one payer's spend per rolling day.
	DailyCap window.Limit `json:"-"`
	// GlobalDailyCap bounds total spend across all payers per rolling day.
	GlobalDailyCap window.Limit `json:"-"`
	// WhitelistOnly restricts charging to whitelisted payers.
	WhitelistOnly bool `json:"whitelist_only"`
	// FeeBps is the platform fee in basis points.
	FeeBps int64 `json:"fee_bps"`
	// FeeCollector receives the platform fee.
	FeeCollector string `json:"fee_collector"`
}

// RejectionKind names the reason a charge was not admitted.
type RejectionKind string

const (
	RejectUnsupportedCurrency      RejectionKind = "unsupported_currency"
	RejectAmountOutOfRange         RejectionKind = "amount_out_of_range"
	RejectPayerDailyLimitExceeded  RejectionKind = "payer_daily_limit_exceeded"
	RejectGlobalDailyLimitExceeded RejectionKind = "global_daily_limit_exceeded"
	RejectNotWhitelisted           RejectionKind = "not_whitelisted"
)

// RejectionError is a policy rejection. No state is mutated on a rejected
// path and rejections are never retried automatically.
type RejectionError struct {
	Kind     RejectionKind
	Currency string
	Payer    string
	Amount   int64
	Reason   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("charge rejected (%s): %s", e.Kind, e.Reason)
}

// IsRejection checks if an error is a quota policy rejection.
func IsRejection(err error) bool {
	_, ok := err.(*RejectionError)
	return ok
}

// KindOf returns the rejection kind of err, or "" if err is not a rejection.
func KindOf(err error) RejectionKind {
	if rerr, ok := err.(*RejectionError); ok {
		return rerr.Kind
	}
	return ""
}

// ConfigSource supplies currency configuration to a Policy.
type ConfigSource interface {
	CurrencyConfig(currency string) (*CurrencyConfig, bool)
}

// StaticConfigs is an in-memory ConfigSource keyed by currency.
type StaticConfigs map[string]*CurrencyConfig

// CurrencyConfig implements ConfigSource.
func (s StaticConfigs) CurrencyConfig(currency string) (*CurrencyConfig, bool) {
	cfg, ok := s[currency]
	return cfg, ok
}
