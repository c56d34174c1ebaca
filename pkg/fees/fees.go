// Package fees implements deterministic basis-point fee splitting on integer
// cent amounts. No floating point is involved: the fee rounds down and the
// remainder stays with the net amount, so fee + net always equals the gross
// amount exactly.
package fees

import "fmt"

// MaxBps is 100% expressed in basis points.
const MaxBps = 10000

// Split is the result of dividing a gross amount into a platform fee and the
// remaining net amount.
type Split struct {
	FeeCents int64
	NetCents int64
}

// Compute splits grossCents at feeBps. The fee is grossCents*feeBps/10000
// with floor division; the net amount absorbs the rounding remainder.
func Compute(grossCents, feeBps int64) (Split, error) {
	if grossCents < 0 {
		return Split{}, fmt.Errorf("negative gross amount %d", grossCents)
	}
	if feeBps < 0 || feeBps > MaxBps {
		return Split{}, fmt.Errorf("fee %d bps outside [0, %d]", feeBps, MaxBps)
	}

	fee := grossCents * feeBps / MaxBps
	return Split{FeeCents: fee, NetCents: grossCents - fee}, nil
}

// ValidateBps checks feeBps against a call-site ceiling. Callers own their
// ceilings (subscriptions and payments cap fees differently); the splitter
// itself only rejects rates above MaxBps.
func ValidateBps(feeBps, ceiling int64) error {
	if ceiling < 0 || ceiling > MaxBps {
		return fmt.Errorf("ceiling %d bps outside [0, %d]", ceiling, MaxBps)
	}
	if feeBps < 0 || feeBps > ceiling {
		return fmt.Errorf("fee %d bps outside [0, %d]", feeBps, ceiling)
	}
	return nil
}
