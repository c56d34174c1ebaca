// Package quota decides whether a proposed charge may proceed right now.
//
// # Overview
//
// A Policy combines per-currency configuration (supported flag, amount
// bounds, daily caps, whitelist requirement, fee rate) with per-payer and
// global daily spending windows. Admission runs a fixed sequence of checks
// and short-circuits on the first failure; counters mutate only after every
// check has passed, so a rejection never leaves partial state behind.
//
// Check order:
//
//  1. currency supported
//  2. lazy daily-window rollover (payer and global)
//  3. amount within [min, max]
//  4. payer daily cap
//  5. global daily cap
//  6. whitelist membership, when the currency requires it
//
// Rejections are typed: use IsRejection and RejectionError.Kind to branch on
// the cause. The policy performs no ledger transfer itself.
package quota
