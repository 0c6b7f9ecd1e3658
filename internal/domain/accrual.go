package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Accrual constants
// ──────────────────────────────────────────────────────────────────────────────

// AnnualRewardRate is the fixed APR applied to every position (10 %).
var AnnualRewardRate = decimal.NewFromFloat(0.10)

// secondsPerYear uses the 365-day convention (no leap adjustment).
var secondsPerYear = decimal.NewFromInt(365 * 24 * 3600)

// ──────────────────────────────────────────────────────────────────────────────
// Accrue
// ──────────────────────────────────────────────────────────────────────────────

// Accrue computes the total SOL-denominated reward earned by a position over
// elapsed time. Pure function, no I/O.
//
// Formula:
//
//	reward = principal × APR × lockedUnitPrice × (elapsed / secondsPerYear) × multiplier
//
// lockedUnitPrice is deliberately the entry-time weighted average, not the
// current spot price: the reward rate must stay stable when the market moves.
// Only the principal valuation at entry reflects market price, via the
// weighted-average update in Position.ApplyDeposit.
//
// Negative elapsed time (clock skew) yields zero rather than a negative reward.
func Accrue(principal, lockedUnitPrice, multiplier decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 || principal.Sign() <= 0 {
		return decimal.Zero
	}
	elapsedSec := decimal.NewFromFloat(elapsed.Seconds())
	return principal.
		Mul(AnnualRewardRate).
		Mul(lockedUnitPrice).
		Mul(elapsedSec).
		Div(secondsPerYear).
		Mul(multiplier)
}
