package domain_test

import (
	"testing"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// TestAccrueHalfYear validates the core accrual formula. No I/O — pure
// arithmetic.
//
//	Scenario:
//	  principal        = 1 000 MKIN
//	  lockedUnitPrice  = 0.01 SOL
//	  multiplier       = 1.5
//	  elapsed          = half a year (365/2 days)
//
//	Expected:
//	  reward = 1000 × 0.10 × 0.01 × 0.5 × 1.5 = 0.75 SOL
func TestAccrueHalfYear(t *testing.T) {
	principal := decimal.NewFromInt(1000)
	price := decimal.NewFromFloat(0.01)
	multiplier := decimal.NewFromFloat(1.5)
	halfYear := 365 * 24 * time.Hour / 2

	got := domain.Accrue(principal, price, multiplier, halfYear)
	want := decimal.NewFromFloat(0.75)

	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.000001)) {
		t.Errorf("Accrue = %s, want %s", got, want)
	}
}

// TestAccrueFullYearBaseRate checks that a full year at the neutral multiplier
// yields exactly APR × principal × price.
func TestAccrueFullYearBaseRate(t *testing.T) {
	principal := decimal.NewFromInt(5000)
	price := decimal.NewFromFloat(0.002)
	one := decimal.NewFromInt(1)
	year := 365 * 24 * time.Hour

	got := domain.Accrue(principal, price, one, year)
	// 5000 × 0.10 × 0.002 = 1 SOL
	want := decimal.NewFromInt(1)

	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.000001)) {
		t.Errorf("Accrue = %s, want %s", got, want)
	}
}

// TestAccrueEdgeCases: non-positive elapsed time and empty principal must
// both yield zero, never a negative reward.
func TestAccrueEdgeCases(t *testing.T) {
	price := decimal.NewFromFloat(0.01)
	one := decimal.NewFromInt(1)

	if got := domain.Accrue(decimal.NewFromInt(100), price, one, -time.Hour); !got.IsZero() {
		t.Errorf("negative elapsed: Accrue = %s, want 0", got)
	}
	if got := domain.Accrue(decimal.NewFromInt(100), price, one, 0); !got.IsZero() {
		t.Errorf("zero elapsed: Accrue = %s, want 0", got)
	}
	if got := domain.Accrue(decimal.Zero, price, one, time.Hour); !got.IsZero() {
		t.Errorf("zero principal: Accrue = %s, want 0", got)
	}
}

// TestAccrueMonotonic: with fixed inputs the accrued reward must never shrink
// as time advances.
func TestAccrueMonotonic(t *testing.T) {
	principal := decimal.NewFromInt(750)
	price := decimal.NewFromFloat(0.005)
	multiplier := decimal.NewFromFloat(1.27)

	prev := decimal.Zero
	for _, elapsed := range []time.Duration{
		time.Second, time.Minute, time.Hour, 24 * time.Hour, 30 * 24 * time.Hour,
	} {
		got := domain.Accrue(principal, price, multiplier, elapsed)
		if got.LessThan(prev) {
			t.Errorf("Accrue(%s) = %s < previous %s", elapsed, got, prev)
		}
		prev = got
	}
}
