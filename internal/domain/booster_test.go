package domain_test

import (
	"testing"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// TestComputeMultiplierExponentialStacking: same-category items compound
// exponentially, not linearly.
//
//	Scenario: 2 × genesis (base 1.27)
//	  multiplier = 1.27² = 1.6129  (NOT 1 + 0.27 + 0.27 = 1.54)
func TestComputeMultiplierExponentialStacking(t *testing.T) {
	got := domain.ComputeMultiplier(map[domain.BoosterCategory]int{
		domain.BoosterGenesis: 2,
	})
	want := decimal.NewFromFloat(1.6129)

	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("ComputeMultiplier = %s, want %s", got, want)
	}
}

// TestComputeMultiplierMixedHoldings multiplies across categories.
//
//	Scenario: 1 × genesis, 1 × guardian
//	  multiplier = 1.27 × 1.15 = 1.4605
func TestComputeMultiplierMixedHoldings(t *testing.T) {
	got := domain.ComputeMultiplier(map[domain.BoosterCategory]int{
		domain.BoosterGenesis:  1,
		domain.BoosterGuardian: 1,
	})
	want := decimal.NewFromFloat(1.4605)

	if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Errorf("ComputeMultiplier = %s, want %s", got, want)
	}
}

// TestComputeMultiplierNeutralCases: empty holdings, zero counts, and unknown
// categories all leave the multiplier at 1.
func TestComputeMultiplierNeutralCases(t *testing.T) {
	one := decimal.NewFromInt(1)

	if got := domain.ComputeMultiplier(nil); !got.Equal(one) {
		t.Errorf("nil holdings: multiplier = %s, want 1", got)
	}
	if got := domain.ComputeMultiplier(map[domain.BoosterCategory]int{
		domain.BoosterElder: 0,
	}); !got.Equal(one) {
		t.Errorf("zero count: multiplier = %s, want 1", got)
	}
	if got := domain.ComputeMultiplier(map[domain.BoosterCategory]int{
		"mystery": 3,
	}); !got.Equal(one) {
		t.Errorf("unknown category: multiplier = %s, want 1", got)
	}
}
