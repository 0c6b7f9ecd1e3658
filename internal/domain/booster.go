package domain

import (
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Booster categories
// ──────────────────────────────────────────────────────────────────────────────

// BoosterCategory is the closed set of NFT collections that boost the reward
// rate. Holdings are resolved out-of-band (eventually consistent); the engine
// only maps category counts to a multiplier.
type BoosterCategory string

const (
	BoosterGenesis  BoosterCategory = "genesis"
	BoosterGuardian BoosterCategory = "guardian"
	BoosterElder    BoosterCategory = "elder"
	BoosterRelic    BoosterCategory = "relic"
)

// boosterBase maps each category to its per-item multiplier. Unknown
// categories contribute nothing (multiplier 1).
var boosterBase = map[BoosterCategory]decimal.Decimal{
	BoosterGenesis:  decimal.NewFromFloat(1.27),
	BoosterGuardian: decimal.NewFromFloat(1.15),
	BoosterElder:    decimal.NewFromFloat(1.08),
	BoosterRelic:    decimal.NewFromFloat(1.05),
}

// BaseMultiplier returns the per-item multiplier for a category and whether
// the category is recognised.
func BaseMultiplier(cat BoosterCategory) (decimal.Decimal, bool) {
	m, ok := boosterBase[cat]
	return m, ok
}

// ──────────────────────────────────────────────────────────────────────────────
// Multiplier stacking
// ──────────────────────────────────────────────────────────────────────────────

// ComputeMultiplier folds per-category holding counts into the active reward
// multiplier:
//
//	multiplier = Π base(category) ^ count(category)
//
// Multiple items in the same category compound exponentially, not linearly:
// two genesis items yield 1.27² = 1.6129, not 1.54. This stacking behaviour is
// load-bearing for existing holders and must not be changed without a product
// decision.
func ComputeMultiplier(holdings map[BoosterCategory]int) decimal.Decimal {
	multiplier := decimal.NewFromInt(1)
	for cat, count := range holdings {
		if count <= 0 {
			continue
		}
		base, ok := boosterBase[cat]
		if !ok {
			continue
		}
		for i := 0; i < count; i++ {
			multiplier = multiplier.Mul(base)
		}
	}
	return multiplier
}
