package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// MultiplierResolver
// ──────────────────────────────────────────────────────────────────────────────

// MultiplierResolver reports a user's booster holdings per category. The real
// implementation scans NFT ownership out-of-band and is eventually consistent;
// the engine tolerates stale answers.
type MultiplierResolver interface {
	ResolveHoldings(ctx context.Context, userID uuid.UUID) (map[domain.BoosterCategory]int, error)
}

// NoHoldingsResolver reports no boosters for anyone. Used when no resolver is
// deployed; every position then accrues at the base rate.
type NoHoldingsResolver struct{}

// ResolveHoldings implements MultiplierResolver.
func (NoHoldingsResolver) ResolveHoldings(context.Context, uuid.UUID) (map[domain.BoosterCategory]int, error) {
	return nil, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// BoosterService
// ──────────────────────────────────────────────────────────────────────────────

type cachedMultiplier struct {
	value      decimal.Decimal
	resolvedAt time.Time
}

// BoosterService is a read-through cache in front of the multiplier resolver
// with an explicit staleness bound. Resolver failures degrade to the last
// known value (or the neutral multiplier) rather than failing the operation:
// a momentarily stale multiplier is correct-but-suboptimal by design.
type BoosterService struct {
	resolver MultiplierResolver
	bound    time.Duration
	log      *slog.Logger

	mu    sync.RWMutex
	cache map[uuid.UUID]cachedMultiplier
}

// NewBoosterService creates a BoosterService with the given staleness bound.
func NewBoosterService(resolver MultiplierResolver, bound time.Duration, log *slog.Logger) *BoosterService {
	if resolver == nil {
		resolver = NoHoldingsResolver{}
	}
	return &BoosterService{
		resolver: resolver,
		bound:    bound,
		log:      log.With("component", "booster"),
		cache:    make(map[uuid.UUID]cachedMultiplier),
	}
}

// ActiveMultiplier returns the user's current reward multiplier. Never fails:
// on resolver errors it serves the cached value regardless of age, and the
// neutral multiplier (1.0) when nothing was ever resolved.
func (s *BoosterService) ActiveMultiplier(ctx context.Context, userID uuid.UUID) decimal.Decimal {
	s.mu.RLock()
	cached, ok := s.cache[userID]
	s.mu.RUnlock()

	if ok && time.Since(cached.resolvedAt) < s.bound {
		return cached.value
	}

	holdings, err := s.resolver.ResolveHoldings(ctx, userID)
	if err != nil {
		s.log.Warn("multiplier resolve failed; serving cached value", "user_id", userID, "err", err)
		if ok {
			return cached.value
		}
		return decimal.NewFromInt(1)
	}

	value := domain.ComputeMultiplier(holdings)

	s.mu.Lock()
	s.cache[userID] = cachedMultiplier{value: value, resolvedAt: time.Now()}
	s.mu.Unlock()

	return value
}
