package service_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/domain"
	"github.com/EM-ade/realmkin-backend-sub000/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeResolver scripts holdings answers and counts resolutions.
type fakeResolver struct {
	holdings map[domain.BoosterCategory]int
	err      error
	calls    int
}

func (f *fakeResolver) ResolveHoldings(context.Context, uuid.UUID) (map[domain.BoosterCategory]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.holdings, nil
}

// TestActiveMultiplierResolvesAndCaches: the first call resolves, the second
// serves the cache within the staleness bound.
func TestActiveMultiplierResolvesAndCaches(t *testing.T) {
	resolver := &fakeResolver{holdings: map[domain.BoosterCategory]int{domain.BoosterGenesis: 2}}
	svc := service.NewBoosterService(resolver, time.Minute, slog.Default())
	userID := uuid.New()

	want := decimal.NewFromFloat(1.6129) // 1.27²
	for i := 0; i < 2; i++ {
		got := svc.ActiveMultiplier(context.Background(), userID)
		if got.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
			t.Errorf("call %d: multiplier = %s, want %s", i+1, got, want)
		}
	}
	if resolver.calls != 1 {
		t.Errorf("resolver ran %d times, want 1 (cached)", resolver.calls)
	}
}

// TestActiveMultiplierDegradesToStaleValue: resolver failures serve the last
// known value rather than failing the operation.
func TestActiveMultiplierDegradesToStaleValue(t *testing.T) {
	resolver := &fakeResolver{holdings: map[domain.BoosterCategory]int{domain.BoosterGuardian: 1}}
	svc := service.NewBoosterService(resolver, time.Nanosecond, slog.Default()) // immediate staleness
	userID := uuid.New()

	first := svc.ActiveMultiplier(context.Background(), userID)
	want := decimal.NewFromFloat(1.15)
	if first.Sub(want).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("multiplier = %s, want %s", first, want)
	}

	resolver.err = errors.New("ownership scan unavailable")
	time.Sleep(time.Millisecond)
	got := svc.ActiveMultiplier(context.Background(), userID)
	if !got.Equal(first) {
		t.Errorf("degraded multiplier = %s, want stale %s", got, first)
	}
}

// TestActiveMultiplierNeutralWhenNeverResolved: a resolver failure with no
// cached history falls back to 1.0.
func TestActiveMultiplierNeutralWhenNeverResolved(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("ownership scan unavailable")}
	svc := service.NewBoosterService(resolver, time.Minute, slog.Default())

	got := svc.ActiveMultiplier(context.Background(), uuid.New())
	if !got.Equal(decimal.NewFromInt(1)) {
		t.Errorf("multiplier = %s, want neutral 1", got)
	}
}
