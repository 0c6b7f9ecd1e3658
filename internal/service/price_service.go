package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/EM-ade/realmkin-backend-sub000/internal/config"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Price sources
// ──────────────────────────────────────────────────────────────────────────────

const (
	sourceJupiter     = "jupiter"
	sourceDexScreener = "dexscreener"
)

// sourceDef describes a single price-feed source.
type sourceDef struct {
	name   string
	weight decimal.Decimal // 0–100
	fetch  func(ctx context.Context) (decimal.Decimal, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// PriceService
// ──────────────────────────────────────────────────────────────────────────────

// PriceService resolves the MKIN/SOL unit price from multiple aggregators in
// parallel, computes a weighted average, and caches the result. The unit price
// is only sampled at deposit time (to lock the entry valuation); staleness up
// to CacheTTL is acceptable.
type PriceService struct {
	client *retryablehttp.Client
	cfg    *config.PriceConfig
	mint   string
	log    *slog.Logger

	// in-memory cache
	mu          sync.RWMutex
	cachedPrice decimal.Decimal
	cacheTime   time.Time

	sources []sourceDef
}

// NewPriceService constructs a PriceService from the given config.
func NewPriceService(cfg *config.Config, log *slog.Logger) *PriceService {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.HTTPClient.Timeout = cfg.Price.FetchTimeout
	client.Logger = nil

	ps := &PriceService{
		client: client,
		cfg:    &cfg.Price,
		mint:   cfg.Chain.TokenMint,
		log:    log.With("component", "price"),
	}

	ps.sources = []sourceDef{
		{
			name:   sourceJupiter,
			weight: decimal.NewFromInt(int64(cfg.Price.JupiterWeight)),
			fetch:  ps.fetchJupiter,
		},
		{
			name:   sourceDexScreener,
			weight: decimal.NewFromInt(int64(cfg.Price.DexScreenerWeight)),
			fetch:  ps.fetchDexScreener,
		},
	}

	return ps
}

// ──────────────────────────────────────────────────────────────────────────────
// Public API
// ──────────────────────────────────────────────────────────────────────────────

// GetUnitPriceInSOL returns the current MKIN/SOL price as a weighted average
// of the configured sources. If the in-memory cache is still fresh
// (< CacheTTL) the cached value is returned immediately.
//
// Partial failures are handled by re-normalising the weights over the
// available sources. If every source fails, the last cached value is reused;
// with no cache at all the configured fallback price is returned so deposits
// are never hard-blocked on aggregator outages.
func (ps *PriceService) GetUnitPriceInSOL(ctx context.Context) (decimal.Decimal, error) {
	// ── Cache check ──────────────────────────────────────────────────────────
	ps.mu.RLock()
	if !ps.cacheTime.IsZero() && time.Since(ps.cacheTime) < ps.cfg.CacheTTL {
		price := ps.cachedPrice
		ps.mu.RUnlock()
		return price, nil
	}
	ps.mu.RUnlock()

	// ── Parallel fetch ────────────────────────────────────────────────────────
	type result struct {
		name  string
		price decimal.Decimal
		err   error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, ps.cfg.FetchTimeout)
	defer cancel()

	resultCh := make(chan result, len(ps.sources))
	for _, src := range ps.sources {
		src := src
		go func() {
			p, err := src.fetch(fetchCtx)
			resultCh <- result{name: src.name, price: p, err: err}
		}()
	}

	rawResults := make(map[string]result, len(ps.sources))
	for range ps.sources {
		r := <-resultCh
		rawResults[r.name] = r
	}

	// ── Weighted average over successful sources ─────────────────────────────
	var sumWeighted, sumWeights decimal.Decimal
	for _, src := range ps.sources {
		r := rawResults[src.name]
		if r.err != nil || r.price.Sign() <= 0 {
			if r.err != nil {
				ps.log.Warn("price source failed", "source", src.name, "err", r.err)
			}
			continue
		}
		sumWeighted = sumWeighted.Add(r.price.Mul(src.weight))
		sumWeights = sumWeights.Add(src.weight)
	}

	if sumWeights.IsZero() {
		ps.mu.RLock()
		stale := ps.cachedPrice
		staleTime := ps.cacheTime
		ps.mu.RUnlock()
		if !staleTime.IsZero() {
			ps.log.Warn("all price sources failed; serving stale price", "age", time.Since(staleTime))
			return stale, nil
		}
		fallback := decimal.NewFromFloat(ps.cfg.FallbackPriceSOL)
		ps.log.Warn("all price sources failed with empty cache; serving fallback", "price", fallback)
		return fallback, nil
	}

	price := sumWeighted.Div(sumWeights)

	ps.mu.Lock()
	ps.cachedPrice = price
	ps.cacheTime = time.Now()
	ps.mu.Unlock()

	return price, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Source fetchers
// ──────────────────────────────────────────────────────────────────────────────

// fetchJupiter queries the Jupiter price API with SOL as the quote token.
func (ps *PriceService) fetchJupiter(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/v6/price?ids=%s&vsToken=SOL", strings.TrimRight(ps.cfg.JupiterURL, "/"), ps.mint)

	body, err := ps.getJSON(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("jupiter: decode: %w", err)
	}

	entry, ok := payload.Data[ps.mint]
	if !ok || entry.Price <= 0 {
		return decimal.Zero, fmt.Errorf("jupiter: no price for mint %s", ps.mint)
	}
	return decimal.NewFromFloat(entry.Price), nil
}

// fetchDexScreener queries DexScreener pairs and takes the most liquid
// SOL-quoted pair's native price.
func (ps *PriceService) fetchDexScreener(ctx context.Context) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/latest/dex/tokens/%s", strings.TrimRight(ps.cfg.DexScreenerURL, "/"), ps.mint)

	body, err := ps.getJSON(ctx, url)
	if err != nil {
		return decimal.Zero, err
	}

	var payload struct {
		Pairs []struct {
			PriceNative string `json:"priceNative"`
			QuoteToken  struct {
				Symbol string `json:"symbol"`
			} `json:"quoteToken"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return decimal.Zero, fmt.Errorf("dexscreener: decode: %w", err)
	}

	for _, pair := range payload.Pairs {
		if !strings.EqualFold(pair.QuoteToken.Symbol, "SOL") {
			continue
		}
		price, err := decimal.NewFromString(pair.PriceNative)
		if err != nil || price.Sign() <= 0 {
			continue
		}
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("dexscreener: no SOL-quoted pair for mint %s", ps.mint)
}

func (ps *PriceService) getJSON(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("price: build request: %w", err)
	}

	resp, err := ps.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price: %s returned %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}
