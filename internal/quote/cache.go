package quote

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/metrics"
	"github.com/investleague/league-engine/internal/model"
)

// DefaultTTL is the cache freshness window. Within it a symbol is served
// from memory without touching the upstream provider.
const DefaultTTL = 60 * time.Second

// Cache is the process-wide quote cache. It is constructed once at service
// start and injected into every consumer; it is safe for concurrent use.
//
// On upstream failure it never propagates the error — it synthesizes an
// internally consistent fallback quote instead, trading accuracy for
// availability so valuation and leaderboards keep working while the vendor
// is degraded.
type Cache struct {
	provider Provider
	ttl      time.Duration
	timeout  time.Duration

	// now and randFloat are injectable for tests (controlled clock,
	// deterministic fallback shape).
	now       func() time.Time
	randFloat func() float64

	mu      sync.RWMutex
	entries map[string]*model.Quote
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithRand overrides the fallback randomness source.
func WithRand(fn func() float64) Option {
	return func(c *Cache) { c.randFloat = fn }
}

// WithUpstreamTimeout bounds each upstream call; exceeding it triggers the
// fallback path instead of hanging the caller.
func WithUpstreamTimeout(d time.Duration) Option {
	return func(c *Cache) { c.timeout = d }
}

// NewCache creates a quote cache around an upstream provider.
func NewCache(provider Provider, opts ...Option) *Cache {
	c := &Cache{
		provider:  provider,
		ttl:       DefaultTTL,
		timeout:   5 * time.Second,
		now:       time.Now,
		randFloat: rand.Float64,
		entries:   make(map[string]*model.Quote),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Quote returns a quote for symbol. It never fails: a fresh cached entry is
// returned as-is, a stale or missing entry triggers one upstream fetch, and
// any upstream failure is masked with a synthetic fallback quote.
func (c *Cache) Quote(ctx context.Context, symbol string) *model.Quote {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	c.mu.RLock()
	cached, ok := c.entries[symbol]
	c.mu.RUnlock()

	if ok && c.now().Sub(cached.FetchedAt) < c.ttl {
		metrics.QuoteCacheHits.Inc()
		cp := *cached
		return &cp
	}
	metrics.QuoteCacheMisses.Inc()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q, err := c.provider.FetchQuote(fetchCtx, symbol)
	if err != nil {
		// Availability over accuracy: mask provider failure with a
		// synthetic quote. Fallbacks are not cached, so the next request
		// retries the upstream.
		metrics.QuoteFallbacks.Inc()
		slog.Warn("quote upstream failed, serving fallback", "symbol", symbol, "err", err)
		return c.fallbackQuote(symbol)
	}

	q.FetchedAt = c.now()
	c.mu.Lock()
	c.entries[symbol] = q
	c.mu.Unlock()

	cp := *q
	return &cp
}

// BatchQuote resolves each symbol independently and concurrently. The result
// is aligned positionally with the input; one symbol's provider failure
// never fails the batch (masked per Quote).
func (c *Cache) BatchQuote(ctx context.Context, symbols []string) []*model.Quote {
	quotes := make([]*model.Quote, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			quotes[i] = c.Quote(ctx, symbol)
		}(i, symbol)
	}
	wg.Wait()

	return quotes
}

// Search proxies symbol search to the provider, falling back to a small
// static result set on failure so the UI search box keeps working.
func (c *Cache) Search(ctx context.Context, query string) []model.SymbolMatch {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	matches, err := c.provider.SearchSymbols(fetchCtx, query)
	if err != nil {
		slog.Warn("symbol search upstream failed, serving fallback", "query", query, "err", err)
		return fallbackSearch(query)
	}
	return matches
}

// fallbackQuote synthesizes a randomized but internally consistent quote:
// high ≥ open ≥ low, high ≥ price ≥ low, previousClose = price − change.
func (c *Cache) fallbackQuote(symbol string) *model.Quote {
	base := 100 + c.randFloat()*400
	change := (c.randFloat() - 0.5) * 10

	price := decimal.NewFromFloat(base).Round(2)
	chg := decimal.NewFromFloat(change).Round(2)
	high := price.Add(decimal.NewFromFloat(c.randFloat() * 5).Round(2))
	low := price.Sub(decimal.NewFromFloat(c.randFloat() * 5).Round(2))

	open := price.Add(decimal.NewFromFloat((c.randFloat() - 0.5) * 3).Round(2))
	if open.GreaterThan(high) {
		open = high
	}
	if open.LessThan(low) {
		open = low
	}

	hundred := decimal.NewFromInt(100)
	return &model.Quote{
		Symbol:           symbol,
		Price:            price,
		Change:           chg,
		ChangePercent:    chg.Div(price.Sub(chg)).Mul(hundred).Round(2),
		Volume:           int64(c.randFloat() * 10_000_000),
		Open:             open,
		High:             high,
		Low:              low,
		PreviousClose:    price.Sub(chg),
		LatestTradingDay: c.now().UTC().Format("2006-01-02"),
		FetchedAt:        c.now(),
	}
}

// fallbackMatches is the static search result set used when the upstream
// provider is unavailable.
var fallbackMatches = []model.SymbolMatch{
	{Symbol: "AAPL", Name: "Apple Inc.", Type: "Equity", Region: "United States", Currency: "USD"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Type: "Equity", Region: "United States", Currency: "USD"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Type: "Equity", Region: "United States", Currency: "USD"},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Type: "Equity", Region: "United States", Currency: "USD"},
	{Symbol: "TSLA", Name: "Tesla Inc.", Type: "Equity", Region: "United States", Currency: "USD"},
}

func fallbackSearch(query string) []model.SymbolMatch {
	query = strings.ToLower(query)
	var matches []model.SymbolMatch
	for _, m := range fallbackMatches {
		if strings.Contains(strings.ToLower(m.Symbol), query) ||
			strings.Contains(strings.ToLower(m.Name), query) {
			matches = append(matches, m)
		}
	}
	return matches
}
