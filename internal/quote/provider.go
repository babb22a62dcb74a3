// Package quote supplies market prices to the rest of the engine. It wraps
// an upstream quote provider behind a time-boxed cache and a synthetic
// fallback generator, so downstream valuation never stalls or errors merely
// because the market-data vendor is slow, rate-limited, or down.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
)

// Provider is the upstream market-data source. Implementations are expected
// to be rate-limited and occasionally unavailable; callers must tolerate
// errors.
type Provider interface {
	FetchQuote(ctx context.Context, symbol string) (*model.Quote, error)
	SearchSymbols(ctx context.Context, query string) ([]model.SymbolMatch, error)
}

var (
	// ErrNoData is returned when the provider answers but carries no quote
	// for the symbol (unknown ticker, or a rate-limit note instead of data).
	ErrNoData = errors.New("quote: no data for symbol")
)

// AlphaVantage is a Provider backed by the Alpha Vantage HTTP API.
// Free tier: 5 calls/min, 500 calls/day — which is exactly why the cache
// and fallback exist.
type AlphaVantage struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAlphaVantage creates a provider client. timeout bounds each upstream
// request.
func NewAlphaVantage(apiKey, baseURL string, timeout time.Duration) *AlphaVantage {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co/query"
	}
	return &AlphaVantage{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// globalQuoteResponse mirrors the GLOBAL_QUOTE payload. Alpha Vantage
// returns a "Note" field instead of data when rate-limited.
type globalQuoteResponse struct {
	GlobalQuote map[string]string `json:"Global Quote"`
	Note        string            `json:"Note"`
}

func (p *AlphaVantage) FetchQuote(ctx context.Context, symbol string) (*model.Quote, error) {
	params := url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
		"apikey":   {p.apiKey},
	}

	var resp globalQuoteResponse
	if err := p.getJSON(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Note != "" || len(resp.GlobalQuote) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}

	gq := resp.GlobalQuote
	q := &model.Quote{
		Symbol:           symbol,
		Price:            parseDecimal(gq["05. price"]),
		Change:           parseDecimal(gq["09. change"]),
		ChangePercent:    parseDecimal(strings.TrimSuffix(gq["10. change percent"], "%")),
		Open:             parseDecimal(gq["02. open"]),
		High:             parseDecimal(gq["03. high"]),
		Low:              parseDecimal(gq["04. low"]),
		PreviousClose:    parseDecimal(gq["08. previous close"]),
		LatestTradingDay: gq["07. latest trading day"],
	}
	q.Volume, _ = strconv.ParseInt(gq["06. volume"], 10, 64)

	if q.Price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
	}
	return q, nil
}

// searchResponse mirrors the SYMBOL_SEARCH payload.
type searchResponse struct {
	BestMatches []map[string]string `json:"bestMatches"`
	Note        string              `json:"Note"`
}

func (p *AlphaVantage) SearchSymbols(ctx context.Context, query string) ([]model.SymbolMatch, error) {
	params := url.Values{
		"function": {"SYMBOL_SEARCH"},
		"keywords": {query},
		"apikey":   {p.apiKey},
	}

	var resp searchResponse
	if err := p.getJSON(ctx, params, &resp); err != nil {
		return nil, err
	}
	if resp.Note != "" {
		return nil, ErrNoData
	}

	matches := make([]model.SymbolMatch, 0, len(resp.BestMatches))
	for _, m := range resp.BestMatches {
		matches = append(matches, model.SymbolMatch{
			Symbol:   m["1. symbol"],
			Name:     m["2. name"],
			Type:     m["3. type"],
			Region:   m["4. region"],
			Currency: m["8. currency"],
		})
		if len(matches) == 10 {
			break
		}
	}
	return matches, nil
}

func (p *AlphaVantage) getJSON(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("quote: upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("quote: upstream status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("quote: decode upstream response: %w", err)
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(strings.TrimSpace(s))
	return d
}
