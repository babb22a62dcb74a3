// Package rank computes portfolio valuations and league leaderboards. It is
// strictly read-only: it reads ledgers from the store and prices from the
// quote cache, and never mutates either.
package rank

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
	"github.com/investleague/league-engine/internal/quote"
	"github.com/investleague/league-engine/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Aggregator values ledgers against current quotes.
type Aggregator struct {
	store  store.Store
	quotes *quote.Cache
}

// NewAggregator creates an aggregator over a store and quote cache.
func NewAggregator(st store.Store, quotes *quote.Cache) *Aggregator {
	return &Aggregator{store: st, quotes: quotes}
}

// Leaderboard ranks every member of a league by total portfolio value.
//
// All distinct symbols across all member ledgers are priced with one batched
// quote call — never one call per holding. Ordering is total value
// descending with ties broken by user id ascending, so repeated calls
// produce the same ranking; ranks are dense 1..N.
func (a *Aggregator) Leaderboard(ctx context.Context, leagueID string, startingCash decimal.Decimal) ([]model.LeaderboardEntry, error) {
	ledgers, err := a.store.ListLedgersByLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}

	prices := a.priceSymbols(ctx, ledgers)

	entries := make([]model.LeaderboardEntry, 0, len(ledgers))
	for _, l := range ledgers {
		holdingsValue := decimal.Zero
		for _, h := range l.Holdings {
			holdingsValue = holdingsValue.Add(h.Shares.Mul(prices[h.Symbol]))
		}
		totalValue := l.Cash.Add(holdingsValue)

		returnPercent := decimal.Zero
		if startingCash.IsPositive() {
			returnPercent = totalValue.Sub(startingCash).Div(startingCash).Mul(hundred)
		}

		entries = append(entries, model.LeaderboardEntry{
			UserID:        l.UserID,
			TotalValue:    totalValue,
			ReturnPercent: returnPercent,
			Cash:          l.Cash,
			HoldingsValue: holdingsValue,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].TotalValue.Equal(entries[j].TotalValue) {
			return entries[i].TotalValue.GreaterThan(entries[j].TotalValue)
		}
		return entries[i].UserID < entries[j].UserID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}

	return entries, nil
}

// Portfolio returns one ledger enriched with current valuations.
func (a *Aggregator) Portfolio(ctx context.Context, userID, leagueID string) (*model.PortfolioView, error) {
	ledger, err := a.store.GetLedger(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}

	view := &model.PortfolioView{
		UserID:   ledger.UserID,
		LeagueID: ledger.LeagueID,
		Cash:     ledger.Cash,
		Holdings: make([]model.HoldingView, 0, len(ledger.Holdings)),
	}

	symbols := make([]string, len(ledger.Holdings))
	for i, h := range ledger.Holdings {
		symbols[i] = h.Symbol
	}
	quotes := a.quotes.BatchQuote(ctx, symbols)

	holdingsValue := decimal.Zero
	for i, h := range ledger.Holdings {
		price := quotes[i].Price
		value := h.Shares.Mul(price)
		gainLoss := price.Sub(h.AvgCost).Mul(h.Shares)

		gainLossPercent := decimal.Zero
		if h.AvgCost.IsPositive() {
			gainLossPercent = price.Sub(h.AvgCost).Div(h.AvgCost).Mul(hundred)
		}

		holdingsValue = holdingsValue.Add(value)
		view.Holdings = append(view.Holdings, model.HoldingView{
			Holding:         h,
			CurrentPrice:    price,
			Value:           value,
			GainLoss:        gainLoss,
			GainLossPercent: gainLossPercent,
		})
	}

	view.HoldingsValue = holdingsValue
	view.TotalValue = ledger.Cash.Add(holdingsValue)
	return view, nil
}

// priceSymbols batch-quotes the union of symbols held across ledgers and
// returns a symbol → price map.
func (a *Aggregator) priceSymbols(ctx context.Context, ledgers []model.Ledger) map[string]decimal.Decimal {
	seen := make(map[string]bool)
	var symbols []string
	for _, l := range ledgers {
		for _, h := range l.Holdings {
			if !seen[h.Symbol] {
				seen[h.Symbol] = true
				symbols = append(symbols, h.Symbol)
			}
		}
	}

	prices := make(map[string]decimal.Decimal, len(symbols))
	for i, q := range a.quotes.BatchQuote(ctx, symbols) {
		prices[symbols[i]] = q.Price
	}
	return prices
}
