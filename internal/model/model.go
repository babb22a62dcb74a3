// Package model defines the core domain types shared across the league engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Holding is a symbol position inside one ledger. Shares are always > 0
// while the holding exists; a position sold down to exactly zero shares is
// deleted, never kept as a zero row. AvgCost is the weighted-average
// purchase price across all buys and is never changed by sells.
type Holding struct {
	Symbol  string          `json:"symbol" db:"symbol"`
	Shares  decimal.Decimal `json:"shares" db:"shares"`
	AvgCost decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// Ledger is the per-(user, league) record of cash and holdings. Created when
// a user joins a league, seeded with the league's starting cash. Cash never
// goes negative.
type Ledger struct {
	UserID    string          `json:"user_id" db:"user_id"`
	LeagueID  string          `json:"league_id" db:"league_id"`
	Cash      decimal.Decimal `json:"cash" db:"cash"`
	Holdings  []Holding       `json:"holdings"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Holding returns the holding for symbol, or nil if the ledger has none.
func (l *Ledger) Holding(symbol string) *Holding {
	for i := range l.Holdings {
		if l.Holdings[i].Symbol == symbol {
			return &l.Holdings[i]
		}
	}
	return nil
}

// Transaction is an immutable record of an executed trade. Once created,
// these are never modified or deleted; replaying them reconstructs ledger
// state. TotalAmount = Shares × Price, frozen at execution time.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	LeagueID    string          `json:"league_id" db:"league_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Side        string          `json:"side" db:"side"` // BUY or SELL
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	Price       decimal.Decimal `json:"price" db:"price"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
	ExecutedAt  time.Time       `json:"executed_at" db:"executed_at"`
}

// TradeEffect is a pre-validated, already-priced delta produced by the trade
// executor and applied atomically by the store: cash update, holding
// upsert/delete, and transaction append all take effect or none do.
type TradeEffect struct {
	UserID   string
	LeagueID string

	// NewCash is the ledger's cash balance after the trade.
	NewCash decimal.Decimal

	// Symbol and the post-trade holding state. RemoveHolding means the
	// position reached exactly zero shares and must be deleted.
	Symbol        string
	NewShares     decimal.Decimal
	NewAvgCost    decimal.Decimal
	RemoveHolding bool

	Transaction Transaction
}

// Quote is ephemeral market data for one symbol. It is never written back to
// a ledger; FetchedAt is used only by the quote cache.
type Quote struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	Change           decimal.Decimal `json:"change"`
	ChangePercent    decimal.Decimal `json:"change_percent"`
	Volume           int64           `json:"volume"`
	Open             decimal.Decimal `json:"open"`
	High             decimal.Decimal `json:"high"`
	Low              decimal.Decimal `json:"low"`
	PreviousClose    decimal.Decimal `json:"previous_close"`
	LatestTradingDay string          `json:"latest_trading_day"`
	FetchedAt        time.Time       `json:"-"`
}

// SymbolMatch is one result from a symbol search.
type SymbolMatch struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Region   string `json:"region"`
	Currency string `json:"currency"`
}

// HoldingView is a holding enriched with current market data for portfolio
// reads.
type HoldingView struct {
	Holding
	CurrentPrice    decimal.Decimal `json:"current_price"`
	Value           decimal.Decimal `json:"value"`
	GainLoss        decimal.Decimal `json:"gain_loss"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"`
}

// PortfolioView is a ledger snapshot with current valuations.
type PortfolioView struct {
	UserID        string          `json:"user_id"`
	LeagueID      string          `json:"league_id"`
	Cash          decimal.Decimal `json:"cash"`
	Holdings      []HoldingView   `json:"holdings"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}

// LeaderboardEntry is one ranked row of a league leaderboard. Ranks are dense
// 1..N with no gaps; ties on total value are broken by user id ascending.
type LeaderboardEntry struct {
	UserID        string          `json:"user_id"`
	TotalValue    decimal.Decimal `json:"total_value"`
	ReturnPercent decimal.Decimal `json:"return_percent"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	Rank          int             `json:"rank"`
}
