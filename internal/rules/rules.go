// Package rules validates trade intents against a league's rule set: which
// symbol classes are permitted, when trading is allowed, and how large a
// single position may grow relative to the portfolio.
//
// The rule set is external collaborator data — the engine consumes it
// read-only and rejects violating trades before any mutation.
package rules

import (
	"errors"
	"regexp"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Trading-hours tags. Only TradingHoursMarket restricts trading; any other
// tag (including the default) allows trading around the clock.
const (
	TradingHoursAlways = "24/7"
	TradingHoursMarket = "market-hours"
)

var (
	// ErrCryptoNotAllowed is returned when a crypto symbol is traded in a
	// league that forbids crypto.
	ErrCryptoNotAllowed = errors.New("rules: crypto symbols are not allowed in this league")

	// ErrOptionsNotAllowed is returned when an option symbol is traded in a
	// league that forbids options.
	ErrOptionsNotAllowed = errors.New("rules: option symbols are not allowed in this league")

	// ErrOutsideTradingHours is returned when the league restricts trading
	// to market hours and the trade arrives outside them.
	ErrOutsideTradingHours = errors.New("rules: trading is only allowed during market hours")

	// ErrPositionTooLarge is returned when a buy would push a single
	// position past the league's maximum fraction of portfolio value.
	ErrPositionTooLarge = errors.New("rules: position would exceed the league's max position size")
)

var (
	// cryptoRegex matches pair-style crypto symbols, e.g. BTC-USD, ETH-EUR.
	cryptoRegex = regexp.MustCompile(`^[A-Z0-9]{2,10}-[A-Z]{3,4}$`)

	// optionRegex matches OCC-style option symbols,
	// e.g. AAPL250919C00190000: root, YYMMDD expiry, C/P, strike.
	optionRegex = regexp.MustCompile(`^[A-Z]{1,6}\d{6}[CP]\d{8}$`)
)

// RuleSet is one league's trading rules, consumed read-only.
type RuleSet struct {
	// StartingCash seeds each member's ledger on join and anchors
	// return-percent math.
	StartingCash decimal.Decimal

	// MaxPositionSize is the maximum value of a single position as a
	// fraction of total portfolio value. Zero disables the check.
	MaxPositionSize decimal.Decimal

	AllowOptions bool
	AllowCrypto  bool

	// TradingHours is a restriction tag; see the TradingHours constants.
	TradingHours string
}

// IsCrypto reports whether symbol looks like a crypto pair.
func IsCrypto(symbol string) bool { return cryptoRegex.MatchString(symbol) }

// IsOption reports whether symbol looks like an OCC option contract.
func IsOption(symbol string) bool { return optionRegex.MatchString(symbol) }

// CheckSymbol validates the symbol's asset class against the rule set.
func (r *RuleSet) CheckSymbol(symbol string) error {
	if !r.AllowCrypto && IsCrypto(symbol) {
		return ErrCryptoNotAllowed
	}
	if !r.AllowOptions && IsOption(symbol) {
		return ErrOptionsNotAllowed
	}
	return nil
}

// CheckTradingHours validates the trade time against the league's
// trading-hours tag.
func (r *RuleSet) CheckTradingHours(at time.Time) error {
	if r.TradingHours != TradingHoursMarket {
		return nil
	}
	t := at.In(easternTime())
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return ErrOutsideTradingHours
	}
	// Regular session: 09:30–16:00 Eastern.
	minutes := t.Hour()*60 + t.Minute()
	if minutes < 9*60+30 || minutes >= 16*60 {
		return ErrOutsideTradingHours
	}
	return nil
}

// CheckPositionSize validates that a post-trade position value stays within
// MaxPositionSize × portfolio value. Applies to buys only; callers pass the
// values already computed under the execution lock.
func (r *RuleSet) CheckPositionSize(positionValue, portfolioValue decimal.Decimal) error {
	if r.MaxPositionSize.LessThanOrEqual(decimal.Zero) {
		return nil
	}
	if positionValue.GreaterThan(r.MaxPositionSize.Mul(portfolioValue)) {
		return ErrPositionTooLarge
	}
	return nil
}

var (
	etOnce sync.Once
	etLoc  *time.Location
)

// easternTime returns the US Eastern location, falling back to a fixed
// offset when tzdata is unavailable.
func easternTime() *time.Location {
	etOnce.Do(func() {
		loc, err := time.LoadLocation("America/New_York")
		if err != nil {
			loc = time.FixedZone("ET", -5*3600)
		}
		etLoc = loc
	})
	return etLoc
}
