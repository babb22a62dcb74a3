package rules_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/rules"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestSymbolClassification(t *testing.T) {
	cases := []struct {
		symbol string
		crypto bool
		option bool
	}{
		{"AAPL", false, false},
		{"BRK.B", false, false},
		{"BTC-USD", true, false},
		{"ETH-EUR", true, false},
		{"AAPL250919C00190000", false, true},
		{"TSLA251121P00200000", false, true},
	}

	for _, tc := range cases {
		if got := rules.IsCrypto(tc.symbol); got != tc.crypto {
			t.Errorf("IsCrypto(%s) = %v, want %v", tc.symbol, got, tc.crypto)
		}
		if got := rules.IsOption(tc.symbol); got != tc.option {
			t.Errorf("IsOption(%s) = %v, want %v", tc.symbol, got, tc.option)
		}
	}
}

func TestCheckSymbol_CryptoGating(t *testing.T) {
	rs := &rules.RuleSet{AllowCrypto: false}
	if err := rs.CheckSymbol("BTC-USD"); !errors.Is(err, rules.ErrCryptoNotAllowed) {
		t.Errorf("expected ErrCryptoNotAllowed, got %v", err)
	}

	rs.AllowCrypto = true
	if err := rs.CheckSymbol("BTC-USD"); err != nil {
		t.Errorf("crypto-allowed league should accept BTC-USD, got %v", err)
	}
}

func TestCheckSymbol_OptionsGating(t *testing.T) {
	rs := &rules.RuleSet{AllowOptions: false}
	if err := rs.CheckSymbol("AAPL250919C00190000"); !errors.Is(err, rules.ErrOptionsNotAllowed) {
		t.Errorf("expected ErrOptionsNotAllowed, got %v", err)
	}

	rs.AllowOptions = true
	if err := rs.CheckSymbol("AAPL250919C00190000"); err != nil {
		t.Errorf("options-allowed league should accept the contract, got %v", err)
	}
}

func TestCheckSymbol_EquityAlwaysAllowed(t *testing.T) {
	rs := &rules.RuleSet{}
	if err := rs.CheckSymbol("AAPL"); err != nil {
		t.Errorf("plain equity should always pass, got %v", err)
	}
}

func TestCheckTradingHours(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	rs := &rules.RuleSet{TradingHours: rules.TradingHoursMarket}

	// Monday 2025-06-02.
	open := time.Date(2025, 6, 2, 10, 30, 0, 0, et)
	if err := rs.CheckTradingHours(open); err != nil {
		t.Errorf("10:30 ET Monday should be open, got %v", err)
	}

	early := time.Date(2025, 6, 2, 9, 0, 0, 0, et)
	if err := rs.CheckTradingHours(early); !errors.Is(err, rules.ErrOutsideTradingHours) {
		t.Errorf("09:00 ET should be closed, got %v", err)
	}

	late := time.Date(2025, 6, 2, 16, 0, 0, 0, et)
	if err := rs.CheckTradingHours(late); !errors.Is(err, rules.ErrOutsideTradingHours) {
		t.Errorf("16:00 ET should be closed, got %v", err)
	}

	// Saturday 2025-06-07.
	weekend := time.Date(2025, 6, 7, 12, 0, 0, 0, et)
	if err := rs.CheckTradingHours(weekend); !errors.Is(err, rules.ErrOutsideTradingHours) {
		t.Errorf("Saturday should be closed, got %v", err)
	}
}

func TestCheckTradingHours_AlwaysOpenTag(t *testing.T) {
	rs := &rules.RuleSet{TradingHours: rules.TradingHoursAlways}
	weekend := time.Date(2025, 6, 7, 3, 0, 0, 0, time.UTC)
	if err := rs.CheckTradingHours(weekend); err != nil {
		t.Errorf("24/7 league should never be closed, got %v", err)
	}
}

func TestCheckPositionSize(t *testing.T) {
	rs := &rules.RuleSet{MaxPositionSize: d(0.2)}

	// 20% of 100000 = 20000.
	if err := rs.CheckPositionSize(d(20000), d(100000)); err != nil {
		t.Errorf("position at exactly the limit should pass, got %v", err)
	}
	if err := rs.CheckPositionSize(d(20001), d(100000)); !errors.Is(err, rules.ErrPositionTooLarge) {
		t.Errorf("expected ErrPositionTooLarge, got %v", err)
	}
}

func TestCheckPositionSize_ZeroDisables(t *testing.T) {
	rs := &rules.RuleSet{}
	if err := rs.CheckPositionSize(d(999999), d(1)); err != nil {
		t.Errorf("zero max position size should disable the check, got %v", err)
	}
}
