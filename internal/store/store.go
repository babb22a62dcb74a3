// Package store defines the persistence interface for ledgers and the
// append-only transaction log. Implementations include PostgreSQL (source of
// truth), Redis (read-through cache), and in-memory (for testing).
//
// The trade executor is the only writer of ledger state; ApplyTrade is the
// single atomic commit point. Readers never observe a cash update without the
// matching holding update.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
)

var (
	// ErrLedgerNotFound is returned when no ledger exists for a
	// (user, league) pair.
	ErrLedgerNotFound = errors.New("store: ledger not found")

	// ErrLedgerExists is returned when creating a ledger that already exists.
	ErrLedgerExists = errors.New("store: ledger already exists")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// CreateLedger seeds a new ledger with the league's starting cash.
	// Returns ErrLedgerExists if the user already has a ledger in the league.
	CreateLedger(ctx context.Context, userID, leagueID string, startingCash decimal.Decimal) error

	// GetLedger retrieves one ledger with its holdings.
	// Returns ErrLedgerNotFound if absent.
	GetLedger(ctx context.Context, userID, leagueID string) (*model.Ledger, error)

	// ListLedgersByLeague returns every member ledger in a league.
	ListLedgersByLeague(ctx context.Context, leagueID string) ([]model.Ledger, error)

	// ApplyTrade atomically applies a pre-validated trade effect: cash
	// update, holding upsert/delete, and transaction append all take effect
	// or none do. Returns the updated ledger.
	ApplyTrade(ctx context.Context, effect *model.TradeEffect) (*model.Ledger, error)

	// Transactions returns up to limit transactions for a ledger, newest
	// first. limit <= 0 means no limit.
	Transactions(ctx context.Context, userID, leagueID string, limit int) ([]model.Transaction, error)
}
