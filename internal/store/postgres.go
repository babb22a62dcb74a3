package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// ApplyTrade runs inside one transaction with the ledger row locked
// (SELECT ... FOR UPDATE), so concurrent trades on the same ledger serialize
// at the database even across multiple service instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateLedger(ctx context.Context, userID, leagueID string, startingCash decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO ledgers (user_id, league_id, cash, created_at)
		 VALUES ($1, $2, $3::NUMERIC, NOW())
		 ON CONFLICT (user_id, league_id) DO NOTHING`,
		userID, leagueID, startingCash.String(),
	)
	if err != nil {
		return fmt.Errorf("create ledger %s/%s: %w", leagueID, userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLedgerExists
	}
	return nil
}

func (s *PostgresStore) GetLedger(ctx context.Context, userID, leagueID string) (*model.Ledger, error) {
	l, err := s.getLedgerRow(ctx, s.pool, userID, leagueID, false)
	if err != nil {
		return nil, err
	}
	l.Holdings, err = s.getHoldings(ctx, s.pool, userID, leagueID)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// querier covers both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) getLedgerRow(ctx context.Context, q querier, userID, leagueID string, forUpdate bool) (*model.Ledger, error) {
	query := `SELECT user_id, league_id, cash::TEXT, created_at
	          FROM ledgers WHERE user_id = $1 AND league_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var l model.Ledger
	var cash string
	err := q.QueryRow(ctx, query, userID, leagueID).
		Scan(&l.UserID, &l.LeagueID, &cash, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger %s/%s: %w", leagueID, userID, err)
	}
	l.Cash, _ = decimal.NewFromString(cash)
	return &l, nil
}

func (s *PostgresStore) getHoldings(ctx context.Context, q querier, userID, leagueID string) ([]model.Holding, error) {
	rows, err := q.Query(ctx,
		`SELECT symbol, shares::TEXT, avg_cost::TEXT
		 FROM holdings WHERE user_id = $1 AND league_id = $2 ORDER BY symbol`,
		userID, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.Holding
	for rows.Next() {
		var h model.Holding
		var shares, avgCost string
		if err := rows.Scan(&h.Symbol, &shares, &avgCost); err != nil {
			return nil, err
		}
		h.Shares, _ = decimal.NewFromString(shares)
		h.AvgCost, _ = decimal.NewFromString(avgCost)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

func (s *PostgresStore) ListLedgersByLeague(ctx context.Context, leagueID string) ([]model.Ledger, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, league_id, cash::TEXT, created_at
		 FROM ledgers WHERE league_id = $1 ORDER BY user_id`, leagueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledgers []model.Ledger
	for rows.Next() {
		var l model.Ledger
		var cash string
		if err := rows.Scan(&l.UserID, &l.LeagueID, &cash, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Cash, _ = decimal.NewFromString(cash)
		ledgers = append(ledgers, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range ledgers {
		ledgers[i].Holdings, err = s.getHoldings(ctx, s.pool, ledgers[i].UserID, leagueID)
		if err != nil {
			return nil, err
		}
	}
	return ledgers, nil
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, effect *model.TradeEffect) (*model.Ledger, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin apply trade: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the ledger row for the duration of the commit.
	if _, err := s.getLedgerRow(ctx, tx, effect.UserID, effect.LeagueID, true); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE ledgers SET cash = $3::NUMERIC WHERE user_id = $1 AND league_id = $2`,
		effect.UserID, effect.LeagueID, effect.NewCash.String(),
	); err != nil {
		return nil, fmt.Errorf("update cash: %w", err)
	}

	if effect.RemoveHolding {
		if _, err := tx.Exec(ctx,
			`DELETE FROM holdings WHERE user_id = $1 AND league_id = $2 AND symbol = $3`,
			effect.UserID, effect.LeagueID, effect.Symbol,
		); err != nil {
			return nil, fmt.Errorf("remove holding: %w", err)
		}
	} else {
		if _, err := tx.Exec(ctx,
			`INSERT INTO holdings (user_id, league_id, symbol, shares, avg_cost)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)
			 ON CONFLICT (user_id, league_id, symbol)
			 DO UPDATE SET shares = EXCLUDED.shares, avg_cost = EXCLUDED.avg_cost`,
			effect.UserID, effect.LeagueID, effect.Symbol,
			effect.NewShares.String(), effect.NewAvgCost.String(),
		); err != nil {
			return nil, fmt.Errorf("upsert holding: %w", err)
		}
	}

	t := effect.Transaction
	if _, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, league_id, symbol, side, shares, price, total_amount, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9)`,
		t.ID, t.UserID, t.LeagueID, t.Symbol, t.Side,
		t.Shares.String(), t.Price.String(), t.TotalAmount.String(),
		t.ExecutedAt,
	); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	// Read the committed state back while still holding the row lock.
	l, err := s.getLedgerRow(ctx, tx, effect.UserID, effect.LeagueID, false)
	if err != nil {
		return nil, err
	}
	l.Holdings, err = s.getHoldings(ctx, tx, effect.UserID, effect.LeagueID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit apply trade: %w", err)
	}
	return l, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, userID, leagueID string, limit int) ([]model.Transaction, error) {
	query := `SELECT id, user_id, league_id, symbol, side,
	                 shares::TEXT, price::TEXT, total_amount::TEXT, executed_at
	          FROM transactions WHERE user_id = $1 AND league_id = $2
	          ORDER BY executed_at DESC`
	args := []any{userID, leagueID}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var shares, price, total string
		if err := rows.Scan(&t.ID, &t.UserID, &t.LeagueID, &t.Symbol, &t.Side,
			&shares, &price, &total, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(shares)
		t.Price, _ = decimal.NewFromString(price)
		t.TotalAmount, _ = decimal.NewFromString(total)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
