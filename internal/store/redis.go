package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for ledger reads. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary. The
// transaction log is never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the wrapped store. Readers that must observe the latest
// committed state (the trade validation path) go straight to it: a cache
// entry can be repopulated with a pre-trade snapshot by a concurrent
// read-through between a commit's Del and the next read.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateLedger(ctx context.Context, userID, leagueID string, startingCash decimal.Decimal) error {
	if err := s.primary.CreateLedger(ctx, userID, leagueID, startingCash); err != nil {
		return err
	}
	s.rdb.Del(ctx, cachedLedgerKey(userID, leagueID), leagueKey(leagueID))
	return nil
}

func (s *CachedStore) ApplyTrade(ctx context.Context, effect *model.TradeEffect) (*model.Ledger, error) {
	l, err := s.primary.ApplyTrade(ctx, effect)
	if err != nil {
		return nil, err
	}
	// Invalidate rather than overwrite; next read re-populates from the
	// primary, which is the source of truth for ordering.
	s.rdb.Del(ctx, cachedLedgerKey(effect.UserID, effect.LeagueID), leagueKey(effect.LeagueID))
	return l, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetLedger(ctx context.Context, userID, leagueID string) (*model.Ledger, error) {
	data, err := s.rdb.Get(ctx, cachedLedgerKey(userID, leagueID)).Bytes()
	if err == nil {
		var l model.Ledger
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetLedger(ctx, userID, leagueID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, cachedLedgerKey(userID, leagueID), data, s.ttl)
	}
	return l, nil
}

func (s *CachedStore) ListLedgersByLeague(ctx context.Context, leagueID string) ([]model.Ledger, error) {
	data, err := s.rdb.Get(ctx, leagueKey(leagueID)).Bytes()
	if err == nil {
		var ledgers []model.Ledger
		if json.Unmarshal(data, &ledgers) == nil {
			return ledgers, nil
		}
	}

	ledgers, err := s.primary.ListLedgersByLeague(ctx, leagueID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(ledgers); err == nil {
		s.rdb.Set(ctx, leagueKey(leagueID), data, s.ttl)
	}
	return ledgers, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) Transactions(ctx context.Context, userID, leagueID string, limit int) ([]model.Transaction, error) {
	return s.primary.Transactions(ctx, userID, leagueID, limit)
}

// --- Cache keys ---

func cachedLedgerKey(userID, leagueID string) string {
	return fmt.Sprintf("ledger:%s:%s", leagueID, userID)
}

func leagueKey(leagueID string) string {
	return fmt.Sprintf("league-ledgers:%s", leagueID)
}
