package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	ledgers      map[string]*model.Ledger // key: leagueID + "/" + userID
	transactions []model.Transaction
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ledgers: make(map[string]*model.Ledger),
	}
}

func ledgerKey(userID, leagueID string) string {
	return leagueID + "/" + userID
}

// copyLedger returns a deep copy so callers cannot mutate stored state.
func copyLedger(l *model.Ledger) *model.Ledger {
	cp := *l
	cp.Holdings = make([]model.Holding, len(l.Holdings))
	copy(cp.Holdings, l.Holdings)
	return &cp
}

func (s *MemoryStore) CreateLedger(_ context.Context, userID, leagueID string, startingCash decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := ledgerKey(userID, leagueID)
	if _, ok := s.ledgers[key]; ok {
		return ErrLedgerExists
	}
	s.ledgers[key] = &model.Ledger{
		UserID:    userID,
		LeagueID:  leagueID,
		Cash:      startingCash,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *MemoryStore) GetLedger(_ context.Context, userID, leagueID string) (*model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.ledgers[ledgerKey(userID, leagueID)]
	if !ok {
		return nil, ErrLedgerNotFound
	}
	return copyLedger(l), nil
}

func (s *MemoryStore) ListLedgersByLeague(_ context.Context, leagueID string) ([]model.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ledgers []model.Ledger
	for _, l := range s.ledgers {
		if l.LeagueID == leagueID {
			ledgers = append(ledgers, *copyLedger(l))
		}
	}
	// Stable iteration order for callers.
	sort.Slice(ledgers, func(i, j int) bool { return ledgers[i].UserID < ledgers[j].UserID })
	return ledgers, nil
}

// ApplyTrade applies the whole effect under one lock: a concurrent reader
// never sees cash debited without the matching holding update.
func (s *MemoryStore) ApplyTrade(_ context.Context, effect *model.TradeEffect) (*model.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.ledgers[ledgerKey(effect.UserID, effect.LeagueID)]
	if !ok {
		return nil, ErrLedgerNotFound
	}

	l.Cash = effect.NewCash

	idx := -1
	for i := range l.Holdings {
		if l.Holdings[i].Symbol == effect.Symbol {
			idx = i
			break
		}
	}

	switch {
	case effect.RemoveHolding:
		if idx >= 0 {
			l.Holdings = append(l.Holdings[:idx], l.Holdings[idx+1:]...)
		}
	case idx >= 0:
		l.Holdings[idx].Shares = effect.NewShares
		l.Holdings[idx].AvgCost = effect.NewAvgCost
	default:
		l.Holdings = append(l.Holdings, model.Holding{
			Symbol:  effect.Symbol,
			Shares:  effect.NewShares,
			AvgCost: effect.NewAvgCost,
		})
	}

	s.transactions = append(s.transactions, effect.Transaction)
	return copyLedger(l), nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID, leagueID string, limit int) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	// Newest first: the slice is append-ordered, walk it backwards.
	for i := len(s.transactions) - 1; i >= 0; i-- {
		tx := s.transactions[i]
		if tx.UserID != userID || tx.LeagueID != leagueID {
			continue
		}
		result = append(result, tx)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
