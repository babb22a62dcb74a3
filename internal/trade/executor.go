package trade

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/metrics"
	"github.com/investleague/league-engine/internal/model"
	"github.com/investleague/league-engine/internal/rules"
	"github.com/investleague/league-engine/internal/store"
)

// Intent is a trade request prior to being applied. Price is caller-supplied
// at request time rather than re-fetched, so a quoted price can be honored.
type Intent struct {
	Symbol string
	Side   string // BUY or SELL
	Shares decimal.Decimal
	Price  decimal.Decimal
}

// Receipt is the result of an accepted trade: the immutable transaction id
// and the updated ledger snapshot.
type Receipt struct {
	TransactionID string        `json:"transaction_id"`
	Ledger        *model.Ledger `json:"ledger"`
}

// Executor validates trade intents and applies them atomically through the
// store. It is the only writer of ledger state.
//
// Concurrency: execution is serialized per (league, user) via keyed mutexes,
// so trades on the same ledger are linearizable while trades on different
// ledgers never contend. The store's ApplyTrade is the single commit point.
type Executor struct {
	store  store.Store // commit point; writes run cache invalidation
	reader store.Store // validation reads; bypasses read-through caches
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor creates a trade executor on top of a store. When st is a
// read-through cache wrapper, validation reads go to its primary: a cache
// entry can be repopulated with a pre-trade snapshot by a concurrent reader,
// and validating against it would spend the same cash twice. Writes still go
// through the wrapper so invalidation keeps working.
func NewExecutor(st store.Store) *Executor {
	reader := st
	if c, ok := st.(interface{ Primary() store.Store }); ok {
		reader = c.Primary()
	}
	return &Executor{
		store:  st,
		reader: reader,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// ledgerLock returns the mutex for one (league, user) ledger, creating it on
// first use. The map only grows with league membership, so no eviction.
func (e *Executor) ledgerLock(userID, leagueID string) *sync.Mutex {
	key := leagueID + "/" + userID
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[key]
	if !ok {
		l = &sync.Mutex{}
		e.locks[key] = l
	}
	return l
}

// Execute validates an intent against the ledger and league rules, applies
// it atomically, and returns a receipt. ruleSet may be nil, which skips
// league-rule checks (validation and accounting invariants always apply).
//
// Every failure is classified (see Kind); none leave a partial effect, and
// none are retried here — a rejected trade needs a new, corrected intent.
func (e *Executor) Execute(ctx context.Context, userID, leagueID string, intent Intent, ruleSet *rules.RuleSet) (*Receipt, error) {
	start := e.now()

	symbol := strings.ToUpper(strings.TrimSpace(intent.Symbol))
	side := strings.ToUpper(strings.TrimSpace(intent.Side))

	// --- Input validation ---
	if symbol == "" {
		return nil, reject(newError(KindInvalidInput, "symbol is required"))
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, reject(newError(KindInvalidInput, "side must be BUY or SELL"))
	}
	if intent.Shares.LessThanOrEqual(decimal.Zero) {
		return nil, reject(newError(KindInvalidInput, "shares must be positive"))
	}
	if intent.Price.LessThanOrEqual(decimal.Zero) {
		return nil, reject(newError(KindInvalidInput, "price must be positive"))
	}

	// --- Ledger-independent rule checks ---
	if ruleSet != nil {
		if err := ruleSet.CheckSymbol(symbol); err != nil {
			return nil, reject(wrapError(KindRuleViolation, err, err.Error()))
		}
		if err := ruleSet.CheckTradingHours(e.now()); err != nil {
			return nil, reject(wrapError(KindRuleViolation, err, err.Error()))
		}
	}

	// Serialize per ledger: a concurrent trade on the same ledger sees this
	// trade's effects before it is validated, never a stale read.
	lock := e.ledgerLock(userID, leagueID)
	lock.Lock()
	defer lock.Unlock()

	ledger, err := e.reader.GetLedger(ctx, userID, leagueID)
	if errors.Is(err, store.ErrLedgerNotFound) {
		return nil, reject(newError(KindNotFound, "no ledger for user %s in league %s", userID, leagueID))
	}
	if err != nil {
		return nil, reject(wrapError(KindTransientStore, err, "ledger store unavailable"))
	}

	totalAmount := intent.Shares.Mul(intent.Price)

	effect := &model.TradeEffect{
		UserID:   userID,
		LeagueID: leagueID,
		Symbol:   symbol,
	}

	holding := ledger.Holding(symbol)

	switch side {
	case model.SideBuy:
		if totalAmount.GreaterThan(ledger.Cash) {
			return nil, reject(newError(KindInsufficientFunds,
				"trade costs %s but only %s cash is available", totalAmount, ledger.Cash))
		}

		if holding != nil {
			// Weighted-average cost basis across all buys.
			newShares := holding.Shares.Add(intent.Shares)
			effect.NewShares = newShares
			effect.NewAvgCost = holding.AvgCost.Mul(holding.Shares).Add(totalAmount).Div(newShares)
		} else {
			effect.NewShares = intent.Shares
			effect.NewAvgCost = intent.Price
		}
		effect.NewCash = ledger.Cash.Sub(totalAmount)

		if ruleSet != nil {
			// Position and portfolio valued at cost; the execution path
			// must not block on the quote provider.
			positionValue := effect.NewShares.Mul(intent.Price)
			if err := ruleSet.CheckPositionSize(positionValue, portfolioValueAtCost(ledger)); err != nil {
				return nil, reject(wrapError(KindRuleViolation, err, err.Error()))
			}
		}

	case model.SideSell:
		if holding == nil {
			return nil, reject(newError(KindHoldingNotFound, "no holding for %s", symbol))
		}
		if holding.Shares.LessThan(intent.Shares) {
			return nil, reject(newError(KindInsufficientShares,
				"holding has %s shares, sell requested %s", holding.Shares, intent.Shares))
		}

		newShares := holding.Shares.Sub(intent.Shares)
		if newShares.IsZero() {
			// A zero-share holding is removed entirely; its average cost
			// would be meaningless stale state.
			effect.RemoveHolding = true
		} else {
			effect.NewShares = newShares
			effect.NewAvgCost = holding.AvgCost // sells never touch the basis
		}
		effect.NewCash = ledger.Cash.Add(totalAmount)
	}

	effect.Transaction = model.Transaction{
		ID:          uuid.New().String(),
		UserID:      userID,
		LeagueID:    leagueID,
		Symbol:      symbol,
		Side:        side,
		Shares:      intent.Shares,
		Price:       intent.Price,
		TotalAmount: totalAmount,
		ExecutedAt:  e.now().UTC(),
	}

	updated, err := e.store.ApplyTrade(ctx, effect)
	if err != nil {
		return nil, reject(wrapError(KindTransientStore, err, "failed to commit trade"))
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(e.now().Sub(start).Seconds())

	return &Receipt{
		TransactionID: effect.Transaction.ID,
		Ledger:        updated,
	}, nil
}

// portfolioValueAtCost values a ledger as cash plus holdings at average cost.
func portfolioValueAtCost(l *model.Ledger) decimal.Decimal {
	total := l.Cash
	for _, h := range l.Holdings {
		total = total.Add(h.Shares.Mul(h.AvgCost))
	}
	return total
}

// reject records the rejection metric and passes the error through.
func reject(err *Error) error {
	metrics.TradeRejections.WithLabelValues(string(err.Kind)).Inc()
	return err
}
