package trade

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
	"github.com/investleague/league-engine/internal/quote"
	"github.com/investleague/league-engine/internal/rank"
	"github.com/investleague/league-engine/internal/rules"
	"github.com/investleague/league-engine/internal/store"
)

// userIDHeader carries the already-authenticated user identity. Session
// issuance lives outside this service; the engine trusts the header.
const userIDHeader = "X-User-ID"

// Service exposes the engine over HTTP: trades, portfolios, leaderboards,
// quotes, and league joins.
type Service struct {
	store    store.Store
	executor *Executor
	agg      *rank.Aggregator
	quotes   *quote.Cache
	leagues  map[string]*rules.RuleSet
	wsHub    *WSHub // optional WebSocket hub for quote pushes
}

// NewService creates the HTTP service. leagues maps league id → rule set.
// Pass nil for hub if WebSocket pushes are not needed.
func NewService(st store.Store, quotes *quote.Cache, leagues map[string]*rules.RuleSet, hub *WSHub) *Service {
	return &Service{
		store:    st,
		executor: NewExecutor(st),
		agg:      rank.NewAggregator(st, quotes),
		quotes:   quotes,
		leagues:  leagues,
		wsHub:    hub,
	}
}

// Routes mounts all API handlers on r. Used by main and by tests.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Get("/quotes/{symbol}", s.GetQuote)
	r.Post("/quotes/batch", s.BatchQuotes)
	r.Get("/symbols/search", s.SearchSymbols)

	r.Post("/leagues/{leagueID}/join", s.JoinLeague)
	r.Post("/trade", s.ExecuteTrade)
	r.Get("/portfolio/{leagueID}", s.GetPortfolio)
	r.Get("/leaderboard/{leagueID}", s.GetLeaderboard)
	r.Get("/transactions/{leagueID}", s.GetTransactions)
}

// --- Request/Response types ---

// TradeRequest is the JSON body for POST /trade.
type TradeRequest struct {
	LeagueID string          `json:"league_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"` // BUY or SELL
	Shares   decimal.Decimal `json:"shares"`
	Price    decimal.Decimal `json:"price"`
}

// batchQuotesRequest is the JSON body for POST /quotes/batch.
type batchQuotesRequest struct {
	Symbols []string `json:"symbols"`
}

// --- Handlers ---

// JoinLeague handles POST /api/v1/leagues/{leagueID}/join.
// Seeds the caller's ledger with the league's starting cash.
func (s *Service) JoinLeague(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, KindInvalidInput, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}

	leagueID := chi.URLParam(r, "leagueID")
	ruleSet, ok := s.leagues[leagueID]
	if !ok {
		writeError(w, KindNotFound, "league not found: "+leagueID, http.StatusNotFound)
		return
	}

	if err := s.store.CreateLedger(r.Context(), userID, leagueID, ruleSet.StartingCash); err != nil {
		if errors.Is(err, store.ErrLedgerExists) {
			writeError(w, KindInvalidInput, "already a member of this league", http.StatusConflict)
			return
		}
		writeError(w, KindTransientStore, "failed to create ledger", http.StatusServiceUnavailable)
		return
	}

	ledger, err := s.store.GetLedger(r.Context(), userID, leagueID)
	if err != nil {
		writeError(w, KindTransientStore, "failed to load ledger", http.StatusServiceUnavailable)
		return
	}

	slog.Info("league joined", "user", userID, "league", leagueID, "starting_cash", ruleSet.StartingCash.String())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ledger)
}

// ExecuteTrade handles POST /api/v1/trade.
func (s *Service) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, KindInvalidInput, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, KindInvalidInput, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LeagueID == "" {
		writeError(w, KindInvalidInput, "league_id is required", http.StatusBadRequest)
		return
	}

	receipt, err := s.executor.Execute(r.Context(), userID, req.LeagueID, Intent{
		Symbol: req.Symbol,
		Side:   req.Side,
		Shares: req.Shares,
		Price:  req.Price,
	}, s.leagues[req.LeagueID])
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			if Retryable(err) {
				// The commit is atomic, so the same request can be resent.
				w.Header().Set("Retry-After", "1")
			}
			writeError(w, te.Kind, te.Message, httpStatus(te.Kind))
		} else {
			writeError(w, "", "trade failed", http.StatusInternalServerError)
		}
		return
	}

	slog.Info("trade executed",
		"transaction_id", receipt.TransactionID,
		"user", userID,
		"league", req.LeagueID,
		"symbol", strings.ToUpper(req.Symbol),
		"side", strings.ToUpper(req.Side),
		"shares", req.Shares.String(),
		"price", req.Price.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(receipt)
}

// GetPortfolio handles GET /api/v1/portfolio/{leagueID}.
// Returns the caller's ledger snapshot with current valuations.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, KindInvalidInput, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}
	leagueID := chi.URLParam(r, "leagueID")

	view, err := s.agg.Portfolio(r.Context(), userID, leagueID)
	if errors.Is(err, store.ErrLedgerNotFound) {
		writeError(w, KindNotFound, "portfolio not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, KindTransientStore, "failed to load portfolio", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}

// GetLeaderboard handles GET /api/v1/leaderboard/{leagueID}.
func (s *Service) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	leagueID := chi.URLParam(r, "leagueID")
	ruleSet, ok := s.leagues[leagueID]
	if !ok {
		writeError(w, KindNotFound, "league not found: "+leagueID, http.StatusNotFound)
		return
	}

	entries, err := s.agg.Leaderboard(r.Context(), leagueID, ruleSet.StartingCash)
	if err != nil {
		writeError(w, KindTransientStore, "failed to compute leaderboard", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []model.LeaderboardEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// GetTransactions handles GET /api/v1/transactions/{leagueID}.
// Returns the caller's last 50 transactions, newest first.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		writeError(w, KindInvalidInput, "missing "+userIDHeader+" header", http.StatusUnauthorized)
		return
	}
	leagueID := chi.URLParam(r, "leagueID")

	txs, err := s.store.Transactions(r.Context(), userID, leagueID, 50)
	if err != nil {
		writeError(w, KindTransientStore, "failed to load transactions", http.StatusServiceUnavailable)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// GetQuote handles GET /api/v1/quotes/{symbol}.
func (s *Service) GetQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if symbol == "" {
		writeError(w, KindInvalidInput, "symbol is required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.quotes.Quote(r.Context(), symbol))
}

// BatchQuotes handles POST /api/v1/quotes/batch.
// The response array is aligned positionally with the request symbols.
func (s *Service) BatchQuotes(w http.ResponseWriter, r *http.Request) {
	var req batchQuotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbols == nil {
		writeError(w, KindInvalidInput, "symbols array required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.quotes.BatchQuote(r.Context(), req.Symbols))
}

// SearchSymbols handles GET /api/v1/symbols/search?q=.
func (s *Service) SearchSymbols(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, KindInvalidInput, "query parameter q required", http.StatusBadRequest)
		return
	}

	matches := s.quotes.Search(r.Context(), query)
	if matches == nil {
		matches = []model.SymbolMatch{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(matches)
}

// errorBody is the structured error payload: kind plus message, so callers
// can distinguish retryable failures from ones needing a corrected request.
type errorBody struct {
	Error struct {
		Kind    Kind   `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, kind Kind, message string, status int) {
	var body errorBody
	body.Error.Kind = kind
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
