package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investleague/league-engine/internal/model"
	"github.com/investleague/league-engine/internal/quote"
	"github.com/investleague/league-engine/internal/rules"
	"github.com/investleague/league-engine/internal/store"
	"github.com/investleague/league-engine/internal/trade"
)

// staticProvider serves a fixed price for every symbol.
type staticProvider struct {
	price decimal.Decimal
}

func (p *staticProvider) FetchQuote(_ context.Context, symbol string) (*model.Quote, error) {
	return &model.Quote{Symbol: symbol, Price: p.price}, nil
}

func (p *staticProvider) SearchSymbols(_ context.Context, _ string) ([]model.SymbolMatch, error) {
	return []model.SymbolMatch{{Symbol: "AAPL", Name: "Apple Inc"}}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	quotes := quote.NewCache(&staticProvider{price: decimal.NewFromInt(100)})
	leagues := map[string]*rules.RuleSet{
		"demo": {
			StartingCash: decimal.NewFromInt(100000),
			TradingHours: rules.TradingHoursAlways,
		},
	}
	svc := trade.NewService(ms, quotes, leagues, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ms
}

func doRequest(t *testing.T, method, url, userID string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func errorKind(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	if body.Error.Message == "" {
		t.Error("error responses must carry a message")
	}
	return body.Error.Kind
}

func TestJoinLeague(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var ledger model.Ledger
	decodeBody(t, resp, &ledger)
	if ledger.UserID != "alice" || ledger.LeagueID != "demo" {
		t.Errorf("unexpected ledger identity: %s/%s", ledger.UserID, ledger.LeagueID)
	}
	if !ledger.Cash.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("expected starting cash 100000, got %s", ledger.Cash)
	}
}

func TestJoinLeague_MissingUserHeader(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestJoinLeague_UnknownLeague(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/leagues/nope/join", "alice", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if kind := errorKind(t, resp); kind != "not_found" {
		t.Errorf("expected not_found kind, got %q", kind)
	}
}

func TestJoinLeague_Twice(t *testing.T) {
	srv, _ := newTestServer(t)

	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()
	resp := doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second join, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTradeFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()

	resp := doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo",
		Symbol:   "AAPL",
		Side:     "BUY",
		Shares:   decimal.NewFromInt(10),
		Price:    decimal.NewFromInt(150),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var receipt trade.Receipt
	decodeBody(t, resp, &receipt)
	if receipt.TransactionID == "" {
		t.Error("expected a transaction id in the receipt")
	}
	if !receipt.Ledger.Cash.Equal(decimal.NewFromInt(98500)) {
		t.Errorf("expected cash 98500 after the buy, got %s", receipt.Ledger.Cash)
	}
}

func TestTrade_InsufficientFunds(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()

	resp := doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo",
		Symbol:   "AAPL",
		Side:     "BUY",
		Shares:   decimal.NewFromInt(10000),
		Price:    decimal.NewFromInt(150),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if kind := errorKind(t, resp); kind != "insufficient_funds" {
		t.Errorf("expected insufficient_funds kind, got %q", kind)
	}
}

// failingStore delegates reads to the memory store but fails every commit.
type failingStore struct {
	*store.MemoryStore
}

func (s *failingStore) ApplyTrade(_ context.Context, _ *model.TradeEffect) (*model.Ledger, error) {
	return nil, errors.New("store down")
}

func TestTrade_TransientStoreRetryAfter(t *testing.T) {
	ms := store.NewMemoryStore()
	if err := ms.CreateLedger(context.Background(), "alice", "demo", decimal.NewFromInt(100000)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	quotes := quote.NewCache(&staticProvider{price: decimal.NewFromInt(100)})
	leagues := map[string]*rules.RuleSet{
		"demo": {StartingCash: decimal.NewFromInt(100000)},
	}
	svc := trade.NewService(&failingStore{MemoryStore: ms}, quotes, leagues, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo",
		Symbol:   "AAPL",
		Side:     "BUY",
		Shares:   decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(100),
	})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "1" {
		t.Errorf("transient store failures should advertise Retry-After, got %q", got)
	}
	if kind := errorKind(t, resp); kind != "transient_store" {
		t.Errorf("expected transient_store kind, got %q", kind)
	}
}

func TestTrade_UnknownLedger(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/trade", "stranger", trade.TradeRequest{
		LeagueID: "demo",
		Symbol:   "AAPL",
		Side:     "BUY",
		Shares:   decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(150),
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTrade_MissingLeagueID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		Symbol: "AAPL",
		Side:   "BUY",
		Shares: decimal.NewFromInt(1),
		Price:  decimal.NewFromInt(150),
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetPortfolio(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()
	doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo", Symbol: "AAPL", Side: "BUY",
		Shares: decimal.NewFromInt(10), Price: decimal.NewFromInt(150),
	}).Body.Close()

	resp := doRequest(t, "GET", srv.URL+"/api/v1/portfolio/demo", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var view model.PortfolioView
	decodeBody(t, resp, &view)
	if len(view.Holdings) != 1 {
		t.Fatalf("expected 1 holding, got %d", len(view.Holdings))
	}
	// Quote provider prices everything at 100.
	if !view.Holdings[0].Value.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected holding value 1000, got %s", view.Holdings[0].Value)
	}
	if !view.TotalValue.Equal(decimal.NewFromInt(99500)) {
		t.Errorf("expected total value 99500, got %s", view.TotalValue)
	}
}

func TestGetPortfolio_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/portfolio/demo", "stranger", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetLeaderboard(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "bob", nil).Body.Close()
	// alice buys below the quote price, gaining value relative to bob.
	doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo", Symbol: "AAPL", Side: "BUY",
		Shares: decimal.NewFromInt(100), Price: decimal.NewFromInt(50),
	}).Body.Close()

	resp := doRequest(t, "GET", srv.URL+"/api/v1/leaderboard/demo", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var entries []model.LeaderboardEntry
	decodeBody(t, resp, &entries)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// alice: 95000 cash + 100*100 = 105000; bob: 100000.
	if entries[0].UserID != "alice" || entries[0].Rank != 1 {
		t.Errorf("expected alice ranked first, got %s at rank %d", entries[0].UserID, entries[0].Rank)
	}
	if entries[1].UserID != "bob" || entries[1].Rank != 2 {
		t.Errorf("expected bob ranked second, got %s at rank %d", entries[1].UserID, entries[1].Rank)
	}
}

func TestGetLeaderboard_EmptyLeague(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/leaderboard/demo", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	defer resp.Body.Close()
	var raw bytes.Buffer
	raw.ReadFrom(resp.Body)
	if got := raw.String(); got == "null\n" {
		t.Error("empty leaderboard must encode as [], not null")
	}
}

func TestGetTransactions(t *testing.T) {
	srv, _ := newTestServer(t)
	doRequest(t, "POST", srv.URL+"/api/v1/leagues/demo/join", "alice", nil).Body.Close()
	doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo", Symbol: "AAPL", Side: "BUY",
		Shares: decimal.NewFromInt(1), Price: decimal.NewFromInt(100),
	}).Body.Close()
	doRequest(t, "POST", srv.URL+"/api/v1/trade", "alice", trade.TradeRequest{
		LeagueID: "demo", Symbol: "MSFT", Side: "BUY",
		Shares: decimal.NewFromInt(2), Price: decimal.NewFromInt(100),
	}).Body.Close()

	resp := doRequest(t, "GET", srv.URL+"/api/v1/transactions/demo", "alice", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var txs []model.Transaction
	decodeBody(t, resp, &txs)
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].Symbol != "MSFT" || txs[1].Symbol != "AAPL" {
		t.Errorf("expected newest first (MSFT, AAPL), got (%s, %s)", txs[0].Symbol, txs[1].Symbol)
	}
}

func TestGetQuote(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/quotes/aapl", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var q model.Quote
	decodeBody(t, resp, &q)
	if q.Symbol != "AAPL" {
		t.Errorf("expected normalized symbol AAPL, got %q", q.Symbol)
	}
	if !q.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected price 100, got %s", q.Price)
	}
}

func TestBatchQuotes(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/quotes/batch", "", map[string][]string{
		"symbols": {"TSLA", "AAPL"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var quotes []model.Quote
	decodeBody(t, resp, &quotes)
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
	if quotes[0].Symbol != "TSLA" || quotes[1].Symbol != "AAPL" {
		t.Errorf("response must preserve request order, got (%s, %s)", quotes[0].Symbol, quotes[1].Symbol)
	}
}

func TestBatchQuotes_MissingSymbols(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "POST", srv.URL+"/api/v1/quotes/batch", "", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSearchSymbols(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/symbols/search?q=apple", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var matches []model.SymbolMatch
	decodeBody(t, resp, &matches)
	if len(matches) == 0 || matches[0].Symbol != "AAPL" {
		t.Errorf("expected AAPL match, got %+v", matches)
	}
}

func TestSearchSymbols_MissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := doRequest(t, "GET", srv.URL+"/api/v1/symbols/search", "", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
