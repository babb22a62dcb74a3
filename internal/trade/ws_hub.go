// WebSocket hub for periodic quote pushes to subscribed clients.
package trade

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/investleague/league-engine/internal/metrics"
	"github.com/investleague/league-engine/internal/model"
)

// clientMessage is what a client sends over the socket. The only supported
// type is "subscribe", which replaces the client's symbol set.
type clientMessage struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// quotesMessage is the periodic push payload.
type quotesMessage struct {
	Type string         `json:"type"`
	Data []*model.Quote `json:"data"`
}

// quoteSource is the slice of the quote cache the hub needs.
type quoteSource interface {
	BatchQuote(ctx context.Context, symbols []string) []*model.Quote
}

// subscription pairs a connection with its requested symbols.
type subscription struct {
	conn    *websocket.Conn
	symbols []string
}

// WSHub manages WebSocket connections and pushes quote refreshes for each
// client's subscribed symbols on a fixed interval. Prices come from the
// quote cache, so a burst of subscribers does not multiply upstream calls.
type WSHub struct {
	quotes       quoteSource
	refresh      time.Duration
	pingInterval time.Duration
	clients      map[*websocket.Conn][]string
	register     chan *websocket.Conn
	subscribe    chan subscription
	unregister   chan *websocket.Conn
	mu           sync.RWMutex
}

// NewWSHub creates a hub that refreshes subscriptions every refresh interval.
func NewWSHub(quotes quoteSource, refresh time.Duration) *WSHub {
	if refresh <= 0 {
		refresh = 5 * time.Second
	}
	return &WSHub{
		quotes:       quotes,
		refresh:      refresh,
		pingInterval: 30 * time.Second,
		clients:      make(map[*websocket.Conn][]string),
		register:     make(chan *websocket.Conn),
		subscribe:    make(chan subscription, 16),
		unregister:   make(chan *websocket.Conn),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = nil
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			slog.Info("ws client connected", "total", total)

		case sub := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[sub.conn]; ok {
				h.clients[sub.conn] = sub.symbols
			}
			h.mu.Unlock()

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case <-ticker.C:
			h.pushQuotes()
		}
	}
}

// pushQuotes sends current quotes to every client with a subscription.
func (h *WSHub) pushQuotes() {
	h.mu.RLock()
	targets := make(map[*websocket.Conn][]string, len(h.clients))
	for conn, symbols := range h.clients {
		if len(symbols) > 0 {
			targets[conn] = symbols
		}
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.refresh)
	defer cancel()

	for conn, symbols := range targets {
		data, err := json.Marshal(quotesMessage{
			Type: "quotes",
			Data: h.quotes.BatchQuote(ctx, symbols),
		})
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// Write failure means the client is gone; let the read pump's
			// unregister clean up.
			conn.Close()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	h.register <- conn

	// Read pump: parse subscribe messages and detect disconnects.
	go func() {
		defer func() { h.unregister <- conn }()
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			return nil
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if json.Unmarshal(raw, &msg) != nil {
				continue
			}
			if msg.Type == "subscribe" {
				h.subscribe <- subscription{conn: conn, symbols: msg.Symbols}
			}
		}
	}()

	// Ping ticker to keep the connection alive through proxies. Must use
	// WriteControl: the hub loop writes quote pushes to the same connection,
	// and gorilla allows only one concurrent WriteMessage writer.
	go func() {
		ticker := time.NewTicker(h.pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}()
}
