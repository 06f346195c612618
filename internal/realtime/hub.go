// Package realtime pushes notifications to connected accounts over
// WebSocket, so a buyer sees "offer accepted" without polling.
//
// Delivery is best-effort on top of the persisted notification row: a
// disconnected account simply reads its notifications later.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/assetmarket/internal/notify"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// client is one WebSocket connection bound to an account.
type client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	accountID string
}

type pushMsg struct {
	accountID string
	payload   []byte
}

// Hub manages account-addressed WebSocket connections. It implements the
// notification push contract: Push delivers to every open connection for
// the account and drops silently when there is none.
type Hub struct {
	clients    map[string]map[*client]bool // accountID -> connections
	push       chan pushMsg
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	nClients   int

	totalPushed  atomic.Int64
	totalClients atomic.Int64
}

// NewHub creates a new push hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		push:       make(chan pushMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, conns := range h.clients {
				for c := range conns {
					close(c.send) // writePump sends CloseMessage on closed channel
				}
			}
			h.clients = make(map[string]map[*client]bool)
			h.nClients = 0
			h.mu.Unlock()
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			conns, ok := h.clients[c.accountID]
			if !ok {
				conns = make(map[*client]bool)
				h.clients[c.accountID] = conns
			}
			conns[c] = true
			h.nClients++
			h.totalClients.Add(1)
			n := h.nClients
			h.mu.Unlock()
			h.logger.Info("client connected", "account", c.accountID, "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if conns, ok := h.clients[c.accountID]; ok {
				if _, ok := conns[c]; ok {
					delete(conns, c)
					close(c.send)
					h.nClients--
					if len(conns) == 0 {
						delete(h.clients, c.accountID)
					}
				}
			}
			n := h.nClients
			h.mu.Unlock()
			h.logger.Info("client disconnected", "account", c.accountID, "total", n)

		case msg := <-h.push:
			h.totalPushed.Add(1)
			h.mu.RLock()
			var slow []*client
			for c := range h.clients[msg.accountID] {
				select {
				case c.send <- msg.payload:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			// Remove slow clients under write lock
			if len(slow) > 0 {
				h.mu.Lock()
				for _, c := range slow {
					if conns, ok := h.clients[c.accountID]; ok {
						if _, ok := conns[c]; ok {
							close(c.send)
							delete(conns, c)
							h.nClients--
							if len(conns) == 0 {
								delete(h.clients, c.accountID)
							}
						}
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Push delivers a notification to the account's open connections.
func (h *Hub) Push(accountID string, n *notify.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		h.logger.Warn("failed to serialize notification", "error", err)
		return
	}
	select {
	case h.push <- pushMsg{accountID: accountID, payload: payload}:
	default:
		h.logger.Warn("push channel full, dropping notification", "account", accountID)
	}
}

// Stats returns hub statistics.
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]interface{}{
		"connectedClients":  h.nClients,
		"connectedAccounts": len(h.clients),
		"totalPushed":       h.totalPushed.Load(),
		"totalClients":      h.totalClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket for the given account.
// The caller has already authenticated the account.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request, accountID string) {
	// Reject upgrades after the hub has stopped to prevent orphaned connections.
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := h.nClients
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:       h,
		conn:      conn,
		send:      make(chan []byte, 64),
		accountID: accountID,
	}

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// readPump drains the connection so pings and close frames are handled.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			break
		}
	}
}

// writePump writes messages to WebSocket.
func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
