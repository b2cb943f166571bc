package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/ledger"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

// Hub broadcasts records as JSON to websocket subscribers
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*wsClient
	logger  *zap.Logger
}

type wsClient struct {
	id      uuid.UUID
	account ledger.Account
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
}

// NewHub creates an empty hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[uuid.UUID]*wsClient),
		logger:  logger,
	}
}

// Serve registers an upgraded connection. An empty account subscribes to
// every record. The hub owns conn from here on.
func (h *Hub) Serve(conn *websocket.Conn, account ledger.Account) {
	c := &wsClient{
		id:      uuid.New(),
		account: account,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("websocket subscriber joined",
		zap.String("client_id", c.id.String()),
		zap.String("account", string(account)),
	)

	go h.readPump(c)
	go h.writePump(c)
}

// Record implements ledger.Recorder. Subscribers whose buffer is full miss
// the record.
func (h *Hub) Record(_ context.Context, event ledger.Event) error {
	message, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.account != "" && c.account != event.Account {
			continue
		}
		select {
		case c.send <- message:
		default:
			h.logger.Warn("dropping record for slow subscriber",
				zap.String("client_id", c.id.String()),
				zap.Uint64("sequence", event.Sequence),
			)
		}
	}
	return nil
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.conn.Close()
	}
}

// readPump discards inbound frames and unregisters the client once the
// connection drops.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		close(c.done)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
