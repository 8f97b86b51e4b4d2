// Package ws is the realtime boundary: one authenticated websocket per
// client connection, frames shaped {event, data}. Connections register with
// the room router; chat persistence happens over HTTP, so everything routed
// here is relay or receipt traffic.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"log/slog"

	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/rooms"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessage = 1 << 20
)

const sendBuffer = 128

// TokenValidator checks a bearer token and resolves the user behind it.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (userID string, err error)
}

// ReceiptSink absorbs delivery and read receipts reported over the socket.
type ReceiptSink interface {
	MarkDelivered(ctx context.Context, messageID, actorID string, nowMs int64)
	MarkRead(ctx context.Context, messageID, actorID string, nowMs int64)
}

// PresenceStore is the durable side of connect/disconnect bookkeeping.
type PresenceStore interface {
	TouchUserOffline(ctx context.Context, userID string, lastSeenMs, nowMs int64) error
}

type client struct {
	conn   *websocket.Conn
	userID string

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (c *client) UserID() string { return c.userID }

// Send queues a payload without blocking. False means the connection is slow
// or closing and the payload was dropped. The mutex orders Send against
// close: a broadcast snapshot may still hold the connection after teardown.
func (c *client) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	_ = c.conn.Close()
}

type Manager struct {
	logger         *slog.Logger
	tokenValidator TokenValidator
	router         *rooms.Router
	registry       *presence.Registry
	receipts       ReceiptSink
	presenceStore  PresenceStore

	mu      sync.Mutex
	clients map[*client]struct{}
}

func NewManager(logger *slog.Logger, tokenValidator TokenValidator, router *rooms.Router, registry *presence.Registry, receipts ReceiptSink, presenceStore PresenceStore) *Manager {
	return &Manager{
		logger:         logger.With("component", "ws"),
		tokenValidator: tokenValidator,
		router:         router,
		registry:       registry,
		receipts:       receipts,
		presenceStore:  presenceStore,
		clients:        make(map[*client]struct{}),
	}
}

func (m *Manager) Handler() http.Handler {
	return http.HandlerFunc(m.handle)
}

func (m *Manager) CloseAll() {
	for _, c := range m.snapshotClients() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutdown"),
			time.Now().Add(writeWait),
		)
		c.close()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (m *Manager) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token := extractToken(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	userID, err := m.tokenValidator.ValidateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid or expired token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}
	m.track(c)
	m.router.Join(c, rooms.UserRoom(userID))
	m.registry.SetOnline(userID, true)

	defer m.teardown(c)

	m.logger.Info("ws connected", "remoteAddr", r.RemoteAddr, "userID", userID)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go m.writePump(c, r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.logger.Info("ws disconnected", "remoteAddr", r.RemoteAddr, "userID", userID, "error", err)
			return
		}
		m.handleFrame(c, msg)
	}
}

// teardown runs once per connection. The user goes offline only when their
// last connection is gone; the session token survives a transport drop.
func (m *Manager) teardown(c *client) {
	m.untrack(c)
	m.router.LeaveAll(c)
	c.close()

	if m.router.UserConnCount(c.userID) > 0 {
		return
	}

	m.registry.SetOnline(c.userID, false)

	nowMs := time.Now().UnixMilli()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.presenceStore.TouchUserOffline(ctx, c.userID, nowMs, nowMs); err != nil {
		m.logger.Error("offline touch failed", "error", err, "userID", c.userID)
	}
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	return ""
}

func (m *Manager) writePump(c *client, remoteAddr string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				m.logger.Info("ws write failed", "remoteAddr", remoteAddr, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (m *Manager) snapshotClients() []*client {
	m.mu.Lock()
	defer m.mu.Unlock()

	clients := make([]*client, 0, len(m.clients))
	for c := range m.clients {
		clients = append(clients, c)
	}
	return clients
}

func (m *Manager) track(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[c] = struct{}{}
}

func (m *Manager) untrack(c *client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, c)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type roomPayload struct {
	Room string `json:"room"`
}

type signalPayload struct {
	Room       string `json:"room"`
	ReceiverID string `json:"receiver_id"`
}

type receiptPayload struct {
	MessageID string `json:"message_id"`
}

type statusPayload struct {
	Room string `json:"room"`
	Msg  string `json:"msg"`
}

// sendStatus acknowledges a room join to the joining connection only, so a
// client can confirm membership before relaying into the room.
func (m *Manager) sendStatus(c *client, room string) {
	b, err := json.Marshal(rooms.Envelope{
		Event: "status",
		Data:  statusPayload{Room: room, Msg: "joined " + room},
	})
	if err != nil {
		m.logger.Error("status marshal failed", "error", err, "room", room)
		return
	}
	if !c.Send(b) {
		m.logger.Warn("status ack dropped", "room", room, "userID", c.userID)
	}
}

// handleFrame dispatches one incoming frame. Malformed or unrecognized
// frames are dropped without closing the connection.
func (m *Manager) handleFrame(c *client, msg []byte) {
	var f frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return
	}

	switch f.Event {
	case "join_room":
		var p roomPayload
		if json.Unmarshal(f.Data, &p) == nil && p.Room != "" {
			m.router.Join(c, p.Room)
			m.sendStatus(c, p.Room)
		}

	case "leave_room":
		var p roomPayload
		if json.Unmarshal(f.Data, &p) == nil && p.Room != "" {
			m.router.Leave(c, p.Room)
		}

	case "send_message":
		// Relay only: the message was already persisted over HTTP.
		var p roomPayload
		if json.Unmarshal(f.Data, &p) == nil && p.Room != "" {
			m.router.Broadcast(p.Room, "receive_message", f.Data, c)
		}

	case "call_signal":
		var p signalPayload
		if json.Unmarshal(f.Data, &p) != nil {
			return
		}
		switch {
		case p.ReceiverID != "":
			m.router.BroadcastToUser(p.ReceiverID, "call_signal", f.Data, c)
		case p.Room != "":
			m.router.Broadcast(p.Room, "call_signal", f.Data, c)
		}

	case "webrtc_offer", "webrtc_answer", "webrtc_ice":
		// Payloads are opaque; the server never terminates WebRTC.
		var p roomPayload
		if json.Unmarshal(f.Data, &p) == nil && p.Room != "" {
			m.router.Broadcast(p.Room, f.Event, f.Data, c)
		}

	case "message_delivered":
		var p receiptPayload
		if json.Unmarshal(f.Data, &p) == nil && p.MessageID != "" {
			m.receipts.MarkDelivered(context.Background(), p.MessageID, c.userID, time.Now().UnixMilli())
		}

	case "message_read":
		var p receiptPayload
		if json.Unmarshal(f.Data, &p) == nil && p.MessageID != "" {
			m.receipts.MarkRead(context.Background(), p.MessageID, c.userID, time.Now().UnixMilli())
		}
	}
}
