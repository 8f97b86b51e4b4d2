// Package rooms fans events out to groups of live connections. Rooms are
// transient: membership exists only while a connection is up, and reliability
// for chat messages comes from persistence happening before any broadcast
// attempt. Delivery here is at-most-once with no retry.
package rooms

import (
	"bytes"
	"encoding/json"
	"sync"

	"log/slog"
)

// Conn is one live connection. Send must not block; it returns false when
// the payload was dropped (slow or closing connection).
type Conn interface {
	UserID() string
	Send(msg []byte) bool
}

// Envelope is the wire shape of every routed event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// UserRoom names the implicit per-user broadcast room. All connections
// authenticated as that user are members, independent of any conversation
// room they joined.
func UserRoom(userID string) string {
	return "user:" + userID
}

type Router struct {
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[Conn]struct{}
	conns map[Conn]map[string]struct{}
}

func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger.With("component", "rooms"),
		rooms:  make(map[string]map[Conn]struct{}),
		conns:  make(map[Conn]map[string]struct{}),
	}
}

// Join is idempotent.
func (r *Router) Join(c Conn, roomID string) {
	if c == nil || roomID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	if members == nil {
		members = make(map[Conn]struct{})
		r.rooms[roomID] = members
	}
	members[c] = struct{}{}

	joined := r.conns[c]
	if joined == nil {
		joined = make(map[string]struct{})
		r.conns[c] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave is idempotent.
func (r *Router) Leave(c Conn, roomID string) {
	if c == nil || roomID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c, roomID)
}

// LeaveAll removes the connection from every room it joined. Called
// unconditionally on disconnect.
func (r *Router) LeaveAll(c Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.conns[c] {
		r.removeLocked(c, roomID)
	}
}

func (r *Router) removeLocked(c Conn, roomID string) {
	if members := r.rooms[roomID]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined := r.conns[c]; joined != nil {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.conns, c)
		}
	}
}

// Broadcast delivers an event to every current member of roomID, skipping
// exclude when non-nil. Fire and forget: members that cannot accept the
// payload simply miss it.
func (r *Router) Broadcast(roomID, event string, data any, exclude Conn) {
	b, err := encodeJSON(Envelope{Event: event, Data: data})
	if err != nil {
		r.logger.Error("broadcast marshal failed", "error", err, "event", event, "room", roomID)
		return
	}

	for _, c := range r.members(roomID) {
		if c == exclude {
			continue
		}
		if !c.Send(b) {
			r.logger.Warn("room send dropped", "event", event, "room", roomID, "userID", c.UserID())
		}
	}
}

// BroadcastToUser delivers an event to every connection of a user.
func (r *Router) BroadcastToUser(userID, event string, data any, exclude Conn) {
	r.Broadcast(UserRoom(userID), event, data, exclude)
}

func (r *Router) members(roomID string) []Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	out := make([]Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// RoomSize reports current membership; used by tests and presence cleanup.
func (r *Router) RoomSize(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms[roomID])
}

// UserConnCount reports how many live connections the user has.
func (r *Router) UserConnCount(userID string) int {
	return r.RoomSize(UserRoom(userID))
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
