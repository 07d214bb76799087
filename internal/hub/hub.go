// Package hub delivers scheduled notifications to connected devices over WebSocket.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/studypal/internal/notify"
	"github.com/coder/websocket"
)

// Hub manages active WebSocket connections per user and device session, and
// the notifications each device is currently showing.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	held   map[string]map[string]notify.Notification // sessionKey -> tag -> notification
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*websocket.Conn),
		held:   make(map[string]map[string]notify.Notification),
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// serverMessage is the envelope for everything the server pushes.
type serverMessage struct {
	Type         string               `json:"type"`
	Notification *notify.Notification `json:"notification,omitempty"`
	Tag          string               `json:"tag,omitempty"`
	Pending      []string             `json:"pending,omitempty"`
	NagState     string               `json:"nagState,omitempty"`
	Timer        any                  `json:"timer,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// GetActive returns the active connection for a user and session.
func (h *Hub) GetActive(userID, sessionID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if sessions, ok := h.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection, replacing an older one for the same session,
// and replays the notifications that session still holds. Replayed
// notifications that do not require interaction are released once written.
func (h *Hub) Register(ctx context.Context, userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := h.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	h.active[userID][sessionID] = conn
	held := h.heldLocked(userID, sessionID)
	for _, n := range held {
		if !n.RequireInteraction {
			h.dropLocked(userID, sessionID, holdTag(n))
		}
	}
	h.mu.Unlock()

	slog.Info("Notification session registered", "user_id", userID, "session_id", sessionID, "held", len(held))
	for i := range held {
		if err := writeJSON(ctx, conn, serverMessage{Type: "notification", Notification: &held[i]}); err != nil {
			slog.Debug("Failed to replay held notification", "error", err, "user_id", userID)
			h.rehold(userID, sessionID, held[i:])
			return
		}
	}
}

// Unregister removes a connection for a user/session.
func (h *Hub) Unregister(userID, sessionID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sessions, ok := h.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(h.active, userID)
			}
			slog.Info("Notification session unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// Deliver shows n on the session's device. A notification is held when the
// device is not connected or the write fails, and the next Register replays
// it. One that requires interaction stays held until the device dismisses it
// even after a live write. A later notification with the same tag replaces
// the held one.
func (h *Hub) Deliver(ctx context.Context, userID, sessionID string, n notify.Notification) error {
	h.mu.Lock()
	var conn *websocket.Conn
	if sessions, ok := h.active[userID]; ok {
		conn = sessions[sessionID]
	}
	if conn == nil || n.RequireInteraction {
		h.holdLocked(userID, sessionID, n)
	} else {
		h.dropLocked(userID, sessionID, holdTag(n))
	}
	h.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := writeJSON(ctx, conn, serverMessage{Type: "notification", Notification: &n}); err != nil {
		h.rehold(userID, sessionID, []notify.Notification{n})
		return fmt.Errorf("deliver notification %s: %w", n.ID, err)
	}
	return nil
}

// Dismiss drops the held notification with tag.
func (h *Hub) Dismiss(userID, sessionID, tag string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropLocked(userID, sessionID, tag)
}

// Held returns the notifications a session is showing, ordered by tag.
func (h *Hub) Held(userID, sessionID string) []notify.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.heldLocked(userID, sessionID)
}

// Forget drops all held notifications of a session.
func (h *Hub) Forget(userID, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.held, sessionKey(userID, sessionID))
}

// CloseAll terminates every active connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, sessions := range h.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Notification session closed", "user_id", userID, "session_id", sid)
		}
	}
	h.active = make(map[string]map[string]*websocket.Conn)
}

func (h *Hub) heldLocked(userID, sessionID string) []notify.Notification {
	tags := h.held[sessionKey(userID, sessionID)]
	out := make([]notify.Notification, 0, len(tags))
	for _, n := range tags {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out
}

func holdTag(n notify.Notification) string {
	if n.Tag != "" {
		return n.Tag
	}
	return n.ID
}

func (h *Hub) holdLocked(userID, sessionID string, n notify.Notification) {
	key := sessionKey(userID, sessionID)
	if _, ok := h.held[key]; !ok {
		h.held[key] = make(map[string]notify.Notification)
	}
	h.held[key][holdTag(n)] = n
}

func (h *Hub) dropLocked(userID, sessionID, tag string) bool {
	key := sessionKey(userID, sessionID)
	tags, ok := h.held[key]
	if !ok {
		return false
	}
	if _, ok := tags[tag]; !ok {
		return false
	}
	delete(tags, tag)
	if len(tags) == 0 {
		delete(h.held, key)
	}
	return true
}

// rehold puts back notifications whose write failed, unless their tag was
// taken by a newer one in the meantime.
func (h *Hub) rehold(userID, sessionID string, ns []notify.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range ns {
		if _, ok := h.held[sessionKey(userID, sessionID)][holdTag(n)]; ok {
			continue
		}
		h.holdLocked(userID, sessionID, n)
	}
}

// Sink adapts one device session of the hub to notify.Sink.
type Sink struct {
	hub       *Hub
	userID    string
	sessionID string
}

// SinkFor returns the sink for a device session.
func (h *Hub) SinkFor(userID, sessionID string) *Sink {
	return &Sink{hub: h, userID: userID, sessionID: sessionID}
}

// Show implements notify.Sink.
func (s *Sink) Show(ctx context.Context, n notify.Notification) error {
	return s.hub.Deliver(ctx, s.userID, s.sessionID, n)
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
