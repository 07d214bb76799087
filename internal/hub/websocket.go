package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/identity"
	"github.com/ashureev/studypal/internal/notify"
	"github.com/ashureev/studypal/internal/record"
	"github.com/ashureev/studypal/internal/tracker"
	"github.com/coder/websocket"
)

// SnoozeDelay is how far a snoozed task start is pushed back.
const SnoozeDelay = 5 * time.Minute

// Records is the part of tracker.Service the socket needs.
type Records interface {
	Load(ctx context.Context, userID string) (domain.UserRecord, error)
	StartTimer(ctx context.Context, userID string, in record.TimerStart) (tracker.Result, error)
}

// NotificationsHandler serves /ws/notifications. Each connection plays the
// notification sink for one device session and feeds its permission,
// visibility and notification actions back into that session's scheduler.
type NotificationsHandler struct {
	hub           *Hub
	registry      *Registry
	records       Records
	allowedOrigin string
	isDev         bool
}

// NewNotificationsHandler creates the WebSocket handler.
func NewNotificationsHandler(hub *Hub, registry *Registry, records Records, allowedOrigin string, isDev bool) *NotificationsHandler {
	return &NotificationsHandler{
		hub:           hub,
		registry:      registry,
		records:       records,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// clientMessage is every message a device may send.
type clientMessage struct {
	Type       string            `json:"type"`
	Permission notify.Permission `json:"permission,omitempty"`
	Visible    *bool             `json:"visible,omitempty"`
	Message    string            `json:"message,omitempty"`
	Tag        string            `json:"tag,omitempty"`
	Action     string            `json:"action,omitempty"`
	TaskID     string            `json:"taskId,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "user_id", userID, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sched, ok := h.registry.Acquire(userID, sessionID)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.registry.Release(userID, sessionID)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	h.hub.Register(ctx, userID, sessionID, ws)
	h.inputLoop(ctx, ws, sched, userID, sessionID)
	h.hub.Unregister(userID, sessionID, ws)

	// A vanished device counts as hidden so the nag loop can start, unless a
	// newer connection already took over the session.
	if h.hub.GetActive(userID, sessionID) == nil {
		sched.OnVisibilityChange(false, "")
	}
	slog.Info("Notification session ended", "user_id", userID, "session_id", sessionID)
}

func (h *NotificationsHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *NotificationsHandler) inputLoop(ctx context.Context, ws *websocket.Conn, sched *notify.Scheduler, userID, sessionID string) {
	slog.Debug("Starting input loop", "user_id", userID, "session_id", sessionID)
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "invalid message"})
			continue
		}
		h.dispatch(ctx, ws, sched, userID, sessionID, msg)
	}
}

//nolint:gocognit // Message dispatch coordinates the scheduler, hub and record service.
func (h *NotificationsHandler) dispatch(ctx context.Context, ws *websocket.Conn, sched *notify.Scheduler, userID, sessionID string, msg clientMessage) {
	switch msg.Type {
	case "hello":
		h.registry.SetPermission(userID, sessionID, msg.Permission)
		if msg.Permission == notify.PermissionGranted {
			h.scheduleFromRecord(ctx, sched, userID)
		}
		if msg.Visible != nil {
			sched.OnVisibilityChange(*msg.Visible, msg.Message)
		}
		h.reply(ctx, ws, h.state(sched, "ready"))

	case "permission":
		h.registry.SetPermission(userID, sessionID, msg.Permission)
		if msg.Permission == notify.PermissionGranted {
			h.scheduleFromRecord(ctx, sched, userID)
		}
		h.reply(ctx, ws, h.state(sched, "state"))

	case "visibility":
		if msg.Visible == nil {
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "visible is required"})
			return
		}
		sched.OnVisibilityChange(*msg.Visible, msg.Message)
		h.reply(ctx, ws, h.state(sched, "state"))

	case "dismiss":
		h.hub.Dismiss(userID, sessionID, msg.Tag)

	case "action":
		h.handleAction(ctx, ws, sched, userID, sessionID, msg)

	case "ping":
		h.reply(ctx, ws, serverMessage{Type: "pong"})

	default:
		h.reply(ctx, ws, serverMessage{Type: "error", Error: "unknown message type"})
	}
}

func (h *NotificationsHandler) handleAction(ctx context.Context, ws *websocket.Conn, sched *notify.Scheduler, userID, sessionID string, msg clientMessage) {
	switch msg.Action {
	case "start":
		h.hub.Dismiss(userID, sessionID, notify.PrefixStart+msg.TaskID)
		res, err := h.records.StartTimer(ctx, userID, record.TimerStart{TaskID: msg.TaskID})
		if err != nil {
			slog.Warn("Failed to start timer from notification", "error", err, "user_id", userID, "task_id", msg.TaskID)
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "could not start timer"})
			return
		}
		h.reply(ctx, ws, serverMessage{Type: "timer", Timer: res.Record.Timer})

	case "snooze":
		h.hub.Dismiss(userID, sessionID, notify.PrefixStart+msg.TaskID)
		rec, err := h.records.Load(ctx, userID)
		if err != nil {
			slog.Warn("Failed to load record for snooze", "error", err, "user_id", userID)
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "could not snooze"})
			return
		}
		task, ok := record.FindTask(rec, msg.TaskID)
		if !ok {
			h.reply(ctx, ws, serverMessage{Type: "error", Error: "task not found"})
			return
		}
		sched.Snooze(task, SnoozeDelay)
		h.reply(ctx, ws, h.state(sched, "state"))

	case "open":
		h.hub.Dismiss(userID, sessionID, notify.NagID)
		sched.StopNag()
		h.reply(ctx, ws, h.state(sched, "state"))

	default:
		h.reply(ctx, ws, serverMessage{Type: "error", Error: "unknown action"})
	}
}

func (h *NotificationsHandler) scheduleFromRecord(ctx context.Context, sched *notify.Scheduler, userID string) {
	rec, err := h.records.Load(ctx, userID)
	if err != nil {
		slog.Warn("Failed to load record for scheduling", "error", err, "user_id", userID)
		return
	}
	n := sched.ScheduleAllTasks(rec.Schedule.Today)
	slog.Debug("Scheduled task notifications", "user_id", userID, "count", n)
}

func (h *NotificationsHandler) state(sched *notify.Scheduler, typ string) serverMessage {
	return serverMessage{Type: typ, Pending: sched.Pending(), NagState: sched.NagState().String()}
}

func (h *NotificationsHandler) reply(ctx context.Context, ws *websocket.Conn, msg serverMessage) {
	if err := writeJSON(ctx, ws, msg); err != nil {
		slog.Debug("Failed to send websocket reply", "type", msg.Type, "error", err)
	}
}
