package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/identity"
	"github.com/ashureev/studypal/internal/record"
	"github.com/ashureev/studypal/internal/tracker"
	"github.com/go-chi/chi/v5"
)

type profileRequest struct {
	Name  string   `json:"name"`
	Goals []string `json:"goals"`
}

type studyRequest struct {
	Minutes  int    `json:"minutes"`
	Category string `json:"category"`
}

type taskResponse struct {
	tracker.Result
	Task domain.Task `json:"task"`
}

// RegisterRoutes registers the record, sync and notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/record", h.GetRecord)
		r.Put("/profile", h.UpdateProfile)
		r.Post("/tasks", h.AddTask)
		r.Post("/tasks/{taskId}/complete", h.CompleteTask)
		r.Post("/study", h.LogStudy)
		r.Post("/timer/start", h.StartTimer)
		r.Post("/timer/stop", h.StopTimer)
		r.Get("/messages/today", h.TodayMessages)
		r.Post("/sync/online", h.SyncOnline)
		r.Get("/sync/status", h.SyncStatus)
		r.Get("/notifications/pending", h.PendingNotifications)
	})
}

// userID returns the caller's id or writes 401.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := identity.UserIDFromContext(r.Context())
	if id == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return id, true
}

// GetRecord returns the caller's record. synced reflects whether the record
// service is currently reachable.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	rec, err := h.records.Load(r.Context(), uid)
	if err != nil {
		fail(w, r, "get_record", err)
		return
	}
	JSON(w, http.StatusOK, tracker.Result{Record: rec, Synced: h.sync != nil && h.sync.Online()})
}

// UpdateProfile replaces the profile name and goals.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.records.UpdateProfile(r.Context(), uid, req.Name, req.Goals)
	if err != nil {
		fail(w, r, "update_profile", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// AddTask adds a task to today's schedule.
func (h *Handler) AddTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req record.NewTask
	if !decodeJSON(w, r, &req) {
		return
	}
	res, task, err := h.records.AddTask(r.Context(), uid, req)
	if err != nil {
		fail(w, r, "add_task", err)
		return
	}
	slog.Info("Task added", "user_id", uid, "task_id", task.ID, "start_time", task.StartTime)
	JSON(w, http.StatusCreated, taskResponse{Result: res, Task: task})
}

// CompleteTask marks a task done.
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	res, err := h.records.CompleteTask(r.Context(), uid, chi.URLParam(r, "taskId"))
	if err != nil {
		fail(w, r, "complete_task", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// LogStudy records study minutes outside the timer.
func (h *Handler) LogStudy(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req studyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.records.LogStudy(r.Context(), uid, req.Minutes, req.Category)
	if err != nil {
		fail(w, r, "log_study", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// StartTimer starts the timer, optionally linked to a task.
func (h *Handler) StartTimer(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	var req record.TimerStart
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.records.StartTimer(r.Context(), uid, req)
	if err != nil {
		fail(w, r, "start_timer", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// StopTimer stops the timer.
func (h *Handler) StopTimer(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	res, err := h.records.StopTimer(r.Context(), uid)
	if err != nil {
		fail(w, r, "stop_timer", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// TodayMessages returns today's conversation history.
func (h *Handler) TodayMessages(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	msgs, err := h.records.TodayMessages(r.Context(), uid)
	if err != nil {
		fail(w, r, "today_messages", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
