// Package api provides HTTP handlers for the studypal API and the record service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/record"
	"github.com/ashureev/studypal/internal/recordsync"
	"github.com/ashureev/studypal/internal/tracker"
)

// maxRequestBodySize caps JSON bodies on the app routes.
const maxRequestBodySize = 1 << 20

// Records is the record mutation surface; tracker.Service implements it.
type Records interface {
	Load(ctx context.Context, userID string) (domain.UserRecord, error)
	AddTask(ctx context.Context, userID string, in record.NewTask) (tracker.Result, domain.Task, error)
	CompleteTask(ctx context.Context, userID, taskID string) (tracker.Result, error)
	LogStudy(ctx context.Context, userID string, minutes int, category string) (tracker.Result, error)
	StartTimer(ctx context.Context, userID string, in record.TimerStart) (tracker.Result, error)
	StopTimer(ctx context.Context, userID string) (tracker.Result, error)
	UpdateProfile(ctx context.Context, userID, name string, goals []string) (tracker.Result, error)
	TodayMessages(ctx context.Context, userID string) ([]domain.Message, error)
}

// SyncState exposes the coordinator's connectivity view.
type SyncState interface {
	Status(ctx context.Context) (recordsync.Status, error)
	Online() bool
	ConnectivityRestored()
}

// PendingLister lists live pending notification ids for one device session.
type PendingLister interface {
	PendingFor(userID, sessionID string) []string
}

// Handler serves the app routes under /api.
type Handler struct {
	records Records
	sync    SyncState
	pending PendingLister
}

// NewHandler creates a new Handler. pending may be nil.
func NewHandler(records Records, sync SyncState, pending PendingLister) *Handler {
	return &Handler{
		records: records,
		sync:    sync,
		pending: pending,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInputInvalid):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrNoRecord):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged and not echoed.
func fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "op", op, "path", r.URL.Path, "error", err)
		Error(w, status, "internal error")
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v. It writes the error response
// and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
