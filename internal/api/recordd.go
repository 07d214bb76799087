package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/store"
	"github.com/go-chi/chi/v5"
)

// RecordServer is the authoritative record service. The last PUT wins.
type RecordServer struct {
	repo store.RecordRepository
}

// NewRecordServer creates a record service over repo.
func NewRecordServer(repo store.RecordRepository) *RecordServer {
	return &RecordServer{repo: repo}
}

// RegisterRoutes registers the record routes.
func (s *RecordServer) RegisterRoutes(r chi.Router) {
	r.Get("/records/{userId}", s.GetRecord)
	r.Put("/records/{userId}", s.PutRecord)
}

// GetRecord returns the stored record or 404.
func (s *RecordServer) GetRecord(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	if userID == "" {
		Error(w, http.StatusBadRequest, "user id is required")
		return
	}

	rec, err := s.repo.GetRecord(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to read record", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to read record")
		return
	}
	if rec == nil {
		Error(w, http.StatusNotFound, "record not found")
		return
	}
	JSON(w, http.StatusOK, rec)
}

// PutRecord replaces the stored record. The body's userId must match the path.
func (s *RecordServer) PutRecord(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	var rec domain.UserRecord
	if !decodeJSON(w, r, &rec) {
		return
	}
	if rec.UserID == "" {
		Error(w, http.StatusBadRequest, "userId is required")
		return
	}
	if rec.UserID != userID {
		Error(w, http.StatusBadRequest, "userId does not match path")
		return
	}

	if err := s.repo.PutRecord(r.Context(), &rec); err != nil {
		slog.Error("Failed to write record", "user_id", userID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to write record")
		return
	}
	slog.Debug("Record stored", "user_id", userID, "updated_at", rec.UpdatedAt)
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
