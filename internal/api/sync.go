package api

import (
	"net/http"

	"github.com/ashureev/studypal/internal/identity"
)

// SyncOnline is called by a client that regained connectivity. It wakes the
// outbox replay worker and returns immediately.
func (h *Handler) SyncOnline(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		Error(w, http.StatusServiceUnavailable, "sync unavailable")
		return
	}
	h.sync.ConnectivityRestored()
	JSON(w, http.StatusAccepted, map[string]string{"status": "replay scheduled"})
}

// SyncStatus reports connectivity and the number of unconfirmed writes.
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if h.sync == nil {
		Error(w, http.StatusServiceUnavailable, "sync unavailable")
		return
	}
	st, err := h.sync.Status(r.Context())
	if err != nil {
		fail(w, r, "sync_status", err)
		return
	}
	JSON(w, http.StatusOK, st)
}

// PendingNotifications lists the pending notification ids of the caller's
// device session.
func (h *Handler) PendingNotifications(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	ids := []string{}
	if h.pending != nil {
		if got := h.pending.PendingFor(uid, identity.SessionIDFromContext(r.Context())); got != nil {
			ids = got
		}
	}
	JSON(w, http.StatusOK, map[string]any{"pending": ids})
}
