package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger checks one dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AgentHealth checks the model service. *agent.GrpcClient implements it.
type AgentHealth interface {
	Health(ctx context.Context) error
}

// HealthHandler reports dependency health and frontend config.
type HealthHandler struct {
	db    Pinger
	sync  SyncState
	agent AgentHealth
}

// NewHealthHandler creates a health handler. agent is nil when chat is disabled.
func NewHealthHandler(db Pinger, sync SyncState, agent AgentHealth) *HealthHandler {
	return &HealthHandler{db: db, sync: sync, agent: agent}
}

// RegisterHealth registers the health and config routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Get("/api/config", h.GetConfig)
}

// Health returns 503 only when the local database is down. The record
// service and the model service degrade the status but not the code.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]any{"status": "ok", "database": "ok", "agent": "disabled"}
	code := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		resp["status"] = "unavailable"
		resp["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	if h.sync != nil {
		st, err := h.sync.Status(ctx)
		if err == nil {
			resp["remote_online"] = st.Online
			resp["pending_writes"] = st.PendingWrites
			if !st.Online && code == http.StatusOK {
				resp["status"] = "degraded"
			}
		}
	}

	if h.agent != nil {
		if err := h.agent.Health(ctx); err != nil {
			resp["agent"] = err.Error()
			if code == http.StatusOK {
				resp["status"] = "degraded"
			}
		} else {
			resp["agent"] = "ok"
		}
	}

	JSON(w, code, resp)
}

// GetConfig returns the server configuration the frontend needs.
func (h *HealthHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"ai_enabled": h.agent != nil,
	})
}
