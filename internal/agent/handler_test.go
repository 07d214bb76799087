package agent

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/studypal/internal/identity"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func postChat(t *testing.T, h *Handler, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	if userID != "" {
		req = req.WithContext(identity.WithIdentity(req.Context(), userID, "tab-1"))
	}
	w := httptest.NewRecorder()
	h.HandleChat(w, req)
	return w
}

func TestHandleChat(t *testing.T) {
	svc, proc, _ := newChatFixture(t)
	proc.On("Converse", mock.Anything, mock.Anything).Return(Reply{Text: "hello"}, nil)
	h := NewHandler(svc, nil, HandlerConfig{RequestsPerWindow: 100, Window: time.Minute, MaxRequestBodySize: 256})
	t.Cleanup(h.rateLimiter.Stop)

	t.Run("unauthorized", func(t *testing.T) {
		w := postChat(t, h, "", `{"message":"hi"}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		w := postChat(t, h, "u1", `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("empty message", func(t *testing.T) {
		w := postChat(t, h, "u1", `{"message":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown source", func(t *testing.T) {
		w := postChat(t, h, "u1", `{"message":"hi","source":"fax"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("too large", func(t *testing.T) {
		w := postChat(t, h, "u1", `{"message":"`+strings.Repeat("x", 1024)+`"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("ok", func(t *testing.T) {
		w := postChat(t, h, "u1", `{"message":"hi","source":"line"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var got ChatResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "hello", got.Reply)
		assert.True(t, got.Synced)
	})
}

func TestHandleChat_ModelError(t *testing.T) {
	svc, proc, _ := newChatFixture(t)
	proc.On("Converse", mock.Anything, mock.Anything).Return(Reply{}, errors.New("down"))
	h := NewHandler(svc, nil, HandlerConfig{})
	t.Cleanup(h.rateLimiter.Stop)

	w := postChat(t, h, "u1", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleChat_RateLimited(t *testing.T) {
	svc, proc, _ := newChatFixture(t)
	proc.On("Converse", mock.Anything, mock.Anything).Return(Reply{Text: "ok"}, nil)
	h := NewHandler(svc, nil, HandlerConfig{RequestsPerWindow: 2, Window: time.Minute})
	t.Cleanup(h.rateLimiter.Stop)

	assert.Equal(t, http.StatusOK, postChat(t, h, "u1", `{"message":"a"}`).Code)
	assert.Equal(t, http.StatusOK, postChat(t, h, "u1", `{"message":"b"}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, postChat(t, h, "u1", `{"message":"c"}`).Code)
	// Limits are per user.
	assert.Equal(t, http.StatusOK, postChat(t, h, "u2", `{"message":"a"}`).Code)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	t.Cleanup(rl.Stop)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("u1"))
	assert.False(t, rl.Allow("u1"))

	now = now.Add(time.Minute + time.Second)
	assert.True(t, rl.Allow("u1"))

	now = now.Add(2 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	_, ok := rl.requests["u1"]
	rl.mu.Unlock()
	assert.False(t, ok)
}

func TestHandler_RegisterRoutes(t *testing.T) {
	svc, _, _ := newChatFixture(t)
	h := NewHandler(svc, nil, HandlerConfig{})
	t.Cleanup(h.rateLimiter.Stop)

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
