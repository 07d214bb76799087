// Package remote is the HTTP client for the authoritative record service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/studypal/internal/domain"
)

var (
	ErrUnauthorized = errors.New("record service unauthorized")
	ErrNotFound     = errors.New("record not found on record service")
)

// StatusError is any other non-2xx answer from the record service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("record service %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("record service status %d", e.Code)
}

// Client talks to recordd.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

type errorBody struct {
	Error string `json:"error"`
}

// NewClient builds a client. A nil httpClient uses http.DefaultClient;
// timeouts come from the caller's context.
func NewClient(httpClient *http.Client, baseURL, token string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
	}
}

// GetRecord fetches the record for userID.
func (c *Client) GetRecord(ctx context.Context, userID string) (*domain.UserRecord, error) {
	var out domain.UserRecord
	if err := c.do(ctx, http.MethodGet, "/records/"+url.PathEscape(userID), userID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutRecord replaces the record for rec.UserID.
func (c *Client) PutRecord(ctx context.Context, rec *domain.UserRecord) error {
	return c.do(ctx, http.MethodPut, "/records/"+url.PathEscape(rec.UserID), rec.UserID, rec, nil)
}

// Ping checks the service heartbeat.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", "", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path, userID string, body any, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		token := c.token
		if !strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = "Bearer " + token
		}
		req.Header.Set("Authorization", token)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(eb.Error)}
	}
}

// Reachable reports whether err still proves the service answered. Transport
// errors, timeouts and 5xx answers mean it did not.
func Reachable(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code < http.StatusInternalServerError
	}
	return false
}
