// Package agent adapts the conversation model to user records.
//
// A turn sends today's conversation and a snapshot of the user's record to
// the model service and gets back reply text plus an optional structured
// action, which is validated before it touches the record.
package agent

import (
	"encoding/json"
	"time"

	"github.com/ashureev/studypal/internal/domain"
)

// ActionKind names a structured action the model may request.
type ActionKind string

const (
	ActionAddTask      ActionKind = "add_task"
	ActionCompleteTask ActionKind = "complete_task"
	ActionStartTimer   ActionKind = "start_timer"
	ActionStopTimer    ActionKind = "stop_timer"
)

// TurnContext is the record snapshot the model sees.
type TurnContext struct {
	Name              string        `json:"name"`
	Goals             []string      `json:"goals"`
	TodayTasks        []domain.Task `json:"todayTasks"`
	CurrentTimer      *domain.Timer `json:"currentTimer"`
	Streaks           int           `json:"streaks"`
	TodayStudyMinutes int           `json:"todayStudyMinutes"`
}

// Turn is one request to the model.
type Turn struct {
	UserID   string           `json:"userId"`
	Messages []domain.Message `json:"messages"`
	Context  TurnContext      `json:"context"`
}

// Action is an unvalidated structured action. Data is action-specific.
type Action struct {
	Kind ActionKind      `json:"action"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Reply is the model's answer to a turn.
type Reply struct {
	Text   string  `json:"text"`
	Action *Action `json:"action,omitempty"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string        `json:"message"`
	Source  domain.Source `json:"source,omitempty"`
}

// ChatResult is what a chat turn did to the record.
type ChatResult struct {
	Reply         string  `json:"reply"`
	Action        *Action `json:"action,omitempty"`
	ActionApplied bool    `json:"actionApplied"`
	ActionError   string  `json:"actionError,omitempty"`
	Synced        bool    `json:"synced"`
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}
