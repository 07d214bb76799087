package domain

import (
	"time"
)

// Source is the channel a conversation arrived on.
type Source string

const (
	SourceWeb  Source = "web"
	SourceLine Source = "line"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	return s == SourceWeb || s == SourceLine
}

// Role tags a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatSession buckets the messages of one calendar day and one source.
type ChatSession struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	Messages  []Message `json:"messages"`
}
