package agent

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesSessionAndGlobalFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:       true,
		Dir:           dir,
		GlobalEnabled: true,
		GlobalPath:    global,
		QueueSize:     16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{
		UserID:     "user-1",
		SessionID:  "sess-1",
		Channel:    "chat_web",
		Direction:  "inbound",
		EventType:  "chat_user_message",
		ContentRaw: "add math at 9\x07",
	})
	logger.Log(ConversationLogEvent{
		UserID:     "user-1",
		SessionID:  "sess-1",
		Channel:    "chat_web",
		Direction:  "outbound",
		EventType:  "chat_assistant_message",
		ContentRaw: "Added math at 09:00.",
	})

	line := waitForLogLine(t, filepath.Join(dir, "user-1", "sess-1.ndjson"))
	var last ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &last); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if last.Direction != "outbound" || last.Timestamp == "" {
		t.Fatalf("unexpected last event: %+v", last)
	}

	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("read global log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 global lines, got %d", len(lines))
	}
	var first ConversationLogEvent
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("failed to unmarshal global line: %v", err)
	}
	if first.ContentRaw != "add math at 9\x07" || first.Content != "add math at 9" {
		t.Fatalf("raw content must be kept and cleaned content stripped: %+v", first)
	}
}

func TestConversationLoggerSanitizesPathParts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 4,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{UserID: "../evil", SessionID: "", ContentRaw: "hi"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Close flushes, so the file exists without polling.
	if _, err := os.Stat(filepath.Join(dir, ".._evil", "default.ndjson")); err != nil {
		t.Fatalf("expected sanitized log path: %v", err)
	}

	// Logging after close is a no-op.
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s"})
}

func TestConversationLoggerDisabledIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewConversationLogger(ConversationLogConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	if _, ok := logger.(noopConversationLogger); !ok {
		t.Fatalf("expected noop logger, got %T", logger)
	}
	logger.Log(ConversationLogEvent{UserID: "u"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"\x1b[31merror\x1b[0m plain", "error plain"},
		{"\x1b]0;title\x07study done", "study done"},
		{"  keep\ttabs\nand lines\r ", "keep\ttabs\nand lines"},
	}
	for _, tt := range tests {
		if got := cleanForReadability(tt.raw); got != tt.want {
			t.Errorf("cleanForReadability(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
