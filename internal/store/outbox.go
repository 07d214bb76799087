package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/rs/xid"
)

// EnqueueOutbox stores rec as the pending remote write for its user.
func (s *SQLiteStore) EnqueueOutbox(ctx context.Context, rec *domain.UserRecord) (string, error) {
	if rec == nil || rec.UserID == "" {
		return "", fmt.Errorf("%w: record user id is required", domain.ErrInputInvalid)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	entryID := xid.New().String()
	query := `
	INSERT INTO outbox (user_id, entry_id, record_json, enqueued_at, attempts, last_error)
	VALUES (?, ?, ?, ?, 0, '')
	ON CONFLICT(user_id) DO UPDATE SET
		entry_id = excluded.entry_id,
		record_json = excluded.record_json,
		enqueued_at = excluded.enqueued_at,
		attempts = 0,
		last_error = ''`

	if _, err := s.exec(ctx, "enqueue_outbox", query,
		rec.UserID, entryID, string(data), time.Now().Unix(),
	); err != nil {
		return "", fmt.Errorf("enqueue outbox: %w", err)
	}
	return entryID, nil
}

const outboxColumns = `user_id, entry_id, record_json, enqueued_at, attempts, last_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutbox(row rowScanner) (*OutboxEntry, error) {
	var entry OutboxEntry
	var raw string
	var enqueuedAt int64

	if err := row.Scan(&entry.UserID, &entry.EntryID, &raw, &enqueuedAt, &entry.Attempts, &entry.LastError); err != nil {
		return nil, err
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode outbox record: %w", err)
	}
	entry.Record = &rec
	entry.EnqueuedAt = time.Unix(enqueuedAt, 0)
	return &entry, nil
}

// GetOutbox returns the pending entry for userID, or nil.
func (s *SQLiteStore) GetOutbox(ctx context.Context, userID string) (*OutboxEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE user_id = ?`, userID)
	entry, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan outbox entry: %w", err)
	}
	return entry, nil
}

// ListOutbox returns all pending entries, oldest first.
func (s *SQLiteStore) ListOutbox(ctx context.Context) ([]*OutboxEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM outbox ORDER BY enqueued_at, user_id`)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close outbox rows", "error", closeErr)
		}
	}()

	var entries []*OutboxEntry
	for rows.Next() {
		entry, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}

// DeleteOutbox removes the entry if it still carries entryID.
func (s *SQLiteStore) DeleteOutbox(ctx context.Context, userID, entryID string) (bool, error) {
	result, err := s.exec(ctx, "delete_outbox",
		`DELETE FROM outbox WHERE user_id = ? AND entry_id = ?`, userID, entryID)
	if err != nil {
		return false, fmt.Errorf("delete outbox: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkOutboxAttempt bumps the attempt counter of a still-current entry.
func (s *SQLiteStore) MarkOutboxAttempt(ctx context.Context, userID, entryID, lastError string) error {
	_, err := s.exec(ctx, "mark_outbox_attempt",
		`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE user_id = ? AND entry_id = ?`,
		lastError, userID, entryID)
	if err != nil {
		return fmt.Errorf("mark outbox attempt: %w", err)
	}
	return nil
}
