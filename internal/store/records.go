package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/studypal/internal/domain"
)

// GetRecord returns the authoritative record for userID, or nil.
func (s *SQLiteStore) GetRecord(ctx context.Context, userID string) (*domain.UserRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM records WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}

// PutRecord upserts the record. No updatedAt comparison is made.
func (s *SQLiteStore) PutRecord(ctx context.Context, rec *domain.UserRecord) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("%w: record user id is required", domain.ErrInputInvalid)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	now := time.Now().Unix()
	query := `
	INSERT INTO records (user_id, record_json, record_updated_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		record_json = excluded.record_json,
		record_updated_at = excluded.record_updated_at,
		updated_at = excluded.updated_at`

	if _, err := s.exec(ctx, "put_record", query,
		rec.UserID, string(data), rec.UpdatedAt.Unix(), now, now,
	); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}
