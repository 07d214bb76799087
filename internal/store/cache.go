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

// GetCachedRecord returns the cached record for userID, or nil if none exists.
func (s *SQLiteStore) GetCachedRecord(ctx context.Context, userID string) (*domain.UserRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM record_cache WHERE user_id = ?`, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan cached record: %w", err)
	}

	var rec domain.UserRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode cached record: %w", err)
	}
	return &rec, nil
}

// PutCachedRecord overwrites the cached record for rec.UserID.
func (s *SQLiteStore) PutCachedRecord(ctx context.Context, rec *domain.UserRecord) error {
	if rec == nil || rec.UserID == "" {
		return fmt.Errorf("%w: record user id is required", domain.ErrInputInvalid)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `
	INSERT INTO record_cache (user_id, record_json, record_updated_at, cached_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		record_json = excluded.record_json,
		record_updated_at = excluded.record_updated_at,
		cached_at = excluded.cached_at`

	if _, err := s.exec(ctx, "put_cached_record", query,
		rec.UserID, string(data), rec.UpdatedAt.Unix(), time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("upsert cached record: %w", err)
	}
	return nil
}
