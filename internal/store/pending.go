package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SavePending replaces the persisted pending-notification ids for owner.
func (s *SQLiteStore) SavePending(ctx context.Context, owner string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode pending ids: %w", err)
	}

	query := `
	INSERT INTO pending_notifications (owner, ids_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(owner) DO UPDATE SET
		ids_json = excluded.ids_json,
		updated_at = excluded.updated_at`

	if _, err := s.exec(ctx, "save_pending", query, owner, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("save pending ids: %w", err)
	}
	return nil
}

// LoadPending returns the persisted ids for owner; empty if none were saved.
func (s *SQLiteStore) LoadPending(ctx context.Context, owner string) ([]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT ids_json FROM pending_notifications WHERE owner = ?`, owner,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan pending ids: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode pending ids: %w", err)
	}
	return ids, nil
}

// ClearPending removes the persisted list for owner.
func (s *SQLiteStore) ClearPending(ctx context.Context, owner string) error {
	if _, err := s.exec(ctx, "clear_pending",
		`DELETE FROM pending_notifications WHERE owner = ?`, owner); err != nil {
		return fmt.Errorf("clear pending ids: %w", err)
	}
	return nil
}

// ListPendingOwners returns every owner with a persisted list.
func (s *SQLiteStore) ListPendingOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner FROM pending_notifications ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("query pending owners: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close pending owner rows", "error", closeErr)
		}
	}()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan pending owner: %w", err)
		}
		owners = append(owners, owner)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending owners: %w", err)
	}
	return owners, nil
}
