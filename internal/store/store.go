// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/studypal/internal/domain"
)

// CacheStore is the local, network-free mirror of user records.
type CacheStore interface {
	// GetCachedRecord returns the last known record for userID, or nil if none is cached.
	GetCachedRecord(ctx context.Context, userID string) (*domain.UserRecord, error)

	// PutCachedRecord overwrites the cached record for rec.UserID.
	PutCachedRecord(ctx context.Context, rec *domain.UserRecord) error
}

// OutboxEntry is an unconfirmed remote write. There is at most one per user;
// a newer enqueue replaces the older snapshot and gets a fresh EntryID.
type OutboxEntry struct {
	UserID     string
	EntryID    string
	Record     *domain.UserRecord
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// OutboxStore persists writes that still need to reach the remote store.
type OutboxStore interface {
	// EnqueueOutbox stores rec as the pending write for rec.UserID and returns its entry id.
	EnqueueOutbox(ctx context.Context, rec *domain.UserRecord) (string, error)

	// GetOutbox returns the pending entry for userID, or nil.
	GetOutbox(ctx context.Context, userID string) (*OutboxEntry, error)

	// ListOutbox returns all pending entries, oldest first.
	ListOutbox(ctx context.Context) ([]*OutboxEntry, error)

	// DeleteOutbox removes the entry only if it still has entryID, so a newer
	// snapshot enqueued meanwhile survives. Returns whether a row was deleted.
	DeleteOutbox(ctx context.Context, userID, entryID string) (bool, error)

	// MarkOutboxAttempt records a failed replay attempt.
	MarkOutboxAttempt(ctx context.Context, userID, entryID, lastError string) error
}

// PendingStore holds the durable pending-notification id list per scheduler owner.
// It is written on every schedule/fire/cancel and read only for inspection.
type PendingStore interface {
	SavePending(ctx context.Context, owner string, ids []string) error
	LoadPending(ctx context.Context, owner string) ([]string, error)
	ClearPending(ctx context.Context, owner string) error
	ListPendingOwners(ctx context.Context) ([]string, error)
}

// RecordRepository is the authoritative per-user record table served by recordd.
type RecordRepository interface {
	// GetRecord returns the stored record, or nil if the user is unknown.
	GetRecord(ctx context.Context, userID string) (*domain.UserRecord, error)

	// PutRecord creates or replaces the record. The last write wins.
	PutRecord(ctx context.Context, rec *domain.UserRecord) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
