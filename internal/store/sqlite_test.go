package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/stretchr/testify/require"
)

// NewTestStore opens a fresh database in a temp dir.
func NewTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLite(filepath.Join(t.TempDir(), "studypal.db"))
	require.NoError(t, err, "failed to create test database")

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testRecord(userID, name string) *domain.UserRecord {
	return &domain.UserRecord{
		UserID:    userID,
		Profile:   domain.Profile{Name: name, Goals: []string{"read"}},
		Stats:     domain.Stats{StudyMinutes: map[string]int{"2024-01-01": 30}, Streaks: 2},
		Timer:     domain.IdleTimer(),
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestSchemaTables(t *testing.T) {
	s := NewTestStore(t)

	for _, table := range []string{"record_cache", "outbox", "pending_notifications", "records"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err, "failed to query table %s", table)
		require.Equal(t, 1, count, "table %s not found", table)
	}
}

func TestCache_RoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)

	got, err := s.GetCachedRecord(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.PutCachedRecord(ctx, testRecord("u1", "old")))
	require.NoError(t, s.PutCachedRecord(ctx, testRecord("u1", "new")))

	got, err = s.GetCachedRecord(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "new", got.Profile.Name)
	require.Equal(t, 30, got.Stats.StudyMinutes["2024-01-01"])

	require.ErrorIs(t, s.PutCachedRecord(ctx, &domain.UserRecord{}), domain.ErrInputInvalid)
}

func TestOutbox_OneEntryPerUser(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)

	first, err := s.EnqueueOutbox(ctx, testRecord("u1", "v1"))
	require.NoError(t, err)
	second, err := s.EnqueueOutbox(ctx, testRecord("u1", "v2"))
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = s.EnqueueOutbox(ctx, testRecord("u2", "other"))
	require.NoError(t, err)

	entries, err := s.ListOutbox(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entry, err := s.GetOutbox(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, second, entry.EntryID)
	require.Equal(t, "v2", entry.Record.Profile.Name)
}

func TestOutbox_DeleteIsConditional(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)

	stale, err := s.EnqueueOutbox(ctx, testRecord("u1", "v1"))
	require.NoError(t, err)
	current, err := s.EnqueueOutbox(ctx, testRecord("u1", "v2"))
	require.NoError(t, err)

	deleted, err := s.DeleteOutbox(ctx, "u1", stale)
	require.NoError(t, err)
	require.False(t, deleted)

	require.NoError(t, s.MarkOutboxAttempt(ctx, "u1", current, "timeout"))
	entry, err := s.GetOutbox(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, entry.Attempts)
	require.Equal(t, "timeout", entry.LastError)

	deleted, err = s.DeleteOutbox(ctx, "u1", current)
	require.NoError(t, err)
	require.True(t, deleted)

	entry, err = s.GetOutbox(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestPending_SaveLoadClear(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)

	ids, err := s.LoadPending(ctx, "u1:tab-1")
	require.NoError(t, err)
	require.Empty(t, ids)

	require.NoError(t, s.SavePending(ctx, "u1:tab-1", []string{"reminder-t1", "start-t1"}))
	require.NoError(t, s.SavePending(ctx, "u1:tab-2", nil))

	ids, err = s.LoadPending(ctx, "u1:tab-1")
	require.NoError(t, err)
	require.Equal(t, []string{"reminder-t1", "start-t1"}, ids)

	owners, err := s.ListPendingOwners(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"u1:tab-1", "u1:tab-2"}, owners)

	require.NoError(t, s.ClearPending(ctx, "u1:tab-1"))
	ids, err = s.LoadPending(ctx, "u1:tab-1")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRecords_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := NewTestStore(t)

	got, err := s.GetRecord(ctx, "u1")
	require.NoError(t, err)
	require.Nil(t, got)

	newer := testRecord("u1", "newer")
	newer.UpdatedAt = time.Unix(1700000500, 0).UTC()
	require.NoError(t, s.PutRecord(ctx, newer))

	older := testRecord("u1", "older")
	require.NoError(t, s.PutRecord(ctx, older))

	got, err = s.GetRecord(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "older", got.Profile.Name)
	require.NoError(t, s.Ping(ctx))
}
