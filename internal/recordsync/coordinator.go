// Package recordsync reconciles the authoritative remote record with the local cache.
//
// Reads prefer the remote store and mirror it into the cache; writes land in the
// cache first and then try the remote once. A write the remote did not confirm is
// kept in a per-user outbox and replayed when connectivity returns.
//
// Conflicts are resolved by last write wins on whole records. UpdatedAt is stamped
// on every save but never compared, so two devices editing concurrently can
// overwrite each other.
package recordsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/remote"
	"github.com/ashureev/studypal/internal/store"
)

const (
	DefaultReadTimeout  = 5 * time.Second
	DefaultWriteTimeout = 8 * time.Second
)

var errRemoteNotConfigured = fmt.Errorf("%w: record service not configured", domain.ErrRemoteUnavailable)

// Remote is the authoritative record service.
type Remote interface {
	GetRecord(ctx context.Context, userID string) (*domain.UserRecord, error)
	PutRecord(ctx context.Context, rec *domain.UserRecord) error
	Ping(ctx context.Context) error
}

// Coordinator owns the read/write policy between Remote and the local stores.
type Coordinator struct {
	remote       Remote
	cache        store.CacheStore
	outbox       store.OutboxStore
	readTimeout  time.Duration
	writeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	online   atomic.Bool
	restored chan struct{}
	replayMu sync.Mutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeouts overrides the remote read and write bounds.
func WithTimeouts(read, write time.Duration) Option {
	return func(c *Coordinator) {
		if read > 0 {
			c.readTimeout = read
		}
		if write > 0 {
			c.writeTimeout = write
		}
	}
}

// WithNow sets the clock used to stamp UpdatedAt.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// NewCoordinator builds a coordinator. A nil remote makes every read fall back
// to the cache and every write unconfirmed.
func NewCoordinator(r Remote, cache store.CacheStore, outbox store.OutboxStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		remote:       r,
		cache:        cache,
		outbox:       outbox,
		readTimeout:  DefaultReadTimeout,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		restored:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.online.Store(r != nil)
	return c
}

// GetUserData returns the user's record. The remote copy wins whenever it can be
// fetched within the read timeout, and is mirrored into the cache. Otherwise the
// cached copy is returned. domain.ErrNoRecord means neither exists.
func (c *Coordinator) GetUserData(ctx context.Context, userID string) (*domain.UserRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInputInvalid)
	}

	rec, err := c.fetchRemote(ctx, userID)
	if err == nil {
		if rec.UserID == "" {
			rec.UserID = userID
		}
		if putErr := c.cache.PutCachedRecord(ctx, rec); putErr != nil {
			c.logger.Warn("Failed to mirror remote record into cache", "user_id", userID, "error", putErr)
		}
		c.dropStaleOutbox(ctx, rec)
		return rec, nil
	}
	c.logger.Debug("Remote read failed, falling back to cache", "user_id", userID, "error", err)

	cached, cacheErr := c.cache.GetCachedRecord(ctx, userID)
	if cacheErr != nil {
		return nil, fmt.Errorf("read cache: %w", cacheErr)
	}
	if cached == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoRecord, userID)
	}
	return cached, nil
}

// SaveUserData stamps UpdatedAt, writes the cache, then tries the remote once.
// It reports whether the remote confirmed the write. An unconfirmed record
// stays durable in the cache and is queued in the outbox.
func (c *Coordinator) SaveUserData(ctx context.Context, rec *domain.UserRecord) (bool, error) {
	if rec == nil || strings.TrimSpace(rec.UserID) == "" {
		return false, fmt.Errorf("%w: record user id is required", domain.ErrInputInvalid)
	}

	rec.UpdatedAt = c.now()
	if err := c.cache.PutCachedRecord(ctx, rec); err != nil {
		return false, fmt.Errorf("write cache: %w", err)
	}

	if err := c.pushRemote(ctx, rec); err != nil {
		c.logger.Warn("Remote write failed, queued in outbox", "user_id", rec.UserID, "error", err)
		if _, qErr := c.outbox.EnqueueOutbox(ctx, rec); qErr != nil {
			c.logger.Error("Failed to enqueue outbox entry", "user_id", rec.UserID, "error", qErr)
		}
		return false, nil
	}

	entry, err := c.outbox.GetOutbox(ctx, rec.UserID)
	if err != nil {
		c.logger.Warn("Failed to read outbox after write", "user_id", rec.UserID, "error", err)
	} else if entry != nil {
		if _, err := c.outbox.DeleteOutbox(ctx, rec.UserID, entry.EntryID); err != nil {
			c.logger.Warn("Failed to drop superseded outbox entry", "user_id", rec.UserID, "error", err)
		}
	}
	return true, nil
}

// ReplayResult summarises one outbox replay.
type ReplayResult struct {
	Pushed    int `json:"pushed"`
	Dropped   int `json:"dropped"`
	Rejected  int `json:"rejected"`
	Remaining int `json:"remaining"`
}

// ReplayOutbox pushes every queued write, oldest first. Each entry is checked
// against the service's current record first, and an entry that record
// supersedes is dropped instead of pushed. Replay stops at the first failure
// that means the service is unreachable. Entries the service answered with a
// client error stay queued and count as rejected.
func (c *Coordinator) ReplayOutbox(ctx context.Context) (ReplayResult, error) {
	c.replayMu.Lock()
	defer c.replayMu.Unlock()

	var res ReplayResult
	entries, err := c.outbox.ListOutbox(ctx)
	if err != nil {
		return res, fmt.Errorf("list outbox: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}
	if c.remote == nil {
		res.Remaining = len(entries)
		return res, errRemoteNotConfigured
	}

	for i, entry := range entries {
		current, err := c.fetchRemote(ctx, entry.UserID)
		if err == nil && supersededBy(entry, current) {
			if _, delErr := c.outbox.DeleteOutbox(ctx, entry.UserID, entry.EntryID); delErr != nil {
				c.logger.Warn("Failed to delete superseded outbox entry", "user_id", entry.UserID, "error", delErr)
			}
			c.logger.Info("Dropped outbox entry superseded by remote record", "user_id", entry.UserID, "entry_id", entry.EntryID)
			res.Dropped++
			continue
		}
		if err == nil || remote.Reachable(err) {
			err = c.pushRemote(ctx, entry.Record)
		}
		if err == nil {
			if _, delErr := c.outbox.DeleteOutbox(ctx, entry.UserID, entry.EntryID); delErr != nil {
				c.logger.Warn("Failed to delete replayed outbox entry", "user_id", entry.UserID, "error", delErr)
			}
			res.Pushed++
			continue
		}

		if markErr := c.outbox.MarkOutboxAttempt(ctx, entry.UserID, entry.EntryID, err.Error()); markErr != nil {
			c.logger.Warn("Failed to record outbox attempt", "user_id", entry.UserID, "error", markErr)
		}
		if !remote.Reachable(err) {
			res.Remaining += len(entries) - i
			return res, fmt.Errorf("%w: %v", domain.ErrRemoteUnavailable, err)
		}
		c.logger.Warn("Record service rejected outbox entry", "user_id", entry.UserID, "error", err)
		res.Rejected++
		res.Remaining++
	}

	if res.Pushed > 0 || res.Dropped > 0 {
		c.logger.Info("Outbox replayed", "pushed", res.Pushed, "dropped", res.Dropped, "rejected", res.Rejected)
	}
	return res, nil
}

// Status is a snapshot of the coordinator's connectivity view.
type Status struct {
	Online        bool `json:"online"`
	PendingWrites int  `json:"pendingWrites"`
}

// Status reports connectivity and the outbox size.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	entries, err := c.outbox.ListOutbox(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("list outbox: %w", err)
	}
	return Status{Online: c.Online(), PendingWrites: len(entries)}, nil
}

// Online reports whether the last remote call reached the service.
func (c *Coordinator) Online() bool {
	return c.online.Load()
}

// ConnectivityRestored signals the replay worker. It never blocks.
func (c *Coordinator) ConnectivityRestored() {
	select {
	case c.restored <- struct{}{}:
	default:
	}
}

// Restored returns the connectivity-restored signal channel.
func (c *Coordinator) Restored() <-chan struct{} {
	return c.restored
}

// Probe pings the service within the read timeout and updates connectivity.
func (c *Coordinator) Probe(ctx context.Context) error {
	if c.remote == nil {
		return errRemoteNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()
	err := c.remote.Ping(ctx)
	c.observe(err)
	return err
}

func (c *Coordinator) fetchRemote(ctx context.Context, userID string) (*domain.UserRecord, error) {
	if c.remote == nil {
		return nil, errRemoteNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	rec, err := c.remote.GetRecord(ctx, userID)
	c.observe(err)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, remote.ErrNotFound
	}
	return rec, nil
}

func (c *Coordinator) pushRemote(ctx context.Context, rec *domain.UserRecord) error {
	if c.remote == nil {
		return errRemoteNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	err := c.remote.PutRecord(ctx, rec)
	c.observe(err)
	return err
}

// dropStaleOutbox removes a queued write that the record the service just
// returned supersedes. A newer queued write stays for the replay worker.
// Only local tables are touched, so reads never wait on a remote write.
func (c *Coordinator) dropStaleOutbox(ctx context.Context, fetched *domain.UserRecord) {
	entry, err := c.outbox.GetOutbox(ctx, fetched.UserID)
	if err != nil {
		c.logger.Warn("Failed to read outbox after fetch", "user_id", fetched.UserID, "error", err)
		return
	}
	if entry == nil {
		return
	}
	if !supersededBy(entry, fetched) {
		return
	}
	if _, err := c.outbox.DeleteOutbox(ctx, fetched.UserID, entry.EntryID); err != nil {
		c.logger.Warn("Failed to drop stale outbox entry", "user_id", fetched.UserID, "error", err)
		return
	}
	c.logger.Info("Dropped outbox entry older than remote record", "user_id", fetched.UserID, "entry_id", entry.EntryID)
}

// supersededBy reports whether the service's record makes the queued write
// obsolete: it is at least as new, or the queued write was built on a record
// with a different creation time, such as a default seeded while offline.
func supersededBy(entry *store.OutboxEntry, current *domain.UserRecord) bool {
	if entry.Record == nil {
		return true
	}
	if !entry.Record.Profile.CreatedAt.Equal(current.Profile.CreatedAt) {
		return true
	}
	return !entry.Record.UpdatedAt.After(current.UpdatedAt)
}

// SeedUserData caches a record that was materialised locally, such as the
// default for a first visit. It is never queued for the record service, so
// it cannot replace a remote record this device has not seen yet.
func (c *Coordinator) SeedUserData(ctx context.Context, rec *domain.UserRecord) error {
	if rec == nil || strings.TrimSpace(rec.UserID) == "" {
		return fmt.Errorf("%w: record user id is required", domain.ErrInputInvalid)
	}
	if err := c.cache.PutCachedRecord(ctx, rec); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// observe flips the online flag from a remote call outcome.
func (c *Coordinator) observe(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	if remote.Reachable(err) {
		if !c.online.Swap(true) {
			c.logger.Info("Record service reachable again")
			c.ConnectivityRestored()
		}
		return
	}
	if c.online.Swap(false) {
		c.logger.Warn("Record service unreachable", "error", err)
	}
}
