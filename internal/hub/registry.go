package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/notify"
)

const (
	DefaultIdleTTL     = 30 * time.Minute
	idleWorkerInterval = 5 * time.Minute
)

// permissionFlag is the last permission a device reported.
type permissionFlag struct {
	mu sync.RWMutex
	p  notify.Permission
}

func (f *permissionFlag) Permission() notify.Permission {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.p
}

func (f *permissionFlag) set(p notify.Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.p = p
}

type entry struct {
	userID    string
	sessionID string
	sched     *notify.Scheduler
	perm      *permissionFlag
	conns     int
	lastSeen  time.Time
}

// Registry owns one notification scheduler per user and device session. A
// scheduler outlives reconnects and is closed once its device has been gone
// longer than the idle TTL.
type Registry struct {
	hub     *Hub
	pending notify.PendingStore
	opts    []notify.Option
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithIdleTTL sets how long a scheduler survives without a connection.
func WithIdleTTL(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.idleTTL = d
		}
	}
}

// WithSchedulerOptions passes options to every scheduler the registry builds.
func WithSchedulerOptions(opts ...notify.Option) RegistryOption {
	return func(r *Registry) { r.opts = append(r.opts, opts...) }
}

// WithRegistryNow sets the clock used for idle accounting.
func WithRegistryNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry delivering through hub. pending may be nil.
func NewRegistry(hub *Hub, pending notify.PendingStore, opts ...RegistryOption) *Registry {
	r := &Registry{
		hub:     hub,
		pending: pending,
		idleTTL: DefaultIdleTTL,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire returns the session's scheduler, creating it on first use, and
// counts one more live connection against it.
func (r *Registry) Acquire(userID, sessionID string) (*notify.Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false
	}

	key := sessionKey(userID, sessionID)
	e, ok := r.entries[key]
	if !ok {
		perm := &permissionFlag{p: notify.PermissionDefault}
		e = &entry{
			userID:    userID,
			sessionID: sessionID,
			perm:      perm,
			sched:     notify.New(key, r.hub.SinkFor(userID, sessionID), perm, r.pending, r.opts...),
		}
		r.entries[key] = e
		slog.Info("Notification scheduler created", "user_id", userID, "session_id", sessionID)
	}
	e.conns++
	e.lastSeen = r.now()
	return e.sched, true
}

// Release drops one live connection from the session.
func (r *Registry) Release(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[sessionKey(userID, sessionID)]; ok {
		if e.conns > 0 {
			e.conns--
		}
		e.lastSeen = r.now()
	}
}

// Scheduler looks up the session's scheduler without acquiring it.
func (r *Registry) Scheduler(userID, sessionID string) (*notify.Scheduler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[sessionKey(userID, sessionID)]
	if !ok {
		return nil, false
	}
	return e.sched, true
}

// SetPermission records the permission a device reported.
func (r *Registry) SetPermission(userID, sessionID string, p notify.Permission) {
	r.mu.Lock()
	e, ok := r.entries[sessionKey(userID, sessionID)]
	r.mu.Unlock()
	if ok {
		e.perm.set(p)
	}
}

// RescheduleUser refreshes the task notifications of every device of userID.
func (r *Registry) RescheduleUser(userID string, tasks []domain.Task) {
	for _, sched := range r.userSchedulers(userID) {
		sched.ScheduleAllTasks(tasks)
	}
}

// PendingFor returns the pending ids of a session's scheduler.
func (r *Registry) PendingFor(userID, sessionID string) []string {
	sched, ok := r.Scheduler(userID, sessionID)
	if !ok {
		return []string{}
	}
	return sched.Pending()
}

func (r *Registry) userSchedulers(userID string) []*notify.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*notify.Scheduler
	for _, e := range r.entries {
		if e.userID == userID {
			out = append(out, e.sched)
		}
	}
	return out
}

// Len returns the number of live schedulers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SweepIdle closes schedulers whose device has had no connection for longer
// than the idle TTL. It returns how many were closed.
func (r *Registry) SweepIdle() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*entry
	for key, e := range r.entries {
		if e.conns == 0 && e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, e := range expired {
		e.sched.Close()
		r.hub.Forget(e.userID, e.sessionID)
		slog.Info("Idle worker closed notification scheduler", "user_id", e.userID, "session_id", e.sessionID)
	}
	return len(expired)
}

// StartIdleWorker sweeps idle schedulers until ctx is done.
func (r *Registry) StartIdleWorker(ctx context.Context) {
	ticker := time.NewTicker(idleWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Idle worker started", "interval", idleWorkerInterval, "ttl", r.idleTTL)

		for {
			select {
			case <-ticker.C:
				if n := r.SweepIdle(); n > 0 {
					slog.Info("Idle worker sweep completed", "closed", n)
				}
			case <-ctx.Done():
				slog.Info("Idle worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Close disposes every scheduler. Later Acquire calls fail.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.closed = true
	r.mu.Unlock()

	for _, e := range entries {
		e.sched.Close()
	}
	slog.Info("Notification registry closed", "schedulers", len(entries))
}
