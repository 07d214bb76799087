package notify

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/studypal/internal/domain"
)

const (
	// ReminderLead is how long before a task's start the reminder fires.
	ReminderLead = 5 * time.Minute

	DefaultNagDelay    = 10 * time.Minute
	DefaultNagInterval = 5 * time.Minute

	persistTimeout = 2 * time.Second
	deliverTimeout = 5 * time.Second
)

// Scheduler owns the pending notifications of one device session. It is safe
// for concurrent use; timer callbacks and API calls are serialised on one mutex,
// and sink delivery happens outside it.
//
// A Scheduler never returns errors. Missing permission, past instants and
// persistence failures are logged and skipped.
type Scheduler struct {
	owner   string
	sink    Sink
	perm    PermissionChecker
	pending PendingStore

	clock       Clock
	loc         *time.Location
	pick        func(n int) int
	icon        string
	nagDelay    time.Duration
	nagInterval time.Duration
	catalog     []string
	logger      *slog.Logger

	mu     sync.Mutex
	seq    uint64
	timers map[string]*scheduled
	nag    nagLoop
	closed bool
}

type scheduled struct {
	timer Timer
	gen   uint64
	at    time.Time
	n     Notification
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the runtime clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLocation sets the zone used for "HH:MM" start times and quiet hours.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithRand sets the picker used for nag messages. It must return [0, n).
func WithRand(pick func(n int) int) Option {
	return func(s *Scheduler) { s.pick = pick }
}

// WithIcon sets the icon URL attached to every notification.
func WithIcon(icon string) Option {
	return func(s *Scheduler) { s.icon = icon }
}

// WithNagTiming overrides the arm delay and repeat interval of the nag loop.
func WithNagTiming(delay, interval time.Duration) Option {
	return func(s *Scheduler) {
		if delay > 0 {
			s.nagDelay = delay
		}
		if interval > 0 {
			s.nagInterval = interval
		}
	}
}

// WithNagCatalog replaces the built-in nag messages.
func WithNagCatalog(messages []string) Option {
	return func(s *Scheduler) {
		if len(messages) > 0 {
			s.catalog = append([]string{}, messages...)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// New builds a scheduler for owner. pending may be nil.
func New(owner string, sink Sink, perm PermissionChecker, pending PendingStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		owner:       owner,
		sink:        sink,
		perm:        perm,
		pending:     pending,
		clock:       RealClock{},
		loc:         time.Local,
		pick:        rand.IntN,
		icon:        "/icons/icon-192.png",
		nagDelay:    DefaultNagDelay,
		nagInterval: DefaultNagInterval,
		catalog:     defaultNagMessages,
		logger:      slog.Default(),
		timers:      make(map[string]*scheduled),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("owner", owner)
	return s
}

// Owner returns the key the pending list is persisted under.
func (s *Scheduler) Owner() string {
	return s.owner
}

// ScheduleTask schedules the reminder, start and end notifications of task
// for today. Instants already past are skipped, and previously pending
// notifications for the task are replaced. It returns how many were scheduled.
func (s *Scheduler) ScheduleTask(task domain.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.permittedLocked("schedule_task") {
		return 0
	}
	n := s.scheduleTaskLocked(task)
	s.persistLocked()
	return n
}

// ScheduleAllTasks drops every task-derived notification, leaving others such
// as the nag loop untouched, then schedules tasks.
func (s *Scheduler) ScheduleAllTasks(tasks []domain.Task) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}
	for id := range s.timers {
		if isTaskID(id) {
			s.cancelLocked(id)
		}
	}

	total := 0
	if s.permittedLocked("schedule_all_tasks") {
		for _, task := range tasks {
			total += s.scheduleTaskLocked(task)
		}
	}
	s.persistLocked()
	s.logger.Debug("Task notifications rescheduled", "tasks", len(tasks), "scheduled", total)
	return total
}

// Snooze re-schedules the start notification of task d from now.
func (s *Scheduler) Snooze(task domain.Task, d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.permittedLocked("snooze") {
		return false
	}
	n := startNotification(task, s.icon)
	ok := s.scheduleLocked(n, s.clock.Now().Add(d))
	s.persistLocked()
	return ok
}

// ScheduleAt schedules n at the given instant under id, replacing any pending
// notification with that id. Past instants are ignored.
func (s *Scheduler) ScheduleAt(id string, at time.Time, n Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || id == "" || id == NagID || !s.permittedLocked("schedule_at") {
		return false
	}
	n.ID = id
	if n.Tag == "" {
		n.Tag = n.ID
	}
	ok := s.scheduleLocked(n, at)
	s.persistLocked()
	return ok
}

// Cancel drops the pending notification with id, if any.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelLocked(id) {
		s.persistLocked()
	}
}

// Pending returns the sorted ids of notifications not yet fired or canceled.
// An active nag loop is listed as "nag".
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingIDsLocked()
}

// ClearAll cancels every pending notification, stops the nag loop and clears
// the persisted list.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAllLocked()
}

// Close clears everything and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearAllLocked()
	s.closed = true
}

func (s *Scheduler) clearAllLocked() {
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.stopNagLocked()

	if s.pending == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.pending.ClearPending(ctx, s.owner); err != nil {
		s.logger.Warn("Failed to clear pending notifications", "error", err)
	}
}

func (s *Scheduler) scheduleTaskLocked(task domain.Task) int {
	s.cancelLocked(PrefixReminder + task.ID)
	s.cancelLocked(PrefixStart + task.ID)
	s.cancelLocked(PrefixEnd + task.ID)

	if task.ID == "" || task.Status.Finished() {
		return 0
	}
	start, ok := task.StartOn(s.clock.Now().In(s.loc))
	if !ok {
		return 0
	}

	count := 0
	if s.scheduleLocked(reminderNotification(task, s.icon), start.Add(-ReminderLead)) {
		count++
	}
	if s.scheduleLocked(startNotification(task, s.icon), start) {
		count++
	}
	end := start.Add(time.Duration(task.Duration) * time.Minute)
	if s.scheduleLocked(endNotification(task, s.icon), end) {
		count++
	}
	return count
}

// scheduleLocked arms n for at, replacing a pending entry with the same id.
func (s *Scheduler) scheduleLocked(n Notification, at time.Time) bool {
	s.cancelLocked(n.ID)

	delay := at.Sub(s.clock.Now())
	if delay <= 0 {
		return false
	}

	s.seq++
	gen := s.seq
	id := n.ID
	s.timers[id] = &scheduled{
		gen:   gen,
		at:    at,
		n:     n,
		timer: s.clock.AfterFunc(delay, func() { s.fire(id, gen) }),
	}
	return true
}

func (s *Scheduler) cancelLocked(id string) bool {
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, id)
	return true
}

// fire runs on the countdown for id. A stale generation means the entry was
// replaced or canceled after the timer had already started firing.
func (s *Scheduler) fire(id string, gen uint64) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok || e.gen != gen || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.persistLocked()
	n := e.n
	s.mu.Unlock()

	s.deliver(n)
}

// deliver re-checks permission and hands n to the sink.
func (s *Scheduler) deliver(n Notification) {
	if s.perm == nil || s.perm.Permission() != PermissionGranted {
		s.logger.Debug("Notification suppressed, permission not granted", "id", n.ID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := s.sink.Show(ctx, n); err != nil {
		s.logger.Warn("Failed to deliver notification", "id", n.ID, "error", err)
		return
	}
	s.logger.Debug("Notification delivered", "id", n.ID, "type", n.Type)
}

func (s *Scheduler) permittedLocked(op string) bool {
	if s.perm != nil && s.perm.Permission() == PermissionGranted {
		return true
	}
	s.logger.Debug("Notification permission not granted, skipping", "op", op)
	return false
}

func (s *Scheduler) pendingIDsLocked() []string {
	ids := make([]string, 0, len(s.timers)+1)
	for id := range s.timers {
		ids = append(ids, id)
	}
	if s.nag.state != NagIdle {
		ids = append(ids, NagID)
	}
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) persistLocked() {
	if s.pending == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.pending.SavePending(ctx, s.owner, s.pendingIDsLocked()); err != nil {
		s.logger.Warn("Failed to persist pending notifications", "error", err)
	}
}
