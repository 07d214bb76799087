// Package tracker is the single read-modify-write path for user records.
// HTTP handlers, the notification socket and the chat service all mutate
// records through a Service so that updates from one process never interleave.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/record"
)

// Store loads and saves whole records. recordsync.Coordinator implements it.
type Store interface {
	GetUserData(ctx context.Context, userID string) (*domain.UserRecord, error)
	SaveUserData(ctx context.Context, rec *domain.UserRecord) (bool, error)
}

// Seeder keeps a locally created default record without sending it to the
// record service. recordsync.Coordinator implements it. Stores without it
// leave the default unsaved until the first mutation.
type Seeder interface {
	SeedUserData(ctx context.Context, rec *domain.UserRecord) error
}

// MutateFunc derives the next record. now is already in the service's zone.
type MutateFunc func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error)

// Result is the outcome of one saved mutation.
type Result struct {
	Record domain.UserRecord `json:"record"`
	// Synced reports whether the record service confirmed the write.
	Synced bool `json:"synced"`
}

// Service serialises record mutations per user.
type Service struct {
	store        Store
	now          func() time.Time
	loc          *time.Location
	tasksChanged func(userID string, tasks []domain.Task)
	logger       *slog.Logger

	locks sync.Map // userID -> *sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone that decides calendar days.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New builds a service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		now:    time.Now,
		loc:    time.Local,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnTasksChanged registers fn to run after a saved mutation changed today's
// tasks. It must be set before the service is used.
func (s *Service) OnTasksChanged(fn func(userID string, tasks []domain.Task)) {
	s.tasksChanged = fn
}

// Now returns the current time in the service's zone.
func (s *Service) Now() time.Time {
	return s.now().In(s.loc)
}

// Load returns the user's record, creating and saving a default one for an
// unseen user.
func (s *Service) Load(ctx context.Context, userID string) (domain.UserRecord, error) {
	if userID == "" {
		return domain.UserRecord{}, fmt.Errorf("%w: user id is required", domain.ErrInputInvalid)
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	return s.loadLocked(ctx, userID)
}

// Mutate loads the record, applies fn and saves the result once. When fn
// fails nothing is saved.
func (s *Service) Mutate(ctx context.Context, userID string, fn MutateFunc) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("%w: user id is required", domain.ErrInputInvalid)
	}
	mu := s.lock(userID)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.loadLocked(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	next, err := fn(current, s.Now())
	if err != nil {
		return Result{}, err
	}
	next.UserID = userID

	synced, err := s.store.SaveUserData(ctx, &next)
	if err != nil {
		return Result{}, fmt.Errorf("save record: %w", err)
	}

	if s.tasksChanged != nil && !sameTasks(current.Schedule.Today, next.Schedule.Today) {
		s.tasksChanged(userID, append([]domain.Task{}, next.Schedule.Today...))
	}
	return Result{Record: next, Synced: synced}, nil
}

// AddTask adds a task to today's schedule.
func (s *Service) AddTask(ctx context.Context, userID string, in record.NewTask) (Result, domain.Task, error) {
	var added domain.Task
	res, err := s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		out, task, err := record.AddTask(rec, in, now)
		added = task
		return out, err
	})
	return res, added, err
}

// CompleteTask marks a task done.
func (s *Service) CompleteTask(ctx context.Context, userID, taskID string) (Result, error) {
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		return record.CompleteTask(rec, taskID, now)
	})
}

// LogStudy records minutes of study under category.
func (s *Service) LogStudy(ctx context.Context, userID string, minutes int, category string) (Result, error) {
	if minutes <= 0 {
		return Result{}, fmt.Errorf("%w: minutes must be positive", domain.ErrInputInvalid)
	}
	if category == "" {
		category = string(domain.CategoryStudy)
	}
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		return record.AddStudyTime(rec, minutes, category, now), nil
	})
}

// StartTimer starts the user's timer.
func (s *Service) StartTimer(ctx context.Context, userID string, in record.TimerStart) (Result, error) {
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		return record.StartTimer(rec, in, now)
	})
}

// StopTimer stops the user's timer and logs elapsed work time.
func (s *Service) StopTimer(ctx context.Context, userID string) (Result, error) {
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		return record.StopTimer(rec, now), nil
	})
}

// UpdateProfile replaces the profile name and goals.
func (s *Service) UpdateProfile(ctx context.Context, userID, name string, goals []string) (Result, error) {
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, _ time.Time) (domain.UserRecord, error) {
		return record.UpdateProfile(rec, name, goals), nil
	})
}

// AppendChat appends messages to today's session for source.
func (s *Service) AppendChat(ctx context.Context, userID string, source domain.Source, msgs ...domain.Message) (Result, error) {
	if !source.Valid() {
		return Result{}, fmt.Errorf("%w: unknown source %q", domain.ErrInputInvalid, source)
	}
	return s.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		return record.AppendMessage(rec, source, now, msgs...), nil
	})
}

// TodayMessages returns today's conversation history.
func (s *Service) TodayMessages(ctx context.Context, userID string) ([]domain.Message, error) {
	rec, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return record.TodayMessages(rec, s.Now()), nil
}

func (s *Service) loadLocked(ctx context.Context, userID string) (domain.UserRecord, error) {
	rec, err := s.store.GetUserData(ctx, userID)
	if err == nil {
		return record.Clone(*rec), nil
	}
	if !errors.Is(err, domain.ErrNoRecord) {
		return domain.UserRecord{}, fmt.Errorf("load record: %w", err)
	}

	fresh := record.CreateDefault(userID, "", s.Now())
	if seeder, ok := s.store.(Seeder); ok {
		if err := seeder.SeedUserData(ctx, &fresh); err != nil {
			return domain.UserRecord{}, fmt.Errorf("seed default record: %w", err)
		}
	}
	s.logger.Info("Created default record", "user_id", userID)
	return fresh, nil
}

func (s *Service) lock(userID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func sameTasks(a, b []domain.Task) bool {
	return slices.EqualFunc(a, b, func(x, y domain.Task) bool {
		return x.ID == y.ID && x.Status == y.Status && x.StartTime == y.StartTime &&
			x.Duration == y.Duration && x.Title == y.Title
	})
}
