// Package record implements the pure mutation helpers for a UserRecord.
//
// Every helper takes a record by value, deep-copies it, and returns the new
// value. None of them perform I/O. The calendar day is read from the now
// argument in its own location, so callers decide the user's time zone.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/google/uuid"
)

// DefaultTaskMinutes is used when a task is added without a duration.
const DefaultTaskMinutes = 25

// NewTask carries the caller-supplied fields of a task.
type NewTask struct {
	Title     string          `json:"title"`
	Category  domain.Category `json:"category"`
	StartTime string          `json:"startTime,omitempty"`
	Duration  int             `json:"duration"`
}

// TimerStart describes a timer to start.
type TimerStart struct {
	TaskID   string            `json:"taskId,omitempty"`
	Title    string            `json:"title,omitempty"`
	Duration int               `json:"duration"`
	Phase    domain.TimerPhase `json:"phase,omitempty"`
}

// CreateDefault builds the record for an unseen user.
func CreateDefault(userID, name string, now time.Time) domain.UserRecord {
	return domain.UserRecord{
		UserID: userID,
		Profile: domain.Profile{
			Name:      name,
			Goals:     []string{},
			CreatedAt: now,
		},
		Schedule: domain.Schedule{
			Today:  []domain.Task{},
			Weekly: map[string][]domain.Task{},
		},
		Sessions: []domain.ChatSession{},
		Stats: domain.Stats{
			StudyMinutes: map[string]int{},
			Categories:   map[string]domain.CategoryStat{},
		},
		Timer:     domain.IdleTimer(),
		UpdatedAt: now,
	}
}

// Clone returns a deep copy of rec. Nil maps on the input come back as empty maps.
func Clone(rec domain.UserRecord) domain.UserRecord {
	out := rec

	out.Profile.Goals = append([]string{}, rec.Profile.Goals...)

	out.Schedule.Today = append([]domain.Task{}, rec.Schedule.Today...)
	out.Schedule.Weekly = make(map[string][]domain.Task, len(rec.Schedule.Weekly))
	for k, tasks := range rec.Schedule.Weekly {
		out.Schedule.Weekly[k] = append([]domain.Task{}, tasks...)
	}

	out.Sessions = make([]domain.ChatSession, len(rec.Sessions))
	for i, s := range rec.Sessions {
		s.Messages = append([]domain.Message{}, s.Messages...)
		out.Sessions[i] = s
	}

	out.Stats.StudyMinutes = make(map[string]int, len(rec.Stats.StudyMinutes))
	for k, v := range rec.Stats.StudyMinutes {
		out.Stats.StudyMinutes[k] = v
	}
	out.Stats.Categories = make(map[string]domain.CategoryStat, len(rec.Stats.Categories))
	for k, v := range rec.Stats.Categories {
		out.Stats.Categories[k] = v
	}

	if rec.Timer.StartedAt != nil {
		started := *rec.Timer.StartedAt
		out.Timer.StartedAt = &started
	}

	return out
}

// AddTask appends a new pending task to today's schedule.
func AddTask(rec domain.UserRecord, in NewTask, now time.Time) (domain.UserRecord, domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return rec, domain.Task{}, fmt.Errorf("%w: task title is required", domain.ErrInputInvalid)
	}

	category := in.Category
	if category == "" {
		category = domain.CategoryOther
	}
	if !category.Valid() {
		return rec, domain.Task{}, fmt.Errorf("%w: unknown category %q", domain.ErrInputInvalid, in.Category)
	}

	startTime := strings.TrimSpace(in.StartTime)
	if startTime != "" {
		if _, err := time.Parse("15:04", startTime); err != nil {
			return rec, domain.Task{}, fmt.Errorf("%w: start time must be HH:MM", domain.ErrInputInvalid)
		}
	}

	duration := in.Duration
	if duration == 0 {
		duration = DefaultTaskMinutes
	}
	if duration < 0 {
		return rec, domain.Task{}, fmt.Errorf("%w: duration must be positive", domain.ErrInputInvalid)
	}

	task := domain.Task{
		ID:        uuid.NewString(),
		Title:     title,
		Category:  category,
		StartTime: startTime,
		Duration:  duration,
		Status:    domain.StatusPending,
		CreatedAt: now,
	}

	out := Clone(rec)
	out.Schedule.Today = append(out.Schedule.Today, task)
	return out, task, nil
}

// FindTask looks a task up in today's schedule, then in the weekly plan.
func FindTask(rec domain.UserRecord, taskID string) (domain.Task, bool) {
	for _, t := range rec.Schedule.Today {
		if t.ID == taskID {
			return t, true
		}
	}
	for _, tasks := range rec.Schedule.Weekly {
		for _, t := range tasks {
			if t.ID == taskID {
				return t, true
			}
		}
	}
	return domain.Task{}, false
}

// CompleteTask marks the task done and folds its duration into stats. A
// running timer on the task is stopped first. A task whose timer already
// logged minutes keeps only those, so completion adds nothing more.
// Completing a task that is already done returns an unchanged copy.
func CompleteTask(rec domain.UserRecord, taskID string, now time.Time) (domain.UserRecord, error) {
	task, ok := FindTask(rec, taskID)
	if !ok {
		return rec, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, taskID)
	}

	out := Clone(rec)
	if task.Status == domain.StatusDone {
		return out, nil
	}

	if out.Timer.TaskID == taskID {
		if out.Timer.IsRunning {
			out = StopTimer(out, now)
		} else {
			out.Timer = domain.IdleTimer()
		}
		task, _ = FindTask(out, taskID)
	}
	setTaskStatus(&out, taskID, domain.StatusDone)
	if task.Duration > 0 && task.Logged == 0 {
		out = AddStudyTime(out, task.Duration, string(task.Category), now)
	}
	return out, nil
}

func setTaskStatus(rec *domain.UserRecord, taskID string, status domain.TaskStatus) {
	updateTask(rec, taskID, func(t *domain.Task) { t.Status = status })
}

func updateTask(rec *domain.UserRecord, taskID string, fn func(*domain.Task)) {
	for i := range rec.Schedule.Today {
		if rec.Schedule.Today[i].ID == taskID {
			fn(&rec.Schedule.Today[i])
		}
	}
	for k := range rec.Schedule.Weekly {
		for i := range rec.Schedule.Weekly[k] {
			if rec.Schedule.Weekly[k][i].ID == taskID {
				fn(&rec.Schedule.Weekly[k][i])
			}
		}
	}
}

// AddStudyTime logs minutes against today and category, and advances the streak.
func AddStudyTime(rec domain.UserRecord, minutes int, category string, now time.Time) domain.UserRecord {
	out := Clone(rec)
	today := now.Format(domain.DateLayout)

	out.Stats.StudyMinutes[today] += minutes

	stat := out.Stats.Categories[category]
	stat.TotalMinutes += minutes
	stat.Sessions++
	out.Stats.Categories[category] = stat

	out.Stats.Streaks, out.Stats.LastActiveDate = nextStreak(out.Stats.Streaks, out.Stats.LastActiveDate, now)
	return out
}

// nextStreak applies one day of activity on now to the streak counter.
func nextStreak(streak int, lastActive string, now time.Time) (int, string) {
	today := now.Format(domain.DateLayout)
	if lastActive == "" {
		return 1, today
	}

	last, err := time.ParseInLocation(domain.DateLayout, lastActive, now.Location())
	if err != nil {
		return 1, today
	}

	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch gap := daysBetween(last, day); {
	case gap == 0:
		return streak, lastActive
	case gap == 1:
		return streak + 1, today
	case gap < 0:
		// Clock went backwards; keep the newer date.
		return streak, lastActive
	default:
		return 1, today
	}
}

// daysBetween counts calendar days from a to b. Both are local midnights.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	return ay == by && am == bm && ad == bd
}

// AppendMessage adds msgs to the session for today and source, opening a new
// session if none exists, then evicts the oldest sessions beyond MaxSessions.
func AppendMessage(rec domain.UserRecord, source domain.Source, now time.Time, msgs ...domain.Message) domain.UserRecord {
	out := Clone(rec)

	idx := -1
	for i := len(out.Sessions) - 1; i >= 0; i-- {
		s := out.Sessions[i]
		if s.Source == source && sameDay(now, s.Timestamp) {
			idx = i
			break
		}
	}

	if idx >= 0 {
		out.Sessions[idx].Messages = append(out.Sessions[idx].Messages, msgs...)
	} else {
		out.Sessions = append(out.Sessions, domain.ChatSession{
			ID:        uuid.NewString(),
			Timestamp: now,
			Source:    source,
			Messages:  append([]domain.Message{}, msgs...),
		})
	}

	if over := len(out.Sessions) - domain.MaxSessions; over > 0 {
		out.Sessions = append([]domain.ChatSession{}, out.Sessions[over:]...)
	}
	return out
}

// TodayMessages returns up to the last MaxTodayMessages messages from sessions
// started on the calendar day of now, oldest first.
func TodayMessages(rec domain.UserRecord, now time.Time) []domain.Message {
	var msgs []domain.Message
	for _, s := range rec.Sessions {
		if sameDay(now, s.Timestamp) {
			msgs = append(msgs, s.Messages...)
		}
	}
	if len(msgs) > domain.MaxTodayMessages {
		msgs = msgs[len(msgs)-domain.MaxTodayMessages:]
	}
	return append([]domain.Message{}, msgs...)
}

// StartTimer replaces the timer with a running one and marks the linked task active.
func StartTimer(rec domain.UserRecord, in TimerStart, now time.Time) (domain.UserRecord, error) {
	phase := in.Phase
	if phase == "" {
		phase = domain.PhaseWork
	}
	if !phase.Valid() {
		return rec, fmt.Errorf("%w: unknown timer phase %q", domain.ErrInputInvalid, in.Phase)
	}
	if in.Duration < 0 {
		return rec, fmt.Errorf("%w: duration must be positive", domain.ErrInputInvalid)
	}

	title := strings.TrimSpace(in.Title)
	if in.TaskID != "" {
		task, ok := FindTask(rec, in.TaskID)
		if !ok {
			return rec, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, in.TaskID)
		}
		if title == "" {
			title = task.Title
		}
		if in.Duration == 0 {
			in.Duration = task.Duration
		}
	}
	if in.Duration == 0 {
		in.Duration = domain.DefaultTimerMinutes
	}

	out := Clone(rec)
	if out.Timer.IsRunning {
		out = StopTimer(out, now)
	}

	started := now
	out.Timer = domain.Timer{
		TaskID:    in.TaskID,
		TaskTitle: title,
		StartedAt: &started,
		Duration:  in.Duration,
		Phase:     phase,
		IsRunning: true,
	}
	if in.TaskID != "" {
		setTaskStatus(&out, in.TaskID, domain.StatusActive)
	}
	return out, nil
}

// StopTimer idles the timer. Whole minutes of a running work phase are logged
// as study time under the linked task's category and counted on the task.
func StopTimer(rec domain.UserRecord, now time.Time) domain.UserRecord {
	out := Clone(rec)
	prev := out.Timer
	out.Timer = domain.IdleTimer()

	if prev.Phase != domain.PhaseWork {
		return out
	}
	minutes := int(prev.Elapsed(now) / time.Minute)
	if minutes < 1 {
		return out
	}

	category := string(domain.CategoryStudy)
	if prev.TaskID != "" {
		if task, ok := FindTask(out, prev.TaskID); ok {
			category = string(task.Category)
			updateTask(&out, prev.TaskID, func(t *domain.Task) { t.Logged += minutes })
		}
	}
	return AddStudyTime(out, minutes, category, now)
}

// UpdateProfile replaces the profile name and goals. Empty name keeps the old one.
func UpdateProfile(rec domain.UserRecord, name string, goals []string) domain.UserRecord {
	out := Clone(rec)
	if name = strings.TrimSpace(name); name != "" {
		out.Profile.Name = name
	}
	if goals != nil {
		out.Profile.Goals = append([]string{}, goals...)
	}
	return out
}
