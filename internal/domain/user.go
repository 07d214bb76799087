// Package domain contains core domain types for the studypal application.
package domain

import (
	"time"
)

// MaxSessions is the number of chat sessions retained on a record.
const MaxSessions = 30

// MaxTodayMessages caps the conversation history handed to the model.
const MaxTodayMessages = 20

// DateLayout is the ISO date used for stats keys and LastActiveDate.
const DateLayout = "2006-01-02"

// UserRecord is the complete per-user state. The remote record service owns it;
// the local cache only mirrors it.
type UserRecord struct {
	UserID    string        `json:"userId"`
	Profile   Profile       `json:"profile"`
	Schedule  Schedule      `json:"schedule"`
	Sessions  []ChatSession `json:"sessions"`
	Stats     Stats         `json:"stats"`
	Timer     Timer         `json:"timer"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Profile holds user-editable profile fields.
type Profile struct {
	Name      string    `json:"name"`
	Goals     []string  `json:"goals"`
	CreatedAt time.Time `json:"createdAt"`
}

// Schedule holds today's tasks and the weekly plan keyed by weekday or date.
type Schedule struct {
	Today  []Task            `json:"today"`
	Weekly map[string][]Task `json:"weekly"`
}

// Stats aggregates study time.
type Stats struct {
	StudyMinutes   map[string]int          `json:"studyMinutes"`
	Streaks        int                     `json:"streaks"`
	LastActiveDate string                  `json:"lastActiveDate"`
	Categories     map[string]CategoryStat `json:"categories"`
}

// CategoryStat is the running total for one task category.
type CategoryStat struct {
	TotalMinutes int `json:"totalMinutes"`
	Sessions     int `json:"sessions"`
}

// TimerPhase distinguishes focus time from breaks.
type TimerPhase string

const (
	PhaseWork  TimerPhase = "work"
	PhaseBreak TimerPhase = "break"
)

// Valid reports whether p is a known phase.
func (p TimerPhase) Valid() bool {
	return p == PhaseWork || p == PhaseBreak
}

// DefaultTimerMinutes is the duration of an idle timer.
const DefaultTimerMinutes = 25

// Timer is the single per-user timer. It is replaced wholesale on every change.
type Timer struct {
	TaskID    string     `json:"taskId,omitempty"`
	TaskTitle string     `json:"taskTitle,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Duration  int        `json:"duration"`
	Phase     TimerPhase `json:"phase"`
	IsRunning bool       `json:"isRunning"`
}

// IdleTimer returns a stopped work timer.
func IdleTimer() Timer {
	return Timer{Duration: DefaultTimerMinutes, Phase: PhaseWork}
}

// Elapsed returns how long a running timer has been going at now.
// Returns 0 if the timer is not running.
func (t Timer) Elapsed(now time.Time) time.Duration {
	if !t.IsRunning || t.StartedAt == nil {
		return 0
	}
	d := now.Sub(*t.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// TodayStudyMinutes returns the minutes logged on the calendar day of now.
func (r *UserRecord) TodayStudyMinutes(now time.Time) int {
	return r.Stats.StudyMinutes[now.Format(DateLayout)]
}
