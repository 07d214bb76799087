package domain

import (
	"time"
)

// Category classifies a task for stats.
type Category string

const (
	CategoryStudy    Category = "study"
	CategoryExercise Category = "exercise"
	CategoryHobby    Category = "hobby"
	CategoryOther    Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryStudy, CategoryExercise, CategoryHobby, CategoryOther:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending TaskStatus = "pending"
	StatusActive  TaskStatus = "active"
	StatusDone    TaskStatus = "done"
	StatusSkipped TaskStatus = "skipped"
)

// Finished reports whether the task no longer needs reminders.
func (s TaskStatus) Finished() bool {
	return s == StatusDone || s == StatusSkipped
}

// Task is a scheduled unit of work. Tasks are never deleted, only transitioned.
type Task struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Category  Category   `json:"category"`
	StartTime string     `json:"startTime,omitempty"` // "HH:MM", local time
	Duration  int        `json:"duration"`            // minutes
	Status    TaskStatus `json:"status"`
	Logged    int        `json:"loggedMinutes,omitempty"` // minutes already logged by the timer
	CreatedAt time.Time  `json:"createdAt"`
}

// StartOn resolves StartTime to an instant on the calendar day of day, in day's location.
// ok is false when the task has no start time or it does not parse.
func (t Task) StartOn(day time.Time) (time.Time, bool) {
	if t.StartTime == "" {
		return time.Time{}, false
	}
	hm, err := time.Parse("15:04", t.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	y, m, d := day.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, day.Location()), true
}
