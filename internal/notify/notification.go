// Package notify schedules task reminders and the background nag loop for one
// device session, and hands due notifications to a platform sink.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/studypal/internal/domain"
)

// Type classifies a notification.
type Type string

const (
	TypeTaskStart Type = "task_start"
	TypeTaskEnd   Type = "task_end"
	TypeReminder  Type = "reminder"
	TypeNag       Type = "nag"
)

// Action is a button offered on a notification.
type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// Notification is the payload handed to a Sink. A later notification with the
// same Tag replaces an earlier one instead of stacking.
type Notification struct {
	ID                 string            `json:"id"`
	Type               Type              `json:"type"`
	Title              string            `json:"title"`
	Body               string            `json:"body"`
	Tag                string            `json:"tag"`
	Icon               string            `json:"icon,omitempty"`
	Vibrate            []int             `json:"vibrate,omitempty"`
	RequireInteraction bool              `json:"requireInteraction"`
	Actions            []Action          `json:"actions,omitempty"`
	Data               map[string]string `json:"data,omitempty"`
}

// Sink displays notifications.
type Sink interface {
	Show(ctx context.Context, n Notification) error
}

// Permission mirrors the host's notification permission.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

// PermissionChecker is asked on every request and again on every delivery.
type PermissionChecker interface {
	Permission() Permission
}

// PendingStore persists the pending id list for inspection. The scheduler never
// reads it back.
type PendingStore interface {
	SavePending(ctx context.Context, owner string, ids []string) error
	ClearPending(ctx context.Context, owner string) error
}

// Derived notification id prefixes for a task.
const (
	PrefixReminder = "reminder-"
	PrefixStart    = "start-"
	PrefixEnd      = "end-"

	NagID = "nag"
)

func isTaskID(id string) bool {
	return strings.HasPrefix(id, PrefixReminder) || strings.HasPrefix(id, PrefixStart) || strings.HasPrefix(id, PrefixEnd)
}

func reminderNotification(task domain.Task, icon string) Notification {
	id := PrefixReminder + task.ID
	return Notification{
		ID:      id,
		Type:    TypeReminder,
		Title:   "Starting in 5 minutes",
		Body:    task.Title,
		Tag:     id,
		Icon:    icon,
		Vibrate: []int{100, 50, 100},
		Data:    map[string]string{"taskId": task.ID, "type": string(TypeReminder)},
	}
}

func startNotification(task domain.Task, icon string) Notification {
	id := PrefixStart + task.ID
	return Notification{
		ID:                 id,
		Type:               TypeTaskStart,
		Title:              "Time to start",
		Body:               fmt.Sprintf("%s (%d min)", task.Title, task.Duration),
		Tag:                id,
		Icon:               icon,
		Vibrate:            []int{200, 100, 200},
		RequireInteraction: true,
		Actions: []Action{
			{Action: "start", Title: "Start"},
			{Action: "snooze", Title: "Snooze 5 min"},
		},
		Data: map[string]string{"taskId": task.ID, "type": string(TypeTaskStart)},
	}
}

func endNotification(task domain.Task, icon string) Notification {
	id := PrefixEnd + task.ID
	return Notification{
		ID:      id,
		Type:    TypeTaskEnd,
		Title:   "Time's up",
		Body:    task.Title,
		Tag:     id,
		Icon:    icon,
		Vibrate: []int{100, 50, 100, 50, 100},
		Data:    map[string]string{"taskId": task.ID, "type": string(TypeTaskEnd)},
	}
}

func nagNotification(body, icon string) Notification {
	return Notification{
		ID:                 NagID,
		Type:               TypeNag,
		Title:              "Still there?",
		Body:               body,
		Tag:                NagID,
		Icon:               icon,
		Vibrate:            []int{300, 100, 300},
		RequireInteraction: true,
		Actions:            []Action{{Action: "open", Title: "Open"}},
		Data:               map[string]string{"type": string(TypeNag)},
	}
}
