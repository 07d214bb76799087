package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/studypal/internal/domain"
)

// AddTaskAction asks for a new task on today's schedule.
type AddTaskAction struct {
	Title     string          `json:"title"`
	Category  domain.Category `json:"category,omitempty"`
	StartTime string          `json:"startTime,omitempty"`
	Duration  int             `json:"duration,omitempty"`
}

// CompleteTaskAction names the task to finish, by id or by title.
type CompleteTaskAction struct {
	TaskID string `json:"taskId,omitempty"`
	Title  string `json:"title,omitempty"`
}

// StartTimerAction starts the timer, optionally linked to a task.
type StartTimerAction struct {
	TaskID   string            `json:"taskId,omitempty"`
	Title    string            `json:"title,omitempty"`
	Duration int               `json:"duration,omitempty"`
	Phase    domain.TimerPhase `json:"phase,omitempty"`
}

// StopTimerAction stops the running timer.
type StopTimerAction struct{}

// ParseAction validates the shape of a model action and returns one of the
// typed *Action payloads above. Any shape problem wraps domain.ErrActionMalformed.
func ParseAction(a *Action) (any, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no action", domain.ErrActionMalformed)
	}

	switch a.Kind {
	case ActionAddTask:
		var p AddTaskAction
		if err := decodeData(a.Data, &p, true); err != nil {
			return nil, err
		}
		p.Title = strings.TrimSpace(p.Title)
		if p.Title == "" {
			return nil, fmt.Errorf("%w: add_task needs a title", domain.ErrActionMalformed)
		}
		if p.Category != "" && !p.Category.Valid() {
			return nil, fmt.Errorf("%w: unknown category %q", domain.ErrActionMalformed, p.Category)
		}
		if p.Duration < 0 {
			return nil, fmt.Errorf("%w: negative duration", domain.ErrActionMalformed)
		}
		return p, nil

	case ActionCompleteTask:
		var p CompleteTaskAction
		if err := decodeData(a.Data, &p, true); err != nil {
			return nil, err
		}
		p.TaskID = strings.TrimSpace(p.TaskID)
		p.Title = strings.TrimSpace(p.Title)
		if p.TaskID == "" && p.Title == "" {
			return nil, fmt.Errorf("%w: complete_task needs taskId or title", domain.ErrActionMalformed)
		}
		return p, nil

	case ActionStartTimer:
		var p StartTimerAction
		if err := decodeData(a.Data, &p, false); err != nil {
			return nil, err
		}
		if p.Phase != "" && !p.Phase.Valid() {
			return nil, fmt.Errorf("%w: unknown phase %q", domain.ErrActionMalformed, p.Phase)
		}
		if p.Duration < 0 {
			return nil, fmt.Errorf("%w: negative duration", domain.ErrActionMalformed)
		}
		return p, nil

	case ActionStopTimer:
		return StopTimerAction{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing action kind", domain.ErrActionMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", domain.ErrActionMalformed, a.Kind)
	}
}

func decodeData(data json.RawMessage, v any, required bool) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if required {
			return fmt.Errorf("%w: missing data", domain.ErrActionMalformed)
		}
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrActionMalformed, err)
	}
	return nil
}
