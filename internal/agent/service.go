package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/record"
	"github.com/ashureev/studypal/internal/tracker"
)

// ErrModelUnavailable means the model service failed the turn. The record is
// left untouched.
var ErrModelUnavailable = errors.New("model service unavailable")

// Records is the record access the chat service needs.
type Records interface {
	Load(ctx context.Context, userID string) (domain.UserRecord, error)
	Mutate(ctx context.Context, userID string, fn tracker.MutateFunc) (tracker.Result, error)
	Now() time.Time
}

// Service runs chat turns against the model and applies their actions.
type Service struct {
	processor Processor
	records   Records
	logger    *slog.Logger
}

// NewService creates a chat service.
func NewService(processor Processor, records Records, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		processor: processor,
		records:   records,
		logger:    logger,
	}
}

// Chat sends today's history plus message to the model, appends both turns to
// the record, applies a valid action and saves once. A malformed or failing
// action is reported in the result and the reply text is still kept.
func (s *Service) Chat(ctx context.Context, userID string, source domain.Source, message string) (ChatResult, error) {
	message = strings.TrimSpace(message)
	if userID == "" {
		return ChatResult{}, fmt.Errorf("%w: user id is required", domain.ErrInputInvalid)
	}
	if message == "" {
		return ChatResult{}, fmt.Errorf("%w: message is required", domain.ErrInputInvalid)
	}
	if source == "" {
		source = domain.SourceWeb
	}
	if !source.Valid() {
		return ChatResult{}, fmt.Errorf("%w: unknown source %q", domain.ErrInputInvalid, source)
	}

	rec, err := s.records.Load(ctx, userID)
	if err != nil {
		return ChatResult{}, err
	}
	now := s.records.Now()

	userMsg := domain.Message{Role: domain.RoleUser, Content: message}
	turn := Turn{
		UserID:   userID,
		Messages: append(record.TodayMessages(rec, now), userMsg),
		Context:  BuildTurnContext(rec, now),
	}

	reply, err := s.processor.Converse(ctx, turn)
	if err != nil {
		s.logger.Error("Model turn failed", "user_id", userID, "error", err)
		return ChatResult{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	result := ChatResult{Reply: reply.Text, Action: reply.Action}
	var parsed any
	if reply.Action != nil {
		parsed, err = ParseAction(reply.Action)
		if err != nil {
			s.logger.Warn("Ignoring malformed action", "user_id", userID, "error", err)
			result.ActionError = err.Error()
			parsed = nil
		}
	}

	assistantMsg := domain.Message{Role: domain.RoleAssistant, Content: reply.Text}
	saved, err := s.records.Mutate(ctx, userID, func(rec domain.UserRecord, now time.Time) (domain.UserRecord, error) {
		out := record.AppendMessage(rec, source, now, userMsg, assistantMsg)
		if parsed == nil {
			return out, nil
		}
		applied, err := applyAction(out, parsed, now)
		if err != nil {
			s.logger.Warn("Action not applied", "user_id", userID, "action", reply.Action.Kind, "error", err)
			result.ActionError = err.Error()
			return out, nil
		}
		result.ActionApplied = true
		return applied, nil
	})
	if err != nil {
		return ChatResult{}, err
	}

	result.Synced = saved.Synced
	return result, nil
}

// Close releases the model connection.
func (s *Service) Close() {
	if s.processor != nil {
		s.processor.Close()
	}
}

// BuildTurnContext snapshots the parts of rec the model sees.
func BuildTurnContext(rec domain.UserRecord, now time.Time) TurnContext {
	tc := TurnContext{
		Name:              rec.Profile.Name,
		Goals:             append([]string{}, rec.Profile.Goals...),
		TodayTasks:        append([]domain.Task{}, rec.Schedule.Today...),
		Streaks:           rec.Stats.Streaks,
		TodayStudyMinutes: rec.TodayStudyMinutes(now),
	}
	if rec.Timer.IsRunning {
		timer := rec.Timer
		tc.CurrentTimer = &timer
	}
	return tc
}

func applyAction(rec domain.UserRecord, action any, now time.Time) (domain.UserRecord, error) {
	switch a := action.(type) {
	case AddTaskAction:
		out, _, err := record.AddTask(rec, record.NewTask{
			Title:     a.Title,
			Category:  a.Category,
			StartTime: a.StartTime,
			Duration:  a.Duration,
		}, now)
		return out, err

	case CompleteTaskAction:
		id := a.TaskID
		if id == "" {
			task, ok := taskByTitle(rec, a.Title)
			if !ok {
				return rec, fmt.Errorf("%w: %q", domain.ErrTaskNotFound, a.Title)
			}
			id = task.ID
		}
		return record.CompleteTask(rec, id, now)

	case StartTimerAction:
		in := record.TimerStart{
			TaskID:   a.TaskID,
			Title:    a.Title,
			Duration: a.Duration,
			Phase:    a.Phase,
		}
		if in.TaskID == "" && in.Title != "" {
			if task, ok := taskByTitle(rec, in.Title); ok {
				in.TaskID = task.ID
			}
		}
		return record.StartTimer(rec, in, now)

	case StopTimerAction:
		return record.StopTimer(rec, now), nil
	}
	return rec, fmt.Errorf("%w: unsupported action %T", domain.ErrActionMalformed, action)
}

// taskByTitle matches an unfinished task of today case-insensitively.
func taskByTitle(rec domain.UserRecord, title string) (domain.Task, bool) {
	for _, t := range rec.Schedule.Today {
		if t.Status.Finished() {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(t.Title), strings.TrimSpace(title)) {
			return t, true
		}
	}
	return domain.Task{}, false
}
