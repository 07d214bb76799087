package record_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(t *testing.T, date string, hour int) time.Time {
	t.Helper()
	d, err := time.ParseInLocation(domain.DateLayout, date, time.UTC)
	require.NoError(t, err)
	return d.Add(time.Duration(hour) * time.Hour)
}

func TestCreateDefault(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "Ada", now)

	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, "Ada", rec.Profile.Name)
	require.Empty(t, rec.Schedule.Today)
	require.NotNil(t, rec.Schedule.Weekly)
	require.Empty(t, rec.Sessions)
	require.Zero(t, rec.Stats.Streaks)
	require.Empty(t, rec.Stats.LastActiveDate)
	require.False(t, rec.Timer.IsRunning)
	require.Equal(t, domain.PhaseWork, rec.Timer.Phase)
	require.Equal(t, now, rec.UpdatedAt)
}

func TestAddStudyTime_ConsecutiveDay(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2023-12-01", 0))
	rec.Stats.LastActiveDate = "2024-01-01"
	rec.Stats.Streaks = 3

	out := record.AddStudyTime(rec, 30, "study", day(t, "2024-01-02", 10))

	require.Equal(t, 30, out.Stats.StudyMinutes["2024-01-02"])
	require.Equal(t, domain.CategoryStat{TotalMinutes: 30, Sessions: 1}, out.Stats.Categories["study"])
	require.Equal(t, 4, out.Stats.Streaks)
	require.Equal(t, "2024-01-02", out.Stats.LastActiveDate)

	// Input untouched.
	require.Equal(t, 3, rec.Stats.Streaks)
	require.Empty(t, rec.Stats.StudyMinutes)
}

func TestAddStudyTime_TrailingRun(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	dates := []string{"2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04", "2024-01-05"}
	for i, d := range dates {
		rec = record.AddStudyTime(rec, 10, "study", day(t, d, 8))
		require.Equal(t, i+1, rec.Stats.Streaks, "after %s", d)
	}
}

func TestAddStudyTime_GapResets(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec = record.AddStudyTime(rec, 10, "study", day(t, "2024-01-01", 8))
	rec = record.AddStudyTime(rec, 10, "study", day(t, "2024-01-02", 8))
	require.Equal(t, 2, rec.Stats.Streaks)

	rec = record.AddStudyTime(rec, 10, "study", day(t, "2024-01-04", 8))
	require.Equal(t, 1, rec.Stats.Streaks)
	require.Equal(t, "2024-01-04", rec.Stats.LastActiveDate)
}

func TestAddStudyTime_SameDayUnchanged(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec = record.AddStudyTime(rec, 10, "study", day(t, "2024-01-01", 8))
	rec = record.AddStudyTime(rec, 15, "exercise", day(t, "2024-01-01", 20))

	require.Equal(t, 1, rec.Stats.Streaks)
	require.Equal(t, 25, rec.Stats.StudyMinutes["2024-01-01"])
	require.Equal(t, 1, rec.Stats.Categories["study"].Sessions)
	require.Equal(t, 15, rec.Stats.Categories["exercise"].TotalMinutes)
}

func TestAddStudyTime_ClockBackwards(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec.Stats.LastActiveDate = "2024-01-05"
	rec.Stats.Streaks = 2

	out := record.AddStudyTime(rec, 5, "study", day(t, "2024-01-03", 8))
	require.Equal(t, 2, out.Stats.Streaks)
	require.Equal(t, "2024-01-05", out.Stats.LastActiveDate)
}

func TestAppendMessage_MergesSameDaySameSource(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec = record.AppendMessage(rec, domain.SourceWeb, day(t, "2024-01-01", 9),
		domain.Message{Role: domain.RoleUser, Content: "hi"})
	rec = record.AppendMessage(rec, domain.SourceWeb, day(t, "2024-01-01", 11),
		domain.Message{Role: domain.RoleAssistant, Content: "hello"})

	require.Len(t, rec.Sessions, 1)
	require.Equal(t, []domain.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "hello"},
	}, rec.Sessions[0].Messages)
}

func TestAppendMessage_SeparatesSources(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec = record.AppendMessage(rec, domain.SourceWeb, day(t, "2024-01-01", 9), domain.Message{Role: domain.RoleUser, Content: "a"})
	rec = record.AppendMessage(rec, domain.SourceLine, day(t, "2024-01-01", 9), domain.Message{Role: domain.RoleUser, Content: "b"})
	require.Len(t, rec.Sessions, 2)
}

func TestAppendMessage_EvictsOldest(t *testing.T) {
	start := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "", start)
	for i := 0; i < 31; i++ {
		rec = record.AppendMessage(rec, domain.SourceWeb, start.AddDate(0, 0, i),
			domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	require.Len(t, rec.Sessions, domain.MaxSessions)
	require.Equal(t, "m1", rec.Sessions[0].Messages[0].Content)
	require.Equal(t, "m30", rec.Sessions[len(rec.Sessions)-1].Messages[0].Content)
}

func TestAppendMessage_DoesNotAlias(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.AppendMessage(record.CreateDefault("u1", "", now), domain.SourceWeb, now,
		domain.Message{Role: domain.RoleUser, Content: "first"})
	next := record.AppendMessage(rec, domain.SourceWeb, now, domain.Message{Role: domain.RoleUser, Content: "second"})

	require.Len(t, rec.Sessions[0].Messages, 1)
	require.Len(t, next.Sessions[0].Messages, 2)
}

func TestTodayMessages(t *testing.T) {
	rec := record.CreateDefault("u1", "", day(t, "2024-01-01", 0))
	rec = record.AppendMessage(rec, domain.SourceWeb, day(t, "2024-01-01", 9),
		domain.Message{Role: domain.RoleUser, Content: "yesterday"})
	for i := 0; i < 15; i++ {
		rec = record.AppendMessage(rec, domain.SourceWeb, day(t, "2024-01-02", 9),
			domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("web%d", i)})
	}
	for i := 0; i < 10; i++ {
		rec = record.AppendMessage(rec, domain.SourceLine, day(t, "2024-01-02", 10),
			domain.Message{Role: domain.RoleUser, Content: fmt.Sprintf("line%d", i)})
	}

	msgs := record.TodayMessages(rec, day(t, "2024-01-02", 12))
	require.Len(t, msgs, domain.MaxTodayMessages)
	require.Equal(t, "web5", msgs[0].Content)
	require.Equal(t, "line9", msgs[len(msgs)-1].Content)
	for _, m := range msgs {
		require.NotEqual(t, "yesterday", m.Content)
	}
}

func TestAddTask(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "", now)

	out, task, err := record.AddTask(rec, record.NewTask{Title: " Read ch. 3 ", Category: domain.CategoryStudy, StartTime: "10:30", Duration: 45}, now)
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.Equal(t, "Read ch. 3", task.Title)
	require.Equal(t, domain.StatusPending, task.Status)
	require.Len(t, out.Schedule.Today, 1)
	require.Empty(t, rec.Schedule.Today)

	_, defaults, err := record.AddTask(rec, record.NewTask{Title: "Walk"}, now)
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryOther, defaults.Category)
	assert.Equal(t, record.DefaultTaskMinutes, defaults.Duration)
}

func TestAddTask_Invalid(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "", now)

	cases := []record.NewTask{
		{Title: ""},
		{Title: "x", Category: "chores"},
		{Title: "x", StartTime: "25:99"},
		{Title: "x", Duration: -5},
	}
	for _, in := range cases {
		_, _, err := record.AddTask(rec, in, now)
		require.ErrorIs(t, err, domain.ErrInputInvalid, "%+v", in)
	}
}

func TestCompleteTask(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec, task, err := record.AddTask(record.CreateDefault("u1", "", now), record.NewTask{Title: "Run", Category: domain.CategoryExercise, Duration: 20}, now)
	require.NoError(t, err)

	done, err := record.CompleteTask(rec, task.ID, now)
	require.NoError(t, err)
	got, ok := record.FindTask(done, task.ID)
	require.True(t, ok)
	require.Equal(t, domain.StatusDone, got.Status)
	require.Equal(t, 20, done.Stats.Categories["exercise"].TotalMinutes)
	require.Equal(t, 1, done.Stats.Streaks)

	again, err := record.CompleteTask(done, task.ID, now)
	require.NoError(t, err)
	require.Equal(t, 20, again.Stats.StudyMinutes["2024-01-01"])

	_, err = record.CompleteTask(rec, "missing", now)
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestCompleteTask_TimedTaskCountsOnce(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec, task, err := record.AddTask(record.CreateDefault("u1", "", now), record.NewTask{Title: "Essay", Category: domain.CategoryStudy, Duration: 45}, now)
	require.NoError(t, err)

	rec, err = record.StartTimer(rec, record.TimerStart{TaskID: task.ID}, now)
	require.NoError(t, err)
	rec = record.StopTimer(rec, now.Add(25*time.Minute))
	got, _ := record.FindTask(rec, task.ID)
	require.Equal(t, 25, got.Logged)

	done, err := record.CompleteTask(rec, task.ID, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 25, done.Stats.StudyMinutes["2024-01-01"])
	assert.Equal(t, domain.CategoryStat{TotalMinutes: 25, Sessions: 1}, done.Stats.Categories["study"])

	// Completing with the timer still running logs the elapsed time only.
	rec, err = record.StartTimer(rec, record.TimerStart{TaskID: task.ID}, now.Add(time.Hour))
	require.NoError(t, err)
	done, err = record.CompleteTask(rec, task.ID, now.Add(time.Hour+10*time.Minute))
	require.NoError(t, err)
	require.False(t, done.Timer.IsRunning)
	assert.Equal(t, 35, done.Stats.StudyMinutes["2024-01-01"])
	assert.Equal(t, 2, done.Stats.Categories["study"].Sessions)
}

func TestStartStopTimer(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec, task, err := record.AddTask(record.CreateDefault("u1", "", now), record.NewTask{Title: "Guitar", Category: domain.CategoryHobby, Duration: 30}, now)
	require.NoError(t, err)

	running, err := record.StartTimer(rec, record.TimerStart{TaskID: task.ID}, now)
	require.NoError(t, err)
	require.True(t, running.Timer.IsRunning)
	require.NotNil(t, running.Timer.StartedAt)
	require.Equal(t, "Guitar", running.Timer.TaskTitle)
	require.Equal(t, 30, running.Timer.Duration)
	got, _ := record.FindTask(running, task.ID)
	require.Equal(t, domain.StatusActive, got.Status)
	require.False(t, rec.Timer.IsRunning)

	stopped := record.StopTimer(running, now.Add(12*time.Minute+30*time.Second))
	require.False(t, stopped.Timer.IsRunning)
	require.Nil(t, stopped.Timer.StartedAt)
	require.Equal(t, 12, stopped.Stats.Categories["hobby"].TotalMinutes)
	require.NotNil(t, running.Timer.StartedAt)
}

func TestStartTimer_Invalid(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "", now)

	_, err := record.StartTimer(rec, record.TimerStart{Phase: "nap"}, now)
	require.ErrorIs(t, err, domain.ErrInputInvalid)

	_, err = record.StartTimer(rec, record.TimerStart{TaskID: "nope"}, now)
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestStopTimer_BreakPhaseLogsNothing(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec, err := record.StartTimer(record.CreateDefault("u1", "", now), record.TimerStart{Phase: domain.PhaseBreak, Duration: 5}, now)
	require.NoError(t, err)

	out := record.StopTimer(rec, now.Add(5*time.Minute))
	require.Empty(t, out.Stats.StudyMinutes)
}

func TestUpdateProfile(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "Ada", now)

	out := record.UpdateProfile(rec, "", []string{"JLPT N2"})
	require.Equal(t, "Ada", out.Profile.Name)
	require.Equal(t, []string{"JLPT N2"}, out.Profile.Goals)
	require.Empty(t, rec.Profile.Goals)
}

func TestClone_Independent(t *testing.T) {
	now := day(t, "2024-01-01", 9)
	rec := record.CreateDefault("u1", "", now)
	rec.Schedule.Weekly["mon"] = []domain.Task{{ID: "t1", Title: "x"}}
	rec.Stats.StudyMinutes["2024-01-01"] = 5

	cp := record.Clone(rec)
	cp.Schedule.Weekly["mon"][0].Title = "changed"
	cp.Stats.StudyMinutes["2024-01-01"] = 99

	require.Equal(t, "x", rec.Schedule.Weekly["mon"][0].Title)
	require.Equal(t, 5, rec.Stats.StudyMinutes["2024-01-01"])
}
