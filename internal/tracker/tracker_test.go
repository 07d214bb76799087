package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/record"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]domain.UserRecord
	saves   int
	seeds   int
	offline bool
	loadErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.UserRecord)}
}

func (m *memStore) GetUserData(_ context.Context, userID string) (*domain.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	rec, ok := m.records[userID]
	if !ok {
		return nil, domain.ErrNoRecord
	}
	out := record.Clone(rec)
	return &out, nil
}

func (m *memStore) SaveUserData(_ context.Context, rec *domain.UserRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.records[rec.UserID] = record.Clone(*rec)
	return !m.offline, nil
}

func (m *memStore) SeedUserData(_ context.Context, rec *domain.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeds++
	m.records[rec.UserID] = record.Clone(*rec)
	return nil
}

// saveOnlyStore has no SeedUserData.
type saveOnlyStore struct{ m *memStore }

func (s saveOnlyStore) GetUserData(ctx context.Context, userID string) (*domain.UserRecord, error) {
	return s.m.GetUserData(ctx, userID)
}

func (s saveOnlyStore) SaveUserData(ctx context.Context, rec *domain.UserRecord) (bool, error) {
	return s.m.SaveUserData(ctx, rec)
}

func fixedNow() time.Time {
	return time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)
}

func newTestService(store Store) *Service {
	return New(store, WithNow(fixedNow), WithLocation(time.UTC))
}

func TestLoad_CreatesDefault(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(st)

	rec, err := svc.Load(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, domain.DefaultTimerMinutes, rec.Timer.Duration)
	require.Equal(t, 1, st.seeds)
	require.Zero(t, st.saves, "a default is seeded, not saved for sync")

	_, err = svc.Load(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, st.seeds)
	require.Zero(t, st.saves)

	_, err = svc.Load(ctx, "")
	require.ErrorIs(t, err, domain.ErrInputInvalid)
}

func TestLoad_PropagatesStoreErrors(t *testing.T) {
	st := newMemStore()
	st.loadErr = errors.New("disk gone")
	svc := newTestService(st)

	_, err := svc.Load(context.Background(), "u1")
	require.ErrorContains(t, err, "disk gone")
	require.Equal(t, 0, st.saves)
}

func TestLoad_DefaultUnsavedWithoutSeeder(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(saveOnlyStore{st})

	_, err := svc.Load(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, st.saves)
	require.Empty(t, st.records)

	_, err = svc.UpdateProfile(ctx, "u1", "Ann", nil)
	require.NoError(t, err)
	require.Equal(t, 1, st.saves)
	require.Equal(t, "Ann", st.records["u1"].Profile.Name)
}

func TestMutate_FailedFuncSavesNothing(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(st)

	_, _, err := svc.AddTask(ctx, "u1", record.NewTask{Title: "  "})
	require.ErrorIs(t, err, domain.ErrInputInvalid)
	require.Zero(t, st.saves)
}

func TestTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(st)

	var changes [][]domain.Task
	svc.OnTasksChanged(func(userID string, tasks []domain.Task) {
		require.Equal(t, "u1", userID)
		changes = append(changes, tasks)
	})

	res, task, err := svc.AddTask(ctx, "u1", record.NewTask{Title: "Math", Category: domain.CategoryStudy, StartTime: "10:00", Duration: 30})
	require.NoError(t, err)
	require.True(t, res.Synced)
	require.Len(t, res.Record.Schedule.Today, 1)
	require.Len(t, changes, 1)

	res, err = svc.StartTimer(ctx, "u1", record.TimerStart{TaskID: task.ID})
	require.NoError(t, err)
	require.True(t, res.Record.Timer.IsRunning)
	require.Equal(t, "Math", res.Record.Timer.TaskTitle)
	require.Len(t, changes, 2)

	res, err = svc.CompleteTask(ctx, "u1", task.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDone, res.Record.Schedule.Today[0].Status)
	require.False(t, res.Record.Timer.IsRunning)
	require.Equal(t, 30, res.Record.Stats.StudyMinutes["2024-01-02"])
	require.Len(t, changes, 3)

	_, err = svc.StopTimer(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, changes, 3)

	_, err = svc.CompleteTask(ctx, "u1", "missing")
	require.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestLogStudyAndProfile(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	st.offline = true
	svc := newTestService(st)

	res, err := svc.LogStudy(ctx, "u1", 45, "")
	require.NoError(t, err)
	require.False(t, res.Synced)
	require.Equal(t, 45, res.Record.Stats.StudyMinutes["2024-01-02"])
	require.Equal(t, 45, res.Record.Stats.Categories["study"].TotalMinutes)

	_, err = svc.LogStudy(ctx, "u1", 0, "")
	require.ErrorIs(t, err, domain.ErrInputInvalid)

	res, err = svc.UpdateProfile(ctx, "u1", "Aki", []string{"JLPT N2"})
	require.NoError(t, err)
	require.Equal(t, "Aki", res.Record.Profile.Name)
	require.Equal(t, []string{"JLPT N2"}, res.Record.Profile.Goals)
}

func TestAppendChatAndTodayMessages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newMemStore())

	_, err := svc.AppendChat(ctx, "u1", domain.SourceWeb,
		domain.Message{Role: domain.RoleUser, Content: "hi"},
		domain.Message{Role: domain.RoleAssistant, Content: "hello"},
	)
	require.NoError(t, err)

	_, err = svc.AppendChat(ctx, "u1", domain.Source("sms"), domain.Message{Role: domain.RoleUser, Content: "x"})
	require.ErrorIs(t, err, domain.ErrInputInvalid)

	msgs, err := svc.TodayMessages(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[1].Content)
}

func TestMutate_SerialisedPerUser(t *testing.T) {
	ctx := context.Background()
	st := newMemStore()
	svc := newTestService(st)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LogStudy(ctx, "u1", 1, "study")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := svc.Load(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 20, rec.Stats.StudyMinutes["2024-01-02"])
}
