package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studypal/internal/domain"
	"github.com/ashureev/studypal/internal/notify"
	"github.com/ashureev/studypal/internal/notify/notifytest"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	shown []notify.Notification
}

func (r *recordingSink) Show(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, n)
	return nil
}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.shown))
	for _, n := range r.shown {
		out = append(out, n.ID)
	}
	return out
}

func (r *recordingSink) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.shown...)
}

type staticPermission struct {
	mu sync.Mutex
	p  notify.Permission
}

func (s *staticPermission) Permission() notify.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p
}

func (s *staticPermission) set(p notify.Permission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

type memoryPending struct {
	mu    sync.Mutex
	saved map[string][]string
}

func (m *memoryPending) SavePending(_ context.Context, owner string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]string)
	}
	m.saved[owner] = append([]string(nil), ids...)
	return nil
}

func (m *memoryPending) ClearPending(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, owner)
	return nil
}

func (m *memoryPending) get(owner string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids, ok := m.saved[owner]
	return ids, ok
}

type fixture struct {
	clock   *notifytest.FakeClock
	sink    *recordingSink
	perm    *staticPermission
	pending *memoryPending
	sched   *notify.Scheduler
}

func newFixture(t *testing.T, start time.Time, opts ...notify.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock:   notifytest.NewFakeClock(start),
		sink:    &recordingSink{},
		perm:    &staticPermission{p: notify.PermissionGranted},
		pending: &memoryPending{},
	}
	opts = append([]notify.Option{notify.WithClock(f.clock), notify.WithLocation(time.UTC)}, opts...)
	f.sched = notify.New("u1:tab-1", f.sink, f.perm, f.pending, opts...)
	t.Cleanup(f.sched.Close)
	return f
}

func at(hour, minute int) time.Time {
	return time.Date(2024, 1, 2, hour, minute, 0, 0, time.UTC)
}

func task(id, start string, duration int) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     "Read chapter " + id,
		Category:  domain.CategoryStudy,
		StartTime: start,
		Duration:  duration,
		Status:    domain.StatusPending,
	}
}

func TestScheduleTask_FiresReminderStartEnd(t *testing.T) {
	f := newFixture(t, at(8, 0))

	n := f.sched.ScheduleTask(task("t1", "09:00", 30))
	require.Equal(t, 3, n)
	require.Equal(t, []string{"end-t1", "reminder-t1", "start-t1"}, f.sched.Pending())

	saved, ok := f.pending.get("u1:tab-1")
	require.True(t, ok)
	require.Equal(t, []string{"end-t1", "reminder-t1", "start-t1"}, saved)

	f.clock.Advance(55 * time.Minute)
	require.Equal(t, []string{"reminder-t1"}, f.sink.ids())

	f.clock.Advance(5 * time.Minute)
	shown := f.sink.all()
	require.Len(t, shown, 2)
	start := shown[1]
	require.Equal(t, notify.TypeTaskStart, start.Type)
	require.True(t, start.RequireInteraction)
	require.Len(t, start.Actions, 2)
	require.Equal(t, "start", start.Actions[0].Action)
	require.Equal(t, "snooze", start.Actions[1].Action)
	require.Equal(t, "t1", start.Data["taskId"])

	f.clock.Advance(30 * time.Minute)
	require.Equal(t, []string{"reminder-t1", "start-t1", "end-t1"}, f.sink.ids())
	require.Empty(t, f.sched.Pending())

	saved, _ = f.pending.get("u1:tab-1")
	require.Empty(t, saved)
}

func TestScheduleTask_SkipsPastInstants(t *testing.T) {
	f := newFixture(t, at(10, 0))
	require.Equal(t, 0, f.sched.ScheduleTask(task("t1", "09:00", 30)))
	require.Empty(t, f.sched.Pending())

	f = newFixture(t, at(9, 10))
	require.Equal(t, 1, f.sched.ScheduleTask(task("t2", "09:00", 30)))
	require.Equal(t, []string{"end-t2"}, f.sched.Pending())
}

func TestScheduleTask_NothingForUnschedulableTasks(t *testing.T) {
	f := newFixture(t, at(8, 0))

	done := task("t1", "09:00", 30)
	done.Status = domain.StatusDone
	require.Equal(t, 0, f.sched.ScheduleTask(done))

	require.Equal(t, 0, f.sched.ScheduleTask(task("t2", "", 30)))
	require.Equal(t, 0, f.sched.ScheduleTask(task("t3", "nine", 30)))
	require.Empty(t, f.sched.Pending())
}

func TestScheduleTask_ReplacesSameID(t *testing.T) {
	f := newFixture(t, at(8, 0))

	require.Equal(t, 3, f.sched.ScheduleTask(task("t1", "09:00", 30)))
	require.Equal(t, 3, f.sched.ScheduleTask(task("t1", "10:00", 30)))
	require.Equal(t, 3, f.clock.Pending())

	f.clock.Advance(90 * time.Minute)
	require.Empty(t, f.sink.ids())

	f.clock.Advance(time.Hour)
	require.Equal(t, []string{"reminder-t1", "start-t1", "end-t1"}, f.sink.ids())
}

func TestScheduleAllTasks_LeavesNagRunning(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.StartNag("")
	require.Equal(t, 3, f.sched.ScheduleTask(task("t1", "09:00", 30)))

	require.Equal(t, 0, f.sched.ScheduleAllTasks(nil))
	require.Equal(t, []string{"nag"}, f.sched.Pending())
	require.Equal(t, notify.NagArmed, f.sched.NagState())

	f.clock.Advance(10 * time.Minute)
	require.Equal(t, []string{"nag"}, f.sink.ids())
	require.Equal(t, notify.NagLooping, f.sched.NagState())
}

func TestScheduleAllTasks_RefreshesTaskSet(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.ScheduleTask(task("old", "09:00", 30))
	n := f.sched.ScheduleAllTasks([]domain.Task{task("a", "09:00", 15), task("b", "11:00", 15)})
	require.Equal(t, 6, n)
	require.Equal(t, []string{"end-a", "end-b", "reminder-a", "reminder-b", "start-a", "start-b"}, f.sched.Pending())
}

func TestStartNag_TwiceKeepsOneLoop(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.StartNag("first")
	f.sched.StartNag("second")
	require.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(10 * time.Minute)
	shown := f.sink.all()
	require.Len(t, shown, 1)
	require.Equal(t, "second", shown[0].Body)
	require.True(t, shown[0].RequireInteraction)
	require.Equal(t, "open", shown[0].Actions[0].Action)

	f.clock.Advance(5 * time.Minute)
	require.Len(t, f.sink.all(), 2)
	f.clock.Advance(5 * time.Minute)
	require.Len(t, f.sink.all(), 3)
	require.Equal(t, 1, f.clock.Pending())
}

func TestNag_QuietHoursSuppressButKeepTicking(t *testing.T) {
	f := newFixture(t, at(1, 50))

	f.sched.StartNag("")
	f.clock.Advance(10 * time.Minute)
	require.Empty(t, f.sink.all(), "2:00 nag must be suppressed")
	require.Equal(t, notify.NagLooping, f.sched.NagState())

	f.clock.Advance(5 * time.Minute)
	require.Empty(t, f.sink.all())
	require.Equal(t, 1, f.clock.Pending())

	g := newFixture(t, at(9, 50))
	g.sched.StartNag("")
	g.clock.Advance(10 * time.Minute)
	require.Len(t, g.sink.all(), 1, "10:00 nag must be shown")
}

func TestInQuietHours(t *testing.T) {
	require.True(t, notify.InQuietHours(at(23, 0)))
	require.True(t, notify.InQuietHours(at(2, 0)))
	require.True(t, notify.InQuietHours(at(5, 59)))
	require.False(t, notify.InQuietHours(at(6, 0)))
	require.False(t, notify.InQuietHours(at(10, 0)))
	require.False(t, notify.InQuietHours(at(22, 59)))
}

func TestNag_CatalogPick(t *testing.T) {
	f := newFixture(t, at(8, 0),
		notify.WithNagCatalog([]string{"x", "y", "z"}),
		notify.WithRand(func(n int) int { return n - 1 }),
	)

	f.sched.StartNag("")
	f.clock.Advance(10 * time.Minute)
	shown := f.sink.all()
	require.Len(t, shown, 1)
	require.Equal(t, "z", shown[0].Body)
}

func TestNag_StopNag(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.StopNag()
	require.Equal(t, notify.NagIdle, f.sched.NagState())

	f.sched.StartNag("")
	f.clock.Advance(12 * time.Minute)
	require.Equal(t, notify.NagLooping, f.sched.NagState())

	f.sched.StopNag()
	require.Equal(t, notify.NagIdle, f.sched.NagState())
	require.Equal(t, 0, f.clock.Pending())

	f.clock.Advance(time.Hour)
	require.Len(t, f.sink.all(), 1)
}

func TestOnVisibilityChange(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.OnVisibilityChange(false, "")
	require.Equal(t, notify.NagArmed, f.sched.NagState())

	f.clock.Advance(3 * time.Minute)
	f.sched.OnVisibilityChange(false, "")
	require.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(7 * time.Minute)
	require.Len(t, f.sink.all(), 1, "second hidden event must not restart the delay")

	f.sched.OnVisibilityChange(true, "")
	require.Equal(t, notify.NagIdle, f.sched.NagState())
	require.Empty(t, f.sched.Pending())
}

func TestPermission_CheckedAtRequestAndDelivery(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.perm.set(notify.PermissionDefault)
	require.Equal(t, 0, f.sched.ScheduleTask(task("t1", "09:00", 30)))
	f.sched.StartNag("")
	require.Equal(t, notify.NagIdle, f.sched.NagState())

	f.perm.set(notify.PermissionGranted)
	require.Equal(t, 3, f.sched.ScheduleTask(task("t1", "09:00", 30)))

	f.perm.set(notify.PermissionDenied)
	f.clock.Advance(2 * time.Hour)
	require.Empty(t, f.sink.all())
	require.Empty(t, f.sched.Pending())
}

func TestSnoozeAndScheduleAt(t *testing.T) {
	f := newFixture(t, at(9, 0))

	require.True(t, f.sched.Snooze(task("t1", "09:00", 30), 5*time.Minute))
	require.Equal(t, []string{"start-t1"}, f.sched.Pending())

	require.True(t, f.sched.ScheduleAt("custom", at(9, 3), notify.Notification{Title: "hi"}))
	require.False(t, f.sched.ScheduleAt("late", at(8, 0), notify.Notification{Title: "past"}))
	require.False(t, f.sched.ScheduleAt("nag", at(9, 30), notify.Notification{}))

	f.clock.Advance(5 * time.Minute)
	shown := f.sink.all()
	require.Len(t, shown, 2)
	require.Equal(t, "custom", shown[0].ID)
	require.Equal(t, "custom", shown[0].Tag)
	require.Equal(t, "start-t1", shown[1].ID)
}

func TestCancel(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.ScheduleTask(task("t1", "09:00", 30))
	f.sched.Cancel("start-t1")
	f.sched.Cancel("missing")
	require.Equal(t, []string{"end-t1", "reminder-t1"}, f.sched.Pending())

	f.clock.Advance(2 * time.Hour)
	require.Equal(t, []string{"reminder-t1", "end-t1"}, f.sink.ids())
}

func TestClearAllAndClose(t *testing.T) {
	f := newFixture(t, at(8, 0))

	f.sched.ScheduleTask(task("t1", "09:00", 30))
	f.sched.StartNag("")
	f.sched.ClearAll()

	require.Empty(t, f.sched.Pending())
	require.Equal(t, notify.NagIdle, f.sched.NagState())
	require.Equal(t, 0, f.clock.Pending())
	_, ok := f.pending.get("u1:tab-1")
	require.False(t, ok)

	require.Equal(t, 3, f.sched.ScheduleTask(task("t1", "09:00", 30)))

	f.sched.Close()
	require.Equal(t, 0, f.sched.ScheduleTask(task("t2", "10:00", 30)))
	f.sched.StartNag("")
	require.Equal(t, notify.NagIdle, f.sched.NagState())

	f.clock.Advance(3 * time.Hour)
	require.Empty(t, f.sink.all())
}
