package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/rotation"
)

type memoryRepo struct {
	mu          sync.Mutex
	devices     map[int]model.Device
	jingles     map[int]model.Jingle
	schedules   map[int]model.Schedule
	assignments map[int]model.JingleAssignment
	nextID      int
	listCalls   int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		devices:     map[int]model.Device{},
		jingles:     map[int]model.Jingle{},
		schedules:   map[int]model.Schedule{},
		assignments: map[int]model.JingleAssignment{},
		nextID:      100,
	}
}

func (m *memoryRepo) id() int { m.nextID++; return m.nextID }

func (m *memoryRepo) GetDeviceByID(_ context.Context, id int) (model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %d: %w", id, model.ErrNotFound)
	}
	return d, nil
}

func (m *memoryRepo) GetJingleByID(_ context.Context, id int) (model.Jingle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jingles[id]
	if !ok {
		return model.Jingle{}, fmt.Errorf("jingle %d: %w", id, model.ErrNotFound)
	}
	return j, nil
}

func (m *memoryRepo) GetJinglesByIDs(_ context.Context, ids []int) ([]model.Jingle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Jingle{}
	for _, id := range ids {
		if j, ok := m.jingles[id]; ok {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memoryRepo) GetScheduleByID(_ context.Context, id int) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, fmt.Errorf("schedule %d: %w", id, model.ErrNotFound)
	}
	return sc, nil
}

func (m *memoryRepo) GetScheduleByDeviceID(_ context.Context, deviceID int) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.schedules {
		if sc.DeviceID == deviceID {
			return sc, nil
		}
	}
	return model.Schedule{}, fmt.Errorf("schedule for device %d: %w", deviceID, model.ErrNotFound)
}

func (m *memoryRepo) ListSchedules(_ context.Context) ([]model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Schedule, 0, len(m.schedules))
	for _, sc := range m.schedules {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

func (m *memoryRepo) UpsertSchedule(_ context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, sc := range m.schedules {
		if sc.DeviceID == deviceID {
			sc.PlaybackWindow = window
			sc.IsActive = isActive
			sc.Dirty = true
			m.schedules[id] = sc
			return sc, nil
		}
	}
	sc := model.Schedule{ID: m.id(), DeviceID: deviceID, IsActive: isActive, Dirty: true, PlaybackWindow: window}
	m.schedules[sc.ID] = sc
	return sc, nil
}

func (m *memoryRepo) MarkPlayOrderDirty(_ context.Context, scheduleID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[scheduleID]
	if !ok {
		return model.ErrNotFound
	}
	sc.Dirty = true
	m.schedules[scheduleID] = sc
	return nil
}

func (m *memoryRepo) SavePlayOrder(_ context.Context, scheduleID int, order model.PlayOrder, day time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[scheduleID]
	if !ok {
		return model.ErrNotFound
	}
	d := model.DateOf(day)
	sc.PlayOrder = &order
	sc.PlayOrderDate = &d
	sc.Dirty = false
	m.schedules[scheduleID] = sc
	return nil
}

func (m *memoryRepo) CreateJingleAssignment(_ context.Context, a model.JingleAssignment) (model.JingleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	a.Position = a.ID
	m.assignments[a.ID] = a
	return a, nil
}

func (m *memoryRepo) GetJingleAssignment(_ context.Context, id int) (model.JingleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return model.JingleAssignment{}, fmt.Errorf("assignment %d: %w", id, model.ErrNotFound)
	}
	return a, nil
}

func (m *memoryRepo) UpdateJingleAssignment(_ context.Context, a model.JingleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[a.ID]; !ok {
		return model.ErrNotFound
	}
	m.assignments[a.ID] = a
	return nil
}

func (m *memoryRepo) DeleteJingleAssignment(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assignments[id]; !ok {
		return model.ErrNotFound
	}
	delete(m.assignments, id)
	return nil
}

func (m *memoryRepo) ListJingleAssignments(_ context.Context, scheduleID int) ([]model.JingleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	out := []model.JingleAssignment{}
	for _, a := range m.assignments {
		if a.ScheduleID == scheduleID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Position < out[k].Position })
	return out, nil
}

func (m *memoryRepo) listCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls
}

// laggingRepo serves one stale schedule row, as if a concurrent writer
// committed right after the caller's first read.
type laggingRepo struct {
	*memoryRepo
	stale  model.Schedule
	served bool
}

func (l *laggingRepo) GetScheduleByID(ctx context.Context, id int) (model.Schedule, error) {
	if !l.served && id == l.stale.ID {
		l.served = true
		return l.stale, nil
	}
	return l.memoryRepo.GetScheduleByID(ctx, id)
}

type recordingNotifier struct {
	mu      sync.Mutex
	devices []int
}

func (r *recordingNotifier) ScheduleChanged(deviceID int) {
	r.mu.Lock()
	r.devices = append(r.devices, deviceID)
	r.mu.Unlock()
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

var window = model.PlaybackWindow{Start: "08:00", End: "20:00"}

type fixture struct {
	repo     *memoryRepo
	svc      *Service
	clock    *clock
	notifier *recordingNotifier
	schedule model.Schedule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	repo.devices[1] = model.Device{ID: 1, Name: "lobby"}
	repo.devices[2] = model.Device{ID: 2, Name: "cafe"}
	for _, id := range []int{10, 20, 30} {
		repo.jingles[id] = model.Jingle{ID: id, Title: fmt.Sprintf("jingle %d", id), DurationSeconds: 30}
	}

	c := &clock{now: day("2024-03-10").Add(9 * time.Hour)}
	n := &recordingNotifier{}
	svc := NewService(repo, WithClock(c.Now))
	svc.SetNotifier(n)

	sc, err := svc.UpsertSchedule(context.Background(), 1, window, true)
	require.NoError(t, err)
	return &fixture{repo: repo, svc: svc, clock: c, notifier: n, schedule: sc}
}

func (f *fixture) assign(t *testing.T, jingleID, spots int, from, to string) model.JingleAssignment {
	t.Helper()
	a, err := f.svc.AddJingleAssignment(context.Background(), model.JingleAssignment{
		ScheduleID: f.schedule.ID,
		JingleID:   jingleID,
		StartDate:  day(from),
		EndDate:    day(to),
		Spots:      spots,
		IsActive:   true,
	})
	require.NoError(t, err)
	return a
}

func TestUpsertScheduleUnknownDevice(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpsertSchedule(context.Background(), 99, window, true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpsertScheduleRejectsBadWindow(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpsertSchedule(context.Background(), 1, model.PlaybackWindow{Start: "20:00", End: "08:00"}, true)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = f.svc.UpsertSchedule(context.Background(), 1, model.PlaybackWindow{Start: "noon", End: "20:00"}, true)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUpsertScheduleReplacesExisting(t *testing.T) {
	f := newFixture(t)
	sc, err := f.svc.UpsertSchedule(context.Background(), 1, model.PlaybackWindow{Start: "06:00", End: "22:00"}, true)
	require.NoError(t, err)
	assert.Equal(t, f.schedule.ID, sc.ID)
	assert.Equal(t, "06:00", sc.Start)
	assert.False(t, sc.Dirty)
}

func TestAddJingleAssignmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddJingleAssignment(ctx, model.JingleAssignment{ScheduleID: 999, JingleID: 10, StartDate: day("2024-03-01"), EndDate: day("2024-03-31"), Spots: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.AddJingleAssignment(ctx, model.JingleAssignment{ScheduleID: f.schedule.ID, JingleID: 999, StartDate: day("2024-03-01"), EndDate: day("2024-03-31"), Spots: 1})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.svc.AddJingleAssignment(ctx, model.JingleAssignment{ScheduleID: f.schedule.ID, JingleID: 10, StartDate: day("2024-03-01"), EndDate: day("2024-03-31"), Spots: 0})
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = f.svc.AddJingleAssignment(ctx, model.JingleAssignment{ScheduleID: f.schedule.ID, JingleID: 10, StartDate: day("2024-03-31"), EndDate: day("2024-03-01"), Spots: 1})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestAddJingleAssignmentRebuildsFromCurrentRow(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 2, "2024-03-01", "2024-03-31")
	ctx := context.Background()

	stale, err := f.repo.GetScheduleByID(ctx, f.schedule.ID)
	require.NoError(t, err)
	require.True(t, stale.IsActive)

	current := stale
	current.IsActive = false
	f.repo.schedules[current.ID] = current

	svc := NewService(&laggingRepo{memoryRepo: f.repo, stale: stale}, WithClock(f.clock.Now))
	_, err = svc.AddJingleAssignment(ctx, model.JingleAssignment{
		ScheduleID: f.schedule.ID, JingleID: 20, StartDate: day("2024-03-01"), EndDate: day("2024-03-31"), Spots: 1, IsActive: true,
	})
	require.NoError(t, err)

	sc, err := f.repo.GetScheduleByID(ctx, f.schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, sc.PlayOrder)
	assert.True(t, sc.PlayOrder.Empty())
	assert.False(t, sc.Dirty)
}

func TestMutationsRebuildCachedOrder(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 40, "2024-03-01", "2024-03-31")
	f.assign(t, 20, 60, "2024-03-01", "2024-03-31")
	f.assign(t, 30, 80, "2024-03-01", "2024-03-31")

	sc, err := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, sc.PlayOrder)
	assert.False(t, sc.Dirty)
	assert.Equal(t, 20, sc.PlayOrder.GCD)
	assert.Equal(t, 9, sc.PlayOrder.Len())
	assert.Equal(t, map[int]int{10: 2, 20: 3, 30: 4}, sc.PlayOrder.RepeatCounts)

	assert.Equal(t, []int{1, 1, 1, 1}, f.notifier.devices)
}

func TestActiveLoopServedFromCache(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 2, "2024-03-01", "2024-03-31")
	f.assign(t, 20, 1, "2024-03-01", "2024-03-31")

	calls := f.repo.listCount()
	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)

	assert.Equal(t, model.LoopFromCache, loop.Source)
	assert.Equal(t, []int{10, 20, 10}, loop.Order.Sequence)
	assert.Equal(t, 3, loop.Length)
	assert.Equal(t, calls, f.repo.listCount())
	require.Len(t, loop.Jingles, 2)
	assert.Equal(t, "08:00", loop.Window.Start)
}

func TestActiveLoopRegeneratesWhenDirty(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 1, "2024-03-01", "2024-03-31")
	require.NoError(t, f.repo.MarkPlayOrderDirty(context.Background(), f.schedule.ID))

	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, model.LoopGenerated, loop.Source)
	assert.Equal(t, []int{10}, loop.Order.Sequence)

	sc, _ := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	assert.False(t, sc.Dirty)
}

func TestUpdateAndRemoveAssignment(t *testing.T) {
	f := newFixture(t)
	a := f.assign(t, 10, 10, "2024-03-01", "2024-03-31")
	b := f.assign(t, 20, 10, "2024-03-01", "2024-03-31")
	ctx := context.Background()

	spots := 30
	updated, err := f.svc.UpdateJingleAssignment(ctx, a.ID, model.AssignmentPatch{Spots: &spots})
	require.NoError(t, err)
	assert.Equal(t, 30, updated.Spots)

	loop, err := f.svc.ActiveLoopForDevice(ctx, 1, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, map[int]int{10: 3, 20: 1}, loop.Order.RepeatCounts)

	require.NoError(t, f.svc.RemoveJingleAssignment(ctx, b.ID))
	loop, err = f.svc.ActiveLoopForDevice(ctx, 1, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []int{10}, loop.Order.Sequence)

	_, err = f.svc.UpdateJingleAssignment(ctx, 12345, model.AssignmentPatch{Spots: &spots})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, f.svc.RemoveJingleAssignment(ctx, b.ID), model.ErrNotFound)

	zero := 0
	_, err = f.svc.UpdateJingleAssignment(ctx, a.ID, model.AssignmentPatch{Spots: &zero})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestInactiveAssignmentsAreExcluded(t *testing.T) {
	f := newFixture(t)
	a := f.assign(t, 10, 5, "2024-03-01", "2024-03-31")
	f.assign(t, 20, 5, "2024-03-01", "2024-03-31")

	off := false
	_, err := f.svc.UpdateJingleAssignment(context.Background(), a.ID, model.AssignmentPatch{IsActive: &off})
	require.NoError(t, err)

	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []int{20}, loop.Order.Sequence)
}

func TestDateRangeLapseOnDayRollover(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 1, "2024-03-01", "2024-03-10")
	f.assign(t, 20, 1, "2024-03-01", "2024-03-31")

	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{10, 20}, loop.Order.Sequence)

	f.clock.Set(day("2024-03-11").Add(time.Hour))
	loop, err = f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, model.LoopGenerated, loop.Source)
	assert.Equal(t, []int{20}, loop.Order.Sequence)

	sc, _ := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	assert.Equal(t, day("2024-03-11"), *sc.PlayOrderDate)
}

func TestActiveLoopForOtherDayDoesNotTouchCache(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 1, "2024-04-01", "2024-04-30")

	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, day("2024-04-05"))
	require.NoError(t, err)
	assert.Equal(t, []int{10}, loop.Order.Sequence)

	sc, _ := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	assert.Equal(t, day("2024-03-10"), *sc.PlayOrderDate)
	assert.True(t, sc.PlayOrder.Empty())
}

func TestActiveLoopWithoutSchedule(t *testing.T) {
	f := newFixture(t)
	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 2, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, model.LoopUnscheduled, loop.Source)
	assert.True(t, loop.Order.Empty())
	assert.Nil(t, loop.Window)
}

func TestActiveLoopInactiveSchedule(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 1, "2024-03-01", "2024-03-31")
	_, err := f.svc.UpsertSchedule(context.Background(), 1, window, false)
	require.NoError(t, err)

	loop, err := f.svc.ActiveLoopForDevice(context.Background(), 1, f.clock.Now())
	require.NoError(t, err)
	assert.True(t, loop.Order.Empty())
	assert.NotNil(t, loop.Window)
}

func TestReconcileStale(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 1, "2024-03-01", "2024-03-10")
	f.assign(t, 20, 1, "2024-03-01", "2024-03-31")

	changed, err := f.svc.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Empty(t, changed)

	f.clock.Set(day("2024-03-11").Add(time.Minute))
	changed, err = f.svc.ReconcileStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, changed)

	sc, _ := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	assert.Equal(t, []int{20}, sc.PlayOrder.Sequence)
}

func TestRegenerate(t *testing.T) {
	f := newFixture(t)
	f.assign(t, 10, 3, "2024-03-01", "2024-03-31")

	loop, err := f.svc.Regenerate(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, loop.Order.Sequence)
	assert.Equal(t, 3, loop.Order.GCD)

	_, err = f.svc.Regenerate(context.Background(), 2)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestConcurrentMutationsConverge(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jingle := []int{10, 20, 30}[i%3]
			_, err := f.svc.AddJingleAssignment(context.Background(), model.JingleAssignment{
				ScheduleID: f.schedule.ID,
				JingleID:   jingle,
				StartDate:  day("2024-03-01"),
				EndDate:    day("2024-03-31"),
				Spots:      1,
				IsActive:   true,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	sc, _ := f.repo.GetScheduleByID(context.Background(), f.schedule.ID)
	require.NotNil(t, sc.PlayOrder)
	assert.False(t, sc.Dirty)
	assert.Equal(t, map[int]int{10: 7, 20: 7, 30: 6}, sc.PlayOrder.RepeatCounts)
}

func TestPreview(t *testing.T) {
	order := Preview([]rotation.Weighted{{ID: 1, Weight: 40}, {ID: 2, Weight: 60}, {ID: 3, Weight: 80}})
	assert.Equal(t, 9, order.Len())
	assert.Equal(t, 20, order.GCD)
}
