// Package schedule owns device schedules, their jingle assignments and the
// cached play order derived from them.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/rotation"
)

type Repository interface {
	GetDeviceByID(ctx context.Context, id int) (model.Device, error)
	GetJingleByID(ctx context.Context, id int) (model.Jingle, error)
	GetJinglesByIDs(ctx context.Context, ids []int) ([]model.Jingle, error)

	GetScheduleByID(ctx context.Context, id int) (model.Schedule, error)
	GetScheduleByDeviceID(ctx context.Context, deviceID int) (model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	UpsertSchedule(ctx context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error)
	MarkPlayOrderDirty(ctx context.Context, scheduleID int) error
	SavePlayOrder(ctx context.Context, scheduleID int, order model.PlayOrder, day time.Time) error

	CreateJingleAssignment(ctx context.Context, a model.JingleAssignment) (model.JingleAssignment, error)
	GetJingleAssignment(ctx context.Context, id int) (model.JingleAssignment, error)
	UpdateJingleAssignment(ctx context.Context, a model.JingleAssignment) error
	DeleteJingleAssignment(ctx context.Context, id int) error
	ListJingleAssignments(ctx context.Context, scheduleID int) ([]model.JingleAssignment, error)
}

// ChangeNotifier hears about every device whose play order was rebuilt by a
// mutation. It must not block.
type ChangeNotifier interface {
	ScheduleChanged(deviceID int)
}

type Service struct {
	store    Repository
	now      func() time.Time
	location *time.Location

	notifyMu sync.RWMutex
	notifier ChangeNotifier

	locksMu sync.Mutex
	locks   map[int]*sync.Mutex
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLocation sets the zone used to decide which calendar day it is.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.location = loc
		}
	}
}

func NewService(store Repository, opts ...Option) *Service {
	s := &Service{
		store:    store,
		now:      time.Now,
		location: time.UTC,
		locks:    map[int]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) SetNotifier(n ChangeNotifier) {
	s.notifyMu.Lock()
	s.notifier = n
	s.notifyMu.Unlock()
}

// Today is the current calendar day in the service's zone.
func (s *Service) Today() time.Time {
	return model.DateOf(s.now().In(s.location))
}

// Location is the zone calendar days are evaluated in.
func (s *Service) Location() *time.Location { return s.location }

// lockDevice serializes mutation and regeneration for one device.
func (s *Service) lockDevice(deviceID int) func() {
	s.locksMu.Lock()
	l, ok := s.locks[deviceID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[deviceID] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) notify(deviceID int) {
	s.notifyMu.RLock()
	n := s.notifier
	s.notifyMu.RUnlock()
	if n != nil {
		n.ScheduleChanged(deviceID)
	}
}

// UpsertSchedule creates or replaces the schedule of a device and rebuilds
// its play order.
func (s *Service) UpsertSchedule(ctx context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error) {
	if err := window.Validate(); err != nil {
		return model.Schedule{}, err
	}
	if _, err := s.store.GetDeviceByID(ctx, deviceID); err != nil {
		return model.Schedule{}, err
	}

	unlock := s.lockDevice(deviceID)
	sc, err := s.store.UpsertSchedule(ctx, deviceID, window, isActive)
	if err != nil {
		unlock()
		return model.Schedule{}, fmt.Errorf("upsert schedule for device %d: %w", deviceID, err)
	}
	sc, _ = s.rebuildLocked(ctx, sc)
	unlock()

	s.notify(deviceID)
	return sc, nil
}

// AddJingleAssignment books a jingle onto a schedule.
func (s *Service) AddJingleAssignment(ctx context.Context, in model.JingleAssignment) (model.JingleAssignment, error) {
	if err := in.Validate(); err != nil {
		return model.JingleAssignment{}, err
	}
	sc, err := s.store.GetScheduleByID(ctx, in.ScheduleID)
	if err != nil {
		return model.JingleAssignment{}, err
	}
	if _, err := s.store.GetJingleByID(ctx, in.JingleID); err != nil {
		return model.JingleAssignment{}, err
	}

	unlock := s.lockDevice(sc.DeviceID)
	a, err := s.store.CreateJingleAssignment(ctx, in)
	if err != nil {
		unlock()
		return model.JingleAssignment{}, fmt.Errorf("create assignment: %w", err)
	}
	s.invalidateLocked(ctx, sc.ID)
	unlock()

	s.notify(sc.DeviceID)
	return a, nil
}

func (s *Service) UpdateJingleAssignment(ctx context.Context, id int, patch model.AssignmentPatch) (model.JingleAssignment, error) {
	current, err := s.store.GetJingleAssignment(ctx, id)
	if err != nil {
		return model.JingleAssignment{}, err
	}
	sc, err := s.store.GetScheduleByID(ctx, current.ScheduleID)
	if err != nil {
		return model.JingleAssignment{}, err
	}

	unlock := s.lockDevice(sc.DeviceID)
	// re-read under the lock so concurrent patches compose
	current, err = s.store.GetJingleAssignment(ctx, id)
	if err != nil {
		unlock()
		return model.JingleAssignment{}, err
	}
	updated := patch.Apply(current)
	if err := updated.Validate(); err != nil {
		unlock()
		return model.JingleAssignment{}, err
	}
	if err := s.store.UpdateJingleAssignment(ctx, updated); err != nil {
		unlock()
		return model.JingleAssignment{}, fmt.Errorf("update assignment %d: %w", id, err)
	}
	s.invalidateLocked(ctx, sc.ID)
	unlock()

	s.notify(sc.DeviceID)
	return updated, nil
}

func (s *Service) RemoveJingleAssignment(ctx context.Context, id int) error {
	current, err := s.store.GetJingleAssignment(ctx, id)
	if err != nil {
		return err
	}
	sc, err := s.store.GetScheduleByID(ctx, current.ScheduleID)
	if err != nil {
		return err
	}

	unlock := s.lockDevice(sc.DeviceID)
	if err := s.store.DeleteJingleAssignment(ctx, id); err != nil {
		unlock()
		return fmt.Errorf("delete assignment %d: %w", id, err)
	}
	s.invalidateLocked(ctx, sc.ID)
	unlock()

	s.notify(sc.DeviceID)
	return nil
}

// invalidateLocked marks the cache dirty and then rebuilds it from the row
// as it stands under the lock. If the rebuild fails the dirty flag stays set
// and the next read regenerates.
func (s *Service) invalidateLocked(ctx context.Context, scheduleID int) {
	if err := s.store.MarkPlayOrderDirty(ctx, scheduleID); err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("failed to mark play order dirty")
		return
	}
	sc, err := s.store.GetScheduleByID(ctx, scheduleID)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("failed to reload schedule")
		return
	}
	_, _ = s.rebuildLocked(ctx, sc)
}

// rebuildLocked regenerates and stores the play order for today. Failures
// are logged and the schedule is returned as it was.
func (s *Service) rebuildLocked(ctx context.Context, sc model.Schedule) (model.Schedule, error) {
	today := s.Today()
	order, err := s.generate(ctx, sc, today)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", sc.ID).Msg("failed to regenerate play order")
		return sc, err
	}
	if err := s.store.SavePlayOrder(ctx, sc.ID, order, today); err != nil {
		log.Error().Err(err).Int("schedule_id", sc.ID).Msg("failed to cache play order")
		return sc, err
	}
	sc.PlayOrder = &order
	sc.PlayOrderDate = &today
	sc.Dirty = false
	return sc, nil
}

// generate always reads the assignment set fresh from the store.
func (s *Service) generate(ctx context.Context, sc model.Schedule, day time.Time) (model.PlayOrder, error) {
	if !sc.IsActive {
		return emptyOrder(), nil
	}
	assignments, err := s.store.ListJingleAssignments(ctx, sc.ID)
	if err != nil {
		return model.PlayOrder{}, fmt.Errorf("list assignments for schedule %d: %w", sc.ID, err)
	}
	return BuildOrder(assignments, day), nil
}

// BuildOrder runs the rotation over the assignments eligible on day.
func BuildOrder(assignments []model.JingleAssignment, day time.Time) model.PlayOrder {
	weights := make([]rotation.Weighted, 0, len(assignments))
	for _, a := range assignments {
		if a.EligibleOn(day) {
			weights = append(weights, rotation.Weighted{ID: a.JingleID, Weight: a.Spots})
		}
	}
	return fromLoop(rotation.Build(weights))
}

// Preview builds a loop from raw weights without touching any schedule.
func Preview(weights []rotation.Weighted) model.PlayOrder {
	return fromLoop(rotation.Build(weights))
}

func fromLoop(l rotation.Loop) model.PlayOrder {
	return model.PlayOrder{Sequence: l.Sequence, GCD: l.GCD, RepeatCounts: l.RepeatCounts}
}

func emptyOrder() model.PlayOrder {
	return model.PlayOrder{Sequence: []int{}, RepeatCounts: map[int]int{}}
}

// ActiveLoopForDevice returns the loop a device should play on asOf's day.
// A device without a schedule, or with nothing eligible, gets an empty loop.
func (s *Service) ActiveLoopForDevice(ctx context.Context, deviceID int, asOf time.Time) (model.DeviceLoop, error) {
	day := model.DateOf(asOf.In(s.location))
	loop := model.DeviceLoop{
		DeviceID: deviceID,
		Order:    emptyOrder(),
		Jingles:  []model.Jingle{},
		Source:   model.LoopUnscheduled,
		AsOf:     day,
	}

	sc, err := s.store.GetScheduleByDeviceID(ctx, deviceID)
	if errors.Is(err, model.ErrNotFound) {
		return loop, nil
	}
	if err != nil {
		return loop, err
	}
	loop.ScheduleID = &sc.ID
	window := sc.PlaybackWindow
	loop.Window = &window
	if !sc.IsActive {
		return loop, nil
	}

	if sc.CacheValidFor(day) {
		loop.Order = *sc.PlayOrder
		loop.Source = model.LoopFromCache
	} else {
		order, source, err := s.synthesize(ctx, deviceID, day)
		if err != nil {
			return loop, err
		}
		loop.Order, loop.Source = order, source
	}
	loop.Length = loop.Order.Len()

	if !loop.Order.Empty() {
		jingles, err := s.store.GetJinglesByIDs(ctx, distinct(loop.Order.Sequence))
		if err != nil {
			return loop, fmt.Errorf("load jingles for device %d: %w", deviceID, err)
		}
		loop.Jingles = jingles
	}
	return loop, nil
}

// synthesize rebuilds under the device lock. Only today's order is written
// back to the cache.
func (s *Service) synthesize(ctx context.Context, deviceID int, day time.Time) (model.PlayOrder, model.LoopSource, error) {
	unlock := s.lockDevice(deviceID)
	defer unlock()

	sc, err := s.store.GetScheduleByDeviceID(ctx, deviceID)
	if err != nil {
		return model.PlayOrder{}, "", err
	}
	if sc.CacheValidFor(day) {
		return *sc.PlayOrder, model.LoopFromCache, nil
	}
	order, err := s.generate(ctx, sc, day)
	if err != nil {
		return model.PlayOrder{}, "", err
	}
	if day.Equal(s.Today()) {
		if err := s.store.SavePlayOrder(ctx, sc.ID, order, day); err != nil {
			log.Warn().Err(err).Int("device_id", deviceID).Msg("failed to cache synthesized play order")
		}
	}
	return order, model.LoopGenerated, nil
}

// Regenerate forces a rebuild of the device's play order.
func (s *Service) Regenerate(ctx context.Context, deviceID int) (model.DeviceLoop, error) {
	sc, err := s.store.GetScheduleByDeviceID(ctx, deviceID)
	if err != nil {
		return model.DeviceLoop{}, err
	}
	unlock := s.lockDevice(deviceID)
	s.invalidateLocked(ctx, sc.ID)
	unlock()

	s.notify(deviceID)
	return s.ActiveLoopForDevice(ctx, deviceID, s.now())
}

// ReconcileStale rebuilds every schedule whose cache is dirty or was built
// for another day, and returns the devices whose loop actually changed.
func (s *Service) ReconcileStale(ctx context.Context) ([]int, error) {
	today := s.Today()
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	var changed []int
	for _, sc := range schedules {
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}
		if !sc.StaleFor(today) {
			continue
		}
		var before []int
		if sc.PlayOrder != nil {
			before = sc.PlayOrder.Sequence
		}

		unlock := s.lockDevice(sc.DeviceID)
		fresh, err := s.store.GetScheduleByID(ctx, sc.ID)
		if err != nil {
			unlock()
			log.Warn().Err(err).Int("schedule_id", sc.ID).Msg("schedule vanished during reconcile")
			continue
		}
		rebuilt, err := s.rebuildLocked(ctx, fresh)
		unlock()

		if err != nil {
			continue
		}
		if !slices.Equal(before, rebuilt.PlayOrder.Sequence) {
			changed = append(changed, sc.DeviceID)
		}
	}
	return changed, nil
}

func distinct(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
