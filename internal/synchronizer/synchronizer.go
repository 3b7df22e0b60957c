// Package synchronizer pushes rebuilt loops out to connected devices.
package synchronizer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/relay"
)

type LoopProvider interface {
	ActiveLoopForDevice(ctx context.Context, deviceID int, asOf time.Time) (model.DeviceLoop, error)
}

type DeviceLookup interface {
	GetDeviceByID(ctx context.Context, id int) (model.Device, error)
}

// Mirror receives a copy of every loop pushed, for devices that follow
// their schedule through a broker instead of the relay.
type Mirror interface {
	PublishSchedule(ctx context.Context, device model.Device, loop model.DeviceLoop) error
}

type Synchronizer struct {
	registry *relay.Registry
	loops    LoopProvider
	devices  DeviceLookup
	mirror   Mirror

	pushTimeout time.Duration
	now         func() time.Time

	background sync.WaitGroup
}

type Option func(*Synchronizer)

func WithMirror(m Mirror) Option {
	return func(s *Synchronizer) { s.mirror = m }
}

func WithPushTimeout(d time.Duration) Option {
	return func(s *Synchronizer) { s.pushTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

func New(registry *relay.Registry, loops LoopProvider, devices DeviceLookup, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		registry:    registry,
		loops:       loops,
		devices:     devices,
		pushTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result summarises one fan-out.
type Result struct {
	Pushed   []int          `json:"pushed"`
	Skipped  []int          `json:"skipped"`
	Failed   map[int]string `json:"failed"`
	Mirrored int            `json:"mirrored"`
}

// ScheduleChanged starts a background sync for one device so the caller
// returns right after its own write.
func (s *Synchronizer) ScheduleChanged(deviceID int) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.pushTimeout)
		defer cancel()
		s.SyncDevices(ctx, []int{deviceID})
	}()
}

// Wait blocks until every background sync has finished.
func (s *Synchronizer) Wait() { s.background.Wait() }

// SyncAll pushes every connected device its own current loop.
func (s *Synchronizer) SyncAll(ctx context.Context) Result {
	sessions := s.registry.Sessions()
	ids := make([]int, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.DeviceID)
	}
	return s.SyncDevices(ctx, ids)
}

// SyncDevices fans out one goroutine per device. A device that fails, or
// panics, is recorded in the result and does not affect the others.
func (s *Synchronizer) SyncDevices(ctx context.Context, deviceIDs []int) Result {
	res := Result{Failed: map[int]string{}}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, id := range deviceIDs {
		wg.Add(1)
		go func(deviceID int) {
			defer wg.Done()
			pushed, mirrored, err := s.syncOne(ctx, deviceID)

			mu.Lock()
			defer mu.Unlock()
			if mirrored {
				res.Mirrored++
			}
			switch {
			case err != nil:
				res.Failed[deviceID] = err.Error()
				log.Warn().Err(err).Int("device_id", deviceID).Msg("schedule push failed")
			case pushed:
				res.Pushed = append(res.Pushed, deviceID)
			default:
				res.Skipped = append(res.Skipped, deviceID)
			}
		}(id)
	}
	wg.Wait()

	sort.Ints(res.Pushed)
	sort.Ints(res.Skipped)
	if len(deviceIDs) > 0 {
		log.Info().
			Int("pushed", len(res.Pushed)).
			Int("skipped", len(res.Skipped)).
			Int("failed", len(res.Failed)).
			Msg("schedule sync finished")
	}
	return res
}

func (s *Synchronizer) syncOne(ctx context.Context, deviceID int) (pushed, mirrored bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("push panicked: %v", r)
		}
	}()

	loop, err := s.loops.ActiveLoopForDevice(ctx, deviceID, s.now())
	if err != nil {
		return false, false, fmt.Errorf("load loop: %w", err)
	}

	if s.mirror != nil {
		mirrored = s.publishMirror(ctx, deviceID, loop)
	}

	sess, ok := s.registry.Lookup(deviceID)
	if !ok {
		return false, mirrored, nil
	}
	env, err := relay.NewEnvelope(relay.TypeScheduleUpdate, "", relay.ScheduleUpdate{Loop: loop})
	if err != nil {
		return false, mirrored, err
	}
	if err := sess.Conn.Send(env); err != nil {
		return false, mirrored, fmt.Errorf("send: %w", err)
	}
	return true, mirrored, nil
}

func (s *Synchronizer) publishMirror(ctx context.Context, deviceID int, loop model.DeviceLoop) bool {
	device, err := s.devices.GetDeviceByID(ctx, deviceID)
	if err != nil {
		log.Warn().Err(err).Int("device_id", deviceID).Msg("mirror skipped, device lookup failed")
		return false
	}
	if err := s.mirror.PublishSchedule(ctx, device, loop); err != nil {
		log.Warn().Err(err).Int("device_id", deviceID).Msg("failed to mirror schedule")
		return false
	}
	return true
}
