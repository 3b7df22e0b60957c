package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

type fakeConn struct {
	id string

	mu      sync.Mutex
	sent    []Envelope
	closed  bool
	sendErr error
	onSend  func(Envelope)
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "10.0.0.5" }

func (c *fakeConn) Send(env Envelope) error {
	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.sent = append(c.sent, env)
	hook := c.onSend
	c.mu.Unlock()
	if hook != nil {
		hook(env)
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) last() Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return Envelope{}
	}
	return c.sent[len(c.sent)-1]
}

type fakeDirectory struct {
	mu       sync.Mutex
	devices  map[int]model.Device
	statuses []model.ConnectivityStatus
}

func newFakeDirectory(devices ...model.Device) *fakeDirectory {
	d := &fakeDirectory{devices: map[int]model.Device{}}
	for _, dev := range devices {
		d.devices[dev.ID] = dev
	}
	return d
}

func (d *fakeDirectory) set(dev model.Device) {
	d.mu.Lock()
	d.devices[dev.ID] = dev
	d.mu.Unlock()
}

func (d *fakeDirectory) get(id int) model.Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.devices[id]
}

func (d *fakeDirectory) GetDeviceByID(_ context.Context, id int) (model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %d: %w", id, model.ErrNotFound)
	}
	return dev, nil
}

func (d *fakeDirectory) GetDeviceByPairingCode(_ context.Context, code string) (model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, dev := range d.devices {
		if dev.PairingCode == code {
			return dev, nil
		}
	}
	return model.Device{}, model.ErrNotFound
}

func (d *fakeDirectory) PairDevice(_ context.Context, id int, u model.PairingUpdate) (model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return model.Device{}, model.ErrNotFound
	}
	if dev.SerialNumber != nil && *dev.SerialNumber != u.SerialNumber {
		return model.Device{}, model.ErrPairingConflict
	}
	now := time.Now()
	serial := u.SerialNumber
	dev.SerialNumber = &serial
	dev.PairingState = model.PairingPaired
	dev.Status = model.StatusOnline
	dev.LastSeenAt = &now
	if dev.PairedAt == nil {
		dev.PairedAt = &now
	}
	if dev.Latitude == nil {
		dev.Latitude = u.Latitude
	}
	if dev.Longitude == nil {
		dev.Longitude = u.Longitude
	}
	dev.IPAddress = u.IPAddress
	d.devices[id] = dev
	return dev, nil
}

func (d *fakeDirectory) TouchDevice(_ context.Context, id int, status model.ConnectivityStatus) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return fmt.Errorf("device %d: %w", id, model.ErrNotFound)
	}
	now := time.Now()
	dev.LastSeenAt = &now
	dev.Status = status
	d.devices[id] = dev
	d.statuses = append(d.statuses, status)
	return nil
}

func (d *fakeDirectory) RepairDevice(_ context.Context, id int, code string) (model.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev, ok := d.devices[id]
	if !ok {
		return model.Device{}, fmt.Errorf("device %d: %w", id, model.ErrNotFound)
	}
	dev.PairingCode = code
	dev.PairingState = model.PairingUnpaired
	dev.Status = model.StatusOffline
	dev.SerialNumber = nil
	dev.PairedAt = nil
	dev.LastSeenAt = nil
	d.devices[id] = dev
	return dev, nil
}

// staleDirectory answers pairing-code lookups from a snapshot taken before
// another device paired.
type staleDirectory struct {
	*fakeDirectory
	snapshot model.Device
}

func (d staleDirectory) GetDeviceByPairingCode(context.Context, string) (model.Device, error) {
	return d.snapshot, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	events    []model.PlaybackEvent
	createErr error
}

func (e *fakeEvents) CreatePlaybackEvent(_ context.Context, ev model.PlaybackEvent) (model.PlaybackEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.createErr != nil {
		return model.PlaybackEvent{}, e.createErr
	}
	ev.ID = len(e.events) + 1
	e.events = append(e.events, ev)
	return ev, nil
}

func (e *fakeEvents) LatestPlaybackEvent(_ context.Context, deviceID int) (model.PlaybackEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].DeviceID == deviceID && e.events[i].JingleID != nil {
			return e.events[i], nil
		}
	}
	return model.PlaybackEvent{}, model.ErrNotFound
}

func (e *fakeEvents) all() []model.PlaybackEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]model.PlaybackEvent(nil), e.events...)
}

type fakeLoops struct{}

func (fakeLoops) ActiveLoopForDevice(_ context.Context, deviceID int, asOf time.Time) (model.DeviceLoop, error) {
	return model.DeviceLoop{
		DeviceID: deviceID,
		Order:    model.PlayOrder{Sequence: []int{10, 20, 10}, GCD: 1, RepeatCounts: map[int]int{10: 2, 20: 1}},
		Jingles:  []model.Jingle{{ID: 10}, {ID: 20}},
		Source:   model.LoopFromCache,
		AsOf:     model.DateOf(asOf),
	}, nil
}

type fakeAttributor struct {
	campaign *model.Campaign
	err      error
}

func (a fakeAttributor) Resolve(context.Context, int, time.Time) (*model.Campaign, error) {
	return a.campaign, a.err
}

type recordingObserver struct {
	mu    sync.Mutex
	snaps []model.PlaybackSnapshot
}

func (o *recordingObserver) PublishStatus(_ context.Context, snap model.PlaybackSnapshot) error {
	o.mu.Lock()
	o.snaps = append(o.snaps, snap)
	o.mu.Unlock()
	return errors.New("observer offline")
}

func intPtr(v int) *int { return &v }
