// Package relay keeps live sessions with devices and implements the
// protocol spoken over them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/pairing"
)

const DefaultPullTimeout = 5 * time.Second

type DeviceDirectory interface {
	GetDeviceByID(ctx context.Context, id int) (model.Device, error)
	GetDeviceByPairingCode(ctx context.Context, code string) (model.Device, error)
	PairDevice(ctx context.Context, id int, update model.PairingUpdate) (model.Device, error)
	TouchDevice(ctx context.Context, id int, status model.ConnectivityStatus) error
	RepairDevice(ctx context.Context, id int, pairingCode string) (model.Device, error)
}

type EventStore interface {
	CreatePlaybackEvent(ctx context.Context, e model.PlaybackEvent) (model.PlaybackEvent, error)
	LatestPlaybackEvent(ctx context.Context, deviceID int) (model.PlaybackEvent, error)
}

type LoopProvider interface {
	ActiveLoopForDevice(ctx context.Context, deviceID int, asOf time.Time) (model.DeviceLoop, error)
}

type Attributor interface {
	Resolve(ctx context.Context, jingleID int, at time.Time) (*model.Campaign, error)
}

// StatusObserver is told about every live status a device reports.
type StatusObserver interface {
	PublishStatus(ctx context.Context, snap model.PlaybackSnapshot) error
}

type Handler struct {
	devices    DeviceDirectory
	events     EventStore
	loops      LoopProvider
	attributor Attributor
	registry   *Registry

	pullTimeout time.Duration
	now         func() time.Time
	newCode     func() (string, error)

	obsMu     sync.RWMutex
	observers []StatusObserver
}

type Option func(*Handler)

func WithPullTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.pullTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(h *Handler) { h.newCode = gen }
}

func NewHandler(devices DeviceDirectory, events EventStore, loops LoopProvider, attributor Attributor, registry *Registry, opts ...Option) *Handler {
	h := &Handler{
		devices:     devices,
		events:      events,
		loops:       loops,
		attributor:  attributor,
		registry:    registry,
		pullTimeout: DefaultPullTimeout,
		now:         time.Now,
		newCode:     pairing.NewCode,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Registry() *Registry { return h.registry }

func (h *Handler) AddObserver(o StatusObserver) {
	h.obsMu.Lock()
	h.observers = append(h.observers, o)
	h.obsMu.Unlock()
}

// Register pairs the device behind conn and answers with its loop.
// Registering again with the same serial number is a no-op rebind.
func (h *Handler) Register(ctx context.Context, conn Conn, req RegisterRequest) (RegisterResponse, error) {
	code := strings.ToUpper(strings.TrimSpace(req.PairingCode))
	if code == "" {
		return RegisterResponse{}, model.ErrInvalidPairingCode
	}
	if strings.TrimSpace(req.SerialNumber) == "" {
		return RegisterResponse{}, fmt.Errorf("%w: serial number is required", model.ErrInvalidInput)
	}

	device, err := h.devices.GetDeviceByPairingCode(ctx, code)
	if errors.Is(err, model.ErrNotFound) {
		return RegisterResponse{}, model.ErrInvalidPairingCode
	}
	if err != nil {
		return RegisterResponse{}, err
	}
	if device.Paired() && device.SerialNumber != nil && *device.SerialNumber != req.SerialNumber {
		return RegisterResponse{}, model.ErrPairingConflict
	}

	ip := req.IPAddress
	if ip == nil && conn.RemoteAddr() != "" {
		addr := conn.RemoteAddr()
		ip = &addr
	}
	device, err = h.devices.PairDevice(ctx, device.ID, model.PairingUpdate{
		SerialNumber: req.SerialNumber,
		Name:         req.Name,
		IPAddress:    ip,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
	})
	if err != nil {
		return RegisterResponse{}, err
	}

	_, replaced := h.registry.Bind(device.ID, conn)
	if replaced != nil {
		log.Info().Int("device_id", device.ID).Str("conn_id", replaced.Conn.ID()).Msg("closing superseded relay session")
		replaced.fail()
		_ = replaced.Conn.Close()
	}

	loop, err := h.loops.ActiveLoopForDevice(ctx, device.ID, h.now())
	if err != nil {
		log.Error().Err(err).Int("device_id", device.ID).Msg("failed to load loop for registering device")
		loop = model.DeviceLoop{DeviceID: device.ID, Order: model.PlayOrder{Sequence: []int{}}, Jingles: []model.Jingle{}, Source: model.LoopUnscheduled}
	}

	log.Info().Int("device_id", device.ID).Str("serial", req.SerialNumber).Str("conn_id", conn.ID()).Msg("device registered")
	return RegisterResponse{DeviceID: device.ID, Name: device.Name, Loop: loop}, nil
}

func (h *Handler) Heartbeat(ctx context.Context, deviceID int) error {
	if deviceID == 0 {
		return model.ErrMissingDeviceID
	}
	return h.devices.TouchDevice(ctx, deviceID, model.StatusOnline)
}

// PlaybackLog stores a play. A missing campaign is resolved on the way in;
// if that fails the event is stored unattributed for the backfill sweep.
func (h *Handler) PlaybackLog(ctx context.Context, deviceID int, req PlaybackLogRequest) (model.PlaybackEvent, error) {
	if deviceID == 0 {
		return model.PlaybackEvent{}, model.ErrMissingDeviceID
	}
	if _, err := h.devices.GetDeviceByID(ctx, deviceID); err != nil {
		return model.PlaybackEvent{}, err
	}

	status := req.Status
	if status == "" {
		status = model.PlaybackCompleted
	}
	if !status.Valid() {
		return model.PlaybackEvent{}, fmt.Errorf("%w: unknown playback status %q", model.ErrInvalidInput, status)
	}

	e := model.PlaybackEvent{
		DeviceID:        deviceID,
		CampaignID:      req.CampaignID,
		JingleID:        req.JingleID,
		PlayedAt:        h.now(),
		DurationSeconds: req.DurationSeconds,
		Status:          status,
		Details:         req.Details,
	}
	if req.PlayedAt != nil {
		e.PlayedAt = *req.PlayedAt
	}

	if e.CampaignID == nil && e.JingleID != nil && h.attributor != nil {
		campaign, err := h.attributor.Resolve(ctx, *e.JingleID, e.PlayedAt)
		switch {
		case err != nil:
			log.Warn().Err(err).Int("device_id", deviceID).Int("jingle_id", *e.JingleID).Msg("attribution failed, storing unattributed")
		case campaign != nil:
			e.CampaignID = &campaign.ID
		}
	}

	return h.events.CreatePlaybackEvent(ctx, e)
}

// CrashReport records a crash against the last thing the device was
// known to play. Storage errors are logged, never returned.
func (h *Handler) CrashReport(ctx context.Context, deviceID int, req CrashReportRequest) {
	if deviceID == 0 {
		log.Warn().Str("error", req.Error).Msg("crash report without device id")
		return
	}

	details := model.JSONMap{}
	for k, v := range req.Details {
		details[k] = v
	}
	details["error"] = req.Error
	if req.Stack != "" {
		details["stack"] = req.Stack
	}

	e := model.PlaybackEvent{
		DeviceID: deviceID,
		PlayedAt: h.now(),
		Status:   model.PlaybackCrashed,
		Details:  details,
	}
	if req.OccurredAt != nil {
		e.PlayedAt = *req.OccurredAt
	}

	if snap, ok := h.registry.Snapshot(deviceID); ok && snap.JingleID != nil {
		e.JingleID, e.CampaignID = snap.JingleID, snap.CampaignID
	} else if last, err := h.events.LatestPlaybackEvent(ctx, deviceID); err == nil {
		e.JingleID, e.CampaignID = last.JingleID, last.CampaignID
	}

	if _, err := h.events.CreatePlaybackEvent(ctx, e); err != nil {
		log.Error().Err(err).Int("device_id", deviceID).Msg("failed to store crash report")
		return
	}
	log.Warn().Int("device_id", deviceID).Str("error", req.Error).Msg("device crash reported")
}

// LiveStatusPush records the device's current playback state. A push that
// carries the id of a pending pull also settles that pull.
func (h *Handler) LiveStatusPush(ctx context.Context, deviceID int, requestID string, p LiveStatusPayload) model.PlaybackSnapshot {
	snap := model.PlaybackSnapshot{
		DeviceID:        deviceID,
		JingleID:        p.JingleID,
		CampaignID:      p.CampaignID,
		PositionSeconds: p.PositionSeconds,
		DurationSeconds: p.DurationSeconds,
		Playing:         p.Playing,
		ObservedAt:      h.now(),
	}
	h.registry.StoreSnapshot(snap)

	if requestID != "" {
		if s, ok := h.registry.Lookup(deviceID); !ok || !s.settle(requestID, snap) {
			log.Debug().Int("device_id", deviceID).Str("request_id", requestID).Msg("discarding late live status reply")
		}
	}

	h.obsMu.RLock()
	observers := h.observers
	h.obsMu.RUnlock()
	for _, o := range observers {
		if err := o.PublishStatus(ctx, snap); err != nil {
			log.Warn().Err(err).Int("device_id", deviceID).Msg("failed to publish live status")
		}
	}
	return snap
}

// LiveStatusPull asks a connected device for its playback state and waits
// for the answer, the timeout, or the session going away, whichever is first.
func (h *Handler) LiveStatusPull(ctx context.Context, deviceID int) (model.PlaybackSnapshot, error) {
	s, ok := h.registry.Lookup(deviceID)
	if !ok {
		return model.PlaybackSnapshot{}, model.ErrDeviceNotConnected
	}

	requestID := uuid.NewString()
	reply, ok := s.await(requestID)
	if !ok {
		return model.PlaybackSnapshot{}, model.ErrDeviceNotConnected
	}

	env, err := NewEnvelope(TypeLiveStatusRequest, requestID, nil)
	if err == nil {
		err = s.Conn.Send(env)
	}
	if err != nil {
		s.abandon(requestID)
		log.Warn().Err(err).Int("device_id", deviceID).Msg("failed to send live status request")
		return model.PlaybackSnapshot{}, model.ErrDeviceNotConnected
	}

	timer := time.NewTimer(h.pullTimeout)
	defer timer.Stop()

	var giveUp error
	select {
	case snap, ok := <-reply:
		if !ok {
			return model.PlaybackSnapshot{}, model.ErrDeviceNotConnected
		}
		return snap, nil
	case <-timer.C:
		giveUp = model.ErrRelayTimeout
	case <-ctx.Done():
		giveUp = ctx.Err()
	}

	if s.abandon(requestID) {
		return model.PlaybackSnapshot{}, giveUp
	}
	// settled or failed between the timer firing and abandon
	snap, ok := <-reply
	if !ok {
		return model.PlaybackSnapshot{}, model.ErrDeviceNotConnected
	}
	return snap, nil
}

// Disconnect tears down whatever session connID owned. The device only goes
// offline if that session was still its current one.
func (h *Handler) Disconnect(ctx context.Context, connID string) {
	s, current := h.registry.Remove(connID)
	if s == nil {
		return
	}
	s.fail()
	if !current {
		log.Debug().Int("device_id", s.DeviceID).Str("conn_id", connID).Msg("superseded relay session closed")
		return
	}
	if err := h.devices.TouchDevice(ctx, s.DeviceID, model.StatusOffline); err != nil {
		log.Error().Err(err).Int("device_id", s.DeviceID).Msg("failed to mark device offline")
	}
	log.Info().Int("device_id", s.DeviceID).Str("conn_id", connID).Msg("device disconnected")
}

// Repair resets the device's pairing under a fresh code and drops its
// live session.
func (h *Handler) Repair(ctx context.Context, deviceID int) (model.Device, error) {
	code, err := h.newCode()
	if err != nil {
		return model.Device{}, fmt.Errorf("generate pairing code: %w", err)
	}
	device, err := h.devices.RepairDevice(ctx, deviceID, code)
	if err != nil {
		return model.Device{}, err
	}
	if s := h.registry.Drop(deviceID); s != nil {
		s.fail()
		_ = s.Conn.Close()
	}
	log.Info().Int("device_id", deviceID).Msg("device re-paired")
	return device, nil
}

// Dispatch routes one inbound envelope and writes the reply to conn.
func (h *Handler) Dispatch(ctx context.Context, conn Conn, env Envelope) {
	reply, payload, err := h.route(ctx, conn, env)
	if err != nil {
		log.Debug().Err(err).Str("type", string(env.Type)).Str("conn_id", conn.ID()).Msg("relay request failed")
		reply, payload = TypeError, Failure{Failed: true, Message: err.Error()}
	}
	if reply == "" {
		return
	}
	out, err := NewEnvelope(reply, env.RequestID, payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(reply)).Msg("failed to encode relay reply")
		return
	}
	if err := conn.Send(out); err != nil {
		log.Warn().Err(err).Str("conn_id", conn.ID()).Msg("failed to send relay reply")
	}
}

func (h *Handler) route(ctx context.Context, conn Conn, env Envelope) (MessageType, any, error) {
	switch env.Type {
	case TypeRegister:
		var req RegisterRequest
		if err := decode(env, &req); err != nil {
			return "", nil, err
		}
		res, err := h.Register(ctx, conn, req)
		return TypeRegistered, res, err

	case TypeHeartbeat:
		var req HeartbeatRequest
		if err := decode(env, &req); err != nil {
			return "", nil, err
		}
		id := h.deviceFor(conn, req.DeviceRef)
		if err := h.Heartbeat(ctx, id); err != nil {
			return "", nil, err
		}
		return TypeHeartbeatAck, fields{"device_id": id, "server_time": h.now()}, nil

	case TypePlaybackLog:
		var req PlaybackLogRequest
		if err := decode(env, &req); err != nil {
			return "", nil, err
		}
		// only a registered socket may speak for a device here
		id, ok := h.registry.DeviceFor(conn.ID())
		if !ok {
			return "", nil, model.ErrMissingDeviceID
		}
		e, err := h.PlaybackLog(ctx, id, req)
		return TypePlaybackLogged, fields{"event_id": e.ID, "campaign_id": e.CampaignID}, err

	case TypeCrashReport:
		var req CrashReportRequest
		if err := decode(env, &req); err != nil {
			return "", nil, err
		}
		id := h.deviceFor(conn, req.DeviceRef)
		if id == 0 {
			return "", nil, model.ErrMissingDeviceID
		}
		h.CrashReport(ctx, id, req)
		return TypeCrashLogged, nil, nil

	case TypeLiveStatus:
		var req LiveStatusPayload
		if err := decode(env, &req); err != nil {
			return "", nil, err
		}
		// only a registered socket may speak for a device here
		id, ok := h.registry.DeviceFor(conn.ID())
		if !ok {
			return "", nil, model.ErrMissingDeviceID
		}
		h.LiveStatusPush(ctx, id, env.RequestID, req)
		return "", nil, nil
	}
	return "", nil, fmt.Errorf("%w: unknown message type %q", model.ErrInvalidInput, env.Type)
}

type fields = map[string]any

// deviceFor prefers the device bound to the connection over what the
// payload claims.
func (h *Handler) deviceFor(conn Conn, ref DeviceRef) int {
	if id, ok := h.registry.DeviceFor(conn.ID()); ok {
		return id
	}
	if ref.DeviceID != nil {
		return *ref.DeviceID
	}
	return 0
}

func decode(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: malformed %s payload", model.ErrInvalidInput, env.Type)
	}
	return nil
}
