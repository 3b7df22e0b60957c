package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/relay"
)

const createAttempts = 3

type DeviceStore interface {
	CreateDevice(ctx context.Context, name, pairingCode string) (model.Device, error)
	GetDeviceByID(ctx context.Context, id int) (model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
}

// Relay is the slice of the relay handler the admin surface drives.
type Relay interface {
	Registry() *relay.Registry
	Repair(ctx context.Context, deviceID int) (model.Device, error)
	LiveStatusPull(ctx context.Context, deviceID int) (model.PlaybackSnapshot, error)
}

type DeviceController struct {
	store   DeviceStore
	relay   Relay
	newCode func() (string, error)
}

// DeviceModule mounts the fleet endpoints: provisioning, re-pairing and
// live status.
func DeviceModule(store DeviceStore, r Relay, newCode func() (string, error)) api.Module {
	ctl := &DeviceController{store: store, relay: r, newCode: newCode}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/devices", ctl.listDevices)
		c.POST("/devices", ctl.createDevice)
		c.GET("/devices/:id", ctl.getDevice)
		c.POST("/devices/:id/repair", ctl.repairDevice)
		c.GET("/devices/:id/live-status", ctl.liveStatus)

		c.GET("/sessions", ctl.listSessions)
	})
}

func (d *DeviceController) connected(id int) bool {
	_, ok := d.relay.Registry().Lookup(id)
	return ok
}

// GET /api/admin/devices
func (d *DeviceController) listDevices(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	all, err := d.store.ListDevices(ctx)
	if err != nil {
		return nil, api.FromError(err)
	}
	out := make([]packets.DeviceResponse, 0, len(all))
	for _, dev := range all {
		out = append(out, toDeviceResponse(dev, d.connected(dev.ID)))
	}
	return out, nil
}

// POST /api/admin/devices
func (d *DeviceController) createDevice(ctx *gin.Context, op *model.Operator) (any, *api.APIError) {
	var request packets.CreateDeviceRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}

	// a fresh code can collide with an existing one; try again
	for attempt := 1; attempt <= createAttempts; attempt++ {
		code, err := d.newCode()
		if err != nil {
			return nil, api.FromError(fmt.Errorf("generate pairing code: %w", err))
		}
		device, err := d.store.CreateDevice(ctx, request.Name, code)
		if errors.Is(err, model.ErrPairingConflict) {
			log.Warn().Int("attempt", attempt).Msg("pairing code collision")
			continue
		}
		if err != nil {
			return nil, api.FromError(err)
		}
		log.Info().Int("device_id", device.ID).Int("operator_id", op.ID).Msg("device provisioned")
		return toDeviceResponse(device, false), nil
	}
	return nil, &api.APIError{Code: http.StatusConflict, Message: "could not allocate a unique pairing code"}
}

// GET /api/admin/devices/:id
func (d *DeviceController) getDevice(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	device, err := d.store.GetDeviceByID(ctx, id)
	if err != nil {
		return nil, api.FromError(err)
	}
	return toDeviceResponse(device, d.connected(id)), nil
}

// POST /api/admin/devices/:id/repair
func (d *DeviceController) repairDevice(ctx *gin.Context, op *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	device, err := d.relay.Repair(ctx, id)
	if err != nil {
		return nil, api.FromError(err)
	}
	log.Info().Int("device_id", id).Int("operator_id", op.ID).Msg("device reset for pairing")
	return toDeviceResponse(device, false), nil
}

// GET /api/admin/devices/:id/live-status
func (d *DeviceController) liveStatus(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	snap, err := d.relay.LiveStatusPull(ctx, id)
	if err != nil {
		return nil, api.FromError(err)
	}
	return snap, nil
}

// GET /api/admin/sessions
func (d *DeviceController) listSessions(_ *gin.Context, _ *model.Operator) (any, *api.APIError) {
	sessions := d.relay.Registry().Sessions()
	out := make([]packets.SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, packets.SessionResponse{
			DeviceID:     s.DeviceID,
			ConnectionID: s.Conn.ID(),
			RemoteAddr:   s.Conn.RemoteAddr(),
			ConnectedAt:  s.ConnectedAt.Format(time.RFC3339),
			Pending:      s.Pending(),
		})
	}
	return out, nil
}
