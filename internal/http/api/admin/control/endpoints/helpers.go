package endpoints

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const dateLayout = "2006-01-02"

func pathID(ctx *gin.Context, name string) (int, *api.APIError) {
	raw := ctx.Param(name)
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		log.Error().Str(name+"_raw", raw).Msg("invalid id in request")
		return 0, api.BadRequest(fmt.Sprintf("invalid %s", name))
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, *api.APIError) {
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, api.BadRequest(fmt.Sprintf("%s must be YYYY-MM-DD", field))
	}
	return d, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toDeviceResponse(d model.Device, connected bool) packets.DeviceResponse {
	return packets.DeviceResponse{
		ID:           d.ID,
		Name:         d.Name,
		SerialNumber: d.SerialNumber,
		PairingCode:  d.PairingCode,
		PairingState: string(d.PairingState),
		Status:       string(d.Status),
		Connected:    connected,
		IPAddress:    d.IPAddress,
		Latitude:     d.Latitude,
		Longitude:    d.Longitude,
		LastSeenAt:   formatTime(d.LastSeenAt),
		PairedAt:     formatTime(d.PairedAt),
		CreatedAt:    d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    d.UpdatedAt.Format(time.RFC3339),
	}
}

func toScheduleResponse(s model.Schedule) packets.ScheduleResponse {
	return packets.ScheduleResponse{
		ID:          s.ID,
		DeviceID:    s.DeviceID,
		WindowStart: s.Start,
		WindowEnd:   s.End,
		IsActive:    s.IsActive,
		PlayOrder:   s.PlayOrder,
		Dirty:       s.Dirty,
	}
}

func toAssignmentResponse(a model.JingleAssignment) packets.JingleAssignmentResponse {
	return packets.JingleAssignmentResponse{
		ID:         a.ID,
		ScheduleID: a.ScheduleID,
		JingleID:   a.JingleID,
		StartDate:  a.StartDate.Format(dateLayout),
		EndDate:    a.EndDate.Format(dateLayout),
		Spots:      a.Spots,
		IsActive:   a.IsActive,
		Position:   a.Position,
	}
}
