package endpoints

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api/admin/control/packets"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/rotation"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/schedule"
)

type ScheduleService interface {
	UpsertSchedule(ctx context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error)
	AddJingleAssignment(ctx context.Context, in model.JingleAssignment) (model.JingleAssignment, error)
	UpdateJingleAssignment(ctx context.Context, id int, patch model.AssignmentPatch) (model.JingleAssignment, error)
	RemoveJingleAssignment(ctx context.Context, id int) error
	ActiveLoopForDevice(ctx context.Context, deviceID int, asOf time.Time) (model.DeviceLoop, error)
	Regenerate(ctx context.Context, deviceID int) (model.DeviceLoop, error)
	Location() *time.Location
}

type ScheduleController struct {
	schedules ScheduleService
}

// ScheduleModule mounts schedule, jingle booking and loop endpoints.
func ScheduleModule(schedules ScheduleService) api.Module {
	ctl := &ScheduleController{schedules: schedules}
	return api.ModuleFunc(func(c *api.Controller) {
		c.PUT("/devices/:id/schedule", ctl.upsertSchedule)
		c.GET("/devices/:id/loop", ctl.getLoop)
		c.POST("/devices/:id/loop/regenerate", ctl.regenerateLoop)

		c.POST("/schedules/:id/jingles", ctl.addJingle)
		c.PUT("/schedules/jingles/:assignment_id", ctl.updateJingle)
		c.DELETE("/schedules/jingles/:assignment_id", ctl.removeJingle)

		c.POST("/loops/preview", ctl.previewLoop)
	})
}

// PUT /api/admin/devices/:id/schedule
func (s *ScheduleController) upsertSchedule(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.UpsertScheduleRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	active := true
	if request.IsActive != nil {
		active = *request.IsActive
	}

	sc, err := s.schedules.UpsertSchedule(ctx, id, model.PlaybackWindow{Start: request.WindowStart, End: request.WindowEnd}, active)
	if err != nil {
		return nil, api.FromError(err)
	}
	return toScheduleResponse(sc), nil
}

// GET /api/admin/devices/:id/loop?as_of=YYYY-MM-DD
func (s *ScheduleController) getLoop(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	asOf := time.Now()
	if raw := ctx.Query("as_of"); raw != "" {
		d, err := time.ParseInLocation(dateLayout, raw, s.schedules.Location())
		if err != nil {
			return nil, api.BadRequest("as_of must be YYYY-MM-DD")
		}
		asOf = d
	}

	loop, err := s.schedules.ActiveLoopForDevice(ctx, id, asOf)
	if err != nil {
		return nil, api.FromError(err)
	}
	return loop, nil
}

// POST /api/admin/devices/:id/loop/regenerate
func (s *ScheduleController) regenerateLoop(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	loop, err := s.schedules.Regenerate(ctx, id)
	if err != nil {
		return nil, api.FromError(err)
	}
	return loop, nil
}

// POST /api/admin/schedules/:id/jingles
func (s *ScheduleController) addJingle(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	scheduleID, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.AddJingleAssignmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	start, apiErr := parseDate("start_date", request.StartDate)
	if apiErr != nil {
		return nil, apiErr
	}
	end, apiErr := parseDate("end_date", request.EndDate)
	if apiErr != nil {
		return nil, apiErr
	}
	active := true
	if request.IsActive != nil {
		active = *request.IsActive
	}

	a, err := s.schedules.AddJingleAssignment(ctx, model.JingleAssignment{
		ScheduleID: scheduleID,
		JingleID:   request.JingleID,
		StartDate:  start,
		EndDate:    end,
		Spots:      request.Spots,
		IsActive:   active,
	})
	if err != nil {
		return nil, api.FromError(err)
	}
	return toAssignmentResponse(a), nil
}

// PUT /api/admin/schedules/jingles/:assignment_id
func (s *ScheduleController) updateJingle(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "assignment_id")
	if apiErr != nil {
		return nil, apiErr
	}
	var request packets.UpdateJingleAssignmentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}

	patch := model.AssignmentPatch{Spots: request.Spots, IsActive: request.IsActive}
	if request.StartDate != nil {
		d, apiErr := parseDate("start_date", *request.StartDate)
		if apiErr != nil {
			return nil, apiErr
		}
		patch.StartDate = &d
	}
	if request.EndDate != nil {
		d, apiErr := parseDate("end_date", *request.EndDate)
		if apiErr != nil {
			return nil, apiErr
		}
		patch.EndDate = &d
	}

	a, err := s.schedules.UpdateJingleAssignment(ctx, id, patch)
	if err != nil {
		return nil, api.FromError(err)
	}
	return toAssignmentResponse(a), nil
}

// DELETE /api/admin/schedules/jingles/:assignment_id
func (s *ScheduleController) removeJingle(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "assignment_id")
	if apiErr != nil {
		return nil, apiErr
	}
	if err := s.schedules.RemoveJingleAssignment(ctx, id); err != nil {
		return nil, api.FromError(err)
	}
	return packets.MessageResponse{Message: "jingle removed from schedule"}, nil
}

// POST /api/admin/loops/preview
func (s *ScheduleController) previewLoop(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	var request packets.PreviewLoopRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		return nil, api.BadRequest(err.Error())
	}
	weights := make([]rotation.Weighted, 0, len(request.Items))
	for _, item := range request.Items {
		weights = append(weights, rotation.Weighted{ID: item.JingleID, Weight: item.Weight})
	}

	order := schedule.Preview(weights)
	return packets.LoopPreviewResponse{
		Sequence:     order.Sequence,
		GCD:          order.GCD,
		RepeatCounts: order.RepeatCounts,
		Length:       order.Len(),
	}, nil
}
