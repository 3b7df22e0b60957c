package endpoints

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

type LiveFeed interface {
	LastStatus(ctx context.Context, deviceID int) (model.PlaybackSnapshot, error)
	Subscribe(ctx context.Context, deviceID int) <-chan model.PlaybackSnapshot
}

type LiveController struct {
	feed LiveFeed
}

// LiveModule mounts the dashboard feed of pushed playback snapshots.
func LiveModule(feed LiveFeed) api.Module {
	ctl := &LiveController{feed: feed}
	return api.ModuleFunc(func(c *api.Controller) {
		c.GET("/live/stream", ctl.stream)
		c.GET("/live/devices/:id", ctl.lastStatus)
	})
}

// GET /api/admin/live/devices/:id
func (l *LiveController) lastStatus(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	id, apiErr := pathID(ctx, "id")
	if apiErr != nil {
		return nil, apiErr
	}
	snap, err := l.feed.LastStatus(ctx, id)
	if err != nil {
		return nil, api.FromError(err)
	}
	return snap, nil
}

// GET /api/admin/live/stream?device_id=N streams snapshots as server-sent
// events until the client goes away.
func (l *LiveController) stream(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	deviceID := 0
	if raw := ctx.Query("device_id"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, api.BadRequest("invalid device_id")
		}
		deviceID = n
	}

	done := ctx.Request.Context().Done()
	updates := l.feed.Subscribe(ctx.Request.Context(), deviceID)
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("X-Accel-Buffering", "no")
	for {
		select {
		case <-done:
			return nil, nil
		case snap, ok := <-updates:
			if !ok {
				return nil, nil
			}
			ctx.SSEvent("status", snap)
			ctx.Writer.Flush()
		}
	}
}
