package endpoints

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/attribution"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/synchronizer"
)

const (
	defaultBackfillLimit = 500
	maxBackfillLimit     = 5000
)

type Backfiller interface {
	BackfillPending(ctx context.Context, limit int) (attribution.BackfillResult, error)
}

type Broadcaster interface {
	SyncAll(ctx context.Context) synchronizer.Result
}

type PlaybackController struct {
	backfiller Backfiller
	sync       Broadcaster
}

// PlaybackModule mounts attribution maintenance and fleet-wide push.
func PlaybackModule(backfiller Backfiller, sync Broadcaster) api.Module {
	ctl := &PlaybackController{backfiller: backfiller, sync: sync}
	return api.ModuleFunc(func(c *api.Controller) {
		c.POST("/playback/backfill", ctl.backfill)
		c.POST("/sync", ctl.syncAll)
	})
}

// POST /api/admin/playback/backfill?limit=N
func (p *PlaybackController) backfill(ctx *gin.Context, op *model.Operator) (any, *api.APIError) {
	limit := defaultBackfillLimit
	if raw := ctx.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxBackfillLimit {
			return nil, api.BadRequest("limit must be between 1 and 5000")
		}
		limit = n
	}

	res, err := p.backfiller.BackfillPending(ctx, limit)
	if err != nil {
		return nil, api.FromError(err)
	}
	log.Info().Int("operator_id", op.ID).Int("attributed", res.Attributed).Msg("manual attribution backfill")
	return res, nil
}

// POST /api/admin/sync
func (p *PlaybackController) syncAll(ctx *gin.Context, _ *model.Operator) (any, *api.APIError) {
	return p.sync.SyncAll(ctx), nil
}
