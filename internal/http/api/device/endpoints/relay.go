package endpoints

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/relay"
)

type RelayController struct {
	handler *relay.Handler
}

// RelayModule mounts the websocket devices hold open to the backend.
// Devices authenticate by pairing code in their register message.
func RelayModule(h *relay.Handler) api.Module {
	ctl := &RelayController{handler: h}
	return api.ModuleFunc(func(c *api.Controller) {
		c.Raw("GET", "/relay", ctl.connect)
	})
}

// GET /api/device/relay
func (r *RelayController) connect(c *gin.Context) {
	ws, err := relay.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("remote", c.ClientIP()).Msg("relay upgrade failed")
		return
	}
	// blocks until the device goes away
	relay.Serve(c.Request.Context(), r.handler, ws, c.ClientIP())
}
