package main

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/attribution"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/config"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/db"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/http/api"
	adminapi "github.com/Nixie-Tech-LLC/jinglecast/internal/http/api/admin/control/endpoints"
	deviceapi "github.com/Nixie-Tech-LLC/jinglecast/internal/http/api/device/endpoints"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/pairing"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/redis"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/relay"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/schedule"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/synchronizer"
)

// Services is everything the HTTP surface is built on.
type Services struct {
	Store     db.Store
	Schedules *schedule.Service
	Resolver  *attribution.Resolver
	Relay     *relay.Handler
	Sync      *synchronizer.Synchronizer
	Live      *redis.LiveStatusPublisher
}

// RegisterRoutes sets up all application routes
func RegisterRoutes(r *gin.Engine, cfg *config.Config, svc Services) {
	// CORS
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"DELETE",
			"OPTIONS",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
		},
		ExposeHeaders: []string{
			"Content-Length",
		},
		AllowCredentials: false,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": svc.Relay.Registry().Len(),
		})
	})

	admin := []api.Module{
		adminapi.DeviceModule(svc.Store, svc.Relay, pairing.NewCode),
		adminapi.ScheduleModule(svc.Schedules),
		adminapi.PlaybackModule(svc.Resolver, svc.Sync),
	}
	if svc.Live != nil {
		admin = append(admin, adminapi.LiveModule(svc.Live))
	}
	api.MountGroup(r, api.GroupConfig{
		Prefix:    "/api/admin",
		Auth:      true,
		SecretKey: cfg.JWTSecret,
	}, admin...)

	api.MountGroup(r, api.GroupConfig{
		Prefix: "/api/device",
	},
		deviceapi.RelayModule(svc.Relay),
	)
}
