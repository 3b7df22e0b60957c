package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/attribution"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/config"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/db"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/mqtt"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/redis"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/relay"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/schedule"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/sweeper"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/synchronizer"
)

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func main() {
	// load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// initialize PostgreSQL
	if err := db.Init(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("db init")
	}
	defer db.DB.Close()

	// run pending migrations
	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	store := db.NewStore()

	schedules := schedule.NewService(store, schedule.WithLocation(cfg.Location))
	resolver := attribution.NewResolver(store)
	registry := relay.NewRegistry()
	handler := relay.NewHandler(store, store, schedules, resolver, registry,
		relay.WithPullTimeout(cfg.Relay.PullTimeout),
	)

	syncOpts := []synchronizer.Option{}
	if cfg.MQTT.Enabled() {
		publisher, err := mqtt.Connect(cfg.MQTT.BrokerURL, cfg.MQTT.ClientID)
		if err != nil {
			log.Fatal().Err(err).Msg("mqtt connect")
		}
		defer publisher.Close()
		syncOpts = append(syncOpts, synchronizer.WithMirror(publisher))
	}
	syncer := synchronizer.New(registry, schedules, store, syncOpts...)
	schedules.SetNotifier(syncer)

	var live *redis.LiveStatusPublisher
	if cfg.Redis.Enabled() {
		if err := redis.InitRedis(ctx, cfg.Redis.Address, cfg.Redis.Username, cfg.Redis.Password); err != nil {
			log.Fatal().Err(err).Msg("redis init")
		}
		defer redis.Rdb.Close()
		live = redis.NewLiveStatusPublisher(redis.Rdb, cfg.Redis.LiveTTL)
		handler.AddObserver(live)
	}

	sweep := sweeper.New(sweeper.Config{
		HealthInterval:    cfg.Relay.HealthInterval,
		SilenceThreshold:  cfg.Relay.SilenceThreshold,
		ReconcileInterval: cfg.Relay.ReconcileInterval,
		BackfillBatch:     cfg.Relay.BackfillBatch,
	}, store, schedules, syncer, resolver)
	go sweep.Run(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, cfg, Services{
		Store:     store,
		Schedules: schedules,
		Resolver:  resolver,
		Relay:     handler,
		Sync:      syncer,
		Live:      live,
	})

	srv := &http.Server{Addr: cfg.ServerAddress, Handler: r}
	go func() {
		log.Info().Str("addr", cfg.ServerAddress).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	for _, s := range registry.Sessions() {
		_ = s.Conn.Close()
	}
	syncer.Wait()
	log.Info().Msg("shutdown complete")
}
