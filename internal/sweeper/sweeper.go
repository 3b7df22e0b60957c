// Package sweeper runs the periodic maintenance passes: downgrading
// silent devices and reconciling schedules with the calendar.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/attribution"
	"github.com/Nixie-Tech-LLC/jinglecast/internal/synchronizer"
)

type HealthStore interface {
	MarkSilentDevicesUnreachable(ctx context.Context, cutoff time.Time) ([]int, error)
}

type Reconciler interface {
	ReconcileStale(ctx context.Context) ([]int, error)
}

type Syncer interface {
	SyncDevices(ctx context.Context, deviceIDs []int) synchronizer.Result
}

type Backfiller interface {
	BackfillPending(ctx context.Context, limit int) (attribution.BackfillResult, error)
}

type Config struct {
	HealthInterval    time.Duration
	SilenceThreshold  time.Duration
	ReconcileInterval time.Duration
	BackfillBatch     int
}

type Sweeper struct {
	cfg        Config
	health     HealthStore
	reconciler Reconciler
	syncer     Syncer
	backfiller Backfiller
	now        func() time.Time
}

func New(cfg Config, health HealthStore, reconciler Reconciler, syncer Syncer, backfiller Backfiller) *Sweeper {
	if cfg.BackfillBatch <= 0 {
		cfg.BackfillBatch = 500
	}
	return &Sweeper{
		cfg:        cfg,
		health:     health,
		reconciler: reconciler,
		syncer:     syncer,
		backfiller: backfiller,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()
	reconcile := time.NewTicker(s.cfg.ReconcileInterval)
	defer reconcile.Stop()

	log.Info().
		Dur("health_interval", s.cfg.HealthInterval).
		Dur("reconcile_interval", s.cfg.ReconcileInterval).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-health.C:
			s.SweepHealth(ctx)
		case <-reconcile.C:
			s.Reconcile(ctx)
		}
	}
}

// SweepHealth marks online devices that stopped heartbeating as unreachable.
func (s *Sweeper) SweepHealth(ctx context.Context) []int {
	cutoff := s.now().Add(-s.cfg.SilenceThreshold)
	ids, err := s.health.MarkSilentDevicesUnreachable(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("health sweep failed")
		return nil
	}
	if len(ids) > 0 {
		log.Warn().Ints("device_ids", ids).Msg("devices marked unreachable")
	}
	return ids
}

// Reconcile rebuilds stale play orders, pushes whatever changed and retries
// campaign attribution for unattributed events.
func (s *Sweeper) Reconcile(ctx context.Context) {
	changed, err := s.reconciler.ReconcileStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("schedule reconcile failed")
	}
	if len(changed) > 0 {
		res := s.syncer.SyncDevices(ctx, changed)
		log.Info().Ints("device_ids", changed).Int("pushed", len(res.Pushed)).Msg("reconciled schedules")
	}

	if s.backfiller == nil {
		return
	}
	res, err := s.backfiller.BackfillPending(ctx, s.cfg.BackfillBatch)
	if err != nil {
		log.Error().Err(err).Msg("attribution backfill failed")
		return
	}
	if res.Attributed > 0 || res.Failed > 0 {
		log.Info().Int("scanned", res.Scanned).Int("attributed", res.Attributed).Int("failed", res.Failed).Msg("attribution backfill")
	}
}
