package db

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const playbackColumns = `id, device_id, campaign_id, jingle_id, played_at, duration_seconds,
	status, details, created_at`

func (s *pgStore) CreatePlaybackEvent(ctx context.Context, e model.PlaybackEvent) (model.PlaybackEvent, error) {
	var out model.PlaybackEvent
	q := `
	INSERT INTO playback_events (device_id, campaign_id, jingle_id, played_at, duration_seconds, status, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	RETURNING ` + playbackColumns
	err := s.db.GetContext(ctx, &out, q,
		e.DeviceID, e.CampaignID, e.JingleID, e.PlayedAt, e.DurationSeconds, e.Status, e.Details)
	if err != nil {
		log.Error().Err(err).Int("device_id", e.DeviceID).Msg("failed to create playback event")
		return model.PlaybackEvent{}, err
	}
	return out, nil
}

func (s *pgStore) LatestPlaybackEvent(ctx context.Context, deviceID int) (model.PlaybackEvent, error) {
	var e model.PlaybackEvent
	err := s.db.GetContext(ctx, &e, `
		SELECT `+playbackColumns+`
		  FROM playback_events
		 WHERE device_id = $1
		   AND jingle_id IS NOT NULL
		 ORDER BY played_at DESC, id DESC
		 LIMIT 1`, deviceID)
	if err != nil {
		return model.PlaybackEvent{}, notFound(err, fmt.Sprintf("playback for device %d", deviceID))
	}
	return e, nil
}

// ListUnattributedEvents pages through events still missing a campaign,
// starting after afterID.
func (s *pgStore) ListUnattributedEvents(ctx context.Context, afterID, limit int) ([]model.PlaybackEvent, error) {
	out := []model.PlaybackEvent{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+playbackColumns+`
		  FROM playback_events
		 WHERE campaign_id IS NULL
		   AND jingle_id IS NOT NULL
		   AND id > $1
		 ORDER BY id
		 LIMIT $2`, afterID, limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to list unattributed playback events")
		return nil, err
	}
	return out, nil
}

// BackfillCampaign attaches a campaign only if the event still has none.
// It reports whether this call did the write.
func (s *pgStore) BackfillCampaign(ctx context.Context, eventID, campaignID int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE playback_events
		   SET campaign_id = $2
		 WHERE id = $1
		   AND campaign_id IS NULL`, eventID, campaignID)
	if err != nil {
		log.Error().Err(err).Int("event_id", eventID).Msg("failed to backfill campaign")
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
