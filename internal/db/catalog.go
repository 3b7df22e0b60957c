package db

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

func (s *pgStore) GetJingleByID(ctx context.Context, id int) (model.Jingle, error) {
	var j model.Jingle
	err := s.db.GetContext(ctx, &j, `
		SELECT id, title, filename, duration_seconds, created_at
		  FROM jingles
		 WHERE id = $1`, id)
	if err != nil {
		return model.Jingle{}, notFound(err, fmt.Sprintf("jingle %d", id))
	}
	return j, nil
}

func (s *pgStore) GetJinglesByIDs(ctx context.Context, ids []int) ([]model.Jingle, error) {
	out := []model.Jingle{}
	if len(ids) == 0 {
		return out, nil
	}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, title, filename, duration_seconds, created_at
		  FROM jingles
		 WHERE id = ANY($1)
		 ORDER BY id`, pq.Array(ids))
	if err != nil {
		log.Error().Err(err).Msg("failed to load jingles")
		return nil, err
	}
	return out, nil
}

func (s *pgStore) ListCampaignsForJingle(ctx context.Context, jingleID int) ([]model.Campaign, error) {
	out := []model.Campaign{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT c.id, c.name, c.brand, c.status, c.start_date, c.end_date
		  FROM campaigns c
		  JOIN campaign_jingles cj ON cj.campaign_id = c.id
		 WHERE cj.jingle_id = $1
		 ORDER BY c.id`, jingleID)
	if err != nil {
		log.Error().Err(err).Int("jingle_id", jingleID).Msg("failed to list campaigns for jingle")
		return nil, err
	}
	return out, nil
}
