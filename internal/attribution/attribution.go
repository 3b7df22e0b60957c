// Package attribution links playback events to the campaign that most
// plausibly paid for them.
package attribution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

// CampaignLookup lists every campaign that includes a jingle.
type CampaignLookup interface {
	ListCampaignsForJingle(ctx context.Context, jingleID int) ([]model.Campaign, error)
}

// EventBackfiller writes a campaign onto events that were stored without one.
type EventBackfiller interface {
	// ListUnattributedEvents returns up to limit events with id > afterID,
	// in id order.
	ListUnattributedEvents(ctx context.Context, afterID, limit int) ([]model.PlaybackEvent, error)
	BackfillCampaign(ctx context.Context, eventID, campaignID int) (bool, error)
}

type Store interface {
	CampaignLookup
	EventBackfiller
}

type Resolver struct {
	store Store

	// cursor is the last event id a backfill pass looked at.
	cursorMu sync.Mutex
	cursor   int
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve picks the campaign for a jingle played at the given time. A nil
// campaign with a nil error means nothing qualified.
func (r *Resolver) Resolve(ctx context.Context, jingleID int, at time.Time) (*model.Campaign, error) {
	candidates, err := r.store.ListCampaignsForJingle(ctx, jingleID)
	if err != nil {
		return nil, fmt.Errorf("list campaigns for jingle %d: %w", jingleID, err)
	}
	return Select(candidates, at), nil
}

// Select applies the attribution rules to a candidate set:
//
//  1. campaigns whose [start, end] contains the play date win, earliest start first
//  2. otherwise the campaign whose start date is closest to the play time
//
// Campaigns without a start date never qualify. A missing end date is open ended.
func Select(candidates []model.Campaign, at time.Time) *model.Campaign {
	day := model.DateOf(at)

	var contained *model.Campaign
	for i := range candidates {
		c := &candidates[i]
		if c.StartDate == nil {
			continue
		}
		start := model.DateOf(*c.StartDate)
		if day.Before(start) {
			continue
		}
		if c.EndDate != nil && day.After(model.DateOf(*c.EndDate)) {
			continue
		}
		if contained == nil || earlier(c, contained) {
			contained = c
		}
	}
	if contained != nil {
		out := *contained
		return &out
	}

	instant := civil(at)
	var closest *model.Campaign
	var best time.Duration
	for i := range candidates {
		c := &candidates[i]
		if c.StartDate == nil {
			continue
		}
		d := instant.Sub(model.DateOf(*c.StartDate))
		if d < 0 {
			d = -d
		}
		if closest == nil || d < best || (d == best && earlier(c, closest)) {
			closest, best = c, d
		}
	}
	if closest == nil {
		return nil
	}
	out := *closest
	return &out
}

func earlier(a, b *model.Campaign) bool {
	as, bs := model.DateOf(*a.StartDate), model.DateOf(*b.StartDate)
	if !as.Equal(bs) {
		return as.Before(bs)
	}
	return a.ID < b.ID
}

// civil reads t's wall clock as if it were UTC so it compares cleanly with
// DATE columns.
func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// ResolveAndBackfill attributes a stored event that has no campaign. The
// write only lands if the event is still unattributed, so concurrent
// backfills settle on the first writer.
func (r *Resolver) ResolveAndBackfill(ctx context.Context, e model.PlaybackEvent) (*model.Campaign, bool, error) {
	if e.CampaignID != nil || e.JingleID == nil {
		return nil, false, nil
	}
	c, err := r.Resolve(ctx, *e.JingleID, e.PlayedAt)
	if err != nil || c == nil {
		return nil, false, err
	}
	written, err := r.store.BackfillCampaign(ctx, e.ID, c.ID)
	if err != nil {
		return nil, false, fmt.Errorf("backfill event %d: %w", e.ID, err)
	}
	return c, written, nil
}

type BackfillResult struct {
	Scanned    int `json:"scanned"`
	Attributed int `json:"attributed"`
	Failed     int `json:"failed"`
}

// BackfillPending walks up to limit unattributed events, resuming after the
// last event the previous pass saw. Events that stay unresolvable are
// skipped until the walk reaches the end and starts over. A failure on one
// event is logged and does not stop the rest.
func (r *Resolver) BackfillPending(ctx context.Context, limit int) (BackfillResult, error) {
	var res BackfillResult

	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	events, err := r.store.ListUnattributedEvents(ctx, r.cursor, limit)
	if err != nil {
		return res, fmt.Errorf("list unattributed events: %w", err)
	}
	if len(events) < limit {
		r.cursor = 0
	}
	for _, e := range events {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if len(events) == limit {
			r.cursor = e.ID
		}
		res.Scanned++
		_, written, err := r.ResolveAndBackfill(ctx, e)
		if err != nil {
			res.Failed++
			log.Warn().Err(err).Int("event_id", e.ID).Msg("attribution backfill failed")
			continue
		}
		if written {
			res.Attributed++
		}
	}
	return res, nil
}
