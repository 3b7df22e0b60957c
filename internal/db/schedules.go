// internal/db/schedules.go
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const scheduleColumns = `id, device_id, window_start::text AS window_start, window_end::text AS window_end,
	is_active, play_order, play_order_date, play_order_dirty, created_at, updated_at`

const assignmentColumns = `id, schedule_id, jingle_id, start_date, end_date, spots, is_active,
	position, created_at, updated_at`

func (s *pgStore) GetScheduleByID(ctx context.Context, id int) (model.Schedule, error) {
	var sc model.Schedule
	err := s.db.GetContext(ctx, &sc, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id)
	if err != nil {
		return model.Schedule{}, notFound(err, fmt.Sprintf("schedule %d", id))
	}
	return sc, nil
}

func (s *pgStore) GetScheduleByDeviceID(ctx context.Context, deviceID int) (model.Schedule, error) {
	var sc model.Schedule
	err := s.db.GetContext(ctx, &sc, `SELECT `+scheduleColumns+` FROM schedules WHERE device_id = $1`, deviceID)
	if err != nil {
		return model.Schedule{}, notFound(err, fmt.Sprintf("schedule for device %d", deviceID))
	}
	return sc, nil
}

func (s *pgStore) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	var out []model.Schedule
	if err := s.db.SelectContext(ctx, &out, `SELECT `+scheduleColumns+` FROM schedules ORDER BY id`); err != nil {
		log.Error().Err(err).Msg("ListSchedules failed")
		return nil, err
	}
	return out, nil
}

// UpsertSchedule creates or replaces the device's schedule. Any change
// leaves the cached play order dirty.
func (s *pgStore) UpsertSchedule(ctx context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error) {
	var sc model.Schedule
	q := `
	INSERT INTO schedules (device_id, window_start, window_end, is_active, play_order_dirty, created_at, updated_at)
	VALUES ($1, $2::time, $3::time, $4, TRUE, now(), now())
	ON CONFLICT (device_id) DO UPDATE
	   SET window_start     = EXCLUDED.window_start,
	       window_end       = EXCLUDED.window_end,
	       is_active        = EXCLUDED.is_active,
	       play_order_dirty = TRUE,
	       updated_at       = now()
	RETURNING ` + scheduleColumns
	if err := s.db.GetContext(ctx, &sc, q, deviceID, window.Start, window.End, isActive); err != nil {
		log.Error().Err(err).Int("device_id", deviceID).Msg("UpsertSchedule failed")
		return model.Schedule{}, err
	}
	return sc, nil
}

func (s *pgStore) MarkPlayOrderDirty(ctx context.Context, scheduleID int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		   SET play_order_dirty = TRUE,
		       updated_at       = now()
		 WHERE id = $1`, scheduleID)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("MarkPlayOrderDirty failed")
		return err
	}
	return requireRow(res, fmt.Sprintf("schedule %d", scheduleID))
}

func (s *pgStore) SavePlayOrder(ctx context.Context, scheduleID int, order model.PlayOrder, day time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		   SET play_order       = $2,
		       play_order_date  = $3::date,
		       play_order_dirty = FALSE,
		       updated_at       = now()
		 WHERE id = $1`, scheduleID, order, model.DateOf(day).Format("2006-01-02"))
	if err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("SavePlayOrder failed")
		return err
	}
	return requireRow(res, fmt.Sprintf("schedule %d", scheduleID))
}

func (s *pgStore) CreateJingleAssignment(ctx context.Context, a model.JingleAssignment) (model.JingleAssignment, error) {
	var out model.JingleAssignment
	q := `
	INSERT INTO jingle_assignments (schedule_id, jingle_id, start_date, end_date, spots, is_active, position, created_at, updated_at)
	VALUES ($1, $2, $3::date, $4::date, $5, $6,
	        COALESCE((SELECT MAX(position) + 1 FROM jingle_assignments WHERE schedule_id = $1), 0),
	        now(), now())
	RETURNING ` + assignmentColumns
	err := s.db.GetContext(ctx, &out, q,
		a.ScheduleID, a.JingleID,
		a.StartDate.Format("2006-01-02"), a.EndDate.Format("2006-01-02"),
		a.Spots, a.IsActive)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", a.ScheduleID).Int("jingle_id", a.JingleID).Msg("CreateJingleAssignment failed")
		return model.JingleAssignment{}, err
	}
	return out, nil
}

func (s *pgStore) GetJingleAssignment(ctx context.Context, id int) (model.JingleAssignment, error) {
	var a model.JingleAssignment
	err := s.db.GetContext(ctx, &a, `SELECT `+assignmentColumns+` FROM jingle_assignments WHERE id = $1`, id)
	if err != nil {
		return model.JingleAssignment{}, notFound(err, fmt.Sprintf("assignment %d", id))
	}
	return a, nil
}

func (s *pgStore) UpdateJingleAssignment(ctx context.Context, a model.JingleAssignment) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jingle_assignments
		   SET start_date = $2::date,
		       end_date   = $3::date,
		       spots      = $4,
		       is_active  = $5,
		       updated_at = now()
		 WHERE id = $1`,
		a.ID, a.StartDate.Format("2006-01-02"), a.EndDate.Format("2006-01-02"), a.Spots, a.IsActive)
	if err != nil {
		log.Error().Err(err).Int("assignment_id", a.ID).Msg("UpdateJingleAssignment failed")
		return err
	}
	return requireRow(res, fmt.Sprintf("assignment %d", a.ID))
}

func (s *pgStore) DeleteJingleAssignment(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jingle_assignments WHERE id = $1`, id)
	if err != nil {
		log.Error().Err(err).Int("assignment_id", id).Msg("DeleteJingleAssignment failed")
		return err
	}
	return requireRow(res, fmt.Sprintf("assignment %d", id))
}

// ListJingleAssignments returns assignments in insertion order, which is
// the tie-break order used when building a loop.
func (s *pgStore) ListJingleAssignments(ctx context.Context, scheduleID int) ([]model.JingleAssignment, error) {
	out := []model.JingleAssignment{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT `+assignmentColumns+`
		  FROM jingle_assignments
		 WHERE schedule_id = $1
		 ORDER BY position, id`, scheduleID)
	if err != nil {
		log.Error().Err(err).Int("schedule_id", scheduleID).Msg("ListJingleAssignments failed")
		return nil, err
	}
	return out, nil
}
