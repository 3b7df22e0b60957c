// exposes a Store interface that is passed to services w/ param requirements
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

type Store interface {
	// device functions
	CreateDevice(ctx context.Context, name, pairingCode string) (model.Device, error)
	GetDeviceByID(ctx context.Context, id int) (model.Device, error)
	GetDeviceByPairingCode(ctx context.Context, code string) (model.Device, error)
	ListDevices(ctx context.Context) ([]model.Device, error)
	PairDevice(ctx context.Context, id int, update model.PairingUpdate) (model.Device, error)
	TouchDevice(ctx context.Context, id int, status model.ConnectivityStatus) error
	RepairDevice(ctx context.Context, id int, pairingCode string) (model.Device, error)
	MarkSilentDevicesUnreachable(ctx context.Context, cutoff time.Time) ([]int, error)

	// jingle catalog + campaign functions
	GetJingleByID(ctx context.Context, id int) (model.Jingle, error)
	GetJinglesByIDs(ctx context.Context, ids []int) ([]model.Jingle, error)
	ListCampaignsForJingle(ctx context.Context, jingleID int) ([]model.Campaign, error)

	// schedule functions
	GetScheduleByID(ctx context.Context, id int) (model.Schedule, error)
	GetScheduleByDeviceID(ctx context.Context, deviceID int) (model.Schedule, error)
	ListSchedules(ctx context.Context) ([]model.Schedule, error)
	UpsertSchedule(ctx context.Context, deviceID int, window model.PlaybackWindow, isActive bool) (model.Schedule, error)
	MarkPlayOrderDirty(ctx context.Context, scheduleID int) error
	SavePlayOrder(ctx context.Context, scheduleID int, order model.PlayOrder, day time.Time) error

	// jingle assignment functions
	CreateJingleAssignment(ctx context.Context, a model.JingleAssignment) (model.JingleAssignment, error)
	GetJingleAssignment(ctx context.Context, id int) (model.JingleAssignment, error)
	UpdateJingleAssignment(ctx context.Context, a model.JingleAssignment) error
	DeleteJingleAssignment(ctx context.Context, id int) error
	ListJingleAssignments(ctx context.Context, scheduleID int) ([]model.JingleAssignment, error)

	// playback functions
	CreatePlaybackEvent(ctx context.Context, e model.PlaybackEvent) (model.PlaybackEvent, error)
	LatestPlaybackEvent(ctx context.Context, deviceID int) (model.PlaybackEvent, error)
	ListUnattributedEvents(ctx context.Context, afterID, limit int) ([]model.PlaybackEvent, error)
	BackfillCampaign(ctx context.Context, eventID, campaignID int) (bool, error)
}

type pgStore struct {
	db *sqlx.DB
}

// compile-time check that pgStore implements Store
// required so linter doesn't complain
var _ Store = (*pgStore)(nil)

func NewStore() Store {
	return &pgStore{db: DB}
}

// NewStoreWith wraps an existing connection, used when the caller owns it.
func NewStoreWith(conn *sqlx.DB) Store {
	return &pgStore{db: conn}
}

// notFound turns sql.ErrNoRows into model.ErrNotFound so callers only
// check one sentinel.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	return nil
}
