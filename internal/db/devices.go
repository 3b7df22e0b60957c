package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

const deviceColumns = `id, serial_number, pairing_code, name, pairing_state, status,
	last_seen_at, paired_at, ip_address, latitude, longitude, created_at, updated_at`

func (s *pgStore) CreateDevice(ctx context.Context, name, pairingCode string) (model.Device, error) {
	var d model.Device
	q := `
	INSERT INTO devices (name, pairing_code, pairing_state, status, created_at, updated_at)
	VALUES ($1, $2, 'unpaired', 'offline', now(), now())
	RETURNING ` + deviceColumns
	if err := s.db.GetContext(ctx, &d, q, name, pairingCode); err != nil {
		if isUniqueViolation(err) {
			return model.Device{}, fmt.Errorf("%w: pairing code in use", model.ErrPairingConflict)
		}
		log.Error().Err(err).Msg("failed to create device")
		return model.Device{}, err
	}
	return d, nil
}

func (s *pgStore) GetDeviceByID(ctx context.Context, id int) (model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	if err != nil {
		return model.Device{}, notFound(err, fmt.Sprintf("device %d", id))
	}
	return d, nil
}

func (s *pgStore) GetDeviceByPairingCode(ctx context.Context, code string) (model.Device, error) {
	var d model.Device
	err := s.db.GetContext(ctx, &d, `SELECT `+deviceColumns+` FROM devices WHERE pairing_code = $1`, code)
	if err != nil {
		return model.Device{}, notFound(err, "pairing code")
	}
	return d, nil
}

func (s *pgStore) ListDevices(ctx context.Context) ([]model.Device, error) {
	var out []model.Device
	if err := s.db.SelectContext(ctx, &out, `SELECT `+deviceColumns+` FROM devices ORDER BY id`); err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		return nil, err
	}
	return out, nil
}

// PairDevice binds the serial number and brings the device online. The
// pairing timestamp and location are only written the first time. A device
// already bound to a different serial is left untouched.
func (s *pgStore) PairDevice(ctx context.Context, id int, u model.PairingUpdate) (model.Device, error) {
	var d model.Device
	q := `
	UPDATE devices
	   SET serial_number = $2,
	       pairing_state = 'paired',
	       status        = 'online',
	       last_seen_at  = now(),
	       paired_at     = COALESCE(paired_at, now()),
	       name          = COALESCE($3, name),
	       ip_address    = COALESCE($4, ip_address),
	       latitude      = COALESCE(latitude, $5),
	       longitude     = COALESCE(longitude, $6),
	       updated_at    = now()
	 WHERE id = $1
	   AND (serial_number IS NULL OR serial_number = $2)
	RETURNING ` + deviceColumns
	err := s.db.GetContext(ctx, &d, q, id, u.SerialNumber, u.Name, u.IPAddress, u.Latitude, u.Longitude)
	if isUniqueViolation(err) {
		return model.Device{}, fmt.Errorf("serial %s: %w", u.SerialNumber, model.ErrPairingConflict)
	}
	if errors.Is(err, sql.ErrNoRows) {
		// no row matched: either the device is gone or another serial won
		if _, getErr := s.GetDeviceByID(ctx, id); getErr != nil {
			return model.Device{}, getErr
		}
		return model.Device{}, fmt.Errorf("device %d bound to another serial: %w", id, model.ErrPairingConflict)
	}
	if err != nil {
		log.Error().Err(err).Int("device_id", id).Msg("failed to pair device")
		return model.Device{}, err
	}
	return d, nil
}

func (s *pgStore) TouchDevice(ctx context.Context, id int, status model.ConnectivityStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices
		   SET last_seen_at = now(),
		       status       = $2,
		       updated_at   = now()
		 WHERE id = $1`, id, status)
	if err != nil {
		log.Error().Err(err).Int("device_id", id).Msg("failed to touch device")
		return err
	}
	return requireRow(res, fmt.Sprintf("device %d", id))
}

// RepairDevice returns a device to the unpaired state under a new code.
func (s *pgStore) RepairDevice(ctx context.Context, id int, pairingCode string) (model.Device, error) {
	var d model.Device
	q := `
	UPDATE devices
	   SET pairing_code  = $2,
	       pairing_state = 'unpaired',
	       status        = 'offline',
	       serial_number = NULL,
	       paired_at     = NULL,
	       last_seen_at  = NULL,
	       updated_at    = now()
	 WHERE id = $1
	RETURNING ` + deviceColumns
	if err := s.db.GetContext(ctx, &d, q, id, pairingCode); err != nil {
		return model.Device{}, notFound(err, fmt.Sprintf("device %d", id))
	}
	return d, nil
}

// MarkSilentDevicesUnreachable flips online devices that have not been seen
// since cutoff to the error status and returns their ids.
func (s *pgStore) MarkSilentDevicesUnreachable(ctx context.Context, cutoff time.Time) ([]int, error) {
	var ids []int
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE devices
		   SET status     = 'error',
		       updated_at = now()
		 WHERE status = 'online'
		   AND (last_seen_at IS NULL OR last_seen_at < $1)
		RETURNING id`, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to downgrade silent devices")
		return nil, err
	}
	return ids, nil
}
