package model

import "time"

type PairingState string

const (
	PairingUnpaired PairingState = "unpaired"
	PairingPaired   PairingState = "paired"
)

type ConnectivityStatus string

const (
	StatusOffline     ConnectivityStatus = "offline"
	StatusOnline      ConnectivityStatus = "online"
	StatusError       ConnectivityStatus = "error"
	StatusMaintenance ConnectivityStatus = "maintenance"
)

// Device represents a remote playback unit in the fleet.
type Device struct {
	ID           int                `db:"id"            json:"id"`
	SerialNumber *string            `db:"serial_number" json:"serial_number"`
	PairingCode  string             `db:"pairing_code"  json:"pairing_code"`
	Name         string             `db:"name"          json:"name"`
	PairingState PairingState       `db:"pairing_state" json:"pairing_state"`
	Status       ConnectivityStatus `db:"status"        json:"status"`
	LastSeenAt   *time.Time         `db:"last_seen_at"  json:"last_seen_at"`
	PairedAt     *time.Time         `db:"paired_at"     json:"paired_at"`
	IPAddress    *string            `db:"ip_address"    json:"ip_address"`
	Latitude     *float64           `db:"latitude"      json:"latitude"`
	Longitude    *float64           `db:"longitude"     json:"longitude"`
	CreatedAt    time.Time          `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at"    json:"updated_at"`
}

func (d Device) Paired() bool { return d.PairingState == PairingPaired }

// PairingUpdate carries what a device reports when it registers. Location is
// only recorded the first time a device pairs.
type PairingUpdate struct {
	SerialNumber string
	Name         *string
	IPAddress    *string
	Latitude     *float64
	Longitude    *float64
}
