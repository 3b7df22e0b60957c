package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type PlaybackStatus string

const (
	PlaybackScheduled PlaybackStatus = "scheduled"
	PlaybackCompleted PlaybackStatus = "completed"
	PlaybackFailed    PlaybackStatus = "failed"
	PlaybackCrashed   PlaybackStatus = "crashed"
)

func (s PlaybackStatus) Valid() bool {
	switch s {
	case PlaybackScheduled, PlaybackCompleted, PlaybackFailed, PlaybackCrashed:
		return true
	}
	return false
}

// PlaybackEvent is an immutable record of one play. Only CampaignID may be
// filled in later, and only once.
type PlaybackEvent struct {
	ID              int            `db:"id"               json:"id"`
	DeviceID        int            `db:"device_id"        json:"device_id"`
	CampaignID      *int           `db:"campaign_id"      json:"campaign_id"`
	JingleID        *int           `db:"jingle_id"        json:"jingle_id"`
	PlayedAt        time.Time      `db:"played_at"        json:"played_at"`
	DurationSeconds *int           `db:"duration_seconds" json:"duration_seconds"`
	Status          PlaybackStatus `db:"status"           json:"status"`
	Details         JSONMap        `db:"details"          json:"details,omitempty"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
}

// PlaybackSnapshot is the last known live state of a connected device.
type PlaybackSnapshot struct {
	DeviceID        int       `json:"device_id"`
	JingleID        *int      `json:"jingle_id,omitempty"`
	CampaignID      *int      `json:"campaign_id,omitempty"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	Playing         bool      `json:"playing"`
	ObservedAt      time.Time `json:"observed_at"`
}

// JSONMap maps a JSONB column to a free-form object.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("json map: unsupported type %T", src)
}
