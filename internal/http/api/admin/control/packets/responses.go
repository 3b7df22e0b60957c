package packets

// RESPONSES FOR /api/admin/*

import "github.com/Nixie-Tech-LLC/jinglecast/internal/model"

// DeviceResponse mirrors model.Device but flattens times to RFC3339 and
// adds whether a relay session is live.
type DeviceResponse struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	SerialNumber *string  `json:"serial_number"`
	PairingCode  string   `json:"pairing_code"`
	PairingState string   `json:"pairing_state"`
	Status       string   `json:"status"`
	Connected    bool     `json:"connected"`
	IPAddress    *string  `json:"ip_address"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	LastSeenAt   *string  `json:"last_seen_at"`
	PairedAt     *string  `json:"paired_at"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
}

type ScheduleResponse struct {
	ID          int              `json:"id"`
	DeviceID    int              `json:"device_id"`
	WindowStart string           `json:"window_start"`
	WindowEnd   string           `json:"window_end"`
	IsActive    bool             `json:"is_active"`
	PlayOrder   *model.PlayOrder `json:"play_order"`
	Dirty       bool             `json:"dirty"`
}

type JingleAssignmentResponse struct {
	ID         int    `json:"id"`
	ScheduleID int    `json:"schedule_id"`
	JingleID   int    `json:"jingle_id"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	Spots      int    `json:"spots"`
	IsActive   bool   `json:"is_active"`
	Position   int    `json:"position"`
}

type LoopPreviewResponse struct {
	Sequence     []int       `json:"sequence"`
	GCD          int         `json:"gcd"`
	RepeatCounts map[int]int `json:"repeat_counts"`
	Length       int         `json:"length"`
}

type SessionResponse struct {
	DeviceID     int    `json:"device_id"`
	ConnectionID string `json:"connection_id"`
	RemoteAddr   string `json:"remote_addr"`
	ConnectedAt  string `json:"connected_at"`
	Pending      int    `json:"pending_pulls"`
}

type MessageResponse struct {
	Message string `json:"message"`
}
