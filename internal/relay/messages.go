package relay

import (
	"encoding/json"
	"time"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

type MessageType string

// inbound
const (
	TypeRegister    MessageType = "register"
	TypeHeartbeat   MessageType = "heartbeat"
	TypePlaybackLog MessageType = "playback_log"
	TypeCrashReport MessageType = "crash_report"
	TypeLiveStatus  MessageType = "live_status"
)

// outbound
const (
	TypeRegistered        MessageType = "registered"
	TypeHeartbeatAck      MessageType = "heartbeat_ack"
	TypePlaybackLogged    MessageType = "playback_logged"
	TypeCrashLogged       MessageType = "crash_logged"
	TypeScheduleUpdate    MessageType = "schedule_update"
	TypeLiveStatusRequest MessageType = "live_status_request"
	TypeError             MessageType = "error"
)

// Envelope is the frame every relay message travels in. RequestID ties a
// reply to the message that caused it.
type Envelope struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewEnvelope(t MessageType, requestID string, payload any) (Envelope, error) {
	env := Envelope{Type: t, RequestID: requestID}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// Failure is what a device gets back when an operation is rejected.
type Failure struct {
	Failed  bool   `json:"failed"`
	Message string `json:"message"`
}

type RegisterRequest struct {
	PairingCode  string   `json:"pairing_code"`
	SerialNumber string   `json:"serial_number"`
	Name         *string  `json:"name,omitempty"`
	IPAddress    *string  `json:"ip_address,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

type RegisterResponse struct {
	DeviceID int              `json:"device_id"`
	Name     string           `json:"name"`
	Loop     model.DeviceLoop `json:"loop"`
}

// DeviceRef is embedded in every payload sent after registration. The id is
// only read when the connection has not been bound to a device yet.
type DeviceRef struct {
	DeviceID *int `json:"device_id,omitempty"`
}

type HeartbeatRequest struct {
	DeviceRef
}

type PlaybackLogRequest struct {
	DeviceRef
	JingleID        *int                 `json:"jingle_id,omitempty"`
	CampaignID      *int                 `json:"campaign_id,omitempty"`
	PlayedAt        *time.Time           `json:"played_at,omitempty"`
	DurationSeconds *int                 `json:"duration_seconds,omitempty"`
	Status          model.PlaybackStatus `json:"status,omitempty"`
	Details         model.JSONMap        `json:"details,omitempty"`
}

type CrashReportRequest struct {
	DeviceRef
	Error      string        `json:"error"`
	Stack      string        `json:"stack,omitempty"`
	OccurredAt *time.Time    `json:"occurred_at,omitempty"`
	Details    model.JSONMap `json:"details,omitempty"`
}

type LiveStatusPayload struct {
	DeviceRef
	JingleID        *int    `json:"jingle_id,omitempty"`
	CampaignID      *int    `json:"campaign_id,omitempty"`
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds *int    `json:"duration_seconds,omitempty"`
	Playing         bool    `json:"playing"`
}

type ScheduleUpdate struct {
	Loop model.DeviceLoop `json:"loop"`
}
