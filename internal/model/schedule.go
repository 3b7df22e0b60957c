package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// PlaybackWindow is the time of day a device is allowed to play, as
// "15:04" or "15:04:05" strings.
type PlaybackWindow struct {
	Start string `db:"window_start" json:"start"`
	End   string `db:"window_end"   json:"end"`
}

func parseClock(s string) (time.Time, error) {
	if t, err := time.Parse("15:04:05", s); err == nil {
		return t, nil
	}
	return time.Parse("15:04", s)
}

func (w PlaybackWindow) Validate() error {
	start, err := parseClock(w.Start)
	if err != nil {
		return fmt.Errorf("%w: window start %q", ErrInvalidInput, w.Start)
	}
	end, err := parseClock(w.End)
	if err != nil {
		return fmt.Errorf("%w: window end %q", ErrInvalidInput, w.End)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: window end must be after start", ErrInvalidInput)
	}
	return nil
}

// Schedule is the single schedule assignment owned by a device. It carries
// the cached play order and whether that cache still reflects the
// assignments.
type Schedule struct {
	ID            int        `db:"id"              json:"id"`
	DeviceID      int        `db:"device_id"       json:"device_id"`
	IsActive      bool       `db:"is_active"       json:"is_active"`
	PlayOrder     *PlayOrder `db:"play_order"      json:"play_order,omitempty"`
	PlayOrderDate *time.Time `db:"play_order_date" json:"play_order_date,omitempty"`
	Dirty         bool       `db:"play_order_dirty" json:"dirty"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
	PlaybackWindow
}

// StaleFor reports whether the cached play order needs regenerating before
// it can describe day.
func (s Schedule) StaleFor(day time.Time) bool {
	if s.Dirty || s.PlayOrder == nil || s.PlayOrderDate == nil {
		return true
	}
	return !DateOf(*s.PlayOrderDate).Equal(DateOf(day))
}

// CacheValidFor reports whether the cached play order can be served for day.
func (s Schedule) CacheValidFor(day time.Time) bool {
	return !s.StaleFor(day) && !s.PlayOrder.Empty()
}

type JingleAssignment struct {
	ID         int       `db:"id"          json:"id"`
	ScheduleID int       `db:"schedule_id" json:"schedule_id"`
	JingleID   int       `db:"jingle_id"   json:"jingle_id"`
	StartDate  time.Time `db:"start_date"  json:"start_date"`
	EndDate    time.Time `db:"end_date"    json:"end_date"`
	Spots      int       `db:"spots"       json:"spots"`
	IsActive   bool      `db:"is_active"   json:"is_active"`
	Position   int       `db:"position"    json:"position"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"  json:"updated_at"`
}

func (a JingleAssignment) Validate() error {
	if a.Spots < 1 {
		return fmt.Errorf("%w: spots must be at least 1", ErrInvalidInput)
	}
	if DateOf(a.EndDate).Before(DateOf(a.StartDate)) {
		return fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	return nil
}

// EligibleOn reports whether the assignment is active and day falls inside
// its inclusive date range.
func (a JingleAssignment) EligibleOn(day time.Time) bool {
	if !a.IsActive {
		return false
	}
	d := DateOf(day)
	return !d.Before(DateOf(a.StartDate)) && !d.After(DateOf(a.EndDate))
}

// AssignmentPatch holds the fields an update may change; nil leaves a field alone.
type AssignmentPatch struct {
	StartDate *time.Time
	EndDate   *time.Time
	Spots     *int
	IsActive  *bool
}

func (p AssignmentPatch) Apply(a JingleAssignment) JingleAssignment {
	if p.StartDate != nil {
		a.StartDate = *p.StartDate
	}
	if p.EndDate != nil {
		a.EndDate = *p.EndDate
	}
	if p.Spots != nil {
		a.Spots = *p.Spots
	}
	if p.IsActive != nil {
		a.IsActive = *p.IsActive
	}
	return a
}

// PlayOrder is a generated loop. It is stored as JSONB on the schedule.
type PlayOrder struct {
	Sequence     []int       `json:"sequence"`
	GCD          int         `json:"gcd"`
	RepeatCounts map[int]int `json:"repeat_counts"`
}

func (p PlayOrder) Len() int    { return len(p.Sequence) }
func (p PlayOrder) Empty() bool { return len(p.Sequence) == 0 }

func (p PlayOrder) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PlayOrder) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*p = PlayOrder{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("play order: unsupported type %T", src)
	}
	return json.Unmarshal(raw, p)
}

type LoopSource string

const (
	LoopFromCache   LoopSource = "cache"
	LoopGenerated   LoopSource = "generated"
	LoopUnscheduled LoopSource = "none"
)

// DeviceLoop is what a device needs to play: the window, the order and the
// metadata of every jingle the order references.
type DeviceLoop struct {
	DeviceID   int             `json:"device_id"`
	ScheduleID *int            `json:"schedule_id,omitempty"`
	Window     *PlaybackWindow `json:"window,omitempty"`
	Order      PlayOrder       `json:"order"`
	Length     int             `json:"length"`
	Jingles    []Jingle        `json:"jingles"`
	Source     LoopSource      `json:"source"`
	AsOf       time.Time       `json:"as_of"`
}

// DateOf truncates t to its calendar date, expressed as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
