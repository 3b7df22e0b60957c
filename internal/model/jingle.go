package model

import "time"

type Jingle struct {
	ID              int       `db:"id"               json:"id"`
	Title           string    `db:"title"            json:"title"`
	Filename        string    `db:"filename"         json:"filename"`
	DurationSeconds int       `db:"duration_seconds" json:"duration_seconds"`
	CreatedAt       time.Time `db:"created_at"       json:"created_at"`
}

type Campaign struct {
	ID        int        `db:"id"         json:"id"`
	Name      string     `db:"name"       json:"name"`
	Brand     *string    `db:"brand"      json:"brand,omitempty"`
	Status    string     `db:"status"     json:"status"`
	StartDate *time.Time `db:"start_date" json:"start_date"`
	EndDate   *time.Time `db:"end_date"   json:"end_date"`
}
