package packets

// REQUESTS FOR /api/admin/*

type CreateDeviceRequest struct {
	Name string `json:"name" binding:"required"`
}

// Times of day are "HH:MM" or "HH:MM:SS".
type UpsertScheduleRequest struct {
	WindowStart string `json:"window_start" binding:"required"`
	WindowEnd   string `json:"window_end"   binding:"required"`
	IsActive    *bool  `json:"is_active"`
}

// Dates are "YYYY-MM-DD" and inclusive.
type AddJingleAssignmentRequest struct {
	JingleID  int    `json:"jingle_id"  binding:"required"`
	StartDate string `json:"start_date" binding:"required"`
	EndDate   string `json:"end_date"   binding:"required"`
	Spots     int    `json:"spots"      binding:"required"`
	IsActive  *bool  `json:"is_active"`
}

type UpdateJingleAssignmentRequest struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	Spots     *int    `json:"spots"`
	IsActive  *bool   `json:"is_active"`
}

type PreviewItem struct {
	JingleID int `json:"jingle_id" binding:"required"`
	Weight   int `json:"weight"`
}

type PreviewLoopRequest struct {
	Items []PreviewItem `json:"items" binding:"required,dive"`
}
