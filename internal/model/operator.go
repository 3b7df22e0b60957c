package model

// Operator is the admin principal taken from a verified bearer token.
type Operator struct {
	ID int `json:"id"`
}
