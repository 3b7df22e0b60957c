package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPairingCode = errors.New("invalid pairing code")
	ErrPairingConflict    = errors.New("device already paired with a different serial number")
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrRelayTimeout       = errors.New("relay request timed out")
	ErrMissingDeviceID    = errors.New("missing device id")
)
