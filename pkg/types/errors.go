package types

import "errors"

// Specific error types enable proper error handling and user-friendly
// error messages throughout the system.
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID      = errors.New("room ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidMessageType = errors.New("message type must be 1-50 characters")
	ErrInvalidPriority    = errors.New("priority must be one of: low, normal, high, critical")
	ErrInvalidData        = errors.New("message data is not serializable")
	ErrDataTooLarge       = errors.New("message data exceeds 64KB limit")
)
