package registry

import "errors"

// Registry-specific error types.
var (
	ErrNilTransport = errors.New("transport cannot be nil")
	ErrRoomFull     = errors.New("room is at connection capacity")
)
