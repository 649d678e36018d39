package interfaces

import "errors"

// Boundary errors shared across implementations.
var (
	ErrUnauthorized = errors.New("identity not authorized for this room")
	ErrStoreClosed  = errors.New("queue store is closed")
)
