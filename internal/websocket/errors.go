package websocket

import "errors"

var (
	// ErrConnectionClosed indicates a write was attempted after Close.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout indicates the write buffer stayed full past the
	// write timeout, usually a stalled or dead client.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrInvalidJSON indicates the outbound value could not be encoded.
	ErrInvalidJSON = errors.New("invalid JSON payload")
)
