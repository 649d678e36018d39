package interfaces

// Transport is one live bidirectional client session as seen by the core.
// Implementations must be safe for a single concurrent writer; the WebSocket
// implementation serializes writes through a dedicated goroutine.
//
// The core never propagates a Transport write error beyond the call site:
// a failed write is an eviction signal, not an exception.
type Transport interface {
	// WriteJSON marshals v and writes it as one frame, bounded by the
	// transport's write timeout.
	WriteJSON(v interface{}) error

	// Close tears down the underlying session. Safe to call more than once.
	Close() error
}
