package interfaces

import "net/http"

// Identity is the verified user tuple resolved before a connection is
// admitted. The core treats these fields as trusted input; authentication
// and room authorization live behind this boundary.
type Identity struct {
	UserID    string
	UserEmail string
	UserRole  string
}

// Authenticator resolves and authorizes the identity behind a handshake
// request for a given room. Implementations are external collaborators
// (API gateway assertions, token verification, membership checks).
type Authenticator interface {
	Authenticate(r *http.Request, roomID string) (*Identity, error)
}
