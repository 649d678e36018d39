package websocket

import (
	"net/http"

	"pulsewire/pkg/interfaces"
	"pulsewire/pkg/types"
)

// QueryAuthenticator resolves the caller's identity from query parameters.
// It is the default for trusted-perimeter deployments where an upstream
// gateway has already authenticated the request; anything internet-facing
// should swap in a real Authenticator.
type QueryAuthenticator struct{}

func (QueryAuthenticator) Authenticate(r *http.Request, roomID string) (*interfaces.Identity, error) {
	userID := r.URL.Query().Get("user_id")
	if !types.IsValidUserID(userID) {
		return nil, interfaces.ErrUnauthorized
	}
	return &interfaces.Identity{
		UserID:    userID,
		UserEmail: r.URL.Query().Get("user_email"),
		UserRole:  r.URL.Query().Get("user_role"),
	}, nil
}
