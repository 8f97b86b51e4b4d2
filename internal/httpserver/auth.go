package httpserver

import (
	"context"
	"time"

	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/storage"
)

// Authenticator resolves a bearer token to a user, binding it to the user's
// single live session. A stored token whose session was taken over by a
// later login fails validation even though its row has not expired yet.
// Satisfies the ws package's TokenValidator.
type Authenticator struct {
	store    Store
	registry *presence.Registry
}

func NewAuthenticator(store Store, registry *presence.Registry) *Authenticator {
	return &Authenticator{store: store, registry: registry}
}

func (a *Authenticator) ValidateToken(ctx context.Context, token string) (string, error) {
	nowMs := time.Now().UnixMilli()
	row, err := a.store.ValidateToken(ctx, token, nowMs)
	if err != nil {
		return "", err
	}

	if a.registry.ValidateSession(row.UserID, token) {
		return row.UserID, nil
	}
	if a.registry.HasSession(row.UserID) {
		// A different session is live: this token was taken over.
		return "", storage.ErrTokenInvalid
	}

	// Registry is cold (process restart). The durable copy on the user row
	// decides, and a match re-installs the session.
	user, err := a.store.GetUserByID(ctx, row.UserID)
	if err != nil {
		return "", storage.ErrTokenInvalid
	}
	if user.SessionToken == nil || *user.SessionToken != token {
		return "", storage.ErrTokenInvalid
	}
	a.registry.Attach(row.UserID, token)
	return row.UserID, nil
}
