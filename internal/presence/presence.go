// Package presence tracks which users are online and which session token is
// currently valid for each of them. One registry instance is owned by the
// process and injected wherever session checks happen; the durable copy of
// the session token lives on the user row.
package presence

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
)

// ErrSessionActive signals a login attempt while another session holds the
// user, without force takeover.
var ErrSessionActive = errors.New("session already active")

type entry struct {
	online       bool
	sessionToken string
}

type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// StartSession issues a fresh session token for userID and marks the user
// online. An existing session is a conflict unless force is set, in which
// case the old token is invalidated first. Connections authenticated under
// the old token are not severed; they fail their next session-bound check.
func (r *Registry) StartSession(userID string, force bool) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[userID]
	if e != nil && e.sessionToken != "" && !force {
		return "", ErrSessionActive
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	r.entries[userID] = &entry{online: true, sessionToken: token}
	return token, nil
}

// ValidateSession reports whether presentedToken is the user's current
// session token. Catches requests racing a takeover: they carry the old
// token and fail here.
func (r *Registry) ValidateSession(userID, presentedToken string) bool {
	if presentedToken == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[userID]
	return e != nil && e.sessionToken == presentedToken
}

// EndSession clears the user's token and marks them offline.
func (r *Registry) EndSession(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, userID)
}

// HasSession reports whether any session token is installed for userID.
func (r *Registry) HasSession(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[userID]
	return e != nil && e.sessionToken != ""
}

// Attach installs a token recovered from durable storage, e.g. after a
// process restart when the registry is empty but the user row still holds a
// valid session token. It never replaces a live in-memory session.
func (r *Registry) Attach(userID, token string) bool {
	if token == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.entries[userID]; e != nil && e.sessionToken != "" {
		return e.sessionToken == token
	}
	r.entries[userID] = &entry{online: true, sessionToken: token}
	return true
}

// SetOnline flips only the online flag; the session token is untouched.
// Used on transport connect/disconnect, which is independent of login.
func (r *Registry) SetOnline(userID string, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[userID]
	if e == nil {
		if !online {
			return
		}
		e = &entry{}
		r.entries[userID] = e
	}
	e.online = online
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[userID]
	return e != nil && e.online
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
