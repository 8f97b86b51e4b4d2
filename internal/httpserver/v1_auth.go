package httpserver

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/storage"
)

const tokenDuration = 7 * 24 * time.Hour

var phoneRegex = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

type registerRequest struct {
	Phone    string `json:"phone"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
	Force    bool   `json:"force"`
}

type authResponse struct {
	User      userItem `json:"user"`
	Token     string   `json:"token"`
	ExpiresAt int64    `json:"expiresAt"`
}

type meResponse struct {
	User userItem `json:"user"`
}

type logoutResponse struct {
	Success bool `json:"success"`
}

func (api *v1API) handleAuth(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/auth/")
	switch rest {
	case "register":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleRegister(w, r)
	case "login":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleLogin(w, r)
	case "logout":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleLogout(w, r)
	case "me":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMe(w, r)
	case "profile":
		if r.Method != http.MethodPut {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleUpdateProfile(w, r)
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)

	if !phoneRegex.MatchString(req.Phone) {
		writeAPIError(w, ErrCodeValidation, "phone must be 6-15 digits, optionally prefixed with +")
		return
	}
	if len(req.Name) == 0 || len(req.Name) > 50 {
		writeAPIError(w, ErrCodeValidation, "name must be 1-50 characters")
		return
	}
	if len(req.Password) < 6 || len(req.Password) > 72 {
		writeAPIError(w, ErrCodeValidation, "password must be 6-72 characters")
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		api.logger.Error("bcrypt hash failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	nowMs := time.Now().UnixMilli()
	user, err := api.store.CreateUser(r.Context(), req.Phone, req.Name, string(passwordHash), nowMs)
	if err != nil {
		if errors.Is(err, storage.ErrPhoneExists) {
			writeAPIError(w, ErrCodePhoneExists, "phone already registered")
			return
		}
		api.logger.Error("create user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	// A fresh account has no prior session; force is irrelevant here.
	token, err := api.registry.StartSession(user.ID, false)
	if err != nil {
		api.logger.Error("start session failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	expiresAtMs, err := api.persistSession(r, user.ID, token, nowMs)
	if err != nil {
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:      api.toUserItem(user),
		Token:     token,
		ExpiresAt: expiresAtMs,
	})
}

func (api *v1API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.Phone = strings.TrimSpace(req.Phone)
	if req.Phone == "" || req.Password == "" {
		writeAPIError(w, ErrCodeValidation, "phone and password are required")
		return
	}

	user, err := api.store.GetUserByPhone(r.Context(), req.Phone)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeInvalidCredentials, "invalid phone or password")
			return
		}
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		writeAPIError(w, ErrCodeInvalidCredentials, "invalid phone or password")
		return
	}

	// A live session on a valid user row also counts: the registry may be
	// cold after a restart.
	if !api.registry.HasSession(user.ID) && user.SessionToken != nil {
		api.registry.Attach(user.ID, *user.SessionToken)
	}

	token, err := api.registry.StartSession(user.ID, req.Force)
	if err != nil {
		if errors.Is(err, presence.ErrSessionActive) {
			writeAPIError(w, ErrCodeSessionActive, "another session is active; retry with force to take over")
			return
		}
		api.logger.Error("start session failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	nowMs := time.Now().UnixMilli()
	expiresAtMs, err := api.persistSession(r, user.ID, token, nowMs)
	if err != nil {
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, authResponse{
		User:      api.toUserItem(user),
		Token:     token,
		ExpiresAt: expiresAtMs,
	})
}

// persistSession writes the durable side of a session start: one bearer
// token row (all prior tokens revoked) and the user-row copy.
func (api *v1API) persistSession(r *http.Request, userID, token string, nowMs int64) (int64, error) {
	ctx := r.Context()
	expiresAtMs := nowMs + tokenDuration.Milliseconds()

	if err := api.store.DeleteUserTokens(ctx, userID); err != nil {
		api.logger.Error("revoke tokens failed", "error", err, "userID", userID)
		return 0, err
	}
	if _, err := api.store.SaveAuthToken(ctx, token, userID, nil, nowMs, expiresAtMs); err != nil {
		api.logger.Error("save token failed", "error", err, "userID", userID)
		return 0, err
	}
	if err := api.store.SetUserPresence(ctx, userID, true, &token, nowMs, nowMs); err != nil {
		api.logger.Error("presence write failed", "error", err, "userID", userID)
		return 0, err
	}
	return expiresAtMs, nil
}

func (api *v1API) handleLogout(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	token := extractToken(r)
	if userID == "" || token == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	api.registry.EndSession(userID)
	_ = api.store.DeleteToken(r.Context(), token)

	nowMs := time.Now().UnixMilli()
	if err := api.store.SetUserPresence(r.Context(), userID, false, nil, nowMs, nowMs); err != nil {
		api.logger.Error("presence write failed", "error", err, "userID", userID)
	}

	writeJSON(w, http.StatusOK, logoutResponse{Success: true})
}

func (api *v1API) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	user, err := api.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "user not found")
			return
		}
		api.logger.Error("get user failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: api.toUserItem(user)})
}

type updateProfileRequest struct {
	Name string `json:"name"`
}

func (api *v1API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) == 0 || len(req.Name) > 50 {
		writeAPIError(w, ErrCodeValidation, "name must be 1-50 characters")
		return
	}

	nowMs := time.Now().UnixMilli()
	user, err := api.store.UpdateUserName(r.Context(), userID, req.Name, nowMs)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "user not found")
			return
		}
		api.logger.Error("update profile failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: api.toUserItem(user)})
}
