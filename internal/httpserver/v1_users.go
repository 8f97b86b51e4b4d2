package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"chatwire-backend/internal/storage"
)

const searchLimit = 20

type listUsersResponse struct {
	Users []userItem `json:"users"`
}

type userResponse struct {
	User userItem `json:"user"`
}

// GET /v1/users?q=...
func (api *v1API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(query) < 3 {
		writeAPIError(w, ErrCodeValidation, "q must be at least 3 characters")
		return
	}

	users, err := api.store.SearchUsers(r.Context(), query, userID, searchLimit)
	if err != nil {
		api.logger.Error("search users failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]userItem, 0, len(users))
	for _, u := range users {
		items = append(items, api.toUserItem(u))
	}

	writeJSON(w, http.StatusOK, listUsersResponse{Users: items})
}

// GET /v1/users/by-phone/{phone}
func (api *v1API) handleUserSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	parts := splitPath(rest)
	if len(parts) != 2 || parts[0] != "by-phone" {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	phone := strings.TrimSpace(parts[1])
	if phone == "" {
		writeAPIError(w, ErrCodeValidation, "phone is required")
		return
	}

	user, err := api.store.GetUserByPhone(r.Context(), phone)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "user not found")
			return
		}
		api.logger.Error("get user by phone failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: api.toUserItem(user)})
}
