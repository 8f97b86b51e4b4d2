package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatwire-backend/internal/storage"
)

const callHistoryLimit = 50

type createCallRequest struct {
	ReceiverID string `json:"receiverId"`
	Type       string `json:"type"`
}

type callResponse struct {
	Call callItem `json:"call"`
}

type listCallsResponse struct {
	Calls []callItem `json:"calls"`
}

// Call rows are pure bookkeeping; ringing and answer signaling travel over
// the websocket relay independently of these endpoints.
func (api *v1API) handleCalls(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		api.handleListCalls(w, r)
	case http.MethodPost:
		api.handleCreateCall(w, r)
	default:
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
	}
}

func (api *v1API) handleCallSubroutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/calls/")
	parts := splitPath(rest)
	if len(parts) != 2 {
		writeAPIError(w, ErrCodeNotFound, "not found")
		return
	}
	if r.Method != http.MethodPost {
		writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
		return
	}

	callID := parts[0]
	switch parts[1] {
	case "answer":
		api.handleCallTransition(w, r, callID, api.store.AnswerCall)
	case "reject":
		api.handleCallTransition(w, r, callID, api.store.RejectCall)
	case "end":
		api.handleCallTransition(w, r, callID, api.store.EndCall)
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

func (api *v1API) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req createCallRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	if req.ReceiverID == "" {
		writeAPIError(w, ErrCodeValidation, "receiverId is required")
		return
	}
	if req.Type != storage.CallTypeAudio && req.Type != storage.CallTypeVideo {
		writeAPIError(w, ErrCodeValidation, "type must be audio or video")
		return
	}

	if _, err := api.store.GetUserByID(r.Context(), req.ReceiverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "receiver not found")
			return
		}
		api.logger.Error("get receiver failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	nowMs := time.Now().UnixMilli()
	call, err := api.store.CreateCall(r.Context(), userID, req.ReceiverID, req.Type, nowMs)
	if err != nil {
		if errors.Is(err, storage.ErrCannotMessageSelf) {
			writeAPIError(w, ErrCodeValidation, "cannot call yourself")
			return
		}
		api.logger.Error("create call failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, callResponse{Call: toCallItem(call)})
}

type callTransition func(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)

func (api *v1API) handleCallTransition(w http.ResponseWriter, r *http.Request, callID string, transition callTransition) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	nowMs := time.Now().UnixMilli()
	call, err := transition(r.Context(), callID, userID, nowMs)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeAPIError(w, ErrCodeCallNotFound, "call not found")
		case errors.Is(err, storage.ErrAccessDenied):
			writeAPIError(w, ErrCodeCallAccessDenied, "access denied")
		case errors.Is(err, storage.ErrInvalidState):
			writeAPIError(w, ErrCodeCallInvalidState, "call is not in a state that allows this transition")
		default:
			api.logger.Error("call transition failed", "error", err, "callID", callID)
			writeAPIError(w, ErrCodeInternal, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, callResponse{Call: toCallItem(call)})
}

func (api *v1API) handleListCalls(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	calls, err := api.store.ListCallsForUser(r.Context(), userID, callHistoryLimit)
	if err != nil {
		api.logger.Error("list calls failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]callItem, 0, len(calls))
	for _, c := range calls {
		items = append(items, toCallItem(c))
	}

	writeJSON(w, http.StatusOK, listCallsResponse{Calls: items})
}
