package httpserver

import (
	"context"
	"net/http"

	"log/slog"

	"chatwire-backend/internal/blob"
	"chatwire-backend/internal/delivery"
	"chatwire-backend/internal/pairtoken"
	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/storage"
	"chatwire-backend/internal/ws"
)

type Store interface {
	Ready(ctx context.Context) error

	CreateUser(ctx context.Context, phone, name, passwordHash string, nowMs int64) (storage.UserRow, error)
	GetUserByID(ctx context.Context, userID string) (storage.UserRow, error)
	GetUserByPhone(ctx context.Context, phone string) (storage.UserRow, error)
	SearchUsers(ctx context.Context, query, excludeUserID string, limit int) ([]storage.UserRow, error)
	UpdateUserName(ctx context.Context, userID, name string, nowMs int64) (storage.UserRow, error)
	SetUserPresence(ctx context.Context, userID string, online bool, sessionToken *string, lastSeenMs, nowMs int64) error
	ListContacts(ctx context.Context, userID string) ([]storage.UserRow, error)

	SaveAuthToken(ctx context.Context, token, userID string, deviceInfo *string, nowMs, expiresAtMs int64) (storage.AuthTokenRow, error)
	ValidateToken(ctx context.Context, token string, nowMs int64) (storage.AuthTokenRow, error)
	DeleteToken(ctx context.Context, token string) error
	DeleteUserTokens(ctx context.Context, userID string) error

	CreateMessage(ctx context.Context, senderID, receiverID, msgType string, content, filePath, blobFileID, blobFileURL *string, nowMs int64) (storage.MessageRow, error)
	GetMessageByID(ctx context.Context, messageID string) (storage.MessageRow, error)
	ListConversation(ctx context.Context, userID, peerID string, limit int, beforeID string) ([]storage.MessageRow, bool, error)

	CreateCall(ctx context.Context, callerID, receiverID, callType string, nowMs int64) (storage.CallRow, error)
	GetCallByID(ctx context.Context, callID string) (storage.CallRow, error)
	AnswerCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	RejectCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	EndCall(ctx context.Context, callID, userID string, nowMs int64) (storage.CallRow, error)
	ListCallsForUser(ctx context.Context, userID string, limit int) ([]storage.CallRow, error)
}

type HandlerOptions struct {
	UploadDir      string
	MaxUploadBytes int64
}

func NewHandler(logger *slog.Logger, store Store, registry *presence.Registry, codec *pairtoken.Codec, blobStore *blob.Client, deliverySM *delivery.StateMachine, wsManager *ws.Manager, opts HandlerOptions) http.Handler {
	mux := http.NewServeMux()
	api := newV1API(logger, store, registry, codec, blobStore, deliverySM, opts)
	auth := NewAuthenticator(store, registry)

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := store.Ready(r.Context()); err != nil {
			logger.Warn("ready check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if wsManager != nil {
		mux.Handle("/v1/ws", wsManager.Handler())
	}
	mux.HandleFunc("/v1/auth/", api.handleAuth)
	mux.HandleFunc("/v1/users", api.handleUsers)
	mux.HandleFunc("/v1/users/", api.handleUserSubroutes)
	mux.HandleFunc("/v1/messages/", api.handleMessages)
	mux.HandleFunc("/v1/calls", api.handleCalls)
	mux.HandleFunc("/v1/calls/", api.handleCallSubroutes)

	return chain(
		mux,
		recoverMiddleware(logger),
		requestLogMiddleware(logger),
		corsMiddleware(),
		authMiddleware(auth),
	)
}
