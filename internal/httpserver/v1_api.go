package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"log/slog"

	"chatwire-backend/internal/blob"
	"chatwire-backend/internal/delivery"
	"chatwire-backend/internal/pairtoken"
	"chatwire-backend/internal/presence"
	"chatwire-backend/internal/storage"
)

type v1API struct {
	logger         *slog.Logger
	store          Store
	registry       *presence.Registry
	codec          *pairtoken.Codec
	blob           *blob.Client
	delivery       *delivery.StateMachine
	uploadDir      string
	maxUploadBytes int64
}

func newV1API(logger *slog.Logger, store Store, registry *presence.Registry, codec *pairtoken.Codec, blobStore *blob.Client, deliverySM *delivery.StateMachine, opts HandlerOptions) *v1API {
	return &v1API{
		logger:         logger.With("component", "v1"),
		store:          store,
		registry:       registry,
		codec:          codec,
		blob:           blobStore,
		delivery:       deliverySM,
		uploadDir:      opts.UploadDir,
		maxUploadBytes: opts.MaxUploadBytes,
	}
}

type apiErrorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeAPIError(w http.ResponseWriter, code ErrorCode, message string) {
	writeJSON(w, httpStatusForCode(code), apiErrorEnvelope{
		Error: apiError{
			Code:    string(code),
			Message: message,
		},
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected extra JSON input")
	}
	return nil
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}

	// Media endpoints are fetched by <img>/<video> tags where setting
	// headers is awkward.
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return ""
}

type userItem struct {
	ID         string  `json:"id"`
	Phone      string  `json:"phone"`
	Name       string  `json:"name"`
	AvatarURL  *string `json:"avatarUrl,omitempty"`
	IsOnline   bool    `json:"isOnline"`
	LastSeenMs *int64  `json:"lastSeenMs,omitempty"`
}

func (api *v1API) toUserItem(u storage.UserRow) userItem {
	online := u.IsOnline
	if api.registry != nil {
		online = api.registry.IsOnline(u.ID)
	}
	return userItem{
		ID:         u.ID,
		Phone:      u.Phone,
		Name:       u.Name,
		AvatarURL:  u.AvatarURL,
		IsOnline:   online,
		LastSeenMs: u.LastSeenMs,
	}
}

type messageItem struct {
	ID            string `json:"id"`
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	Type          string `json:"type"`
	Content       string `json:"content,omitempty"`
	MediaURL      string `json:"mediaUrl,omitempty"`
	Status        string `json:"status"`
	DeliveredAtMs *int64 `json:"deliveredAtMs,omitempty"`
	ReadAtMs      *int64 `json:"readAtMs,omitempty"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// toMessageItem decrypts stored content and rewrites media locations to the
// authenticated media endpoint so blob URLs (which embed the bot token) never
// leave the server.
func (api *v1API) toMessageItem(m storage.MessageRow) messageItem {
	item := messageItem{
		ID:            m.ID,
		SenderID:      m.SenderID,
		ReceiverID:    m.ReceiverID,
		Type:          m.Type,
		Status:        m.Status(),
		DeliveredAtMs: m.DeliveredAtMs,
		ReadAtMs:      m.ReadAtMs,
		CreatedAtMs:   m.CreatedAtMs,
	}
	if m.Content != nil {
		item.Content = api.codec.DecryptText(*m.Content)
	}
	if m.BlobFileID != nil || m.FilePath != nil {
		item.MediaURL = "/v1/messages/media/" + m.ID
	}
	return item
}

type callItem struct {
	ID           string `json:"id"`
	CallerID     string `json:"callerId"`
	ReceiverID   string `json:"receiverId"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	StartedAtMs  int64  `json:"startedAtMs"`
	EndedAtMs    *int64 `json:"endedAtMs,omitempty"`
	DurationSecs int64  `json:"durationSecs"`
}

func toCallItem(c storage.CallRow) callItem {
	return callItem{
		ID:           c.ID,
		CallerID:     c.CallerID,
		ReceiverID:   c.ReceiverID,
		Type:         c.Type,
		Status:       c.Status,
		StartedAtMs:  c.StartedAtMs,
		EndedAtMs:    c.EndedAtMs,
		DurationSecs: c.DurationSecs,
	}
}
