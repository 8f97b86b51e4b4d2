package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chatwire-backend/internal/storage"
)

const conversationPageLimit = 50

func (api *v1API) handleMessages(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/messages/")
	parts := splitPath(rest)

	switch {
	case len(parts) == 1 && parts[0] == "token":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMintPairToken(w, r)
	case len(parts) == 1 && parts[0] == "send":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleSendMessage(w, r)
	case len(parts) == 1 && parts[0] == "send-media":
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleSendMedia(w, r)
	case len(parts) == 1 && parts[0] == "contacts":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleContacts(w, r)
	case len(parts) == 2 && parts[0] == "conversation":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleConversation(w, r, parts[1])
	case len(parts) == 2 && parts[0] == "media":
		if r.Method != http.MethodGet {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleMedia(w, r, parts[1])
	case len(parts) == 2 && (parts[1] == "delivered" || parts[1] == "read"):
		if r.Method != http.MethodPost {
			writeAPIError(w, ErrCodeMethodNotAllowed, "method not allowed")
			return
		}
		api.handleReceipt(w, r, parts[0], parts[1])
	default:
		writeAPIError(w, ErrCodeNotFound, "not found")
	}
}

type mintPairTokenRequest struct {
	PeerID string `json:"peerId"`
}

type mintPairTokenResponse struct {
	Token string `json:"token"`
}

// POST /v1/messages/token mints the conversation handle the client uses for
// send and conversation fetch. The token binds (caller, peer); presenting it
// to those endpoints identifies the peer without repeating ids.
func (api *v1API) handleMintPairToken(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req mintPairTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	req.PeerID = strings.TrimSpace(req.PeerID)
	if req.PeerID == "" {
		writeAPIError(w, ErrCodeValidation, "peerId is required")
		return
	}
	if req.PeerID == userID {
		writeAPIError(w, ErrCodeCannotMessageSelf, "cannot message yourself")
		return
	}

	if _, err := api.store.GetUserByID(r.Context(), req.PeerID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeUserNotFound, "peer not found")
			return
		}
		api.logger.Error("get peer failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	token, err := api.codec.Encode(userID, req.PeerID)
	if err != nil {
		api.logger.Error("pair token mint failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, mintPairTokenResponse{Token: token})
}

type sendMessageRequest struct {
	Token   string `json:"token"`
	Content string `json:"content"`
}

type messageResponse struct {
	Message messageItem `json:"message"`
}

// POST /v1/messages/send persists a text message. Relay to the conversation
// room happens over the websocket path; this endpoint is the durable write.
func (api *v1API) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeAPIError(w, ErrCodeValidation, "invalid JSON body")
		return
	}

	peerID, ok := api.codec.Decode(req.Token, userID)
	if !ok {
		writeAPIError(w, ErrCodePairTokenInvalid, "invalid conversation token")
		return
	}

	if strings.TrimSpace(req.Content) == "" {
		writeAPIError(w, ErrCodeValidation, "content is required")
		return
	}

	sealed, err := api.codec.EncryptText(req.Content)
	if err != nil {
		api.logger.Error("content encrypt failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	nowMs := time.Now().UnixMilli()
	msg, err := api.store.CreateMessage(r.Context(), userID, peerID, storage.MessageTypeText, &sealed, nil, nil, nil, nowMs)
	if err != nil {
		api.writeCreateMessageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: api.toMessageItem(msg)})
}

var mediaTypes = map[string]bool{
	storage.MessageTypeImage: true,
	storage.MessageTypeVideo: true,
	storage.MessageTypeAudio: true,
	storage.MessageTypeFile:  true,
}

// POST /v1/messages/send-media: multipart fields token, type, file. The file
// lands on local disk first; when the blob sink is configured the upload is
// pushed there and the local copy removed. Blob failure is never fatal, the
// message degrades to local storage.
func (api *v1API) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	maxBytes := api.maxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 16 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeAPIError(w, ErrCodeValidation, "file too large or invalid form")
		return
	}

	peerID, ok := api.codec.Decode(r.FormValue("token"), userID)
	if !ok {
		writeAPIError(w, ErrCodePairTokenInvalid, "invalid conversation token")
		return
	}

	msgType := strings.TrimSpace(r.FormValue("type"))
	if !mediaTypes[msgType] {
		writeAPIError(w, ErrCodeValidation, "type must be image, video, audio or file")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeAPIError(w, ErrCodeValidation, "file is required")
		return
	}
	defer file.Close()

	localName, localPath, err := api.saveUpload(userID, header.Filename, file)
	if err != nil {
		api.logger.Error("save upload failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	var filePath, blobFileID, blobFileURL *string
	if api.blob.Enabled() {
		fileID, fileURL, err := api.blob.Upload(r.Context(), localPath, msgType)
		if err == nil {
			blobFileID, blobFileURL = &fileID, &fileURL
			_ = os.Remove(localPath)
		} else {
			api.logger.Warn("blob upload failed, keeping local copy", "error", err)
			filePath = &localName
		}
	} else {
		filePath = &localName
	}

	nowMs := time.Now().UnixMilli()
	msg, err := api.store.CreateMessage(r.Context(), userID, peerID, msgType, nil, filePath, blobFileID, blobFileURL, nowMs)
	if err != nil {
		if filePath != nil {
			_ = os.Remove(localPath)
		}
		api.writeCreateMessageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: api.toMessageItem(msg)})
}

func (api *v1API) writeCreateMessageError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrCannotMessageSelf) {
		writeAPIError(w, ErrCodeCannotMessageSelf, "cannot message yourself")
		return
	}
	api.logger.Error("create message failed", "error", err)
	writeAPIError(w, ErrCodeInternal, "internal error")
}

func (api *v1API) saveUpload(userID, originalName string, src io.Reader) (name, path string, err error) {
	ext := filepath.Ext(originalName)

	hash := sha256.New()
	hash.Write([]byte(fmt.Sprintf("%s-%d-%s", userID, time.Now().UnixNano(), originalName)))
	name = hex.EncodeToString(hash.Sum(nil))[:16] + ext

	uploadDir := api.uploadDir
	if uploadDir == "" {
		uploadDir = "./uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return "", "", err
	}

	path = filepath.Join(uploadDir, name)
	dest, err := os.Create(path)
	if err != nil {
		return "", "", err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		os.Remove(path)
		return "", "", err
	}
	return name, path, nil
}

type conversationResponse struct {
	Messages []messageItem `json:"messages"`
	HasMore  bool          `json:"hasMore"`
}

// GET /v1/messages/conversation/{pairToken}. Fetching a conversation is the
// implicit delivery receipt for everything the peer sent.
func (api *v1API) handleConversation(w http.ResponseWriter, r *http.Request, pairToken string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	peerID, ok := api.codec.Decode(pairToken, userID)
	if !ok {
		writeAPIError(w, ErrCodePairTokenInvalid, "invalid conversation token")
		return
	}

	limit := conversationPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			writeAPIError(w, ErrCodeValidation, "limit must be 1-100")
			return
		}
		limit = n
	}
	beforeID := r.URL.Query().Get("before")

	messages, hasMore, err := api.store.ListConversation(r.Context(), userID, peerID, limit, beforeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeMessageNotFound, "cursor message not found")
			return
		}
		api.logger.Error("list conversation failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]messageItem, 0, len(messages))
	for _, m := range messages {
		items = append(items, api.toMessageItem(m))
	}

	writeJSON(w, http.StatusOK, conversationResponse{Messages: items, HasMore: hasMore})

	api.delivery.MarkConversationDelivered(r.Context(), userID, peerID, time.Now().UnixMilli())
}

type contactsResponse struct {
	Contacts []userItem `json:"contacts"`
}

// GET /v1/messages/contacts
func (api *v1API) handleContacts(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	contacts, err := api.store.ListContacts(r.Context(), userID)
	if err != nil {
		api.logger.Error("list contacts failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	items := make([]userItem, 0, len(contacts))
	for _, u := range contacts {
		items = append(items, api.toUserItem(u))
	}

	writeJSON(w, http.StatusOK, contactsResponse{Contacts: items})
}

// POST /v1/messages/{id}/delivered and /read. Unlike the socket receipts,
// the REST form reports errors: unknown ids 404, non-receivers 403.
func (api *v1API) handleReceipt(w http.ResponseWriter, r *http.Request, messageID, kind string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	nowMs := time.Now().UnixMilli()

	var msg storage.MessageRow
	var err error
	if kind == "delivered" {
		msg, _, err = api.delivery.Deliver(r.Context(), messageID, userID, nowMs)
	} else {
		msg, _, err = api.delivery.Read(r.Context(), messageID, userID, nowMs)
	}
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeMessageNotFound, "message not found")
			return
		}
		if errors.Is(err, storage.ErrAccessDenied) {
			writeAPIError(w, ErrCodeMessageAccessDenied, "only the receiver may report receipts")
			return
		}
		api.logger.Error("receipt failed", "error", err, "kind", kind)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: api.toMessageItem(msg)})
}

// GET /v1/messages/media/{id} streams a message's media to either party.
// Blob-backed files are proxied so the bot token embedded in their URLs
// never reaches clients; local files are served from the upload dir.
func (api *v1API) handleMedia(w http.ResponseWriter, r *http.Request, messageID string) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		writeAPIError(w, ErrCodeTokenInvalid, "authentication required")
		return
	}

	msg, err := api.store.GetMessageByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeAPIError(w, ErrCodeMessageNotFound, "message not found")
			return
		}
		api.logger.Error("get message failed", "error", err)
		writeAPIError(w, ErrCodeInternal, "internal error")
		return
	}

	if msg.SenderID != userID && msg.ReceiverID != userID {
		writeAPIError(w, ErrCodeMessageAccessDenied, "access denied")
		return
	}

	if msg.BlobFileID != nil && api.blob.Enabled() {
		body, contentType, err := api.blob.Download(r.Context(), *msg.BlobFileID)
		if err == nil {
			defer body.Close()
			if contentType != "" {
				w.Header().Set("Content-Type", contentType)
			}
			_, _ = io.Copy(w, body)
			return
		}
		api.logger.Warn("blob download failed, trying local copy", "error", err, "messageID", msg.ID)
	}

	if msg.FilePath != nil {
		uploadDir := api.uploadDir
		if uploadDir == "" {
			uploadDir = "./uploads"
		}
		local := filepath.Join(uploadDir, filepath.Base(*msg.FilePath))
		if _, err := os.Stat(local); err == nil {
			http.ServeFile(w, r, local)
			return
		}
	}

	writeAPIError(w, ErrCodeFileNotFound, "media not available")
}
