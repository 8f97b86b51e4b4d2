package storage

import "errors"

const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeVideo = "video"
	MessageTypeAudio = "audio"
	MessageTypeFile  = "file"
)

const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
)

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

const (
	CallStatusInitiated = "initiated"
	CallStatusAnswered  = "answered"
	CallStatusEnded     = "ended"
	CallStatusMissed    = "missed"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrPhoneExists       = errors.New("phone exists")
	ErrCannotMessageSelf = errors.New("cannot message self")
	ErrAccessDenied      = errors.New("access denied")
	ErrTokenInvalid      = errors.New("token invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrInvalidState      = errors.New("invalid state")
)

type UserRow struct {
	ID           string
	Phone        string
	Name         string
	PasswordHash string
	AvatarURL    *string
	IsPrivate    bool
	IsOnline     bool
	SessionToken *string
	LastSeenMs   *int64
	CreatedAtMs  int64
	UpdatedAtMs  int64
}

type AuthTokenRow struct {
	Token       string
	UserID      string
	DeviceInfo  *string
	CreatedAtMs int64
	ExpiresAtMs int64
}

// MessageRow is immutable after insert except for the four delivery-state
// fields, which only ever move forward: sent -> delivered -> read.
type MessageRow struct {
	ID            string
	SenderID      string
	ReceiverID    string
	Type          string
	Content       *string
	FilePath      *string
	BlobFileID    *string
	BlobFileURL   *string
	IsDelivered   bool
	DeliveredAtMs *int64
	IsRead        bool
	ReadAtMs      *int64
	CreatedAtMs   int64
}

// Status reports the delivery-state name for the row.
func (m MessageRow) Status() string {
	switch {
	case m.IsRead:
		return MessageStatusRead
	case m.IsDelivered:
		return MessageStatusDelivered
	default:
		return MessageStatusSent
	}
}

type CallRow struct {
	ID           string
	CallerID     string
	ReceiverID   string
	Type         string
	Status       string
	StartedAtMs  int64
	EndedAtMs    *int64
	DurationSecs int64
}
