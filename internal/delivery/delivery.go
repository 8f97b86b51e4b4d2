// Package delivery drives the message delivery-state transitions and pushes
// the resulting receipts back to senders. State lives in storage; this layer
// adds actor checks, idempotent no-op handling, and receipt fan-out.
package delivery

import (
	"context"
	"errors"

	"log/slog"

	"chatwire-backend/internal/rooms"
	"chatwire-backend/internal/storage"
)

// MessageStore is the slice of the storage API the state machine needs.
type MessageStore interface {
	MarkMessageDelivered(ctx context.Context, messageID, actorID string, nowMs int64) (storage.MessageRow, bool, error)
	MarkMessageRead(ctx context.Context, messageID, actorID string, nowMs int64) (storage.MessageRow, bool, error)
	MarkConversationDelivered(ctx context.Context, receiverID, peerID string, nowMs int64) ([]string, error)
}

// Notifier pushes a receipt event to every live connection of a user.
// Satisfied by *rooms.Router.
type Notifier interface {
	BroadcastToUser(userID, event string, data any, exclude rooms.Conn)
}

// StatusUpdate is the receipt payload sent to the message sender.
type StatusUpdate struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

type StateMachine struct {
	store    MessageStore
	notifier Notifier
	logger   *slog.Logger
}

func NewStateMachine(store MessageStore, notifier Notifier, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		store:    store,
		notifier: notifier,
		logger:   logger.With("component", "delivery"),
	}
}

// Deliver records a delivered transition for messageID reported by actorID.
// Only the receiver may report; repeats change nothing and emit nothing. On
// an effective transition exactly one status update goes to the sender.
func (sm *StateMachine) Deliver(ctx context.Context, messageID, actorID string, nowMs int64) (storage.MessageRow, bool, error) {
	msg, changed, err := sm.store.MarkMessageDelivered(ctx, messageID, actorID, nowMs)
	if err != nil {
		return storage.MessageRow{}, false, err
	}
	if changed {
		sm.notifySender(msg)
	}
	return msg, changed, nil
}

// Read records a read transition. Reading an undelivered message promotes it
// through delivered in the same step, but the sender sees one update carrying
// the final status.
func (sm *StateMachine) Read(ctx context.Context, messageID, actorID string, nowMs int64) (storage.MessageRow, bool, error) {
	msg, changed, err := sm.store.MarkMessageRead(ctx, messageID, actorID, nowMs)
	if err != nil {
		return storage.MessageRow{}, false, err
	}
	if changed {
		sm.notifySender(msg)
	}
	return msg, changed, nil
}

// MarkDelivered is the fire-and-forget form used for receipts reported over
// the socket. Unknown message ids and receipts from non-receivers are
// dropped silently: they carry client-supplied ids and are advisory, never
// an error surface.
func (sm *StateMachine) MarkDelivered(ctx context.Context, messageID, actorID string, nowMs int64) {
	if _, _, err := sm.Deliver(ctx, messageID, actorID, nowMs); err != nil {
		sm.dropReceipt("delivered", messageID, actorID, err)
	}
}

// MarkRead is the fire-and-forget form of Read.
func (sm *StateMachine) MarkRead(ctx context.Context, messageID, actorID string, nowMs int64) {
	if _, _, err := sm.Read(ctx, messageID, actorID, nowMs); err != nil {
		sm.dropReceipt("read", messageID, actorID, err)
	}
}

// MarkConversationDelivered marks everything peerID sent to receiverID as
// delivered and emits one receipt per transitioned message. Used when the
// recipient fetches a conversation: opening the thread is the receipt.
func (sm *StateMachine) MarkConversationDelivered(ctx context.Context, receiverID, peerID string, nowMs int64) {
	ids, err := sm.store.MarkConversationDelivered(ctx, receiverID, peerID, nowMs)
	if err != nil {
		sm.logger.Error("bulk delivery failed", "error", err, "receiverID", receiverID, "peerID", peerID)
		return
	}
	for _, id := range ids {
		sm.notifier.BroadcastToUser(peerID, "message_status_update", StatusUpdate{
			MessageID: id,
			Status:    storage.MessageStatusDelivered,
		}, nil)
	}
}

func (sm *StateMachine) notifySender(msg storage.MessageRow) {
	sm.notifier.BroadcastToUser(msg.SenderID, "message_status_update", StatusUpdate{
		MessageID: msg.ID,
		Status:    msg.Status(),
	}, nil)
}

func (sm *StateMachine) dropReceipt(kind, messageID, actorID string, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrAccessDenied) {
		sm.logger.Debug("receipt dropped", "kind", kind, "messageID", messageID, "actorID", actorID, "reason", err)
		return
	}
	sm.logger.Error("receipt failed", "kind", kind, "messageID", messageID, "actorID", actorID, "error", err)
}
