package delivery

import (
	"context"
	"io"
	"sync"
	"testing"

	"log/slog"

	"chatwire-backend/internal/rooms"
	"chatwire-backend/internal/storage"
)

func newTestMachine(t *testing.T) (*StateMachine, *storage.Store, *recordingNotifier) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	store, err := storage.Open(context.Background(), "sqlite::memory:", logger)
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	notifier := &recordingNotifier{}
	return NewStateMachine(store, notifier, logger), store, notifier
}

type notification struct {
	UserID string
	Event  string
	Data   any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) BroadcastToUser(userID, event string, data any, exclude rooms.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{UserID: userID, Event: event, Data: data})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

func seedMessage(t *testing.T, store *storage.Store) (sender, receiver storage.UserRow, msg storage.MessageRow) {
	t.Helper()
	ctx := context.Background()
	sender, err := store.CreateUser(ctx, "100", "Sender", "hash", 1000)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	receiver, err = store.CreateUser(ctx, "200", "Receiver", "hash", 1000)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	content := "hello"
	msg, err = store.CreateMessage(ctx, sender.ID, receiver.ID, storage.MessageTypeText, &content, nil, nil, nil, 2000)
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return sender, receiver, msg
}

func TestMarkDelivered_NotifiesSenderOnce(t *testing.T) {
	sm, store, notifier := newTestMachine(t)
	sender, receiver, msg := seedMessage(t, store)
	ctx := context.Background()

	sm.MarkDelivered(ctx, msg.ID, receiver.ID, 5000)
	sm.MarkDelivered(ctx, msg.ID, receiver.ID, 6000) // repeat, no-op

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	if sent[0].UserID != sender.ID || sent[0].Event != "message_status_update" {
		t.Fatalf("notification = %+v, want message_status_update to sender", sent[0])
	}
	update, ok := sent[0].Data.(StatusUpdate)
	if !ok {
		t.Fatalf("data type = %T, want StatusUpdate", sent[0].Data)
	}
	if update.MessageID != msg.ID || update.Status != storage.MessageStatusDelivered {
		t.Fatalf("update = %+v, want delivered for %s", update, msg.ID)
	}
}

func TestMarkRead_SingleUpdateWithFinalStatus(t *testing.T) {
	sm, store, notifier := newTestMachine(t)
	_, receiver, msg := seedMessage(t, store)

	// Read without a prior delivered receipt promotes through delivered but
	// the sender sees a single read update.
	sm.MarkRead(context.Background(), msg.ID, receiver.ID, 5000)

	sent := notifier.all()
	if len(sent) != 1 {
		t.Fatalf("notifications = %d, want 1", len(sent))
	}
	update := sent[0].Data.(StatusUpdate)
	if update.Status != storage.MessageStatusRead {
		t.Fatalf("status = %q, want %q", update.Status, storage.MessageStatusRead)
	}

	got, err := store.GetMessageByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if !got.IsDelivered || !got.IsRead {
		t.Fatal("read did not promote delivered")
	}
}

func TestReceipts_FromWrongActorAreDropped(t *testing.T) {
	sm, store, notifier := newTestMachine(t)
	sender, _, msg := seedMessage(t, store)
	ctx := context.Background()

	sm.MarkDelivered(ctx, msg.ID, sender.ID, 5000) // sender cannot self-deliver
	sm.MarkRead(ctx, msg.ID, sender.ID, 5000)
	sm.MarkDelivered(ctx, "unknown-id", sender.ID, 5000)

	if sent := notifier.all(); len(sent) != 0 {
		t.Fatalf("notifications = %v, want none", sent)
	}

	got, err := store.GetMessageByID(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if got.IsDelivered || got.IsRead {
		t.Fatal("dropped receipt mutated state")
	}
}

func TestMarkConversationDelivered_ReceiptPerMessage(t *testing.T) {
	sm, store, notifier := newTestMachine(t)
	sender, receiver, first := seedMessage(t, store)
	ctx := context.Background()

	content := "second"
	second, err := store.CreateMessage(ctx, sender.ID, receiver.ID, storage.MessageTypeText, &content, nil, nil, nil, 3000)
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	sm.MarkConversationDelivered(ctx, receiver.ID, sender.ID, 5000)

	sent := notifier.all()
	if len(sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(sent))
	}
	seen := map[string]bool{}
	for _, n := range sent {
		if n.UserID != sender.ID {
			t.Fatalf("receipt went to %s, want sender %s", n.UserID, sender.ID)
		}
		update := n.Data.(StatusUpdate)
		if update.Status != storage.MessageStatusDelivered {
			t.Fatalf("status = %q, want delivered", update.Status)
		}
		seen[update.MessageID] = true
	}
	if !seen[first.ID] || !seen[second.ID] {
		t.Fatalf("receipts for %v, want both %s and %s", seen, first.ID, second.ID)
	}

	// Repeat run finds nothing undelivered.
	sm.MarkConversationDelivered(ctx, receiver.ID, sender.ID, 6000)
	if sent := notifier.all(); len(sent) != 2 {
		t.Fatalf("notifications after repeat = %d, want still 2", len(sent))
	}
}
