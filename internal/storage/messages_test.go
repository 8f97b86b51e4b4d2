package storage

import (
	"context"
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func createTextMessage(t *testing.T, store *Store, senderID, receiverID string, nowMs int64) MessageRow {
	t.Helper()
	msg, err := store.CreateMessage(context.Background(), senderID, receiverID, MessageTypeText, strPtr("hello"), nil, nil, nil, nowMs)
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}
	return msg
}

func TestCreateMessage_SelfRejected(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")

	_, err := store.CreateMessage(context.Background(), a.ID, a.ID, MessageTypeText, strPtr("hi"), nil, nil, nil, 1000)
	if !errors.Is(err, ErrCannotMessageSelf) {
		t.Fatalf("error = %v, want ErrCannotMessageSelf", err)
	}
}

func TestCreateMessage_StartsUndelivered(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")

	msg := createTextMessage(t, store, a.ID, b.ID, 2000)
	if msg.IsDelivered || msg.IsRead {
		t.Fatalf("new message delivered=%v read=%v, want false/false", msg.IsDelivered, msg.IsRead)
	}
	if msg.Status() != MessageStatusSent {
		t.Fatalf("Status() = %q, want %q", msg.Status(), MessageStatusSent)
	}

	got, err := store.GetMessageByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if got.IsDelivered || got.IsRead || got.DeliveredAtMs != nil || got.ReadAtMs != nil {
		t.Fatal("persisted message has delivery state set on insert")
	}
}

func TestListConversation_UnionBothDirections(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	c := mustCreateUser(t, store, "300", "C")

	m1 := createTextMessage(t, store, a.ID, b.ID, 1000)
	m2 := createTextMessage(t, store, b.ID, a.ID, 2000)
	createTextMessage(t, store, a.ID, c.ID, 3000) // other conversation

	msgs, hasMore, err := store.ListConversation(context.Background(), a.ID, b.ID, 50, "")
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	if hasMore {
		t.Fatal("hasMore = true, want false")
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != m1.ID || msgs[1].ID != m2.ID {
		t.Fatal("conversation not in insertion order (oldest first)")
	}
}

func TestListConversation_CursorPagination(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")

	var ids []string
	for i := 0; i < 5; i++ {
		msg := createTextMessage(t, store, a.ID, b.ID, int64(1000+i*100))
		ids = append(ids, msg.ID)
	}

	page, hasMore, err := store.ListConversation(context.Background(), b.ID, a.ID, 2, "")
	if err != nil {
		t.Fatalf("ListConversation() error = %v", err)
	}
	if !hasMore {
		t.Fatal("hasMore = false, want true")
	}
	if len(page) != 2 || page[0].ID != ids[3] || page[1].ID != ids[4] {
		t.Fatal("latest page wrong")
	}

	older, _, err := store.ListConversation(context.Background(), b.ID, a.ID, 2, page[0].ID)
	if err != nil {
		t.Fatalf("ListConversation(before) error = %v", err)
	}
	if len(older) != 2 || older[0].ID != ids[1] || older[1].ID != ids[2] {
		t.Fatal("older page wrong")
	}
}

func TestMarkMessageDelivered_Idempotent(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	msg := createTextMessage(t, store, a.ID, b.ID, 1000)

	first, changed, err := store.MarkMessageDelivered(context.Background(), msg.ID, b.ID, 5000)
	if err != nil {
		t.Fatalf("MarkMessageDelivered() error = %v", err)
	}
	if !changed {
		t.Fatal("changed = false on first delivery, want true")
	}
	if !first.IsDelivered || first.DeliveredAtMs == nil || *first.DeliveredAtMs != 5000 {
		t.Fatalf("delivered state = %+v, want delivered at 5000", first)
	}

	second, changed, err := store.MarkMessageDelivered(context.Background(), msg.ID, b.ID, 9000)
	if err != nil {
		t.Fatalf("MarkMessageDelivered() second error = %v", err)
	}
	if changed {
		t.Fatal("changed = true on repeat delivery, want false")
	}
	if second.DeliveredAtMs == nil || *second.DeliveredAtMs != 5000 {
		t.Fatal("repeat delivery overwrote the timestamp")
	}
}

func TestMarkMessageRead_PromotesDelivered(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	msg := createTextMessage(t, store, a.ID, b.ID, 1000)

	got, changed, err := store.MarkMessageRead(context.Background(), msg.ID, b.ID, 7000)
	if err != nil {
		t.Fatalf("MarkMessageRead() error = %v", err)
	}
	if !changed {
		t.Fatal("changed = false, want true")
	}
	if !got.IsDelivered || !got.IsRead {
		t.Fatalf("delivered=%v read=%v, want true/true", got.IsDelivered, got.IsRead)
	}
	if got.DeliveredAtMs == nil || got.ReadAtMs == nil {
		t.Fatal("timestamps missing after read")
	}
	if *got.DeliveredAtMs != *got.ReadAtMs {
		t.Fatalf("deliveredAt=%d readAt=%d, want equal for one-step promotion", *got.DeliveredAtMs, *got.ReadAtMs)
	}
	if got.Status() != MessageStatusRead {
		t.Fatalf("Status() = %q, want %q", got.Status(), MessageStatusRead)
	}
}

func TestMarkMessageRead_AfterDelivered_KeepsOrder(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	msg := createTextMessage(t, store, a.ID, b.ID, 1000)

	if _, _, err := store.MarkMessageDelivered(context.Background(), msg.ID, b.ID, 5000); err != nil {
		t.Fatalf("MarkMessageDelivered() error = %v", err)
	}

	got, changed, err := store.MarkMessageRead(context.Background(), msg.ID, b.ID, 8000)
	if err != nil {
		t.Fatalf("MarkMessageRead() error = %v", err)
	}
	if !changed {
		t.Fatal("changed = false, want true")
	}
	if *got.DeliveredAtMs != 5000 {
		t.Fatal("read overwrote deliveredAt")
	}
	if *got.ReadAtMs < *got.DeliveredAtMs {
		t.Fatalf("readAt=%d < deliveredAt=%d", *got.ReadAtMs, *got.DeliveredAtMs)
	}

	// Repeat reads are no-ops.
	repeat, changed, err := store.MarkMessageRead(context.Background(), msg.ID, b.ID, 9999)
	if err != nil {
		t.Fatalf("MarkMessageRead() repeat error = %v", err)
	}
	if changed {
		t.Fatal("changed = true on repeat read, want false")
	}
	if *repeat.ReadAtMs != 8000 {
		t.Fatal("repeat read overwrote readAt")
	}
}

func TestMarkMessage_NonReceiverRejected(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	c := mustCreateUser(t, store, "300", "C")
	msg := createTextMessage(t, store, a.ID, b.ID, 1000)

	for _, actor := range []string{a.ID, c.ID} {
		if _, _, err := store.MarkMessageDelivered(context.Background(), msg.ID, actor, 5000); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("MarkMessageDelivered(actor=%s) error = %v, want ErrAccessDenied", actor, err)
		}
		if _, _, err := store.MarkMessageRead(context.Background(), msg.ID, actor, 5000); !errors.Is(err, ErrAccessDenied) {
			t.Fatalf("MarkMessageRead(actor=%s) error = %v, want ErrAccessDenied", actor, err)
		}
	}

	got, err := store.GetMessageByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if got.IsDelivered || got.IsRead {
		t.Fatal("rejected actor mutated delivery state")
	}
}

func TestMarkMessage_UnknownID(t *testing.T) {
	store := newTestStore(t)
	b := mustCreateUser(t, store, "200", "B")

	if _, _, err := store.MarkMessageDelivered(context.Background(), "nope", b.ID, 5000); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkConversationDelivered(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")

	m1 := createTextMessage(t, store, a.ID, b.ID, 1000)
	m2 := createTextMessage(t, store, a.ID, b.ID, 2000)
	m3 := createTextMessage(t, store, b.ID, a.ID, 3000) // b's own message, untouched

	if _, _, err := store.MarkMessageDelivered(context.Background(), m1.ID, b.ID, 4000); err != nil {
		t.Fatalf("MarkMessageDelivered() error = %v", err)
	}

	ids, err := store.MarkConversationDelivered(context.Background(), b.ID, a.ID, 5000)
	if err != nil {
		t.Fatalf("MarkConversationDelivered() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != m2.ID {
		t.Fatalf("ids = %v, want [%s]", ids, m2.ID)
	}

	got, err := store.GetMessageByID(context.Background(), m2.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if !got.IsDelivered || *got.DeliveredAtMs != 5000 {
		t.Fatal("bulk delivery did not mark the message")
	}

	outbound, err := store.GetMessageByID(context.Background(), m3.ID)
	if err != nil {
		t.Fatalf("GetMessageByID() error = %v", err)
	}
	if outbound.IsDelivered {
		t.Fatal("bulk delivery touched the receiver's own outbound message")
	}

	// Second run finds nothing.
	ids, err = store.MarkConversationDelivered(context.Background(), b.ID, a.ID, 6000)
	if err != nil {
		t.Fatalf("MarkConversationDelivered() second error = %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("second run ids = %v, want none", ids)
	}
}
