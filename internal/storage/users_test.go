package storage

import (
	"context"
	"errors"
	"testing"
)

func TestCreateUser_DuplicatePhone(t *testing.T) {
	store := newTestStore(t)
	mustCreateUser(t, store, "15550001", "First")

	_, err := store.CreateUser(context.Background(), "15550001", "Second", "hash", 2000)
	if !errors.Is(err, ErrPhoneExists) {
		t.Fatalf("error = %v, want ErrPhoneExists", err)
	}
}

func TestGetUserByPhone(t *testing.T) {
	store := newTestStore(t)
	created := mustCreateUser(t, store, "15550001", "Alice")

	got, err := store.GetUserByPhone(context.Background(), "15550001")
	if err != nil {
		t.Fatalf("GetUserByPhone() error = %v", err)
	}
	if got.ID != created.ID || got.Name != "Alice" {
		t.Fatalf("got = %+v, want user %s", got, created.ID)
	}
	if !got.IsPrivate {
		t.Fatal("new user should default to private")
	}
	if got.IsOnline {
		t.Fatal("new user should start offline")
	}

	if _, err := store.GetUserByPhone(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown phone error = %v, want ErrNotFound", err)
	}
}

func TestSearchUsers_ExcludesSelf(t *testing.T) {
	store := newTestStore(t)
	alice := mustCreateUser(t, store, "15550001", "Alice")
	mustCreateUser(t, store, "15550002", "Alicia")
	mustCreateUser(t, store, "15550003", "Bob")

	users, err := store.SearchUsers(context.Background(), "Ali", alice.ID, 10)
	if err != nil {
		t.Fatalf("SearchUsers() error = %v", err)
	}
	if len(users) != 1 || users[0].Name != "Alicia" {
		t.Fatalf("users = %+v, want just Alicia", users)
	}
}

func TestSetUserPresence_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "15550001", "Alice")

	token := "session-token-1"
	if err := store.SetUserPresence(context.Background(), user.ID, true, &token, 5000, 5000); err != nil {
		t.Fatalf("SetUserPresence() error = %v", err)
	}

	got, err := store.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if !got.IsOnline {
		t.Fatal("user not online")
	}
	if got.SessionToken == nil || *got.SessionToken != token {
		t.Fatal("session token not persisted")
	}
	if got.LastSeenMs == nil || *got.LastSeenMs != 5000 {
		t.Fatal("last seen not persisted")
	}

	// Transport disconnect keeps the session token.
	if err := store.TouchUserOffline(context.Background(), user.ID, 6000, 6000); err != nil {
		t.Fatalf("TouchUserOffline() error = %v", err)
	}
	got, err = store.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.IsOnline {
		t.Fatal("user still online after disconnect")
	}
	if got.SessionToken == nil || *got.SessionToken != token {
		t.Fatal("disconnect cleared the session token")
	}

	// Logout clears it.
	if err := store.SetUserPresence(context.Background(), user.ID, false, nil, 7000, 7000); err != nil {
		t.Fatalf("SetUserPresence(logout) error = %v", err)
	}
	got, err = store.GetUserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if got.SessionToken != nil {
		t.Fatal("logout kept the session token")
	}
}

func TestListContacts_OrderedByLastMessage(t *testing.T) {
	store := newTestStore(t)
	a := mustCreateUser(t, store, "100", "A")
	b := mustCreateUser(t, store, "200", "B")
	c := mustCreateUser(t, store, "300", "C")
	mustCreateUser(t, store, "400", "D") // never messaged

	createTextMessage(t, store, a.ID, b.ID, 1000)
	createTextMessage(t, store, c.ID, a.ID, 2000)
	createTextMessage(t, store, a.ID, b.ID, 3000)

	contacts, err := store.ListContacts(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("len(contacts) = %d, want 2", len(contacts))
	}
	if contacts[0].ID != b.ID || contacts[1].ID != c.ID {
		t.Fatalf("contacts order = [%s %s], want [%s %s]", contacts[0].ID, contacts[1].ID, b.ID, c.ID)
	}
}

func TestAuthTokens_Lifecycle(t *testing.T) {
	store := newTestStore(t)
	user := mustCreateUser(t, store, "100", "A")
	ctx := context.Background()

	row, err := store.SaveAuthToken(ctx, "tok-1", user.ID, nil, 1000, 10_000)
	if err != nil {
		t.Fatalf("SaveAuthToken() error = %v", err)
	}
	if row.Token != "tok-1" {
		t.Fatalf("token = %q, want tok-1", row.Token)
	}

	got, err := store.ValidateToken(ctx, "tok-1", 5000)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if got.UserID != user.ID {
		t.Fatalf("user = %q, want %q", got.UserID, user.ID)
	}

	if _, err := store.ValidateToken(ctx, "tok-1", 20_000); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expired token error = %v, want ErrTokenExpired", err)
	}
	if _, err := store.ValidateToken(ctx, "missing", 5000); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("unknown token error = %v, want ErrTokenInvalid", err)
	}

	// Re-login replaces every old token for the user.
	if err := store.DeleteUserTokens(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUserTokens() error = %v", err)
	}
	if _, err := store.SaveAuthToken(ctx, "tok-2", user.ID, nil, 6000, 16_000); err != nil {
		t.Fatalf("SaveAuthToken(tok-2) error = %v", err)
	}
	if _, err := store.ValidateToken(ctx, "tok-1", 7000); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("revoked token error = %v, want ErrTokenInvalid", err)
	}

	removed, err := store.CleanExpiredTokens(ctx, 100_000)
	if err != nil {
		t.Fatalf("CleanExpiredTokens() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
