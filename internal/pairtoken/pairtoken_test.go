package pairtoken

import (
	"strings"
	"testing"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := New("test-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_EmptySecret(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("New() expected error for empty secret")
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	token, err := c.Encode("userA", "userB")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	peer, ok := c.Decode(token, "userA")
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if peer != "userB" {
		t.Fatalf("peer = %q, want %q", peer, "userB")
	}
}

func TestDecode_WrongCaller(t *testing.T) {
	c := newTestCodec(t)

	token, err := c.Encode("userA", "userB")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if _, ok := c.Decode(token, "userC"); ok {
		t.Fatal("Decode() with wrong caller succeeded, want failure")
	}
}

func TestDecode_Malformed(t *testing.T) {
	c := newTestCodec(t)

	for _, token := range []string{"", "not-base64!!", "YWJj", strings.Repeat("A", 100)} {
		if _, ok := c.Decode(token, "userA"); ok {
			t.Fatalf("Decode(%q) succeeded, want failure", token)
		}
	}
}

func TestDecode_Tampered(t *testing.T) {
	c := newTestCodec(t)

	token, err := c.Encode("userA", "userB")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	b := []byte(token)
	if b[len(b)-1] == 'A' {
		b[len(b)-1] = 'B'
	} else {
		b[len(b)-1] = 'A'
	}

	if _, ok := c.Decode(string(b), "userA"); ok {
		t.Fatal("Decode() of tampered token succeeded, want failure")
	}
}

func TestDecode_DifferentKey(t *testing.T) {
	c1 := newTestCodec(t)
	c2, err := New("other-secret")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	token, err := c1.Encode("userA", "userB")
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if _, ok := c2.Decode(token, "userA"); ok {
		t.Fatal("Decode() with different key succeeded, want failure")
	}
}

func TestEncryptDecryptText(t *testing.T) {
	c := newTestCodec(t)

	enc, err := c.EncryptText("hello")
	if err != nil {
		t.Fatalf("EncryptText() error = %v", err)
	}
	if enc == "hello" {
		t.Fatal("EncryptText() returned plaintext")
	}

	if got := c.DecryptText(enc); got != "hello" {
		t.Fatalf("DecryptText() = %q, want %q", got, "hello")
	}
}

func TestDecryptText_PassThrough(t *testing.T) {
	c := newTestCodec(t)

	// Legacy/plaintext rows come back unchanged.
	if got := c.DecryptText("plain old text"); got != "plain old text" {
		t.Fatalf("DecryptText() = %q, want input unchanged", got)
	}
	if got := c.DecryptText(""); got != "" {
		t.Fatalf("DecryptText(\"\") = %q, want empty", got)
	}
}

func TestEncryptText_Empty(t *testing.T) {
	c := newTestCodec(t)

	enc, err := c.EncryptText("")
	if err != nil {
		t.Fatalf("EncryptText() error = %v", err)
	}
	if enc != "" {
		t.Fatalf("EncryptText(\"\") = %q, want empty", enc)
	}
}
