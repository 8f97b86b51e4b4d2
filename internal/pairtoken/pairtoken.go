// Package pairtoken seals short identity pairs and message content with a
// single process-wide symmetric key.
//
// A pair token binds an ordered (caller, peer) identity pair: only the caller
// it was minted for can decode it back to the peer id. This hides recipient
// identifiers from casual inspection but is NOT an authorization boundary;
// every party check on persisted rows still happens server-side.
package pairtoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var ErrEmptySecret = errors.New("pairtoken: empty secret")

type Codec struct {
	key [32]byte
}

// New derives the sealing key from an arbitrary secret string.
func New(secret string) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	c := &Codec{key: sha256.Sum256([]byte(secret))}
	return c, nil
}

// Encode mints a token binding callerID to peerID.
func (c *Codec) Encode(callerID, peerID string) (string, error) {
	return c.seal(callerID + ":" + peerID)
}

// Decode returns the peer id embedded in token, but only when the token was
// minted for callerID. It never returns an error: malformed, tampered and
// foreign tokens all come back as ok=false.
func (c *Codec) Decode(token, callerID string) (peerID string, ok bool) {
	plain, ok := c.open(token)
	if !ok {
		return "", false
	}

	tokenCaller, tokenPeer, found := strings.Cut(plain, ":")
	if !found || tokenPeer == "" {
		return "", false
	}
	if tokenCaller != callerID {
		return "", false
	}
	return tokenPeer, true
}

// EncryptText seals message content for storage. Empty content passes
// through unchanged.
func (c *Codec) EncryptText(content string) (string, error) {
	if content == "" {
		return content, nil
	}
	return c.seal(content)
}

// DecryptText reverses EncryptText. Content that does not authenticate is
// returned as-is so that rows written before encryption was enabled stay
// readable.
func (c *Codec) DecryptText(content string) string {
	if content == "" {
		return content
	}
	plain, ok := c.open(content)
	if !ok {
		return content
	}
	return plain
}

func (c *Codec) seal(plain string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}

	box := secretbox.Seal(nonce[:], []byte(plain), &nonce, &c.key)
	return base64.RawURLEncoding.EncodeToString(box), nil
}

func (c *Codec) open(token string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) <= nonceSize {
		return "", false
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", false
	}
	return string(plain), true
}
