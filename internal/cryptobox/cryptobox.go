// Package cryptobox derives per-entity encryption keys and seals/opens queued message
// payloads with an authenticated cipher: HKDF for key derivation, XChaCha20-Poly1305 for
// AEAD sealing.
package cryptobox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of a derived per-entity encryption key.
const KeySize = 32

// hkdfInfo is the fixed info string for deterministic key derivation from an API key.
// Deterministic: the same API key always derives the same encryption key, so re-authenticating
// with the same API key installs the same key and items already queued under it stay readable.
const hkdfInfo = "arachne-bridge/entity-queue-key/v1"

// ErrDecryptFailed indicates a sealed payload failed authentication (tampering, wrong key, or
// both). Callers discard the item rather than returning it, and log at warn.
var ErrDecryptFailed = errors.New("cryptobox: decrypt failed")

// DeriveKey deterministically derives a 32-byte encryption key from a cleartext API key.
func DeriveKey(apiKey string) ([KeySize]byte, error) {
	var key [KeySize]byte
	r := hkdf.New(sha256.New, []byte(apiKey), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		return key, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// Sealed holds AEAD ciphertext and its nonce for a single sealed field set.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte
}

// Seal encrypts plaintext under key with associated data aad (the entity id), using a fresh
// random nonce.
func Seal(key [KeySize]byte, aad, plaintext []byte) (*Sealed, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, aad)
	return &Sealed{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts a Sealed value under key with associated data aad. Any byte of tampering in
// ciphertext, nonce, or aad — or a mismatched key — yields ErrDecryptFailed.
func Open(key [KeySize]byte, aad []byte, s *Sealed) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// KeysEqual reports whether two derived keys are identical, in constant time.
func KeysEqual(a, b [KeySize]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
