// Package kdf derives and verifies API-key hashes for entities using Argon2id.
package kdf

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Params are the cost parameters for API-key hashing, fixed in code and tunable only by
// recompiling.
var Params = &argon2id.Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// SaltLength is the length in bytes of the per-entity salt stored alongside the hash.
const SaltLength = 32

// NewSalt generates a fresh random per-entity salt.
func NewSalt() (string, error) {
	b := make([]byte, SaltLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Hash derives an Argon2id hash of apiKey entangled with the entity's salt. The returned
// string is the full PHC-encoded hash (algorithm, cost params, argon2id's own internal salt,
// and digest) — the caller's salt is mixed into the pre-image, not into this encoding.
func Hash(apiKey, salt string) (string, error) {
	hash, err := argon2id.CreateHash(apiKey+salt, Params)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return hash, nil
}

// Verify reports whether apiKey, entangled with salt, matches the stored hash. Comparison is
// constant-time (argon2id.ComparePasswordAndHash uses subtle.ConstantTimeCompare) so no
// early-return timing leak is observable across mismatched prefixes.
func Verify(apiKey, salt, hash string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(apiKey+salt, hash)
	if err != nil {
		return false, fmt.Errorf("compare api key: %w", err)
	}
	return match, nil
}

// NewAPIKey generates a fresh random API key (>= 32 bytes of entropy), hex-encoded.
func NewAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
