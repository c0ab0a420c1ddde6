package krypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinIterations is the hard floor for PBKDF2 rounds. Entries written
	// before the count became tunable used exactly this value.
	MinIterations = 100_000
	// DefaultIterations is used for newly written entries.
	DefaultIterations = 200_000
	// SaltLengthBytes is the enforced per-entry salt length.
	SaltLengthBytes = 16
	// KeyLengthBytes matches the AES-256-GCM key size.
	KeyLengthBytes = 32
)

// DeriveKey stretches the master secret and machine fingerprint into a
// 32-byte key using PBKDF2-HMAC-SHA256. The same inputs always produce the
// same key; a different fingerprint (vault file moved to another machine)
// produces a different key and downstream decryption fails closed.
func DeriveKey(masterSecret, fingerprint, salt []byte, iterations int) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, errors.New("master secret is required")
	}
	if len(fingerprint) == 0 {
		return nil, errors.New("machine fingerprint is required")
	}
	if len(salt) != SaltLengthBytes {
		return nil, fmt.Errorf("salt must be %d bytes", SaltLengthBytes)
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("iteration count %d below floor %d", iterations, MinIterations)
	}

	material := make([]byte, 0, len(masterSecret)+1+len(fingerprint))
	material = append(material, masterSecret...)
	material = append(material, ':')
	material = append(material, fingerprint...)
	defer Zeroize(material)

	return pbkdf2.Key(material, salt, iterations, KeyLengthBytes, sha256.New), nil
}

// NewRandomSalt returns a cryptographically secure random per-entry salt.
func NewRandomSalt() ([]byte, error) {
	salt := make([]byte, SaltLengthBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// Zeroize overwrites sensitive byte slices in place to reduce lifetime in memory.
func Zeroize(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
