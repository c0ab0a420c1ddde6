package krypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const gcmNonceSize = 12

// ErrAuthFailed is returned when a ciphertext fails authentication: it was
// tampered with, truncated, or the key is wrong (including a key derived
// from a different machine fingerprint or master secret).
var ErrAuthFailed = errors.New("authentication failed")

// Seal encrypts plaintext using AES-256-GCM with a fresh random nonce,
// returning the nonce and ciphertext. The aad is authenticated but not
// encrypted; callers bind the entry name so ciphertexts cannot be swapped
// between entries.
func Seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	if len(key) != KeyLengthBytes {
		return nil, nil, errors.New("aes-gcm requires a 32-byte key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("create gcm: %w", err)
	}

	nonce = make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, aad)
	return nonce, ciphertext, nil
}

// Open decrypts a ciphertext produced by Seal. Any modification of the
// ciphertext, nonce, or aad yields ErrAuthFailed, never altered plaintext.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(key) != KeyLengthBytes {
		return nil, errors.New("aes-gcm requires a 32-byte key")
	}
	if len(nonce) != gcmNonceSize {
		return nil, ErrAuthFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}
