package krypto_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mikelnorth/audiobookshelf-download-cli/krypto"
)

const testIterations = krypto.MinIterations

func testSalt(t *testing.T) []byte {
	t.Helper()
	salt, err := krypto.NewRandomSalt()
	if err != nil {
		t.Fatalf("NewRandomSalt: %v", err)
	}
	return salt
}

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := testSalt(t)

	k1, err := krypto.DeriveKey([]byte("hunter2hunter2"), []byte("machine-a"), salt, testIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := krypto.DeriveKey([]byte("hunter2hunter2"), []byte("machine-a"), salt, testIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("identical inputs produced different keys")
	}
	if len(k1) != krypto.KeyLengthBytes {
		t.Fatalf("expected %d-byte key, got %d", krypto.KeyLengthBytes, len(k1))
	}
}

func TestDeriveKeyFingerprintBinding(t *testing.T) {
	salt := testSalt(t)

	kA, err := krypto.DeriveKey([]byte("hunter2hunter2"), []byte("machine-a"), salt, testIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	kB, err := krypto.DeriveKey([]byte("hunter2hunter2"), []byte("machine-b"), salt, testIterations)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	if bytes.Equal(kA, kB) {
		t.Fatal("different fingerprints produced the same key")
	}
}

func TestDeriveKeyRejectsLowIterations(t *testing.T) {
	if _, err := krypto.DeriveKey([]byte("s"), []byte("f"), testSalt(t), krypto.MinIterations-1); err == nil {
		t.Fatal("expected error for iteration count below floor")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, krypto.KeyLengthBytes)
	aad := []byte("vault.entry:home")

	for _, plaintext := range []string{"secret-abc", "x", "a longer credential with spaces and unicode: ключ"} {
		nonce, ct, err := krypto.Seal(key, []byte(plaintext), aad)
		if err != nil {
			t.Fatalf("Seal(%q): %v", plaintext, err)
		}
		got, err := krypto.Open(key, nonce, ct, aad)
		if err != nil {
			t.Fatalf("Open(%q): %v", plaintext, err)
		}
		if string(got) != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestSealFreshNoncePerCall(t *testing.T) {
	key := make([]byte, krypto.KeyLengthBytes)

	n1, c1, err := krypto.Seal(key, []byte("same"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	n2, c2, err := krypto.Seal(key, []byte("same"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(n1, n2) {
		t.Fatal("nonce reused across calls")
	}
	if bytes.Equal(c1, c2) {
		t.Fatal("identical ciphertext for two encryptions of the same plaintext")
	}
}

func TestOpenDetectsTampering(t *testing.T) {
	key := make([]byte, krypto.KeyLengthBytes)
	nonce, ct, err := krypto.Seal(key, []byte("secret-abc"), nil)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	for i := range ct {
		mangled := bytes.Clone(ct)
		mangled[i] ^= 0x01
		if _, err := krypto.Open(key, nonce, mangled, nil); !errors.Is(err, krypto.ErrAuthFailed) {
			t.Fatalf("flipping ciphertext byte %d: got %v, want ErrAuthFailed", i, err)
		}
	}

	for i := range nonce {
		mangled := bytes.Clone(nonce)
		mangled[i] ^= 0x01
		if _, err := krypto.Open(key, mangled, ct, nil); !errors.Is(err, krypto.ErrAuthFailed) {
			t.Fatalf("flipping nonce byte %d: got %v, want ErrAuthFailed", i, err)
		}
	}

	if _, err := krypto.Open(key, nonce, ct[:len(ct)-1], nil); !errors.Is(err, krypto.ErrAuthFailed) {
		t.Fatalf("truncated ciphertext: got %v, want ErrAuthFailed", err)
	}
}

func TestOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, krypto.KeyLengthBytes)
	nonce, ct, err := krypto.Seal(key, []byte("secret-abc"), []byte("vault.entry:home"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := krypto.Open(key, nonce, ct, []byte("vault.entry:work")); !errors.Is(err, krypto.ErrAuthFailed) {
		t.Fatalf("wrong aad: got %v, want ErrAuthFailed", err)
	}
}
