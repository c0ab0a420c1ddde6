package secret_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/secret"
)

func TestGetOrCreateMasterFirstRun(t *testing.T) {
	store := secret.NewMemory()
	prompts := 0
	prompt := func() ([]byte, error) {
		prompts++
		return []byte("correct horse battery staple"), nil
	}

	pw, created, err := secret.GetOrCreateMaster(store, prompt)
	if err != nil {
		t.Fatalf("GetOrCreateMaster: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first run")
	}
	if prompts != 1 {
		t.Fatalf("expected one prompt, got %d", prompts)
	}

	again, created, err := secret.GetOrCreateMaster(store, prompt)
	if err != nil {
		t.Fatalf("second GetOrCreateMaster: %v", err)
	}
	if created {
		t.Fatal("expected created=false on second run")
	}
	if prompts != 1 {
		t.Fatal("prompt invoked despite existing passphrase")
	}
	if !bytes.Equal(pw, again) {
		t.Fatal("second call returned different secret bytes")
	}
}

func TestGetOrCreateMasterRejectsWeakPassphrase(t *testing.T) {
	store := secret.NewMemory()
	prompt := func() ([]byte, error) { return []byte("password"), nil }

	if _, _, err := secret.GetOrCreateMaster(store, prompt); err == nil {
		t.Fatal("expected weak passphrase to be rejected")
	}
	if _, err := store.Get(secret.MasterAccount); !errors.Is(err, secret.ErrNotFound) {
		t.Fatal("rejected passphrase must not be stored")
	}
}

func TestValidatePassphrase(t *testing.T) {
	cases := []struct {
		pw string
		ok bool
	}{
		{"", false},
		{"short", false},
		{"password", false},
		{"tr0ub4dor&3 horse", true},
		{"correct horse battery staple", true},
	}
	for _, tc := range cases {
		err := secret.ValidatePassphrase(tc.pw)
		if tc.ok && err != nil {
			t.Errorf("ValidatePassphrase(%q): unexpected error %v", tc.pw, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidatePassphrase(%q): expected rejection", tc.pw)
		}
	}
}

func TestMemoryStoreCopiesData(t *testing.T) {
	store := secret.NewMemory()
	data := []byte("secret-bytes")
	if err := store.Set("acct", data); err != nil {
		t.Fatalf("Set: %v", err)
	}
	data[0] = 'X'

	got, err := store.Get("acct")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "secret-bytes" {
		t.Fatalf("stored data aliased caller slice: %q", got)
	}
}
