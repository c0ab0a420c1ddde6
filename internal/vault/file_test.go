package vault

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func testEntry(server string) *Entry {
	return &Entry{
		ServerAddress: server,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
		Credential: Credential{
			Mode:       ModeEncrypted,
			Ciphertext: []byte{1, 2, 3},
			Nonce:      []byte{4, 5, 6},
			Salt:       []byte{7, 8, 9},
			Iterations: 100_000,
		},
	}
}

func TestEntriesPreserveInsertionOrder(t *testing.T) {
	entries := NewEntries()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		entries.Put(name, testEntry("https://"+name+".example.com"))
	}

	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded := NewEntries()
	if err := json.Unmarshal(data, decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := decoded.Names()
	want := []string{"zeta", "alpha", "mid"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
	}
}

func TestEntriesOverwriteKeepsPosition(t *testing.T) {
	entries := NewEntries()
	entries.Put("a", testEntry("https://a"))
	entries.Put("b", testEntry("https://b"))
	entries.Put("c", testEntry("https://c"))
	entries.Put("b", testEntry("https://b2"))

	names := entries.Names()
	if names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("overwrite changed order: %v", names)
	}
	e, _ := entries.Get("b")
	if e.ServerAddress != "https://b2" {
		t.Fatalf("overwrite did not replace entry: %q", e.ServerAddress)
	}
}

func TestEntriesDelete(t *testing.T) {
	entries := NewEntries()
	entries.Put("a", testEntry("https://a"))
	entries.Put("b", testEntry("https://b"))

	if !entries.Delete("a") {
		t.Fatal("delete existing entry reported false")
	}
	if entries.Delete("a") {
		t.Fatal("delete absent entry reported true")
	}
	if names := entries.Names(); len(names) != 1 || names[0] != "b" {
		t.Fatalf("names after delete = %v", names)
	}
}

func TestEntriesRejectDuplicateKeys(t *testing.T) {
	blob := `{"dup": {"server_address": "https://a", "credential": {"mode": "legacy", "plaintext": "x"}},
	          "dup": {"server_address": "https://b", "credential": {"mode": "legacy", "plaintext": "y"}}}`
	if err := json.Unmarshal([]byte(blob), NewEntries()); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate-key error, got %v", err)
	}
}

func TestEntriesRejectEmptyName(t *testing.T) {
	blob := `{"": {"server_address": "https://a", "credential": {"mode": "legacy", "plaintext": "x"}}}`
	if err := json.Unmarshal([]byte(blob), NewEntries()); err == nil {
		t.Fatal("expected empty-name error")
	}
}

func TestCredentialValidateRejectsMixedVariant(t *testing.T) {
	c := Credential{
		Mode:       ModeEncrypted,
		Ciphertext: []byte{1},
		Nonce:      []byte{2},
		Salt:       []byte{3},
		Plaintext:  "leak",
	}
	if err := c.validate(); err == nil {
		t.Fatal("partially encrypted credential must be invalid")
	}

	c = Credential{Mode: ModeLegacy, Plaintext: "x", Salt: []byte{1}}
	if err := c.validate(); err == nil {
		t.Fatal("legacy credential with cipher material must be invalid")
	}

	c = Credential{Mode: "plain"}
	if err := c.validate(); err == nil {
		t.Fatal("unknown mode must be invalid")
	}
}

func TestMigrateFillsHistoricalIterations(t *testing.T) {
	f := &File{SchemaVersion: 1, Entries: NewEntries()}
	e := testEntry("https://old.example.com")
	e.Credential.Iterations = 0
	f.Entries.Put("old", e)

	if !f.migrate() {
		t.Fatal("expected migration of v1 file")
	}
	if f.SchemaVersion != SchemaVersion {
		t.Fatalf("schema version = %d, want %d", f.SchemaVersion, SchemaVersion)
	}
	got, _ := f.Entries.Get("old")
	if got.Credential.Iterations != 100_000 {
		t.Fatalf("iterations = %d, want historical default", got.Credential.Iterations)
	}

	if f.migrate() {
		t.Fatal("migrating a current-version file must be a no-op")
	}
}
