package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mikelnorth/audiobookshelf-download-cli/krypto"
)

// SchemaVersion is the current vault file schema. Version 1 predates the
// per-entry iteration count.
const SchemaVersion = 2

// CredentialMode tags how the credential field of an entry is stored. The
// mode is recorded at write time, never inferred from the value's shape.
type CredentialMode string

const (
	// ModeEncrypted holds ciphertext produced by the authenticated cipher.
	ModeEncrypted CredentialMode = "encrypted"
	// ModeLegacy holds plaintext imported from a pre-encryption file or
	// inserted by hand. The tool itself never writes legacy credentials.
	ModeLegacy CredentialMode = "legacy"
)

// Credential is the tagged variant stored per entry. Exactly one of the
// encrypted fields or Plaintext is populated, matching Mode.
type Credential struct {
	Mode       CredentialMode `json:"mode"`
	Ciphertext []byte         `json:"ciphertext,omitempty"`
	Nonce      []byte         `json:"nonce,omitempty"`
	Salt       []byte         `json:"salt,omitempty"`
	Iterations int            `json:"iterations,omitempty"`
	Plaintext  string         `json:"plaintext,omitempty"`
}

func (c Credential) validate() error {
	switch c.Mode {
	case ModeEncrypted:
		if len(c.Ciphertext) == 0 || len(c.Nonce) == 0 || len(c.Salt) == 0 {
			return fmt.Errorf("encrypted credential missing ciphertext, nonce, or salt")
		}
		if c.Plaintext != "" {
			return fmt.Errorf("encrypted credential carries plaintext")
		}
	case ModeLegacy:
		if c.Plaintext == "" {
			return fmt.Errorf("legacy credential missing plaintext")
		}
		if len(c.Ciphertext) != 0 || len(c.Nonce) != 0 || len(c.Salt) != 0 {
			return fmt.Errorf("legacy credential carries cipher material")
		}
	default:
		return fmt.Errorf("unknown credential mode %q", c.Mode)
	}
	return nil
}

// Entry is one named server profile. Name mirrors the map key for
// convenience and is not serialized inside the value.
type Entry struct {
	Name          string     `json:"-"`
	ServerAddress string     `json:"server_address"`
	Credential    Credential `json:"credential"`
	DownloadPath  string     `json:"download_path,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// File is the whole persisted vault artifact.
type File struct {
	SchemaVersion int      `json:"schema_version"`
	Entries       *Entries `json:"entries"`
}

// NewFile returns an empty vault at the current schema version.
func NewFile() *File {
	return &File{SchemaVersion: SchemaVersion, Entries: NewEntries()}
}

// migrate upgrades older schemas in memory. Loading stays read-only with
// respect to the file; the upgraded shape is only persisted on the next save.
func (f *File) migrate() (changed bool) {
	if f.SchemaVersion >= SchemaVersion {
		return false
	}
	for _, name := range f.Entries.Names() {
		e, _ := f.Entries.Get(name)
		if e.Credential.Mode == ModeEncrypted && e.Credential.Iterations == 0 {
			// v1 entries were all written at the historical default.
			e.Credential.Iterations = krypto.MinIterations
		}
	}
	f.SchemaVersion = SchemaVersion
	return true
}

func (f *File) validate() error {
	if f.Entries == nil {
		return fmt.Errorf("missing entries")
	}
	if f.SchemaVersion <= 0 || f.SchemaVersion > SchemaVersion {
		return fmt.Errorf("unsupported schema version %d", f.SchemaVersion)
	}
	for _, name := range f.Entries.Names() {
		e, _ := f.Entries.Get(name)
		if e.ServerAddress == "" {
			return fmt.Errorf("entry %q: missing server address", name)
		}
		if err := e.Credential.validate(); err != nil {
			return fmt.Errorf("entry %q: %w", name, err)
		}
	}
	return nil
}

// Entries is a name-keyed collection that preserves insertion order, so
// listings stay stable across save/load cycles. The JSON form is a plain
// object, as encoding/json would produce, but decoded keys keep file order.
type Entries struct {
	names  []string
	byName map[string]*Entry
}

// NewEntries returns an empty collection.
func NewEntries() *Entries {
	return &Entries{byName: make(map[string]*Entry)}
}

// Get returns the entry stored under name.
func (e *Entries) Get(name string) (*Entry, bool) {
	entry, ok := e.byName[name]
	return entry, ok
}

// Put stores entry under name, overwriting any existing entry. New names
// are appended to the iteration order; overwrites keep their position.
func (e *Entries) Put(name string, entry *Entry) {
	if _, exists := e.byName[name]; !exists {
		e.names = append(e.names, name)
	}
	entry.Name = name
	e.byName[name] = entry
}

// Delete removes the entry stored under name, reporting whether it existed.
func (e *Entries) Delete(name string) bool {
	if _, exists := e.byName[name]; !exists {
		return false
	}
	delete(e.byName, name)
	for i, n := range e.names {
		if n == name {
			e.names = append(e.names[:i], e.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the entry names in insertion order.
func (e *Entries) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Len returns the number of entries.
func (e *Entries) Len() int { return len(e.names) }

// MarshalJSON writes the entries as a JSON object in insertion order.
func (e *Entries) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range e.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(e.byName[name])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving the key order found in the
// file. Duplicate keys are rejected rather than silently last-wins.
func (e *Entries) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("entries must be a JSON object")
	}

	e.names = nil
	e.byName = make(map[string]*Entry)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("invalid entry key %v", tok)
		}
		if name == "" {
			return fmt.Errorf("entry name cannot be empty")
		}
		if _, dup := e.byName[name]; dup {
			return fmt.Errorf("duplicate entry %q", name)
		}

		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			return fmt.Errorf("decode entry %q: %w", name, err)
		}
		entry.Name = name
		e.names = append(e.names, name)
		e.byName[name] = &entry
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
