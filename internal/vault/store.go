// Package vault owns the encrypted credential file: a versioned collection
// of named server profiles whose API keys are sealed with a key derived
// from the user's master passphrase and the machine fingerprint.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/hostid"
	"github.com/mikelnorth/audiobookshelf-download-cli/internal/secret"
	"github.com/mikelnorth/audiobookshelf-download-cli/krypto"
)

const aadPrefix = "vault.entry:"

// Fingerprinter supplies the machine identifier for key derivation.
// *hostid.Provider satisfies it; tests substitute fixed values.
type Fingerprinter interface {
	Fingerprint() (hostid.Fingerprint, error)
}

// Config wires a Store. All handles are injected; the package holds no
// process-wide state.
type Config struct {
	// Path is the vault file location.
	Path string
	// Secrets holds the master passphrase and the fallback machine id.
	Secrets secret.Store
	// Fingerprints resolves the machine identifier.
	Fingerprints Fingerprinter
	// Prompt obtains a new master passphrase on first run.
	Prompt secret.PassphraseFunc
	// Iterations is the PBKDF2 round count for newly written entries.
	// Zero selects the default; values below the floor are rejected.
	Iterations int
	// Logger receives warnings (permission hardening, degraded
	// fingerprint) and migration notices.
	Logger zerolog.Logger
}

// Store performs all entry-level operations against the vault file. It is
// the only component external callers interact with; they never see
// ciphertext, salts, or the master secret.
type Store struct {
	path       string
	secrets    secret.Store
	host       Fingerprinter
	prompt     secret.PassphraseFunc
	iterations int
	logger     zerolog.Logger
}

// New returns a Store over the given configuration.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("vault file path is required")
	}
	if cfg.Secrets == nil {
		return nil, errors.New("secret store is required")
	}
	if cfg.Fingerprints == nil {
		return nil, errors.New("fingerprint provider is required")
	}
	if cfg.Prompt == nil {
		return nil, errors.New("passphrase prompt is required")
	}
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = krypto.DefaultIterations
	}
	if iterations < krypto.MinIterations {
		return nil, fmt.Errorf("iteration count %d below floor %d", iterations, krypto.MinIterations)
	}
	return &Store{
		path:       cfg.Path,
		secrets:    cfg.Secrets,
		host:       cfg.Fingerprints,
		prompt:     cfg.Prompt,
		iterations: iterations,
		logger:     cfg.Logger,
	}, nil
}

// Load reads the vault file. A missing file is a first run and yields an
// empty vault at the current schema version. A file that exists but cannot
// be parsed yields ErrCorrupt and is left untouched. Older schemas are
// upgraded in memory only.
func (s *Store) Load() (*File, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewFile(), nil
		}
		return nil, fmt.Errorf("read vault file: %w", err)
	}

	f := &File{Entries: NewEntries()}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := f.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.migrate() {
		s.logger.Info().Int("schema_version", SchemaVersion).Msg("vault schema upgraded in memory; persisted on next save")
	}
	return f, nil
}

// Save serializes the vault and replaces the file atomically: the temporary
// file is written in full, fsynced, then renamed over the target, so a crash
// never leaves a partially written vault. Permission hardening failures are
// logged but do not fail the save.
func (s *Store) Save(f *File) error {
	if err := f.validate(); err != nil {
		return fmt.Errorf("refusing to save invalid vault: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode vault: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "vault-*.json")
	if err != nil {
		return fmt.Errorf("create temp vault: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp vault: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp vault: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		s.logger.Warn().Err(err).Msg("could not restrict vault file permissions")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp vault: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace vault file: %w", err)
	}
	syncDir(dir)

	if err := os.Chmod(s.path, 0o600); err != nil {
		s.logger.Warn().Err(err).Msg("could not restrict vault file permissions")
	}
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}

// Retrieved is the decrypted view of an entry handed to callers.
type Retrieved struct {
	Name          string
	ServerAddress string
	APIKey        string
	DownloadPath  string
	// Unprotected is an advisory flag: the credential is stored as legacy
	// plaintext and is not protected at rest until the next Put.
	Unprotected bool
}

// Get returns the plaintext credential for name, decrypting if needed.
// Legacy entries are returned as-is with the advisory flag set.
func (s *Store) Get(name string) (Retrieved, error) {
	f, err := s.Load()
	if err != nil {
		return Retrieved{}, err
	}
	entry, ok := f.Entries.Get(name)
	if !ok {
		return Retrieved{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	out := Retrieved{
		Name:          name,
		ServerAddress: entry.ServerAddress,
		DownloadPath:  entry.DownloadPath,
	}

	if entry.Credential.Mode == ModeLegacy {
		out.APIKey = entry.Credential.Plaintext
		out.Unprotected = true
		s.logger.Warn().Str("entry", name).Msg("credential is stored unencrypted; re-save it to protect it")
		return out, nil
	}

	key, err := s.deriveKey(entry.Credential.Salt, entry.Credential.Iterations)
	if err != nil {
		return Retrieved{}, err
	}
	defer krypto.Zeroize(key)

	plaintext, err := krypto.Open(key, entry.Credential.Nonce, entry.Credential.Ciphertext, entryAAD(name))
	if err != nil {
		if errors.Is(err, krypto.ErrAuthFailed) {
			return Retrieved{}, fmt.Errorf("%w: entry %q", ErrAuthFailed, name)
		}
		return Retrieved{}, fmt.Errorf("decrypt entry %q: %w", name, err)
	}
	out.APIKey = string(plaintext)
	krypto.Zeroize(plaintext)
	return out, nil
}

// Put writes an entry under name, overwriting any existing one. The
// credential is always freshly encrypted with a new salt and nonce; this is
// the only mutation path, so salt and ciphertext can never drift apart and
// legacy entries become encrypted on their next write.
func (s *Store) Put(name, serverAddress, apiKey, downloadPath string) error {
	if name == "" {
		return errors.New("entry name is required")
	}
	if serverAddress == "" {
		return errors.New("server address is required")
	}
	if apiKey == "" {
		return errors.New("credential is required")
	}

	f, err := s.Load()
	if err != nil {
		return err
	}

	salt, err := krypto.NewRandomSalt()
	if err != nil {
		return err
	}
	key, err := s.deriveKey(salt, s.iterations)
	if err != nil {
		return err
	}
	defer krypto.Zeroize(key)

	nonce, ciphertext, err := krypto.Seal(key, []byte(apiKey), entryAAD(name))
	if err != nil {
		return fmt.Errorf("encrypt credential: %w", err)
	}

	now := time.Now().UTC()
	entry := &Entry{
		ServerAddress: serverAddress,
		DownloadPath:  downloadPath,
		CreatedAt:     now,
		UpdatedAt:     now,
		Credential: Credential{
			Mode:       ModeEncrypted,
			Ciphertext: ciphertext,
			Nonce:      nonce,
			Salt:       salt,
			Iterations: s.iterations,
		},
	}
	if existing, ok := f.Entries.Get(name); ok && !existing.CreatedAt.IsZero() {
		entry.CreatedAt = existing.CreatedAt
	}
	f.Entries.Put(name, entry)

	return s.Save(f)
}

// Delete removes the entry under name. The removal is immediate and not
// reversible by this component.
func (s *Store) Delete(name string) error {
	f, err := s.Load()
	if err != nil {
		return err
	}
	if !f.Entries.Delete(name) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return s.Save(f)
}

// ListNames returns entry names in insertion order without decrypting
// anything.
func (s *Store) ListNames() ([]string, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	return f.Entries.Names(), nil
}

// Entries returns the plaintext metadata of all entries (no credentials)
// in insertion order, for listings.
func (s *Store) Entries() ([]Entry, error) {
	f, err := s.Load()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, f.Entries.Len())
	for _, name := range f.Entries.Names() {
		e, _ := f.Entries.Get(name)
		copied := *e
		copied.Credential = Credential{Mode: e.Credential.Mode}
		out = append(out, copied)
	}
	return out, nil
}

// Rekey decrypts every entry and re-encrypts it at the given iteration
// count with fresh salts and nonces. This is the maintenance path for
// changing the round count vault-wide; it fails before writing anything if
// any entry cannot be decrypted.
func (s *Store) Rekey(iterations int) error {
	if iterations < krypto.MinIterations {
		return fmt.Errorf("iteration count %d below floor %d", iterations, krypto.MinIterations)
	}

	f, err := s.Load()
	if err != nil {
		return err
	}

	for _, name := range f.Entries.Names() {
		entry, _ := f.Entries.Get(name)

		var plaintext []byte
		switch entry.Credential.Mode {
		case ModeLegacy:
			plaintext = []byte(entry.Credential.Plaintext)
		case ModeEncrypted:
			key, err := s.deriveKey(entry.Credential.Salt, entry.Credential.Iterations)
			if err != nil {
				return err
			}
			plaintext, err = krypto.Open(key, entry.Credential.Nonce, entry.Credential.Ciphertext, entryAAD(name))
			krypto.Zeroize(key)
			if err != nil {
				if errors.Is(err, krypto.ErrAuthFailed) {
					return fmt.Errorf("%w: entry %q", ErrAuthFailed, name)
				}
				return fmt.Errorf("decrypt entry %q: %w", name, err)
			}
		}

		salt, err := krypto.NewRandomSalt()
		if err != nil {
			return err
		}
		key, err := s.deriveKey(salt, iterations)
		if err != nil {
			return err
		}
		nonce, ciphertext, err := krypto.Seal(key, plaintext, entryAAD(name))
		krypto.Zeroize(key)
		krypto.Zeroize(plaintext)
		if err != nil {
			return fmt.Errorf("re-encrypt entry %q: %w", name, err)
		}

		entry.Credential = Credential{
			Mode:       ModeEncrypted,
			Ciphertext: ciphertext,
			Nonce:      nonce,
			Salt:       salt,
			Iterations: iterations,
		}
		entry.UpdatedAt = time.Now().UTC()
	}

	return s.Save(f)
}

// deriveKey obtains the master secret and machine fingerprint and derives
// the per-entry key. The key is ephemeral; callers zeroize it when done and
// it is never cached across calls.
func (s *Store) deriveKey(salt []byte, iterations int) ([]byte, error) {
	master, created, err := secret.GetOrCreateMaster(s.secrets, s.prompt)
	if err != nil {
		return nil, err
	}
	defer krypto.Zeroize(master)
	if created {
		s.logger.Info().Msg("master passphrase created and stored in the OS credential store")
	}

	fp, err := s.host.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("resolve machine fingerprint: %w", err)
	}
	if fp.Degraded() {
		s.logger.Warn().Str("source", string(fp.Source)).Msg("machine fingerprint is not hardware-backed")
	}

	return krypto.DeriveKey(master, fp.Bytes, salt, iterations)
}

func entryAAD(name string) []byte {
	return []byte(aadPrefix + name)
}
