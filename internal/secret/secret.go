// Package secret stores the master passphrase and related identifiers in the
// operating system's credential facility. Nothing handled here is ever
// written to the vault file, logs, or any other artifact this tool controls.
package secret

import (
	"errors"
	"fmt"
)

const (
	// Service is the fixed credential-store service identifier.
	Service = "audiobookshelf-downloader"
	// MasterAccount keys the user's master passphrase.
	MasterAccount = "master-key"
	// MachineIDAccount keys the generated fallback machine identifier.
	MachineIDAccount = "machine-identifier"
)

var (
	// ErrUnavailable means the OS credential facility cannot be reached or
	// access was denied. This is a hard stop: the secret is never written
	// anywhere else.
	ErrUnavailable = errors.New("os credential store unavailable")
	// ErrNotFound means no item exists under the requested account.
	ErrNotFound = errors.New("credential store item not found")
)

// Store is the narrow surface the vault needs from the OS credential
// facility. Implementations must keep items out of any file this
// application writes.
type Store interface {
	// Get returns the secret bytes stored under account, or ErrNotFound.
	Get(account string) ([]byte, error)
	// Set writes the secret bytes under account, replacing any existing item.
	Set(account string, data []byte) error
}

// PassphraseFunc obtains a new master passphrase from the user. It is only
// invoked when no passphrase exists yet; it may block on human input.
type PassphraseFunc func() ([]byte, error)

// GetOrCreateMaster returns the master passphrase, creating and storing one
// via prompt on first run. The created flag reports whether a new passphrase
// was stored. The passphrase is user-chosen so it can be re-typed on a new
// machine; callers own zeroizing the returned bytes.
func GetOrCreateMaster(store Store, prompt PassphraseFunc) (passphrase []byte, created bool, err error) {
	existing, err := store.Get(MasterAccount)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	chosen, err := prompt()
	if err != nil {
		return nil, false, fmt.Errorf("read master passphrase: %w", err)
	}
	if err := ValidatePassphrase(string(chosen)); err != nil {
		return nil, false, err
	}
	if err := store.Set(MasterAccount, chosen); err != nil {
		return nil, false, fmt.Errorf("store master passphrase: %w", err)
	}
	return chosen, true, nil
}
