// Package hostid derives a stable, non-secret identifier for the current
// machine. The identifier feeds key derivation so that a vault file copied
// to another machine cannot be decrypted there.
package hostid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mikelnorth/audiobookshelf-download-cli/internal/secret"
)

// Source records where the fingerprint came from. Each step down the chain
// is an explicit state, never a silent catch-all.
type Source string

const (
	// SourcePlatformUUID is the firmware hardware UUID (macOS).
	SourcePlatformUUID Source = "platform-uuid"
	// SourceMachineID is the OS machine-id file (Linux).
	SourceMachineID Source = "machine-id"
	// SourceFallback is a random identifier generated once and persisted in
	// the OS credential store, used when no hardware identifier exists.
	SourceFallback Source = "generated-fallback"
)

// Fingerprint is a stable machine identifier plus its provenance.
type Fingerprint struct {
	Bytes  []byte
	Source Source
}

// Degraded reports that no hardware-backed identifier was available and the
// persisted fallback is in use.
func (f Fingerprint) Degraded() bool { return f.Source == SourceFallback }

var errNoPlatformID = errors.New("no platform identifier available")

// Provider resolves the machine fingerprint. Construct with New.
type Provider struct {
	store  secret.Store
	logger zerolog.Logger

	// platformID is swapped out by tests.
	platformID func() (string, Source, error)
}

// New returns a Provider that consults the platform identifier first and
// falls back to an identifier persisted in store (alongside the master
// secret, never in the vault file).
func New(store secret.Store, logger zerolog.Logger) *Provider {
	return &Provider{store: store, logger: logger, platformID: readPlatformID}
}

// Fingerprint returns the machine identifier. Deterministic across process
// restarts on the same machine; not required to survive an OS reinstall.
func (p *Provider) Fingerprint() (Fingerprint, error) {
	id, source, err := p.platformID()
	if err == nil {
		return Fingerprint{Bytes: []byte(string(source) + ":" + id), Source: source}, nil
	}
	if !errors.Is(err, errNoPlatformID) {
		p.logger.Warn().Err(err).Msg("platform identifier lookup failed, using persisted fallback")
	} else {
		p.logger.Warn().Msg("no hardware identifier on this system, using persisted fallback")
	}
	return p.fallback()
}

func (p *Provider) fallback() (Fingerprint, error) {
	if p.store == nil {
		return Fingerprint{}, errors.New("no fallback store configured")
	}

	existing, err := p.store.Get(secret.MachineIDAccount)
	if err == nil {
		return Fingerprint{Bytes: append([]byte("fallback:"), existing...), Source: SourceFallback}, nil
	}
	if !errors.Is(err, secret.ErrNotFound) {
		return Fingerprint{}, fmt.Errorf("read fallback machine identifier: %w", err)
	}

	generated := []byte(uuid.NewString())
	if err := p.store.Set(secret.MachineIDAccount, generated); err != nil {
		return Fingerprint{}, fmt.Errorf("persist fallback machine identifier: %w", err)
	}
	p.logger.Warn().Msg("generated new machine identifier; vault entries are bound to it")
	return Fingerprint{Bytes: append([]byte("fallback:"), generated...), Source: SourceFallback}, nil
}
