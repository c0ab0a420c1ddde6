package vault

import "errors"

var (
	// ErrNotFound means no entry exists under the requested name.
	ErrNotFound = errors.New("vault: entry not found")

	// ErrCorrupt means the vault file exists but cannot be parsed into the
	// expected structure. The file is never modified or deleted on this
	// path; the caller decides whether to back up and reset.
	ErrCorrupt = errors.New("vault: corrupt vault file")

	// ErrAuthFailed means a stored credential failed authentication on
	// decrypt: the master secret is wrong, the vault file was copied from a
	// different machine, or the record was tampered with. Other entries
	// remain usable; the affected credential must be re-entered.
	ErrAuthFailed = errors.New("vault: credential authentication failed (wrong master secret or different machine)")
)
