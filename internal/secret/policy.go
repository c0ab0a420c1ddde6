package secret

import (
	"errors"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	minPassphraseLength = 8
	minStrengthScore    = 2
)

// ValidatePassphrase applies the master passphrase policy: minimum length
// plus a strength estimate, so a trivially guessable passphrase never
// becomes the only thing protecting the vault.
func ValidatePassphrase(pw string) error {
	if pw == "" {
		return errors.New("passphrase cannot be empty")
	}
	if len(pw) < minPassphraseLength {
		return errors.New("passphrase must be at least 8 characters long")
	}
	if zxcvbn.PasswordStrength(pw, nil).Score < minStrengthScore {
		return errors.New("passphrase is too easy to guess")
	}
	return nil
}
