//go:build !darwin

package secret

// NewSystemStore reports the credential store as unavailable on platforms
// without a supported keychain. There is no fallback to disk.
func NewSystemStore() (Store, error) {
	return nil, ErrUnavailable
}
