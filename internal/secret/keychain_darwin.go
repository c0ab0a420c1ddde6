//go:build darwin

package secret

import (
	"fmt"

	keychain "github.com/keybase/go-keychain"
)

const keychainLabel = "Audiobookshelf downloader"

// Keychain stores items in the macOS Keychain under the fixed service.
// Items are device-local (never synced to iCloud) and readable only while
// the device is unlocked.
type Keychain struct{}

// NewSystemStore returns the platform credential store.
func NewSystemStore() (Store, error) {
	return Keychain{}, nil
}

func (Keychain) Get(account string) ([]byte, error) {
	data, err := keychain.GetGenericPassword(Service, account, "", "")
	if err != nil {
		if err == keychain.ErrorItemNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

func (Keychain) Set(account string, data []byte) error {
	item := keychain.NewGenericPassword(Service, account, keychainLabel, data, "")
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlockedThisDeviceOnly)

	if err := keychain.AddItem(item); err != nil {
		if err == keychain.ErrorDuplicateItem {
			query := keychain.NewGenericPassword(Service, account, "", nil, "")
			update := keychain.NewItem()
			update.SetData(data)
			if err := keychain.UpdateItem(query, update); err != nil {
				return fmt.Errorf("%w: update item: %v", ErrUnavailable, err)
			}
			return nil
		}
		return fmt.Errorf("%w: add item: %v", ErrUnavailable, err)
	}
	return nil
}
