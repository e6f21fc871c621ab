package passphrase

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keychain entry coordinates.
const (
	KeychainService = "tinysecrets"
	KeychainAccount = "passphrase"
)

// Keychain caches the store passphrase in the OS keychain.
type Keychain struct {
	Service string
	Account string
}

// DefaultKeychain returns the tinysecrets keychain entry.
func DefaultKeychain() Keychain {
	return Keychain{Service: KeychainService, Account: KeychainAccount}
}

// Get returns the cached passphrase. found is false if no entry exists.
func (k Keychain) Get() (pass []byte, found bool, err error) {
	secret, err := keyring.Get(k.Service, k.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read keychain: %w", err)
	}
	if secret == "" {
		return nil, false, nil
	}
	return []byte(secret), true, nil
}

// Set stores pass, replacing any previous entry.
func (k Keychain) Set(pass []byte) error {
	if err := keyring.Set(k.Service, k.Account, string(pass)); err != nil {
		return fmt.Errorf("failed to store passphrase in keychain: %w", err)
	}
	return nil
}

// Delete removes the entry. Returns false if there was none.
func (k Keychain) Delete() (bool, error) {
	err := keyring.Delete(k.Service, k.Account)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete keychain entry: %w", err)
	}
	return true, nil
}
