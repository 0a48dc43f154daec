// Package keyring caches vault passwords in the OS keyring, keyed by vault id.
package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "lockpass"

var ErrNotStored = errors.New("no password stored in keyring")

// SavePassword stores the password for a vault
func SavePassword(vaultID string, password []byte) error {
	return keyring.Set(serviceName, vaultID, string(password))
}

// GetPassword returns the stored password for a vault, or ErrNotStored
func GetPassword(vaultID string) ([]byte, error) {
	secret, err := keyring.Get(serviceName, vaultID)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotStored
	}
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

// DeletePassword removes the stored password. Deleting a missing entry
// returns ErrNotStored.
func DeletePassword(vaultID string) error {
	err := keyring.Delete(serviceName, vaultID)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotStored
	}
	return err
}

// HasPassword reports whether a password is stored for the vault
func HasPassword(vaultID string) bool {
	_, err := keyring.Get(serviceName, vaultID)
	return err == nil
}
