package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize          = 32     // Salt size in bytes
	KeySize           = 32     // AES-256 key size
	DefaultIterations = 210000 // PBKDF2 iterations for new vaults (OWASP minimum)
	LegacyIterations  = 100000 // Iterations used before the count was stored per vault
	MaxIterations     = 1 << 30 // Fits the uint32 header field and a 32-bit int
	HeaderVersion     = 2
)

// Sub-key labels. Changing any of these makes every existing vault unreadable.
const (
	labelVaultKey  = "vault-key"
	labelSyncKey   = "sync-key"
	labelExportKey = "export-key"
)

// KDF holds the per-vault key derivation parameters
type KDF struct {
	Salt       []byte
	Iterations int
	Version    int
}

// NewKDF creates a new KDF with a random salt. A non-positive iteration
// count selects DefaultIterations; counts above MaxIterations are rejected.
func NewKDF(iterations int) (*KDF, error) {
	if iterations > MaxIterations {
		return nil, fmt.Errorf("iteration count %d exceeds %d", iterations, MaxIterations)
	}
	salt, err := GenerateRandom(SaltSize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}

	return &KDF{
		Salt:       salt,
		Iterations: iterations,
		Version:    HeaderVersion,
	}, nil
}

// DeriveKey derives the master key from a password
func (k *KDF) DeriveKey(password []byte) []byte {
	return DeriveMasterKey(password, k.Salt, k.Iterations)
}

// DeriveMasterKey runs PBKDF2-HMAC-SHA256 over the password. Vaults that
// never recorded an iteration count pass 0 and get LegacyIterations.
func DeriveMasterKey(password, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = LegacyIterations
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
}

// KeySet is the set of purpose-scoped keys derived from one master key.
// It lives only in memory while a vault is unlocked.
type KeySet struct {
	VaultKey  []byte
	SyncKey   []byte
	ExportKey []byte
}

// DeriveSubKeys expands the master key into independent sub-keys using
// HKDF-Expand (HMAC-SHA256) with a fixed label per purpose.
func DeriveSubKeys(masterKey []byte) (*KeySet, error) {
	if len(masterKey) == 0 {
		return nil, ErrInvalidKey
	}

	vaultKey, err := expand(masterKey, labelVaultKey)
	if err != nil {
		return nil, err
	}
	syncKey, err := expand(masterKey, labelSyncKey)
	if err != nil {
		ClearBytes(vaultKey)
		return nil, err
	}
	exportKey, err := expand(masterKey, labelExportKey)
	if err != nil {
		ClearBytes(vaultKey)
		ClearBytes(syncKey)
		return nil, err
	}

	return &KeySet{
		VaultKey:  vaultKey,
		SyncKey:   syncKey,
		ExportKey: exportKey,
	}, nil
}

func expand(masterKey []byte, label string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, masterKey, []byte(label)), key); err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", label, err)
	}
	return key, nil
}

// Destroy zeroes every key in the set
func (k *KeySet) Destroy() {
	if k == nil {
		return
	}
	ClearBytes(k.VaultKey)
	ClearBytes(k.SyncKey)
	ClearBytes(k.ExportKey)
}

// HashForVerification returns the digest stored in the vault header to check
// password guesses. It is never used as key material.
func HashForVerification(key []byte) []byte {
	sum := sha256.Sum256(key)
	return sum[:]
}

// VerifyKey reports whether key hashes to expected
func VerifyKey(key, expected []byte) bool {
	return ConstantTimeCompare(HashForVerification(key), expected)
}
