package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/storage"
	"github.com/rs/zerolog"
)

const (
	VaultFile      = "vault.lockpass"
	DirPermSecure  = 0700 // Directory: owner rwx only
	FilePermSecure = 0600 // File: owner rw only
)

var (
	ErrNotInitialized   = errors.New("vault not initialized")
	ErrAlreadyExists    = errors.New("vault already exists")
	ErrWrongPassword    = errors.New("invalid password")
	ErrPasswordRequired = errors.New("password required")
	ErrVaultLocked      = errors.New("vault is locked")
	ErrNotFound         = errors.New("entry not found")
	ErrInvalidEntry     = errors.New("invalid entry")
)

// Vault is a handle on a vault file. It holds no key material; Create and
// Unlock hand out a Session that does.
type Vault struct {
	path       string
	iterations int
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures a Vault
type Option func(*Vault)

// WithIterations sets the PBKDF2 cost used when creating a vault.
// Existing vaults always use the count stored in their header.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// WithLogger sets the logger used for skipped rows and migrations
func WithLogger(log zerolog.Logger) Option {
	return func(v *Vault) { v.log = log }
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// New returns a Vault for the database file at path
func New(path string, opts ...Option) *Vault {
	v := &Vault{
		path:       path,
		iterations: crypto.DefaultIterations,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Path returns the vault file path
func (v *Vault) Path() string {
	return v.path
}

// Exists reports whether the vault file is present
func (v *Vault) Exists() bool {
	_, err := os.Stat(v.path)
	return err == nil
}

// Create initializes a new vault protected by password and returns an
// unlocked session. An existing file is never overwritten.
func (v *Vault) Create(password []byte) (*Session, error) {
	if len(password) == 0 {
		return nil, ErrPasswordRequired
	}
	if v.Exists() {
		return nil, ErrAlreadyExists
	}

	if err := os.MkdirAll(filepath.Dir(v.path), DirPermSecure); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := storage.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	// Until Initialize commits, a failure leaves no file behind
	discard := func() {
		db.Close()
		os.Remove(v.path)
	}

	kdf, err := crypto.NewKDF(v.iterations)
	if err != nil {
		discard()
		return nil, fmt.Errorf("failed to create KDF: %w", err)
	}

	masterKey := kdf.DeriveKey(password)
	defer crypto.ClearBytes(masterKey)

	meta := &storage.VaultMeta{
		Version:    kdf.Version,
		Salt:       kdf.Salt,
		KeyHash:    crypto.HashForVerification(masterKey),
		Iterations: uint32(kdf.Iterations),
		Created:    v.now(),
	}
	if err := db.Initialize(meta); err != nil {
		if errors.Is(err, storage.ErrAlreadyInitialized) {
			db.Close()
			return nil, ErrAlreadyExists
		}
		discard()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	keys, err := crypto.DeriveSubKeys(masterKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	v.log.Debug().Str("vault_id", meta.VaultID).Int("iterations", kdf.Iterations).Msg("vault created")
	return newSession(v, db, keys, meta), nil
}

// Unlock verifies password against the vault header and returns an unlocked
// session. A wrong password yields ErrWrongPassword and no session.
func (v *Vault) Unlock(password []byte) (*Session, error) {
	if password == nil {
		return nil, ErrPasswordRequired
	}
	if !v.Exists() {
		return nil, ErrNotInitialized
	}

	db, err := storage.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	meta, err := db.GetMeta()
	if err != nil {
		db.Close()
		if errors.Is(err, storage.ErrNotInitialized) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to read vault header: %w", err)
	}

	masterKey := crypto.DeriveMasterKey(password, meta.Salt, int(meta.Iterations))
	defer crypto.ClearBytes(masterKey)

	if !crypto.VerifyKey(masterKey, meta.KeyHash) {
		db.Close()
		return nil, ErrWrongPassword
	}

	migrated, err := db.MigrateEntries()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate entries: %w", err)
	}
	if migrated > 0 {
		v.log.Info().Int("rows", migrated).Int("schema", storage.CurrentSchema).Msg("migrated entries")
	}

	if meta.VaultID == "" {
		if meta.VaultID, err = db.GetOrCreateVaultID(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to assign vault ID: %w", err)
		}
	}

	keys, err := crypto.DeriveSubKeys(masterKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to derive keys: %w", err)
	}

	return newSession(v, db, keys, meta), nil
}

// VerifyPassword checks if the password is correct for this vault
func (v *Vault) VerifyPassword(password []byte) error {
	s, err := v.Unlock(password)
	if err != nil {
		return err
	}
	s.Lock()
	return nil
}

// Meta reads the vault header without a password
func (v *Vault) Meta() (*storage.VaultMeta, error) {
	db, err := v.openExisting()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := db.GetMeta()
	if errors.Is(err, storage.ErrNotInitialized) {
		return nil, ErrNotInitialized
	}
	return meta, err
}

// Status summarizes the vault without decrypting anything
func (v *Vault) Status() (*StatusInfo, error) {
	db, err := v.openExisting()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	meta, err := db.GetMeta()
	if err != nil {
		if errors.Is(err, storage.ErrNotInitialized) {
			return nil, ErrNotInitialized
		}
		return nil, err
	}

	info := &StatusInfo{
		Path:       v.path,
		VaultID:    meta.VaultID,
		Created:    meta.Created,
		Iterations: meta.Iterations,
	}
	if info.Modified, err = db.GetModified(); err != nil {
		return nil, err
	}
	if info.Schema, err = db.GetSchemaVersion(); err != nil {
		return nil, err
	}
	if info.Live, info.Deleted, info.Corrupt, err = db.CountEntries(); err != nil {
		return nil, err
	}
	if fi, err := os.Stat(v.path); err == nil {
		info.Size = fi.Size()
	}
	return info, nil
}

// StatusInfo describes a vault file
type StatusInfo struct {
	Path       string
	VaultID    string
	Created    time.Time
	Modified   time.Time
	Iterations uint32
	Schema     int
	Live       int
	Deleted    int
	Corrupt    int
	Size       int64
}

// Compact compacts the database to reclaim unused space
func (v *Vault) Compact() error {
	db, err := v.openExisting()
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Compact()
}

// VaultID retrieves the vault ID, assigning one to vaults that predate it
func (v *Vault) VaultID() (string, error) {
	db, err := v.openExisting()
	if err != nil {
		return "", err
	}
	defer db.Close()
	return db.GetOrCreateVaultID()
}

func (v *Vault) openExisting() (*storage.Storage, error) {
	if !v.Exists() {
		return nil, ErrNotInitialized
	}
	db, err := storage.Open(v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
