package storage

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names
var (
	MetaBucket    = []byte("vault_meta") // KDF params, key hash, timestamps - unencrypted
	EntriesBucket = []byte("entries")    // One JSON row per entry, secret fields encrypted
)

// Meta keys
var (
	MetaVersion       = []byte("version")
	MetaSchemaVersion = []byte("schema_version")
	MetaCreated       = []byte("created")
	MetaModified      = []byte("modified")
	MetaSalt          = []byte("salt")
	MetaKeyHash       = []byte("key_hash")
	MetaIters         = []byte("iterations")
	MetaVaultID       = []byte("vault_id")
)

var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotInitialized     = errors.New("vault not initialized")
	ErrEntryNotFound      = errors.New("entry not found")
	ErrCorruptRecord      = errors.New("corrupt entry record")
)

// Storage provides BBolt-based storage for a vault
type Storage struct {
	db *bolt.DB
}

// Open opens or creates a vault database
func Open(path string) (*Storage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Storage) Path() string {
	return s.db.Path()
}

// Initialize creates the bucket structure and writes the vault header in a
// single transaction. It refuses to overwrite an existing header.
func (s *Storage) Initialize(meta *VaultMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if b := tx.Bucket(MetaBucket); b != nil && b.Get(MetaVersion) != nil {
			return ErrAlreadyInitialized
		}

		for _, bucket := range [][]byte{MetaBucket, EntriesBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		if meta.VaultID == "" {
			id, err := newVaultID()
			if err != nil {
				return err
			}
			meta.VaultID = id
		}

		created, err := meta.Created.MarshalBinary()
		if err != nil {
			return err
		}

		b := tx.Bucket(MetaBucket)
		puts := []struct {
			key   []byte
			value []byte
		}{
			{MetaVersion, []byte(strconv.Itoa(meta.Version))},
			{MetaSchemaVersion, []byte(strconv.Itoa(CurrentSchema))},
			{MetaCreated, created},
			{MetaModified, created},
			{MetaSalt, meta.Salt},
			{MetaKeyHash, meta.KeyHash},
			{MetaIters, encodeUint32(meta.Iterations)},
			{MetaVaultID, []byte(meta.VaultID)},
		}
		for _, p := range puts {
			if err := b.Put(p.key, p.value); err != nil {
				return fmt.Errorf("failed to store %s: %w", p.key, err)
			}
		}
		return nil
	})
}

// IsInitialized checks if the database has a vault header
func (s *Storage) IsInitialized() (bool, error) {
	var initialized bool
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(MetaBucket)
		if meta != nil && meta.Get(MetaVersion) != nil {
			initialized = true
		}
		return nil
	})
	return initialized, err
}

// GetMeta reads the vault header
func (s *Storage) GetMeta() (*VaultMeta, error) {
	var meta VaultMeta
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MetaBucket)
		if b == nil || b.Get(MetaVersion) == nil {
			return ErrNotInitialized
		}

		version, err := strconv.Atoi(string(b.Get(MetaVersion)))
		if err != nil {
			return fmt.Errorf("invalid vault version: %w", err)
		}
		meta.Version = version

		salt := b.Get(MetaSalt)
		if salt == nil {
			return fmt.Errorf("salt not found")
		}
		keyHash := b.Get(MetaKeyHash)
		if keyHash == nil {
			return fmt.Errorf("key hash not found")
		}
		// Make a copy since the slice is only valid during the transaction
		meta.Salt = append([]byte(nil), salt...)
		meta.KeyHash = append([]byte(nil), keyHash...)

		// Missing iterations means a vault from before the count was stored
		if iters := b.Get(MetaIters); len(iters) == 4 {
			meta.Iterations = binary.BigEndian.Uint32(iters)
		}

		if created := b.Get(MetaCreated); created != nil {
			if err := meta.Created.UnmarshalBinary(created); err != nil {
				return fmt.Errorf("invalid created time: %w", err)
			}
		}
		meta.VaultID = string(b.Get(MetaVaultID))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// GetSchemaVersion returns the schema version recorded for the entries bucket
func (s *Storage) GetSchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MetaBucket)
		if b == nil {
			return ErrNotInitialized
		}
		data := b.Get(MetaSchemaVersion)
		if data == nil {
			version = 1
			return nil
		}
		v, err := strconv.Atoi(string(data))
		if err != nil {
			return fmt.Errorf("invalid schema version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}

// UpdateModified updates the last modified timestamp
func (s *Storage) UpdateModified() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return touchModified(tx)
	})
}

func touchModified(tx *bolt.Tx) error {
	b := tx.Bucket(MetaBucket)
	if b == nil {
		return ErrNotInitialized
	}
	modified, _ := time.Now().MarshalBinary()
	return b.Put(MetaModified, modified)
}

// GetModified retrieves the last modified timestamp
func (s *Storage) GetModified() (time.Time, error) {
	var modified time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(MetaBucket)
		if b == nil {
			return ErrNotInitialized
		}
		data := b.Get(MetaModified)
		if data == nil {
			return fmt.Errorf("modified time not found")
		}
		return modified.UnmarshalBinary(data)
	})
	return modified, err
}

// GetOrCreateVaultID retrieves existing vault ID or generates a new one.
// Vaults created by older builds have no ID until first asked for one.
func (s *Storage) GetOrCreateVaultID() (string, error) {
	var vaultID string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(MetaBucket)
		if b == nil {
			return ErrNotInitialized
		}
		if data := b.Get(MetaVaultID); len(data) > 0 {
			vaultID = string(data)
			return nil
		}

		id, err := newVaultID()
		if err != nil {
			return err
		}
		vaultID = id
		return b.Put(MetaVaultID, []byte(id))
	})
	return vaultID, err
}

// PutEntry writes an entry row, replacing any existing row with the same ID
func (s *Storage) PutEntry(rec *EntryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("entry id is empty")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.PutEntryBytes(rec.ID, data)
}

// PutEntryBytes stores a raw entry row
func (s *Storage) PutEntryBytes(id string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return ErrNotInitialized
		}
		if err := entries.Put([]byte(id), data); err != nil {
			return err
		}
		return touchModified(tx)
	})
}

// GetEntry reads one entry row. A row that exists but cannot be decoded is
// reported as ErrCorruptRecord so callers can tell it apart from a missing one.
func (s *Storage) GetEntry(id string) (*EntryRecord, error) {
	var rec *EntryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return ErrNotInitialized
		}
		data := entries.Get([]byte(id))
		if data == nil {
			return ErrEntryNotFound
		}
		var err error
		rec, err = decodeEntry(data)
		return err
	})
	return rec, err
}

// ForEachEntry calls fn for every row in key order. Rows that fail to decode
// are passed with a nil record and a non-nil decodeErr; returning an error
// from fn stops the iteration.
func (s *Storage) ForEachEntry(fn func(id string, rec *EntryRecord, decodeErr error) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return ErrNotInitialized
		}
		return entries.ForEach(func(k, v []byte) error {
			rec, err := decodeEntry(v)
			return fn(string(k), rec, err)
		})
	})
}

// UpdateEntry runs a read-modify-write of one row inside a single
// transaction. fn receives nil when the row does not exist; returning a nil
// record from fn leaves the row untouched.
func (s *Storage) UpdateEntry(id string, fn func(rec *EntryRecord) (*EntryRecord, error)) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		entries := tx.Bucket(EntriesBucket)
		if entries == nil {
			return ErrNotInitialized
		}

		var current *EntryRecord
		if data := entries.Get([]byte(id)); data != nil {
			rec, err := decodeEntry(data)
			if err != nil {
				return err
			}
			current = rec
		}

		next, err := fn(current)
		if err != nil || next == nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := entries.Put([]byte(id), data); err != nil {
			return err
		}
		return touchModified(tx)
	})
}

// CountEntries returns the number of live and soft-deleted rows without
// decrypting anything. Undecodable rows are counted as corrupt.
func (s *Storage) CountEntries() (live, deleted, corrupt int, err error) {
	err = s.ForEachEntry(func(_ string, rec *EntryRecord, decodeErr error) error {
		switch {
		case decodeErr != nil:
			corrupt++
		case rec.IsDeleted:
			deleted++
		default:
			live++
		}
		return nil
	})
	return live, deleted, corrupt, err
}

// MigrateEntries rewrites rows older than CurrentSchema and records the new
// schema version. Undecodable rows are left as they are. Returns the number
// of rows rewritten.
func (s *Storage) MigrateEntries() (int, error) {
	migrated := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(MetaBucket)
		entries := tx.Bucket(EntriesBucket)
		if meta == nil || entries == nil {
			return ErrNotInitialized
		}

		if v := meta.Get(MetaSchemaVersion); v != nil {
			if n, err := strconv.Atoi(string(v)); err == nil && n >= CurrentSchema {
				return nil
			}
		}

		updates := make(map[string][]byte)
		err := entries.ForEach(func(k, v []byte) error {
			var rec EntryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if !rec.Upgrade() {
				return nil
			}
			data, err := json.Marshal(&rec)
			if err != nil {
				return err
			}
			updates[string(k)] = data
			return nil
		})
		if err != nil {
			return err
		}

		// Writing during ForEach is not allowed, so apply afterwards
		for k, data := range updates {
			if err := entries.Put([]byte(k), data); err != nil {
				return err
			}
		}
		migrated = len(updates)
		return meta.Put(MetaSchemaVersion, []byte(strconv.Itoa(CurrentSchema)))
	})
	return migrated, err
}

func decodeEntry(data []byte) (*EntryRecord, error) {
	var rec EntryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptRecord)
	}
	rec.Upgrade()
	return &rec, nil
}

func encodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func newVaultID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate vault ID: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Compact creates a compacted copy of the database, removing unused space.
// This is useful after many updates to reclaim disk space.
func (s *Storage) Compact() error {
	srcPath := s.db.Path()
	tmpPath := srcPath + ".compact"

	// Create new database
	dst, err := bolt.Open(tmpPath, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create compact database: %w", err)
	}

	// Copy all buckets
	err = s.db.View(func(srcTx *bolt.Tx) error {
		return dst.Update(func(dstTx *bolt.Tx) error {
			return srcTx.ForEach(func(name []byte, srcBucket *bolt.Bucket) error {
				dstBucket, err := dstTx.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}
				return srcBucket.ForEach(func(k, v []byte) error {
					return dstBucket.Put(k, v)
				})
			})
		})
	})

	if err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to copy data: %w", err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close compact database: %w", err)
	}

	if err := s.db.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close source database: %w", err)
	}

	// Atomic replace
	backupPath := srcPath + ".backup"
	if err := os.Rename(srcPath, backupPath); err != nil {
		return fmt.Errorf("failed to backup original: %w", err)
	}
	if err := os.Rename(tmpPath, srcPath); err != nil {
		os.Rename(backupPath, srcPath) // rollback
		return fmt.Errorf("failed to replace database: %w", err)
	}
	os.Remove(backupPath)

	// Reopen database
	s.db, err = bolt.Open(srcPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("failed to reopen database: %w", err)
	}

	return nil
}
