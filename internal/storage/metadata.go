package storage

import (
	"time"
)

const (
	// CurrentSchema is the entry row layout written by this build.
	// Schema 1 rows predate folderId, totpSecret and encryptionFormatVersion.
	CurrentSchema = 2

	// LegacyFormatVersion is recorded for rows upgraded from schema 1, which
	// were written with the salted passphrase layout.
	LegacyFormatVersion = 1
)

// VaultMeta is the single vault header row. It never holds the password or
// any key, only what is needed to re-derive and verify one.
type VaultMeta struct {
	Version    int
	Salt       []byte
	KeyHash    []byte
	Iterations uint32 // 0 when the vault predates stored iteration counts
	Created    time.Time
	VaultID    string
}

// EntryRecord is one credential row as stored on disk. Secret fields hold
// ciphertext blobs; URL and folder are stored in plain text.
type EntryRecord struct {
	Schema        int    `json:"schema"`
	ID            string `json:"id"`
	Title         string `json:"title"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Notes         string `json:"notes,omitempty"`
	TOTPSecret    string `json:"totpSecret,omitempty"`
	URL           string `json:"url,omitempty"`
	FolderID      string `json:"folderId,omitempty"`
	IsFavorite    bool   `json:"isFavorite"`
	IsDeleted     bool   `json:"isDeleted"`
	CreatedAt     int64  `json:"createdAt"`  // unix milliseconds
	ModifiedAt    int64  `json:"modifiedAt"` // unix milliseconds
	SyncVersion   uint64 `json:"syncVersion"`
	FormatVersion int    `json:"encryptionFormatVersion"`
}

// Upgrade fills in columns added after the row was written.
// Returns true if the record changed.
func (r *EntryRecord) Upgrade() bool {
	if r.Schema >= CurrentSchema {
		return false
	}
	if r.Schema < 2 {
		r.FormatVersion = LegacyFormatVersion
		if r.ModifiedAt < r.CreatedAt {
			r.ModifiedAt = r.CreatedAt
		}
	}
	r.Schema = CurrentSchema
	return true
}

// Clone returns a copy of the record
func (r *EntryRecord) Clone() *EntryRecord {
	c := *r
	return &c
}
