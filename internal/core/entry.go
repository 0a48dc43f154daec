package core

import (
	"fmt"
	"strings"

	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/storage"
)

// EntryFields are the user-editable values of a new entry
type EntryFields struct {
	Title      string
	Username   string
	Password   string
	Notes      string
	TOTPSecret string
	URL        string
	FolderID   string
	IsFavorite bool
}

// EntryPatch holds the fields to change; nil means keep the current value
type EntryPatch struct {
	Title      *string
	Username   *string
	Password   *string
	Notes      *string
	TOTPSecret *string
	URL        *string
	FolderID   *string
}

// Entry is a decrypted credential. A row that exists but cannot be read
// comes back with Corrupted set and only the plain-text columns filled.
type Entry struct {
	ID            string
	Title         string
	Username      string
	Password      string
	Notes         string
	TOTPSecret    string
	URL           string
	FolderID      string
	IsFavorite    bool
	CreatedAt     int64
	ModifiedAt    int64
	SyncVersion   uint64
	FormatVersion int
	Corrupted     bool
}

// SyncEntry is the shape an entry travels in between peers and in backups.
// Timestamps are unix milliseconds.
type SyncEntry struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	URL        string `json:"url,omitempty"`
	Notes      string `json:"notes,omitempty"`
	TOTPSecret string `json:"totpSecret,omitempty"`
	FolderID   string `json:"folderId,omitempty"`
	IsFavorite bool   `json:"isFavorite"`
	CreatedAt  int64  `json:"createdAt"`
	ModifiedAt int64  `json:"modifiedAt"`
}

// ToSync converts a decrypted entry to its wire shape
func (e *Entry) ToSync() SyncEntry {
	return SyncEntry{
		ID:         e.ID,
		Title:      e.Title,
		Username:   e.Username,
		Password:   e.Password,
		URL:        e.URL,
		Notes:      e.Notes,
		TOTPSecret: e.TOTPSecret,
		FolderID:   e.FolderID,
		IsFavorite: e.IsFavorite,
		CreatedAt:  e.CreatedAt,
		ModifiedAt: e.ModifiedAt,
	}
}

func (f EntryFields) validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidEntry)
	}
	return nil
}

func (p EntryPatch) apply(e *Entry) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&e.Title, p.Title)
	set(&e.Username, p.Username)
	set(&e.Password, p.Password)
	set(&e.Notes, p.Notes)
	set(&e.TOTPSecret, p.TOTPSecret)
	set(&e.URL, p.URL)
	set(&e.FolderID, p.FolderID)
}

// matches reports whether query occurs in title, username or URL, ignoring case
func (e *Entry) matches(query string) bool {
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(e.Title), q) ||
		strings.Contains(strings.ToLower(e.Username), q) ||
		strings.Contains(strings.ToLower(e.URL), q)
}

// sealFields encrypts the secret fields of e into rec. Optional fields that
// are empty stay empty so they are omitted from the row.
func sealFields(rec *storage.EntryRecord, e *Entry, key []byte) error {
	required := []struct {
		dst *string
		src string
	}{
		{&rec.Title, e.Title},
		{&rec.Username, e.Username},
		{&rec.Password, e.Password},
	}
	for _, f := range required {
		blob, err := crypto.Encrypt(f.src, key)
		if err != nil {
			return err
		}
		*f.dst = blob
	}

	optional := []struct {
		dst *string
		src string
	}{
		{&rec.Notes, e.Notes},
		{&rec.TOTPSecret, e.TOTPSecret},
	}
	for _, f := range optional {
		if f.src == "" {
			*f.dst = ""
			continue
		}
		blob, err := crypto.Encrypt(f.src, key)
		if err != nil {
			return err
		}
		*f.dst = blob
	}

	rec.URL = e.URL
	rec.FolderID = e.FolderID
	rec.FormatVersion = int(crypto.CurrentFormat)
	return nil
}

// openRecord decrypts a stored row. Any field failing to decrypt fails the
// whole entry.
func openRecord(rec *storage.EntryRecord, key []byte) (*Entry, error) {
	e := plainEntry(rec)

	fields := []struct {
		name     string
		dst      *string
		src      string
		optional bool
	}{
		{"title", &e.Title, rec.Title, false},
		{"username", &e.Username, rec.Username, false},
		{"password", &e.Password, rec.Password, false},
		{"notes", &e.Notes, rec.Notes, true},
		{"totpSecret", &e.TOTPSecret, rec.TOTPSecret, true},
	}
	for _, f := range fields {
		if f.optional && f.src == "" {
			continue
		}
		pt, err := crypto.Decrypt(f.src, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = pt
	}
	return e, nil
}

// plainEntry copies the columns that are stored unencrypted
func plainEntry(rec *storage.EntryRecord) *Entry {
	return &Entry{
		ID:            rec.ID,
		URL:           rec.URL,
		FolderID:      rec.FolderID,
		IsFavorite:    rec.IsFavorite,
		CreatedAt:     rec.CreatedAt,
		ModifiedAt:    rec.ModifiedAt,
		SyncVersion:   rec.SyncVersion,
		FormatVersion: rec.FormatVersion,
	}
}
