package core

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Session is an unlocked vault. It owns the derived keys and the database
// handle until Lock is called; every operation after that returns
// ErrVaultLocked.
type Session struct {
	vault *Vault
	log   zerolog.Logger

	// mu guards keys and db. Operations hold the read lock for their whole
	// duration so Lock waits for in-flight crypto before zeroing the keys.
	mu   sync.RWMutex
	keys *crypto.KeySet
	db   *storage.Storage
	meta *storage.VaultMeta

	// writeMu serializes mutations so timestamps stay ordered
	writeMu   sync.Mutex
	lastStamp int64
}

func newSession(v *Vault, db *storage.Storage, keys *crypto.KeySet, meta *storage.VaultMeta) *Session {
	return &Session{
		vault: v,
		log:   v.log.With().Str("vault_id", meta.VaultID).Logger(),
		keys:  keys,
		db:    db,
		meta:  meta,
	}
}

// Lock zeroes the keys and closes the database. It waits for operations
// already running and is safe to call more than once.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys == nil {
		return
	}
	s.keys.Destroy()
	s.keys = nil
	if err := s.db.Close(); err != nil {
		s.log.Warn().Err(err).Msg("failed to close database")
	}
	s.db = nil
}

// Locked reports whether Lock has been called
func (s *Session) Locked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keys == nil
}

// VaultID returns the ID of the unlocked vault
func (s *Session) VaultID() string {
	return s.meta.VaultID
}

// acquire takes the read side of the lock barrier. The returned func must be
// called to release it.
func (s *Session) acquire() (func(), error) {
	s.mu.RLock()
	if s.keys == nil {
		s.mu.RUnlock()
		return nil, ErrVaultLocked
	}
	return s.mu.RUnlock, nil
}

// acquireWrite is acquire plus the single-writer mutex
func (s *Session) acquireWrite() (func(), error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	s.writeMu.Lock()
	return func() {
		s.writeMu.Unlock()
		release()
	}, nil
}

// stamp returns a unix-ms timestamp strictly after both prev and every
// stamp this session has handed out. Caller holds writeMu.
func (s *Session) stamp(prev int64) int64 {
	now := s.vault.now().UnixMilli()
	if now <= prev {
		now = prev + 1
	}
	if now <= s.lastStamp {
		now = s.lastStamp + 1
	}
	s.lastStamp = now
	return now
}

// AddEntry encrypts and stores a new entry and returns its ID
func (s *Session) AddEntry(fields EntryFields) (string, error) {
	if err := fields.validate(); err != nil {
		return "", err
	}

	release, err := s.acquireWrite()
	if err != nil {
		return "", err
	}
	defer release()

	now := s.stamp(0)
	e := &Entry{
		ID:         uuid.NewString(),
		Title:      fields.Title,
		Username:   fields.Username,
		Password:   fields.Password,
		Notes:      fields.Notes,
		TOTPSecret: fields.TOTPSecret,
		URL:        fields.URL,
		FolderID:   fields.FolderID,
		IsFavorite: fields.IsFavorite,
	}

	rec := &storage.EntryRecord{
		Schema:     storage.CurrentSchema,
		ID:         e.ID,
		IsFavorite: e.IsFavorite,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := sealFields(rec, e, s.keys.VaultKey); err != nil {
		return "", fmt.Errorf("failed to encrypt entry: %w", err)
	}
	if err := s.db.PutEntry(rec); err != nil {
		return "", fmt.Errorf("failed to store entry: %w", err)
	}

	s.log.Debug().Str("id", e.ID).Msg("entry added")
	return e.ID, nil
}

// UpdateEntry decrypts the entry, applies patch and stores it re-encrypted
// in the current format
func (s *Session) UpdateEntry(id string, patch EntryPatch) error {
	release, err := s.acquireWrite()
	if err != nil {
		return err
	}
	defer release()

	return s.mutate(id, func(rec *storage.EntryRecord) error {
		e, err := openRecord(rec, s.keys.VaultKey)
		if err != nil {
			return err
		}
		patch.apply(e)
		if strings.TrimSpace(e.Title) == "" {
			return fmt.Errorf("%w: title is required", ErrInvalidEntry)
		}
		return sealFields(rec, e, s.keys.VaultKey)
	})
}

// DeleteEntry marks the entry deleted. The row is kept as a tombstone.
func (s *Session) DeleteEntry(id string) error {
	release, err := s.acquireWrite()
	if err != nil {
		return err
	}
	defer release()

	return s.mutate(id, func(rec *storage.EntryRecord) error {
		rec.IsDeleted = true
		return nil
	})
}

// ToggleFavorite flips the favorite flag and returns the new value
func (s *Session) ToggleFavorite(id string) (bool, error) {
	release, err := s.acquireWrite()
	if err != nil {
		return false, err
	}
	defer release()

	var favorite bool
	err = s.mutate(id, func(rec *storage.EntryRecord) error {
		rec.IsFavorite = !rec.IsFavorite
		favorite = rec.IsFavorite
		return nil
	})
	return favorite, err
}

// mutate runs fn against a live row and bumps its modifiedAt and
// syncVersion. Caller holds the write lock.
func (s *Session) mutate(id string, fn func(rec *storage.EntryRecord) error) error {
	err := s.db.UpdateEntry(id, func(rec *storage.EntryRecord) (*storage.EntryRecord, error) {
		if rec == nil || rec.IsDeleted {
			return nil, ErrNotFound
		}
		if err := fn(rec); err != nil {
			return nil, err
		}
		rec.ModifiedAt = s.stamp(rec.ModifiedAt)
		rec.SyncVersion++
		return rec, nil
	})
	if errors.Is(err, storage.ErrEntryNotFound) {
		return ErrNotFound
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	return err
}

// Get returns one entry. A row that cannot be decoded or decrypted is
// returned as a corrupted placeholder instead of an error.
func (s *Session) Get(id string) (*Entry, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rec, err := s.db.GetEntry(id)
	switch {
	case errors.Is(err, storage.ErrEntryNotFound):
		return nil, ErrNotFound
	case errors.Is(err, storage.ErrCorruptRecord):
		s.log.Warn().Str("id", id).Err(err).Msg("corrupt entry row")
		return &Entry{ID: id, Corrupted: true}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read entry: %w", err)
	}

	if rec.IsDeleted {
		return nil, ErrNotFound
	}

	e, err := openRecord(rec, s.keys.VaultKey)
	if err != nil {
		s.log.Warn().Str("id", id).Err(err).Msg("entry failed to decrypt")
		placeholder := plainEntry(rec)
		placeholder.Corrupted = true
		return placeholder, nil
	}
	return e, nil
}

// ListAll returns every live entry that decrypts, sorted by title.
// Rows that fail are logged and left out.
func (s *Session) ListAll() ([]*Entry, error) {
	return s.list(nil)
}

// ListFavorites returns live entries flagged as favorite
func (s *Session) ListFavorites() ([]*Entry, error) {
	return s.list(func(rec *storage.EntryRecord) bool {
		return rec.IsFavorite
	})
}

// Search matches query case-insensitively against title, username and URL.
// An empty query returns everything.
func (s *Session) Search(query string) ([]*Entry, error) {
	all, err := s.ListAll()
	if err != nil || query == "" {
		return all, err
	}

	var found []*Entry
	for _, e := range all {
		if e.matches(query) {
			found = append(found, e)
		}
	}
	return found, nil
}

// ExportEntries returns every live entry in its wire shape
func (s *Session) ExportEntries() ([]SyncEntry, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	out := make([]SyncEntry, 0, len(all))
	for _, e := range all {
		out = append(out, e.ToSync())
	}
	return out, nil
}

func (s *Session) list(filter func(rec *storage.EntryRecord) bool) ([]*Entry, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	var rows []*storage.EntryRecord
	err = s.db.ForEachEntry(func(id string, rec *storage.EntryRecord, decodeErr error) error {
		if decodeErr != nil {
			s.log.Warn().Str("id", id).Err(decodeErr).Msg("skipping corrupt entry row")
			return nil
		}
		if rec.IsDeleted || (filter != nil && !filter(rec)) {
			return nil
		}
		rows = append(rows, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	results := make([]*Entry, len(rows))
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i, rec := range rows {
		g.Go(func() error {
			e, err := openRecord(rec, s.keys.VaultKey)
			if err != nil {
				s.log.Warn().Str("id", rec.ID).Err(err).Msg("skipping entry that failed to decrypt")
				return nil
			}
			results[i] = e
			return nil
		})
	}
	_ = g.Wait()

	entries := make([]*Entry, 0, len(results))
	for _, e := range results {
		if e != nil {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		ti, tj := strings.ToLower(entries[i].Title), strings.ToLower(entries[j].Title)
		if ti != tj {
			return ti < tj
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}
