package core

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illarion/lockpass/internal/crypto"
	"github.com/illarion/lockpass/internal/security"
)

const backupFormat = "lockpass-backup/1"

var (
	ErrBackupExists  = errors.New("backup file already exists")
	ErrInvalidBackup = errors.New("invalid backup file")
)

// backupFile is the on-disk envelope. Data is the GCM-sealed JSON list of
// entries; the vault ID is bound as additional data.
type backupFile struct {
	Format  string `json:"format"`
	VaultID string `json:"vaultId"`
	Created int64  `json:"created"`
	Count   int    `json:"count"`
	Data    string `json:"data"`
}

// ExportBackup writes every live entry to name inside root, sealed with the
// export key, so only the vault that wrote it can restore it. Existing files
// are not overwritten.
func (s *Session) ExportBackup(root, name string) (int, error) {
	entries, err := s.ExportEntries()
	if err != nil {
		return 0, err
	}

	release, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	pv, err := security.New(root)
	if err != nil {
		return 0, err
	}
	defer pv.Close()

	if _, err := pv.StatInRoot(name); err == nil {
		return 0, ErrBackupExists
	}

	plain, err := json.Marshal(entries)
	if err != nil {
		return 0, fmt.Errorf("failed to encode entries: %w", err)
	}
	defer crypto.ClearBytes(plain)

	enc, err := crypto.NewEncryptor(s.keys.ExportKey)
	if err != nil {
		return 0, err
	}
	defer enc.Destroy()

	sealed, err := enc.Seal(plain, []byte(s.meta.VaultID))
	if err != nil {
		return 0, fmt.Errorf("failed to seal backup: %w", err)
	}

	out, err := json.MarshalIndent(backupFile{
		Format:  backupFormat,
		VaultID: s.meta.VaultID,
		Created: s.vault.now().UnixMilli(),
		Count:   len(entries),
		Data:    base64.StdEncoding.EncodeToString(sealed),
	}, "", "  ")
	if err != nil {
		return 0, err
	}

	if dir := filepath.Dir(name); dir != "." {
		if err := pv.MkdirAllInRoot(dir, DirPermSecure); err != nil {
			return 0, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	if err := pv.WriteFileInRoot(name, out, FilePermSecure); err != nil {
		return 0, fmt.Errorf("failed to write backup: %w", err)
	}

	s.log.Info().Str("file", name).Int("entries", len(entries)).Msg("backup written")
	return len(entries), nil
}

// RestoreBackup reads a backup written by ExportBackup and merges it with
// the same rule as a peer sync
func (s *Session) RestoreBackup(root, name string) (*ImportResult, error) {
	entries, err := s.readBackup(root, name)
	if err != nil {
		return nil, err
	}
	return s.ImportEntries(entries)
}

// ReadBackup decrypts a backup without importing it
func (s *Session) ReadBackup(root, name string) ([]SyncEntry, error) {
	return s.readBackup(root, name)
}

func (s *Session) readBackup(root, name string) ([]SyncEntry, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	pv, err := security.New(root)
	if err != nil {
		return nil, err
	}
	defer pv.Close()

	data, err := pv.ReadFileInRoot(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("backup %s: %w", name, err)
		}
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}

	var file backupFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if file.Format != backupFormat {
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidBackup, file.Format)
	}

	sealed, err := base64.StdEncoding.DecodeString(file.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	enc, err := crypto.NewEncryptor(s.keys.ExportKey)
	if err != nil {
		return nil, err
	}
	defer enc.Destroy()

	plain, err := enc.Open(sealed, []byte(file.VaultID))
	if err != nil {
		return nil, fmt.Errorf("%w: written by another vault or damaged: %v", ErrInvalidBackup, err)
	}
	defer crypto.ClearBytes(plain)

	var entries []SyncEntry
	if err := json.Unmarshal(plain, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	s.log.Debug().
		Str("file", name).
		Str("created", time.UnixMilli(file.Created).Format(time.RFC3339)).
		Int("entries", len(entries)).
		Msg("backup read")
	return entries, nil
}
