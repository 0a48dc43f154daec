package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/illarion/lockpass/internal/storage"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ImportFailure records an incoming entry that could not be applied
type ImportFailure struct {
	ID  string
	Err error
}

// ImportResult contains the results of an import
type ImportResult struct {
	Imported int             // New entries inserted
	Updated  int             // Local entries overwritten by a newer copy
	Skipped  int             // Incoming copies not newer than the local one
	Failed   []ImportFailure // Entries that could not be stored
}

// ImportEntries merges entries received from a peer or a backup.
//
// Last writer wins per entry: an unknown ID is inserted with syncVersion 0;
// a known ID is overwritten only when the incoming modifiedAt is strictly
// greater, ties keep the local copy. Each entry is written in its own
// transaction, so one failure does not stop the rest of the batch.
func (s *Session) ImportEntries(incoming []SyncEntry) (*ImportResult, error) {
	release, err := s.acquireWrite()
	if err != nil {
		return nil, err
	}
	defer release()

	result := &ImportResult{}
	for i := range incoming {
		in := &incoming[i]
		outcome, err := s.importOne(in)
		if err != nil {
			s.log.Warn().Str("id", in.ID).Err(err).Msg("import failed")
			result.Failed = append(result.Failed, ImportFailure{ID: in.ID, Err: err})
			continue
		}
		switch outcome {
		case importInserted:
			result.Imported++
		case importUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	s.log.Debug().
		Int("imported", result.Imported).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("failed", len(result.Failed)).
		Msg("import finished")
	return result, nil
}

type importOutcome int

const (
	importSkipped importOutcome = iota
	importInserted
	importUpdated
)

func (s *Session) importOne(in *SyncEntry) (importOutcome, error) {
	if in.ID == "" {
		return importSkipped, fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}

	outcome := importSkipped
	err := s.db.UpdateEntry(in.ID, func(rec *storage.EntryRecord) (*storage.EntryRecord, error) {
		if rec == nil {
			created := in.CreatedAt
			if created == 0 {
				created = in.ModifiedAt
			}
			rec = &storage.EntryRecord{
				Schema:     storage.CurrentSchema,
				ID:         in.ID,
				CreatedAt:  created,
				ModifiedAt: in.ModifiedAt,
			}
			outcome = importInserted
		} else {
			if in.ModifiedAt <= rec.ModifiedAt {
				return nil, nil
			}
			// A newer copy of a local tombstone brings the entry back
			rec.IsDeleted = false
			rec.ModifiedAt = in.ModifiedAt
			rec.SyncVersion++
			outcome = importUpdated
		}

		rec.IsFavorite = in.IsFavorite
		if err := sealFields(rec, fromSync(in), s.keys.VaultKey); err != nil {
			return nil, fmt.Errorf("failed to encrypt entry: %w", err)
		}
		return rec, nil
	})
	if err != nil {
		return importSkipped, err
	}
	return outcome, nil
}

func fromSync(in *SyncEntry) *Entry {
	return &Entry{
		ID:         in.ID,
		Title:      in.Title,
		Username:   in.Username,
		Password:   in.Password,
		Notes:      in.Notes,
		TOTPSecret: in.TOTPSecret,
		URL:        in.URL,
		FolderID:   in.FolderID,
		IsFavorite: in.IsFavorite,
		CreatedAt:  in.CreatedAt,
		ModifiedAt: in.ModifiedAt,
	}
}

// ImportUpdate is an incoming entry that would overwrite a local one
type ImportUpdate struct {
	Local    *Entry
	Incoming SyncEntry
	Diff     string
}

// ImportPreview classifies incoming entries without writing anything
type ImportPreview struct {
	New     []SyncEntry
	Updates []ImportUpdate
	Skipped int
	Failed  []ImportFailure
}

// PreviewImport reports what ImportEntries would do with incoming
func (s *Session) PreviewImport(incoming []SyncEntry) (*ImportPreview, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	preview := &ImportPreview{}
	for _, in := range incoming {
		if in.ID == "" {
			preview.Failed = append(preview.Failed, ImportFailure{ID: in.ID, Err: fmt.Errorf("%w: missing id", ErrInvalidEntry)})
			continue
		}

		rec, err := s.db.GetEntry(in.ID)
		switch {
		case errors.Is(err, storage.ErrEntryNotFound):
			preview.New = append(preview.New, in)
			continue
		case err != nil:
			preview.Failed = append(preview.Failed, ImportFailure{ID: in.ID, Err: err})
			continue
		}

		if in.ModifiedAt <= rec.ModifiedAt {
			preview.Skipped++
			continue
		}

		local, err := openRecord(rec, s.keys.VaultKey)
		if err != nil {
			local = plainEntry(rec)
			local.Corrupted = true
		}
		preview.Updates = append(preview.Updates, ImportUpdate{
			Local:    local,
			Incoming: in,
			Diff:     DiffEntry(local, in),
		})
	}
	return preview, nil
}

// DiffEntry renders a line diff of the visible fields of local against
// incoming. Passwords and TOTP secrets are compared but never printed.
// Returns an empty string when nothing differs.
func DiffEntry(local *Entry, incoming SyncEntry) string {
	samePassword := local.Password == incoming.Password
	sameTOTP := local.TOTPSecret == incoming.TOTPSecret
	before := describeEntry(local.ToSync(), samePassword, sameTOTP, "current")
	after := describeEntry(incoming, samePassword, sameTOTP, "changed")
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()

	// Line-mode diff for better output
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out strings.Builder
	out.WriteString("--- local\n")
	out.WriteString("+++ incoming\n")
	for _, d := range diffs {
		prefix := "  "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
		}
	}
	return out.String()
}

func describeEntry(e SyncEntry, samePassword, sameTOTP bool, label string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title: %s\n", e.Title)
	fmt.Fprintf(&b, "username: %s\n", e.Username)
	fmt.Fprintf(&b, "url: %s\n", e.URL)
	fmt.Fprintf(&b, "folder: %s\n", e.FolderID)
	fmt.Fprintf(&b, "favorite: %t\n", e.IsFavorite)
	for _, line := range strings.Split(e.Notes, "\n") {
		fmt.Fprintf(&b, "notes: %s\n", line)
	}
	if !samePassword {
		fmt.Fprintf(&b, "password: %s\n", maskSecret(e.Password, label))
	}
	if !sameTOTP {
		fmt.Fprintf(&b, "totp: %s\n", maskSecret(e.TOTPSecret, label))
	}
	return b.String()
}

// maskSecret marks a secret as set or unset without revealing it
func maskSecret(secret, label string) string {
	if secret == "" {
		return "(empty)"
	}
	return "(" + label + ")"
}
