// Package core provides the lockpass vault operations.
//
// A Vault is a handle on the database file and never holds a key. Create and
// Unlock return a Session, which owns the derived key set until Lock:
//   - AddEntry/UpdateEntry/DeleteEntry/ToggleFavorite: mutations; each one
//     moves modifiedAt forward and bumps syncVersion by one
//   - Get/ListAll/ListFavorites/Search: reads; rows that fail to decrypt are
//     skipped from lists and returned as a Corrupted placeholder by Get
//   - ImportEntries/ExportEntries: the merge side of peer sync (last writer
//     wins on modifiedAt, local copy wins ties)
//   - ExportBackup/RestoreBackup: sealed backup files under a confined root
//
// Deletions are soft. Tombstones stay in the vault but are never exported,
// so a peer that still has the entry will send it back on the next sync.
package core
