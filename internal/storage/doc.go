// Package storage provides the BBolt database interface for lockpass.
//
// Database structure uses two buckets:
//   - vault_meta: salt, key hash, KDF iterations, timestamps, vault ID and the
//     entries schema version (unencrypted, single logical row)
//   - entries: one JSON row per credential keyed by entry ID; secret fields are
//     ciphertext, URL/folder/flags/timestamps are plain
//
// Rows carry their own schema number. Columns are only ever added, so older
// rows are upgraded on read and rewritten by MigrateEntries.
//
// BBolt provides ACID transactions, file locking, and corruption detection.
package storage
