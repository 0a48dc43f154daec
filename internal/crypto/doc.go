// Package crypto provides key derivation and field encryption for lockpass.
//
// Key derivation:
//   - Master key from PBKDF2-HMAC-SHA256, 32-byte random salt
//   - Iteration count stored per vault (210,000 for new vaults, 100,000 for
//     vaults that predate the stored count)
//   - Sub-keys (vault, sync, export) via HKDF-Expand with fixed labels
//   - SHA-256 of the master key kept in the header to verify passwords
//
// Field encryption writes AES-256-CBC with a random 16-byte IV, base64(IV ||
// ciphertext). Decrypt also reads every historical layout, in this order:
//   - v2: IV || ciphertext
//   - v1: OpenSSL "Salted__" envelope, key and IV from EVP_BytesToKey
//   - v0: unsalted EVP_BytesToKey ciphertext
//   - v2 with the IV mispacked as sixteen 32-bit words
//
// A layout only matches when padding is valid and the result is valid UTF-8.
//
// Backup bundles use AES-256-GCM through Encryptor.
//
// Memory safety:
//   - Use ClearBytes() to zero sensitive data after use
//   - Call KeySet.Destroy() and Encryptor.Destroy() when done
package crypto
