package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/hex"
)

const legacySaltSize = 8

var legacyMagic = []byte("Salted__")

// Older builds handed the key to their cipher library as a hex passphrase and
// let it derive the real key and IV with OpenSSL's EVP_BytesToKey.
func legacyPassphrase(key []byte) []byte {
	return []byte(hex.EncodeToString(key))
}

// openV1 reads base64("Salted__" || salt || ciphertext).
func openV1(raw, key []byte) ([]byte, bool) {
	header := len(legacyMagic) + legacySaltSize
	if len(raw) < header+aes.BlockSize || !bytes.HasPrefix(raw, legacyMagic) {
		return nil, false
	}

	salt := raw[len(legacyMagic):header]
	derivedKey, iv := evpBytesToKey(legacyPassphrase(key), salt, KeySize, IVSize)
	defer ClearBytes(derivedKey)
	return cbcOpen(derivedKey, iv, raw[header:])
}

// openV0 reads an unsalted passphrase ciphertext, the oldest layout.
func openV0(raw, key []byte) ([]byte, bool) {
	derivedKey, iv := evpBytesToKey(legacyPassphrase(key), nil, KeySize, IVSize)
	defer ClearBytes(derivedKey)
	return cbcOpen(derivedKey, iv, raw)
}

// evpBytesToKey implements OpenSSL's EVP_BytesToKey with MD5 and one round.
func evpBytesToKey(passphrase, salt []byte, keyLen, ivLen int) ([]byte, []byte) {
	var derived, prev []byte
	for len(derived) < keyLen+ivLen {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keyLen], derived[keyLen : keyLen+ivLen]
}
