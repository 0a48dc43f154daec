package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Format identifies a ciphertext layout.
type Format int

const (
	FormatV0          Format = 0 // passphrase one-shot, no salt
	FormatV1          Format = 1 // OpenSSL "Salted__" envelope
	FormatV2          Format = 2 // random IV || CBC ciphertext
	FormatV2Mispacked Format = 3 // V2 with the IV written as 16 32-bit words

	CurrentFormat = FormatV2
)

const IVSize = aes.BlockSize

var ErrDecryptionFailed = errors.New("decryption failed")

func (f Format) String() string {
	switch f {
	case FormatV0:
		return "v0"
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	case FormatV2Mispacked:
		return "v2-mispacked"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// DecryptOutcome is the result of a single layout attempt.
type DecryptOutcome struct {
	Plaintext string
	Format    Format
	OK        bool
}

// attempt decrypts raw bytes under one layout. It reports false instead of
// returning an error; the caller only cares whether some layout matched.
type attempt struct {
	format Format
	open   func(raw, key []byte) ([]byte, bool)
}

// Order matters: current format first, the mispacked variant last so it
// never shadows a valid V2 blob.
var attempts = []attempt{
	{FormatV2, openV2},
	{FormatV1, openV1},
	{FormatV0, openV0},
	{FormatV2Mispacked, openV2Mispacked},
}

// Encrypt encrypts a field value with AES-256-CBC under a fresh random IV and
// returns base64(IV || ciphertext).
func Encrypt(plaintext string, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, err := GenerateRandom(IVSize)
	if err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	defer ClearBytes(padded)

	out := make([]byte, IVSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[IVSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt recovers a field value written by any supported layout.
// It returns ErrDecryptionFailed only when every layout has been tried.
func Decrypt(blob string, key []byte) (string, error) {
	out := DecryptWithFormat(blob, key)
	if !out.OK {
		return "", ErrDecryptionFailed
	}
	return out.Plaintext, nil
}

// DecryptWithFormat is Decrypt that also reports which layout matched.
func DecryptWithFormat(blob string, key []byte) DecryptOutcome {
	if len(key) == 0 {
		return DecryptOutcome{}
	}

	// Strict rejects nonzero trailing bits, so an edited blob never decodes to the same bytes
	raw, err := base64.StdEncoding.Strict().DecodeString(strings.TrimSpace(blob))
	if err != nil {
		return DecryptOutcome{}
	}

	for _, a := range attempts {
		if out := a.try(raw, key); out.OK {
			return out
		}
	}
	return DecryptOutcome{}
}

func (a attempt) try(raw, key []byte) (out DecryptOutcome) {
	defer func() {
		if recover() != nil {
			out = DecryptOutcome{}
		}
	}()

	plaintext, ok := a.open(raw, key)
	if !ok {
		return DecryptOutcome{}
	}
	if !utf8.Valid(plaintext) {
		ClearBytes(plaintext)
		return DecryptOutcome{}
	}
	return DecryptOutcome{Plaintext: string(plaintext), Format: a.format, OK: true}
}

func openV2(raw, key []byte) ([]byte, bool) {
	if len(raw) < IVSize+aes.BlockSize {
		return nil, false
	}
	return cbcOpen(key, raw[:IVSize], raw[IVSize:])
}

// openV2Mispacked reads a V2 blob whose IV was serialized as 16 big-endian
// 32-bit words, one IV byte per word.
func openV2Mispacked(raw, key []byte) ([]byte, bool) {
	const packed = IVSize * 4
	if len(raw) < packed+aes.BlockSize {
		return nil, false
	}

	iv := make([]byte, IVSize)
	for i := range iv {
		word := raw[i*4 : i*4+4]
		if word[0] != 0 || word[1] != 0 || word[2] != 0 {
			return nil, false
		}
		iv[i] = word[3]
	}
	return cbcOpen(key, iv, raw[packed:])
}

func cbcOpen(key, iv, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, false
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, ok := pkcs7Unpad(plaintext, aes.BlockSize)
	if !ok {
		ClearBytes(plaintext)
		return nil, false
	}
	return unpadded, true
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
