package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, KeySize)
}

func cbcSeal(t *testing.T, key, iv []byte, plaintext string) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func sealV1(t *testing.T, plaintext string, key []byte) string {
	t.Helper()
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	k, iv := evpBytesToKey(legacyPassphrase(key), salt, KeySize, IVSize)
	raw := append(append(append([]byte{}, legacyMagic...), salt...), cbcSeal(t, k, iv, plaintext)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func sealV0(t *testing.T, plaintext string, key []byte) string {
	t.Helper()
	k, iv := evpBytesToKey(legacyPassphrase(key), nil, KeySize, IVSize)
	return base64.StdEncoding.EncodeToString(cbcSeal(t, k, iv, plaintext))
}

func sealMispacked(t *testing.T, plaintext string, key []byte) string {
	t.Helper()
	iv, err := GenerateRandom(IVSize)
	require.NoError(t, err)
	packed := make([]byte, 0, IVSize*4)
	for _, b := range iv {
		packed = append(packed, 0, 0, 0, b)
	}
	return base64.StdEncoding.EncodeToString(append(packed, cbcSeal(t, key, iv, plaintext)...))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(1)
	inputs := []string{
		"",
		"p@ss",
		"exactly sixteen!",
		"unicode: 世界 Ñoño café 🔑",
		string(bytes.Repeat([]byte("long "), 500)),
	}

	for _, in := range inputs {
		blob, err := Encrypt(in, key)
		require.NoError(t, err)

		out, err := Decrypt(blob, key)
		require.NoError(t, err)
		assert.Equal(t, in, out)

		outcome := DecryptWithFormat(blob, key)
		assert.True(t, outcome.OK)
		assert.Equal(t, FormatV2, outcome.Format)
	}
}

func TestEncryptUsesFreshIV(t *testing.T) {
	key := testKey(2)

	a, err := Encrypt("same", key)
	require.NoError(t, err)
	b, err := Encrypt("same", key)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptRejectsShortKey(t *testing.T) {
	_, err := Encrypt("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDecryptWrongKey(t *testing.T) {
	for _, pt := range []string{"", "p@ss", "a somewhat longer secret value"} {
		blob, err := Encrypt(pt, testKey(3))
		require.NoError(t, err)

		_, err = Decrypt(blob, testKey(4))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	}
}

func TestDecryptTamperedBlob(t *testing.T) {
	key := testKey(5)
	const original = "tamper-evident secret"

	blob, err := Encrypt(original, key)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)

	for i := range raw {
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01

		out, err := Decrypt(base64.StdEncoding.EncodeToString(tampered), key)
		if err == nil {
			assert.NotEqual(t, original, out, "byte %d flipped but plaintext unchanged", i)
		}
	}
}

func TestDecryptEditedEncoding(t *testing.T) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	key := testKey(5)

	for _, original := range []string{"p@ss", "tamper-evident secret"} {
		blob, err := Encrypt(original, key)
		require.NoError(t, err)

		for i := 0; i < len(blob); i++ {
			if blob[i] == '=' {
				continue
			}
			for _, c := range []byte(alphabet) {
				if c == blob[i] {
					continue
				}
				edited := blob[:i] + string(c) + blob[i+1:]
				out, err := Decrypt(edited, key)
				if err == nil {
					assert.NotEqual(t, original, out, "char %d changed to %q but plaintext unchanged", i, c)
				}
			}
		}
	}
}

func TestDecryptLegacyFormats(t *testing.T) {
	key := testKey(6)

	tests := []struct {
		name   string
		seal   func(*testing.T, string, []byte) string
		format Format
	}{
		{"v1 salted envelope", sealV1, FormatV1},
		{"v0 unsalted", sealV0, FormatV0},
		{"v2 mispacked iv", sealMispacked, FormatV2Mispacked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, pt := range []string{"", "legacy secret", "dev@example.com"} {
				blob := tt.seal(t, pt, key)

				out, err := Decrypt(blob, key)
				require.NoError(t, err)
				assert.Equal(t, pt, out)

				outcome := DecryptWithFormat(blob, key)
				assert.Equal(t, tt.format, outcome.Format)

				_, err = Decrypt(blob, testKey(7))
				assert.ErrorIs(t, err, ErrDecryptionFailed)
			}
		})
	}
}

func TestDecryptGarbage(t *testing.T) {
	key := testKey(8)
	random, err := GenerateRandom(96)
	require.NoError(t, err)

	inputs := []string{
		"",
		"not base64 at all!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(random),
	}
	for _, in := range inputs {
		_, err := Decrypt(in, key)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "input %q", in)
	}
}

func TestDecryptRejectsInvalidUTF8(t *testing.T) {
	key := testKey(9)
	iv := bytes.Repeat([]byte{0x42}, IVSize)
	raw := append(append([]byte{}, iv...), cbcSeal(t, key, iv, string([]byte{0xff, 0xfe, 0xfd}))...)

	_, err := Decrypt(base64.StdEncoding.EncodeToString(raw), key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptorSealOpen(t *testing.T) {
	enc, err := NewEncryptor(testKey(10))
	require.NoError(t, err)
	defer enc.Destroy()

	sealed, err := enc.Seal([]byte("bundle"), []byte("aad"))
	require.NoError(t, err)

	opened, err := enc.Open(sealed, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, []byte("bundle"), opened)

	_, err = enc.Open(sealed, []byte("other"))
	assert.ErrorIs(t, err, ErrAuthFailed)

	_, err = enc.Open(sealed[:5], nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
