package fetcher

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsget/hlsget/htypes"
)

func encryptAES128(t *testing.T, plain, key, iv []byte) []byte {
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestDecryptRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)
	iv[15] = 1

	for _, plain := range [][]byte{
		[]byte("hello-streamlink-ok!"),
		[]byte(""),
		bytes.Repeat([]byte{0xab}, 16),
		bytes.Repeat([]byte{0xcd}, 1000),
	} {
		enc := encryptAES128(t, plain, key, iv)
		dec, err := decryptAES128(enc, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plain, dec, "round trip for %d bytes", len(plain))
	}
}

func TestDecryptBadPadding(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)

	enc := encryptAES128(t, []byte("some plaintext"), key, iv)
	// Flip a bit in the last block so the padding cannot verify.
	enc[len(enc)-1] ^= 0xff

	_, err := decryptAES128(enc, key, iv)
	require.Error(t, err)
	assert.True(t, htypes.IsKind(err, htypes.ErrDecryptionFailed))
}

func TestDecryptMisaligned(t *testing.T) {
	key := []byte("0123456789abcdef")
	iv := make([]byte, 16)

	_, err := decryptAES128([]byte("short"), key, iv)
	require.Error(t, err)
	assert.True(t, htypes.IsKind(err, htypes.ErrDecryptionFailed))

	_, err = decryptAES128(nil, key, iv)
	require.Error(t, err)
	assert.True(t, htypes.IsKind(err, htypes.ErrDecryptionFailed))
}

func TestPkcs7UnpadExactlyOne(t *testing.T) {
	data := append([]byte("0123456789abcde"), 0x01)
	out, err := pkcs7Unpad(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcde"), out)

	full := bytes.Repeat([]byte{16}, 16)
	out, err = pkcs7Unpad(full)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = pkcs7Unpad([]byte{1, 2, 3, 17})
	assert.Error(t, err)
}
