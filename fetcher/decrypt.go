package fetcher

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"

	"github.com/hlsget/hlsget/htypes"
)

// decryptAES128 performs CBC decryption and strips exactly one PKCS7
// padding. Invalid padding is a decryption failure, never silently
// passed through.
func decryptAES128(data, key, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrapf(htypes.ErrDecryptionFailed, "bad key: %v", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errors.Wrapf(htypes.ErrDecryptionFailed, "ciphertext length %d not block aligned", len(data))
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.Wrapf(htypes.ErrDecryptionFailed, "iv length %d", len(iv))
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	return pkcs7Unpad(plain)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, errors.Wrapf(htypes.ErrDecryptionFailed, "invalid padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.Wrapf(htypes.ErrDecryptionFailed, "inconsistent padding")
		}
	}
	return data[:len(data)-pad], nil
}
