package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20"

	"github.com/DavidPeltz/pinvault/internal/misc"
)

// ErrInvalidKey is returned when a cipher key has the wrong length.
var ErrInvalidKey = errors.New("invalid cipher key")

// Keystream applies the ChaCha20 keystream to data. Encryption and
// decryption are the same operation. The nonce is fixed to zero: every
// backup derives its key from a fresh random salt, so a key is never
// reused across ciphertexts.
func Keystream(data, key []byte) ([]byte, error) {
	if len(key) != misc.KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, misc.KeySize, len(key))
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	nonce := make([]byte, chacha20.NonceSize)
	stream, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// XORKeystream applies the repeating-key XOR transform used by backup
// formats before 1.5: key bytes are cycled against the data position by
// position. Kept only so legacy backups remain restorable.
func XORKeystream(data, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(data) == 0 {
		return []byte{}, nil
	}

	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out, nil
}

// ComputeMAC returns the HMAC-SHA256 tag over the concatenation of parts.
func ComputeMAC(key []byte, parts ...[]byte) []byte {
	mac := hmac.New(sha256.New, key)
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil)
}

// VerifyMAC reports whether tag is the correct HMAC-SHA256 tag for the
// concatenation of parts. Constant time.
func VerifyMAC(key, tag []byte, parts ...[]byte) bool {
	return hmac.Equal(tag, ComputeMAC(key, parts...))
}
