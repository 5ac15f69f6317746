package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/DavidPeltz/pinvault/internal/misc"
)

// ErrInvalidRounds is returned when a caller asks for fewer than one
// derivation round.
var ErrInvalidRounds = errors.New("kdf rounds must be at least 1")

// Subkey derivation labels. These are part of the backup format and must
// never change: a different label produces a different key and makes
// existing backups undecryptable.
var (
	encKeyInfo = []byte("pinvault encryption key v1")
	macKeyInfo = []byte("pinvault integrity key v1")
)

// NewSalt generates a fresh random salt for a new backup.
func NewSalt() ([]byte, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives master key material from a password and salt using
// PBKDF2-HMAC-SHA256. Deterministic: the same (password, salt, rounds)
// always yields the same key. The result is returned in a memguard
// locked buffer; the caller must Destroy it when done.
func DeriveKey(password string, salt []byte, rounds uint32) (*memguard.LockedBuffer, error) {
	if rounds < 1 {
		return nil, ErrInvalidRounds
	}

	key := pbkdf2.Key([]byte(password), salt, int(rounds), misc.KeySize, sha256.New)

	// Protect the derived key immediately and wipe the unprotected copy.
	protected := memguard.NewBufferFromBytes(key)
	memguard.WipeBytes(key)

	return protected, nil
}

// DeriveKeyArgon2 derives master key material using Argon2id. The time
// parameter plays the role of rounds; memory and parallelism are fixed
// format constants.
func DeriveKeyArgon2(password string, salt []byte, time uint32) (*memguard.LockedBuffer, error) {
	if time < 1 {
		return nil, ErrInvalidRounds
	}

	key := argon2.IDKey([]byte(password), salt, time, misc.ArgonMemory, misc.ArgonThreads, misc.KeySize)

	protected := memguard.NewBufferFromBytes(key)
	memguard.WipeBytes(key)

	return protected, nil
}

// LegacyDeriveKey reproduces the iterated-hash derivation used by backup
/// formats before 1.5: seed = password || salt, then seed = SHA-256(seed)
// repeated for the given number of rounds. Required to decrypt backups
// written by older application versions; never used for new backups.
func LegacyDeriveKey(password string, salt []byte, rounds uint32) (*memguard.LockedBuffer, error) {
	if rounds < 1 {
		return nil, ErrInvalidRounds
	}

	seed := make([]byte, 0, len(password)+len(salt))
	seed = append(seed, []byte(password)...)
	seed = append(seed, salt...)

	digest := sha256.Sum256(seed)
	for i := uint32(1); i < rounds; i++ {
		digest = sha256.Sum256(digest[:])
	}
	memguard.WipeBytes(seed)

	protected := memguard.NewBufferFromBytes(digest[:])
	return protected, nil
}

// SplitKeys expands master key material into independent encryption and
// MAC subkeys via HKDF-SHA256. The master buffer is left intact; both
// returned buffers must be destroyed by the caller.
func SplitKeys(master *memguard.LockedBuffer) (encKey, macKey *memguard.LockedBuffer, err error) {
	enc := make([]byte, misc.KeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, master.Bytes(), nil, encKeyInfo), enc); err != nil {
		return nil, nil, fmt.Errorf("failed to expand encryption key: %w", err)
	}

	mac := make([]byte, misc.KeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, master.Bytes(), nil, macKeyInfo), mac); err != nil {
		memguard.WipeBytes(enc)
		return nil, nil, fmt.Errorf("failed to expand mac key: %w", err)
	}

	encKey = memguard.NewBufferFromBytes(enc)
	macKey = memguard.NewBufferFromBytes(mac)
	memguard.WipeBytes(enc)
	memguard.WipeBytes(mac)

	return encKey, macKey, nil
}
