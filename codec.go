package pinvault

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	icrypto "github.com/DavidPeltz/pinvault/internal/crypto"
)

// Codec turns record sets into encrypted backup envelopes and back.
// Encoding always writes the current format; decoding accepts every
// issued format and routes legacy payloads through the migrator.
type Codec struct {
	algorithm KDFAlgorithm
	rounds    uint32
	migrator  *Migrator
}

// NewCodec creates a codec from the given options.
func NewCodec(opts Options) (*Codec, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	return &Codec{
		algorithm: opts.KDFAlgorithm,
		rounds:    opts.KDFRounds,
		migrator:  NewMigrator(),
	}, nil
}

// Encode serializes records into a freshly salted, encrypted envelope.
// An empty record set encodes successfully with RecordCount zero; the
// service layer, not the codec, decides whether that is worth exporting.
func (c *Codec) Encode(records map[string]Record, password string) (*BackupEnvelope, error) {
	if password == "" {
		return nil, ErrPasswordRequired
	}
	for _, id := range sortedKeys(records) {
		rec := records[id]
		if rec.ID != id {
			return nil, fmt.Errorf("record %s stored under key %s", rec.ID, id)
		}
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}

	payload, err := json.Marshal(payloadV15{Records: records})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize records: %w", err)
	}
	defer memguard.WipeBytes(payload)

	salt, err := icrypto.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	master, err := c.deriveMaster(password, salt, string(c.algorithm), c.rounds)
	if err != nil {
		return nil, err
	}
	defer master.Destroy()

	encKey, macKey, err := icrypto.SplitKeys(master)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	defer encKey.Destroy()
	defer macKey.Destroy()

	ciphertext, err := icrypto.Keystream(payload, encKey.Bytes())
	if err != nil {
		return nil, mapCipherErr(err)
	}

	count := len(records)
	mac := icrypto.ComputeMAC(macKey.Bytes(),
		CurrentFormat.header(), salt, countBytes(count), ciphertext)

	return &BackupEnvelope{
		BackupID:      uuid.NewString(),
		FormatVersion: CurrentFormat,
		CreatedAt:     time.Now().UTC(),
		RecordCount:   count,
		KDF: &KDFParams{
			Algorithm: string(c.algorithm),
			Salt:      salt,
			Rounds:    c.rounds,
		},
		Ciphertext: ciphertext,
		MAC:        mac,
	}, nil
}

// Decode derives the envelope's key from the password, decrypts and
// parses the payload, and migrates legacy shapes to current records.
// Migration warnings are always surfaced, never dropped.
//
// For format 1.5 the integrity tag is verified before parsing, so a
// wrong password (ErrWrongPassword) is distinguishable from a damaged
// file (ErrCorruptBackup). Older formats have no tag: there a wrong
// password and corruption both surface as ErrInvalidBackupOrPassword.
func (c *Codec) Decode(env *BackupEnvelope, password string) (map[string]Record, []string, error) {
	if password == "" {
		return nil, nil, ErrPasswordRequired
	}
	if err := env.validate(); err != nil {
		return nil, nil, err
	}

	if env.FormatVersion.legacy() {
		return c.decodeLegacy(env, password)
	}
	return c.decodeCurrent(env, password)
}

func (c *Codec) decodeCurrent(env *BackupEnvelope, password string) (map[string]Record, []string, error) {
	master, err := c.deriveMaster(password, env.salt(), env.KDF.Algorithm, env.KDF.Rounds)
	if err != nil {
		return nil, nil, err
	}
	defer master.Destroy()

	encKey, macKey, err := icrypto.SplitKeys(master)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	defer encKey.Destroy()
	defer macKey.Destroy()

	// Verify before parse. Decrypted bytes are never trusted without
	// this check passing.
	authentic := icrypto.VerifyMAC(macKey.Bytes(), env.MAC,
		env.FormatVersion.header(), env.salt(), countBytes(env.RecordCount), env.Ciphertext)
	if !authentic {
		return nil, nil, ErrWrongPassword
	}

	plaintext, err := icrypto.Keystream(env.Ciphertext, encKey.Bytes())
	if err != nil {
		return nil, nil, mapCipherErr(err)
	}
	defer memguard.WipeBytes(plaintext)

	records, total, warnings, err := c.migrator.Migrate(plaintext, env.FormatVersion, env.CreatedAt)
	if err != nil {
		return nil, warnings, err
	}
	if total != env.RecordCount {
		return nil, warnings, fmt.Errorf("%w: payload has %d records, envelope declares %d",
			ErrCorruptBackup, total, env.RecordCount)
	}
	return records, warnings, nil
}

func (c *Codec) decodeLegacy(env *BackupEnvelope, password string) (map[string]Record, []string, error) {
	master, err := icrypto.LegacyDeriveKey(password, env.salt(), env.FormatVersion.legacyKDFRounds())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	defer master.Destroy()

	plaintext, err := icrypto.XORKeystream(env.Ciphertext, master.Bytes())
	if err != nil {
		return nil, nil, mapCipherErr(err)
	}
	defer memguard.WipeBytes(plaintext)

	records, total, warnings, err := c.migrator.Migrate(plaintext, env.FormatVersion, env.CreatedAt)
	if err != nil {
		return nil, warnings, err
	}
	if total != env.RecordCount {
		return nil, warnings, fmt.Errorf("%w: payload has %d records, envelope declares %d",
			ErrInvalidBackupOrPassword, total, env.RecordCount)
	}
	return records, warnings, nil
}

// deriveMaster runs the declared KDF. The algorithm string comes from
// either the codec's own options (encode) or the envelope (decode).
func (c *Codec) deriveMaster(password string, salt []byte, algorithm string, rounds uint32) (*memguard.LockedBuffer, error) {
	var (
		key *memguard.LockedBuffer
		err error
	)
	switch KDFAlgorithm(algorithm) {
	case KDFPBKDF2:
		key, err = icrypto.DeriveKey(password, salt, rounds)
	case KDFArgon2id:
		key, err = icrypto.DeriveKeyArgon2(password, salt, rounds)
	default:
		// An unknown KDF means the backup came from a newer application.
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrUnsupportedVersion, algorithm)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	return key, nil
}

func mapCipherErr(err error) error {
	if errors.Is(err, icrypto.ErrInvalidKey) {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
}

func countBytes(n int) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return buf[:]
}
