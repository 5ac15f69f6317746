package pinvault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// headerPrefix is the literal tag that opens every backup file, followed
// by the format version and a newline, e.g. "PINVAULT/1.5\n".
const headerPrefix = "PINVAULT/"

// FormatVersion identifies a generation of the backup format. It is the
// version of the format, not of the application. The set is closed:
// every version ever issued is listed here, and anything else is
// unsupported. Parsed exactly once, at the envelope boundary.
type FormatVersion string

const (
	// FormatV1_2 stored records as an array with plain numeric grids.
	FormatV1_2 FormatVersion = "1.2"
	// FormatV1_3 introduced structured cell objects.
	FormatV1_3 FormatVersion = "1.3"
	// FormatV1_4 switched the payload to an object keyed by record id.
	FormatV1_4 FormatVersion = "1.4"
	// FormatV1_5 is the current format: PBKDF2/Argon2id key derivation,
	// ChaCha20 keystream and an HMAC integrity tag.
	FormatV1_5 FormatVersion = "1.5"

	// CurrentFormat is the version written for new backups.
	CurrentFormat = FormatV1_5
)

// knownFormats lists every issued format, oldest first.
var knownFormats = [...]FormatVersion{FormatV1_2, FormatV1_3, FormatV1_4, FormatV1_5}

// ParseFormatVersion maps a version string from a backup header onto the
// closed set of known formats.
func ParseFormatVersion(s string) (FormatVersion, error) {
	for _, v := range knownFormats {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedVersion, s)
}

// generation returns the position of v in the format chain, oldest
// first. Unknown versions report -1.
func (v FormatVersion) generation() int {
	for i, known := range knownFormats {
		if v == known {
			return i
		}
	}
	return -1
}

// legacy reports whether v predates the current format and must be
// routed through the migrator.
func (v FormatVersion) legacy() bool {
	g := v.generation()
	return g >= 0 && g < CurrentFormat.generation()
}

// legacyKDFRounds returns the iterated-hash round count older
// application versions used for the given legacy format. These are
// historical constants baked into old backup files.
func (v FormatVersion) legacyKDFRounds() uint32 {
	switch v {
	case FormatV1_2:
		return 1_000
	default:
		return 10_000
	}
}

// header renders the literal file header line for this version.
func (v FormatVersion) header() []byte {
	return []byte(headerPrefix + string(v) + "\n")
}

// KDFParams records how the envelope's key was derived. Present from
// format 1.5 onward; earlier formats used fixed per-version parameters.
type KDFParams struct {
	Algorithm string `json:"algorithm"`
	Salt      []byte `json:"salt"`
	Rounds    uint32 `json:"rounds"`
}

// BackupEnvelope is the self-describing container for one encrypted
// backup. It is created for a single export or import and never
// persisted by the core beyond the transfer.
type BackupEnvelope struct {
	// BackupID uniquely identifies this backup instance.
	BackupID string `json:"backup_id,omitempty"`

	// FormatVersion is the backup format generation, mirrored from the
	// file header.
	FormatVersion FormatVersion `json:"format_version"`

	// CreatedAt is the backup creation time in UTC.
	CreatedAt time.Time `json:"created_at"`

	// RecordCount duplicates the payload length so a backup can be
	// sanity-checked before and after decryption.
	RecordCount int `json:"record_count"`

	// KDF holds derivation parameters for format 1.5 and later.
	KDF *KDFParams `json:"kdf,omitempty"`

	// LegacySalt is where formats before 1.5 stored the salt.
	LegacySalt []byte `json:"salt,omitempty"`

	// Ciphertext is the encrypted record payload.
	Ciphertext []byte `json:"ciphertext"`

	// MAC is the HMAC-SHA256 tag over header, salt, record count and
	// ciphertext. Present from format 1.5 onward.
	MAC []byte `json:"mac,omitempty"`
}

// salt returns the envelope's salt regardless of which generation's
// field carries it.
func (e *BackupEnvelope) salt() []byte {
	if e.KDF != nil && len(e.KDF.Salt) > 0 {
		return e.KDF.Salt
	}
	return e.LegacySalt
}

// validate checks the structural invariants an envelope must satisfy
// before any cryptography is attempted.
func (e *BackupEnvelope) validate() error {
	if e.FormatVersion.generation() < 0 {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, e.FormatVersion)
	}
	if len(e.salt()) == 0 {
		return fmt.Errorf("%w: envelope has no salt", ErrCorruptBackup)
	}
	if e.RecordCount < 0 {
		return fmt.Errorf("%w: negative record count", ErrCorruptBackup)
	}
	if e.RecordCount > 0 && len(e.Ciphertext) == 0 {
		return fmt.Errorf("%w: envelope has no ciphertext", ErrCorruptBackup)
	}
	if e.FormatVersion == CurrentFormat {
		if e.KDF == nil || e.KDF.Rounds == 0 || e.KDF.Algorithm == "" {
			return fmt.Errorf("%w: missing kdf parameters", ErrCorruptBackup)
		}
		if len(e.MAC) == 0 {
			return fmt.Errorf("%w: missing integrity tag", ErrCorruptBackup)
		}
	}
	return nil
}

// MarshalEnvelope renders an envelope into the portable backup file
// encoding: the version-tagged header line followed by the JSON body.
func MarshalEnvelope(env *BackupEnvelope) ([]byte, error) {
	if err := env.validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	out := make([]byte, 0, len(body)+len(env.FormatVersion.header()))
	out = append(out, env.FormatVersion.header()...)
	out = append(out, body...)
	return out, nil
}

// UnmarshalEnvelope parses backup file bytes into an envelope. A file
// without the literal header tag is corrupt; a header carrying a version
// outside the known family (typically written by a newer application)
// is unsupported and is never handed to the migrator.
func UnmarshalEnvelope(data []byte) (*BackupEnvelope, error) {
	if !bytes.HasPrefix(data, []byte(headerPrefix)) {
		return nil, fmt.Errorf("%w: missing backup header", ErrCorruptBackup)
	}

	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		return nil, fmt.Errorf("%w: truncated backup header", ErrCorruptBackup)
	}

	version, err := ParseFormatVersion(string(data[len(headerPrefix):nl]))
	if err != nil {
		return nil, err
	}

	var env BackupEnvelope
	if err := json.Unmarshal(data[nl+1:], &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope body", ErrCorruptBackup)
	}

	// The body's version field, when present, must agree with the header.
	if env.FormatVersion == "" {
		env.FormatVersion = version
	} else if env.FormatVersion != version {
		return nil, fmt.Errorf("%w: header and body disagree on version", ErrCorruptBackup)
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// BackupInfo is the metadata Inspect extracts from a backup file without
// a password.
type BackupInfo struct {
	BackupID       string        `json:"backup_id,omitempty"`
	FormatVersion  FormatVersion `json:"format_version"`
	CreatedAt      time.Time     `json:"created_at"`
	RecordCount    int           `json:"record_count"`
	SizeBytes      int           `json:"size_bytes"`
	NeedsMigration bool          `json:"needs_migration"`
	HasIntegrity   bool          `json:"has_integrity_tag"`
}

// Inspect reads a backup file's metadata and checks its structural
// validity without decrypting anything. Safe on untrusted input.
func Inspect(data []byte) (*BackupInfo, error) {
	env, err := UnmarshalEnvelope(data)
	if err != nil {
		return nil, err
	}

	return &BackupInfo{
		BackupID:       env.BackupID,
		FormatVersion:  env.FormatVersion,
		CreatedAt:      env.CreatedAt,
		RecordCount:    env.RecordCount,
		SizeBytes:      len(data),
		NeedsMigration: env.FormatVersion.legacy(),
		HasIntegrity:   len(env.MAC) > 0,
	}, nil
}
