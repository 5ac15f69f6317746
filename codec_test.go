package pinvault

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	icrypto "github.com/DavidPeltz/pinvault/internal/crypto"
)

// fastOptions keeps key derivation cheap in tests.
func fastOptions() Options {
	return Options{KDFAlgorithm: KDFPBKDF2, KDFRounds: 10}
}

func testRecordSet(t *testing.T, names ...string) map[string]Record {
	t.Helper()

	records := make(map[string]Record, len(names))
	for i, name := range names {
		rec, err := NewRecord(name)
		require.NoError(t, err)
		require.NoError(t, rec.SetDigit(i, i%10, i%2 == 0))
		records[rec.ID] = *rec
	}
	return records
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	records := testRecordSet(t, "alpha", "beta", "gamma")

	env, err := codec.Encode(records, "correct horse")
	require.NoError(t, err)

	assert.NotEmpty(t, env.BackupID)
	assert.Equal(t, CurrentFormat, env.FormatVersion)
	assert.Equal(t, 3, env.RecordCount)
	require.NotNil(t, env.KDF)
	assert.Len(t, env.KDF.Salt, 16)
	assert.NotEmpty(t, env.MAC)

	got, warnings, err := codec.Decode(env, "correct horse")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, got, 3)

	for id, want := range records {
		assert.Equal(t, want.Name, got[id].Name)
		assert.Equal(t, want.Cells, got[id].Cells)
	}
}

func TestCodecRoundTripArgon2(t *testing.T) {
	codec, err := NewCodec(Options{KDFAlgorithm: KDFArgon2id, KDFRounds: 1})
	require.NoError(t, err)

	records := testRecordSet(t, "argon")

	env, err := codec.Encode(records, "pw123")
	require.NoError(t, err)
	assert.Equal(t, string(KDFArgon2id), env.KDF.Algorithm)

	got, _, err := codec.Decode(env, "pw123")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCodecEmptyRecordSet(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env, err := codec.Encode(map[string]Record{}, "pw123")
	require.NoError(t, err)
	assert.Equal(t, 0, env.RecordCount)

	got, warnings, err := codec.Decode(env, "pw123")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, warnings)
}

func TestCodecRequiresPassword(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	_, err = codec.Encode(testRecordSet(t, "x"), "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	env, err := codec.Encode(testRecordSet(t, "x"), "pw123")
	require.NoError(t, err)

	_, _, err = codec.Decode(env, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestCodecWrongPassword(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env, err := codec.Encode(testRecordSet(t, "secret"), "right")
	require.NoError(t, err)

	_, _, err = codec.Decode(env, "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.ErrorIs(t, err, ErrInvalidBackupOrPassword)
	assert.NotErrorIs(t, err, ErrCorruptBackup)
}

func TestCodecDetectsTampering(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env, err := codec.Encode(testRecordSet(t, "tamper"), "pw123")
	require.NoError(t, err)

	env.Ciphertext[0] ^= 0xFF

	_, _, err = codec.Decode(env, "pw123")
	assert.ErrorIs(t, err, ErrInvalidBackupOrPassword)
}

func TestCodecCountMismatchIsCorrupt(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env, err := codec.Encode(testRecordSet(t, "one", "two"), "pw123")
	require.NoError(t, err)

	// Forge a count and re-sign so only the count check can catch it.
	env.RecordCount = 5
	master, err := icrypto.DeriveKey("pw123", env.KDF.Salt, env.KDF.Rounds)
	require.NoError(t, err)
	defer master.Destroy()
	_, macKey, err := icrypto.SplitKeys(master)
	require.NoError(t, err)
	defer macKey.Destroy()
	env.MAC = icrypto.ComputeMAC(macKey.Bytes(),
		env.FormatVersion.header(), env.KDF.Salt, countBytes(env.RecordCount), env.Ciphertext)

	_, _, err = codec.Decode(env, "pw123")
	assert.ErrorIs(t, err, ErrCorruptBackup)
}

func TestCodecUnknownKDFAlgorithm(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env, err := codec.Encode(testRecordSet(t, "x"), "pw123")
	require.NoError(t, err)
	env.KDF.Algorithm = "scrypt-9000"

	_, _, err = codec.Decode(env, "pw123")
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

// legacyEnvelope builds an envelope the way the pre-1.5 application
// wrote them: iterated-hash key, repeating-key XOR, no integrity tag.
func legacyEnvelope(t *testing.T, version FormatVersion, payload interface{}, count int, password string) *BackupEnvelope {
	t.Helper()

	plaintext, err := json.Marshal(payload)
	require.NoError(t, err)

	salt, err := icrypto.NewSalt()
	require.NoError(t, err)

	key, err := icrypto.LegacyDeriveKey(password, salt, version.legacyKDFRounds())
	require.NoError(t, err)
	defer key.Destroy()

	ciphertext, err := icrypto.XORKeystream(plaintext, key.Bytes())
	require.NoError(t, err)

	return &BackupEnvelope{
		FormatVersion: version,
		CreatedAt:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		RecordCount:   count,
		LegacySalt:    salt,
		Ciphertext:    ciphertext,
	}
}

func TestCodecDecodesLegacyBackup(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	grid := emptyGridV12()
	grid[2] = 15 // secret digit 5
	env := legacyEnvelope(t, FormatV1_2,
		[]recordV12{{ID: "old", Name: "Old card", Grid: grid}}, 1, "pw123")

	records, warnings, err := codec.Decode(env, "pw123")
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Contains(t, records, "old")

	rec := records["old"]
	require.NotNil(t, rec.Cells[2].Digit)
	assert.Equal(t, 5, *rec.Cells[2].Digit)
	assert.True(t, rec.Cells[2].IsSecretDigit)
	assert.True(t, rec.CreatedAt.Equal(env.CreatedAt))
}

func TestCodecLegacyWrongPasswordIsIndistinct(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env := legacyEnvelope(t, FormatV1_4, map[string]recordV14{
		"r1": {Name: "Legacy", Cells: emptyCellsV13()},
	}, 1, "right")

	// Wrong password yields garbage plaintext; without an integrity tag
	// the codec can only report the coarse class. It must never panic.
	_, _, err = codec.Decode(env, "wrong")
	assert.ErrorIs(t, err, ErrInvalidBackupOrPassword)
	assert.NotErrorIs(t, err, ErrWrongPassword)
}

func TestCodecLegacyCountMismatch(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	env := legacyEnvelope(t, FormatV1_3,
		[]recordV13{{ID: "a", Name: "A", Cells: emptyCellsV13()}}, 3, "pw123")

	_, _, err = codec.Decode(env, "pw123")
	assert.ErrorIs(t, err, ErrInvalidBackupOrPassword)
}

func TestCodecEncodeRejectsInvalidRecords(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	rec, err := NewRecord("ok")
	require.NoError(t, err)

	t.Run("key mismatch", func(t *testing.T) {
		_, err := codec.Encode(map[string]Record{"other": *rec}, "pw123")
		assert.Error(t, err)
	})

	t.Run("invariant violation", func(t *testing.T) {
		bad := rec.Clone()
		bad.Cells[0].IsSecretDigit = true
		_, err := codec.Encode(map[string]Record{bad.ID: *bad}, "pw123")
		assert.Error(t, err)
	})
}

func TestCodecEnvelopeSurvivesSerialization(t *testing.T) {
	codec, err := NewCodec(fastOptions())
	require.NoError(t, err)

	records := testRecordSet(t, "file trip")
	env, err := codec.Encode(records, "pw123")
	require.NoError(t, err)

	data, err := MarshalEnvelope(env)
	require.NoError(t, err)

	parsed, err := UnmarshalEnvelope(data)
	require.NoError(t, err)

	got, _, err := codec.Decode(parsed, "pw123")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
