package pinvault

import (
	"fmt"

	"github.com/DavidPeltz/pinvault/audit"
	"github.com/DavidPeltz/pinvault/internal/misc"
)

// KDFAlgorithm selects the key derivation function used for new backups.
// Decoding always honors whatever the envelope declares.
type KDFAlgorithm string

const (
	// KDFPBKDF2 derives keys with PBKDF2-HMAC-SHA256. The default.
	KDFPBKDF2 KDFAlgorithm = "pbkdf2-sha256"

	// KDFArgon2id derives keys with Argon2id. Rounds acts as the time
	// cost; memory and parallelism are fixed format constants.
	KDFArgon2id KDFAlgorithm = "argon2id"
)

// Options configures the backup service and codec.
type Options struct {
	// KDFAlgorithm used when writing new backups. Defaults to PBKDF2.
	KDFAlgorithm KDFAlgorithm

	// KDFRounds is the derivation cost for new backups: PBKDF2
	// iterations, or Argon2id time cost. Zero selects the default.
	// Must be at least 1 when set. Derivation is CPU-bound and may
	// block for a noticeable fraction of a second; run backup calls
	// off the UI thread.
	KDFRounds uint32

	// Audit selects the audit logger configuration. Nil disables
	// audit logging.
	Audit *audit.Config
}

// DefaultOptions returns the configuration used by the mobile host:
// PBKDF2 at the default round count, no audit logging.
func DefaultOptions() Options {
	return Options{
		KDFAlgorithm: KDFPBKDF2,
		KDFRounds:    misc.DefaultKDFRounds,
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.KDFAlgorithm == "" {
		o.KDFAlgorithm = KDFPBKDF2
	}
	if o.KDFRounds == 0 {
		if o.KDFAlgorithm == KDFArgon2id {
			o.KDFRounds = misc.ArgonTime
		} else {
			o.KDFRounds = misc.DefaultKDFRounds
		}
	}
	return o
}

// Validate checks the options for consistency.
func (o Options) Validate() error {
	switch o.KDFAlgorithm {
	case "", KDFPBKDF2, KDFArgon2id:
	default:
		return fmt.Errorf("unknown kdf algorithm: %q", o.KDFAlgorithm)
	}
	return nil
}
