package pinvault

import "errors"

// Sentinel errors returned by the backup/restore core. Callers classify
// failures with errors.Is; every error crossing the package boundary
// wraps exactly one of these.
var (
	// ErrPasswordRequired is returned when a backup or restore is
	// attempted with an empty password.
	ErrPasswordRequired = errors.New("password is required")

	// ErrNoRecordsToBackup is returned when a backup is requested but
	// the record store is empty.
	ErrNoRecordsToBackup = errors.New("no records to backup")

	// ErrInvalidBackupOrPassword is returned when decrypted data fails
	// structural validation. For backups older than format 1.5 the two
	// causes cannot be told apart: the cipher is unauthenticated, so a
	// wrong password and a corrupted file produce the same garbage.
	// Callers should prompt for the password again rather than assert
	// either cause.
	ErrInvalidBackupOrPassword = errors.New("backup is invalid or the password is wrong")

	// ErrUnsupportedVersion is returned for backups whose declared
	// format version is not in the known family, typically because they
	// were written by a newer application version.
	ErrUnsupportedVersion = errors.New("backup format version is not supported")

	// ErrNoRecoverableRecords is returned when migration of a legacy
	// backup skips every record it contains.
	ErrNoRecoverableRecords = errors.New("no recoverable records in backup")

	// ErrCryptoUnavailable is returned when a cryptographic primitive
	// cannot be used (bad derivation parameters, unusable key).
	ErrCryptoUnavailable = errors.New("cryptographic primitive unavailable")

	// ErrInvalidKey is returned when a cipher key is empty or has the
	// wrong length.
	ErrInvalidKey = errors.New("invalid encryption key")

	// ErrStorageFailure is returned when the record store or file sink
	// fails an I/O or persistence operation.
	ErrStorageFailure = errors.New("storage failure")

	// ErrCancelled is returned when the user cancels a file pick or the
	// operation context is cancelled before work begins.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNotAuthorized is returned when the authorization gate refuses
	// a backup or restore operation.
	ErrNotAuthorized = errors.New("operation not authorized")
)

// ErrWrongPassword and ErrCorruptBackup refine ErrInvalidBackupOrPassword
// for format 1.5 backups, whose integrity tag makes the two causes
// distinguishable. Both unwrap to ErrInvalidBackupOrPassword so callers
// written against the coarse taxonomy keep working.
var (
	ErrWrongPassword = &classifiedError{
		msg:   "wrong backup password",
		class: ErrInvalidBackupOrPassword,
	}

	ErrCorruptBackup = &classifiedError{
		msg:   "backup file is corrupted",
		class: ErrInvalidBackupOrPassword,
	}
)

// classifiedError is a sentinel that also belongs to a broader class.
type classifiedError struct {
	msg   string
	class error
}

func (e *classifiedError) Error() string { return e.msg }

func (e *classifiedError) Unwrap() error { return e.class }
