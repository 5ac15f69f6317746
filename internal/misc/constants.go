package misc

const (
	// SaltSize is the number of random salt bytes generated per backup.
	SaltSize = 16

	// KeySize is the symmetric key length produced by key derivation.
	KeySize = 32

	// DefaultKDFRounds is the PBKDF2 iteration count for newly created
	// backups. Chosen to stay well under a second on mobile-class
	// hardware while remaining expensive for offline brute force.
	DefaultKDFRounds uint32 = 100_000

	// Argon2id parameters used when the Argon2 KDF is selected.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 64 * 1024
	ArgonThreads uint8  = 4

	FilePermissions = 0600 // user read + write
	DirPermissions  = 0700
)
