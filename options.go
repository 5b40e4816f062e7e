package keyring

import (
	"github.com/thanatos/keyring/audit"
)

// Options configures a Keyring at Create/Load time. The zero value is a
// sensible default: no audit trail, no memory locking.
type Options struct {
	// Audit receives an event for every engine operation (create, load,
	// save, set, delete). Events carry item names, never payloads or the
	// passphrase. nil disables auditing.
	Audit audit.Logger

	// EnableMemoryLock asks the OS to keep process memory out of swap
	// (mlockall on unix) for the keyring's lifetime, so the decrypted
	// archive and passphrase cannot land on disk. Best effort; see
	// Keyring.MemoryProtection for what was achieved.
	EnableMemoryLock bool
}
