package misc

const (
	// ArgonTime Key derivation parameters used when sealing a container.
	// Fixed for now; a later container revision may carry them in the header.
	ArgonTime    uint32 = 4
	ArgonMemory  uint32 = 128 * 1024
	ArgonThreads uint8  = 4
	ArgonKeyLen  uint32 = 32
	SaltSize            = 32

	FilePermissions = 0600 // user read + write
)
