package keyring

import (
	"errors"
	"fmt"

	"github.com/thanatos/keyring/internal/crypto"
)

var (
	// ErrKeyringExists is returned by Create when a file already exists at
	// the target path. Create never overwrites.
	ErrKeyringExists = errors.New("a file already exists at the keyring path")

	// ErrNotKeyring is returned by Load when the file does not carry the
	// sealed container header, i.e. it is not a keyring at all. Distinct
	// from ErrDecryptionFailed so callers can tell "not a keyring" from
	// "wrong passphrase".
	ErrNotKeyring = crypto.ErrNotSealed

	// ErrDecryptionFailed is returned when the sealed layer fails to
	// authenticate: wrong passphrase or corrupted ciphertext.
	ErrDecryptionFailed = crypto.ErrAuthFailed

	// ErrBadMagic is returned when the decrypted archive does not contain
	// the exact magic entry. The passphrase was right but the content is a
	// foreign archive.
	ErrBadMagic = errors.New("not a keyring archive (the magic did not match)")

	// ErrManifestDecode is returned when the manifest entry is not valid
	// against its schema, which indicates a corrupted or foreign container.
	ErrManifestDecode = errors.New("failed to decode the keyring manifest")
)

// ItemCodecError reports that a typed item failed to encode or decode. The
// offending item name is attached so callers can surface it.
type ItemCodecError struct {
	Name string
	Op   string // "encode" or "decode"
	Err  error
}

func (e *ItemCodecError) Error() string {
	return fmt.Sprintf("failed to %s item %q: %v", e.Op, e.Name, e.Err)
}

func (e *ItemCodecError) Unwrap() error {
	return e.Err
}
