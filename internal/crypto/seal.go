package crypto

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/thanatos/keyring/internal/misc"
)

// Header identifies the outer sealed layer of a keyring container. It is the
// only cleartext in the file, so a reader can tell "not a keyring" apart from
// "wrong passphrase" before paying for key derivation.
var Header = []byte("thanatos/keyring.sealed.v1\n")

// ErrNotSealed reports that the data does not start with the sealed-layer header.
var ErrNotSealed = errors.New("data does not carry the sealed container header")

// ErrAuthFailed reports an AEAD authentication failure: wrong passphrase or
// corrupted ciphertext.
var ErrAuthFailed = errors.New("authentication failed")

// Seal encrypts data under a passphrase with Argon2id + ChaCha20-Poly1305.
//
// Output layout: header || salt (32 bytes) || nonce (12 bytes) || ciphertext+tag.
// A fresh random salt is generated per call, so sealing the same data twice
// never produces identical output.
func Seal(data []byte, passphrase *memguard.Enclave) ([]byte, error) {
	// Generate random salt for Argon2id
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	// Generate nonce
	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Encrypt
	ciphertext := aead.Seal(nil, nonce, data, nil)

	// Combine: header + salt + nonce + ciphertext
	result := make([]byte, 0, len(Header)+len(salt)+len(nonce)+len(ciphertext))
	result = append(result, Header...)
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)

	return result, nil
}

// Unseal reverses Seal. It returns ErrNotSealed when the header is absent and
// ErrAuthFailed (wrapped) when the passphrase is wrong or the ciphertext is
// corrupted.
func Unseal(sealed []byte, passphrase *memguard.Enclave) ([]byte, error) {
	if !bytes.HasPrefix(sealed, Header) {
		return nil, ErrNotSealed
	}
	body := sealed[len(Header):]

	if len(body) < misc.SaltSize+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: sealed data too short", ErrAuthFailed)
	}

	// Extract components
	salt := body[:misc.SaltSize]
	nonce := body[misc.SaltSize : misc.SaltSize+chacha20poly1305.NonceSize]
	ciphertext := body[misc.SaltSize+chacha20poly1305.NonceSize:]

	aead, err := newCipher(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	return plaintext, nil
}

// newCipher derives the sealing key from the passphrase enclave and builds the
// AEAD. The derived key only ever lives in a locked buffer.
func newCipher(passphrase *memguard.Enclave, salt []byte) (cipher.AEAD, error) {
	key, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}

// DeriveKey stretches the passphrase into a 256-bit key using Argon2id with
// the parameters from internal/misc. The caller must Destroy the returned
// buffer.
func DeriveKey(passphrase *memguard.Enclave, salt []byte) (*memguard.LockedBuffer, error) {
	// Open the passphrase enclave
	passBuffer, err := passphrase.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open passphrase enclave: %w", err)
	}
	defer passBuffer.Destroy()

	// Derive the key
	derivedKey := argon2.IDKey(
		passBuffer.Bytes(),
		salt,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	// Protect the derived key immediately
	protectedKey := memguard.NewBufferFromBytes(derivedKey)

	// Wipe the unprotected copy
	memguard.WipeBytes(derivedKey)

	return protectedKey, nil
}
