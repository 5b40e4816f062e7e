package keyring

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Standard alphabets for password generation. MoreSymbols holds characters
// that tend to upset shell quoting and web forms, so it is not part of the
// default set.
const (
	Letters     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	Digits      = "0123456789"
	Symbols     = "~!@#$%^&*-_:;,.?"
	MoreSymbols = "`'\"\\/{}[]()<>"
)

// DefaultAlphabet returns the alphabet used when the caller has no opinion:
// letters, digits and the tame symbols.
func DefaultAlphabet() []rune {
	return []rune(Letters + Digits + Symbols)
}

// Generate draws length characters independently and uniformly at random from
// alphabet and returns them as a Secret.
//
// Sampling goes through crypto/rand.Int, which rejects out-of-range values
// rather than reducing them modulo the alphabet size, so every character has
// exactly equal selection probability regardless of the alphabet length.
func Generate(length int, alphabet []rune) (Secret, error) {
	if length < 0 {
		return Secret{}, fmt.Errorf("password length cannot be negative: %d", length)
	}
	if len(alphabet) == 0 {
		return Secret{}, errors.New("alphabet cannot be empty")
	}

	max := big.NewInt(int64(len(alphabet)))
	out := make([]rune, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return Secret{}, fmt.Errorf("failed to read random index: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}

	return NewSecret(string(out)), nil
}
