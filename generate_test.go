package keyring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateLengthAndAlphabet(t *testing.T) {
	alphabet := DefaultAlphabet()
	password, err := Generate(64, alphabet)
	require.NoError(t, err)

	value := password.Reveal()
	assert.Len(t, []rune(value), 64)
	for _, r := range value {
		assert.Contains(t, string(alphabet), string(r))
	}
}

func TestGenerateZeroLength(t *testing.T) {
	password, err := Generate(0, DefaultAlphabet())
	require.NoError(t, err)
	assert.Equal(t, "", password.Reveal())
}

func TestGenerateRejectsBadInput(t *testing.T) {
	_, err := Generate(-1, DefaultAlphabet())
	assert.Error(t, err)

	_, err = Generate(8, nil)
	assert.Error(t, err)
}

// TestGenerateUniform draws from a two-character alphabet and applies a
// chi-square test. With 10000 draws and a threshold at the 99.9th percentile
// (df=1), a fair generator fails about once in a thousand runs while the
// classic modulo-bias bug fails essentially always.
func TestGenerateUniform(t *testing.T) {
	const draws = 10000
	password, err := Generate(draws, []rune("ab"))
	require.NoError(t, err)

	counts := [2]float64{}
	for _, r := range password.Reveal() {
		switch r {
		case 'a':
			counts[0]++
		case 'b':
			counts[1]++
		default:
			t.Fatalf("character %q is not in the alphabet", r)
		}
	}

	const expected = draws / 2.0
	chi2 := 0.0
	for _, observed := range counts {
		diff := observed - expected
		chi2 += diff * diff / expected
	}
	assert.Less(t, chi2, 10.83, "character distribution is too uneven")
}

func TestDefaultAlphabetExcludesAwkwardSymbols(t *testing.T) {
	alphabet := string(DefaultAlphabet())
	for _, r := range MoreSymbols {
		assert.False(t, strings.ContainsRune(alphabet, r))
	}
}
