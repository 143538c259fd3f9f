package bitmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func pow2(n uint) *uint256.Int {
	return new(uint256.Int).Lsh(uint256.NewInt(1), n)
}

func TestMostSignificantBit(t *testing.T) {
	testCases := []struct {
		name     string
		input    *uint256.Int
		expected uint8
		err      error
	}{
		{"Input 1", u(1), 0, nil},
		{"Input 2", u(2), 1, nil},
		{"Input 3", u(3), 1, nil},
		{"Input 255", u(255), 7, nil},
		{"Input 256", u(256), 8, nil},
		{"2^128 - 1", new(uint256.Int).Sub(pow2(128), u(1)), 127, nil},
		{"2^128", pow2(128), 128, nil},
		{"Error on Zero", u(0), 0, ErrInputIsZero},
		{"Error on Nil", nil, 0, ErrInputIsNil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := MostSignificantBit(tc.input)
			if tc.err != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, result)
			}
		})
	}
}

func TestLeastSignificantBit(t *testing.T) {
	testCases := []struct {
		name     string
		input    *uint256.Int
		expected uint8
		err      error
	}{
		{"Input 1", u(1), 0, nil},
		{"Input 2", u(2), 1, nil},
		{"Input 3", u(3), 0, nil},
		{"Input 8", u(8), 3, nil},
		{"Input 10", u(10), 1, nil},
		{"2^128", pow2(128), 128, nil},
		{"2^128 + 2^64", new(uint256.Int).Or(pow2(128), pow2(64)), 64, nil},
		{"Error on Zero", u(0), 0, ErrInputIsZero},
		{"Error on Nil", nil, 0, ErrInputIsNil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := LeastSignificantBit(tc.input)
			if tc.err != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tc.expected, result)
			}
		})
	}
}

// --- Invariant Tests ---

func randWord(t *testing.T) *uint256.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 256))
	require.NoError(t, err)
	if n.Sign() == 0 {
		n.SetInt64(1)
	}
	return uint256.MustFromBig(n)
}

func TestMostSignificantBit_Invariant(t *testing.T) {
	for i := 0; i < 1000; i++ {
		input := randWord(t)

		msb, err := MostSignificantBit(input)
		require.NoError(t, err)

		// input >= 2**msb
		assert.True(t, input.Cmp(pow2(uint(msb))) >= 0)

		// msb == 255 || input < 2**(msb+1)
		if msb < 255 {
			assert.True(t, input.Cmp(pow2(uint(msb)+1)) < 0)
		}
	}
}

func TestLeastSignificantBit_Invariant(t *testing.T) {
	for i := 0; i < 1000; i++ {
		input := randWord(t)

		lsb, err := LeastSignificantBit(input)
		require.NoError(t, err)

		powerOfTwo := pow2(uint(lsb))

		// (input & 2**lsb) != 0
		assert.False(t, new(uint256.Int).And(input, powerOfTwo).IsZero())

		// (input & (2**lsb - 1)) == 0
		mask := new(uint256.Int).Sub(powerOfTwo, u(1))
		assert.True(t, new(uint256.Int).And(input, mask).IsZero())
	}
}
