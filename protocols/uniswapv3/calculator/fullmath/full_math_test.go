package fullmath

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRandInt(bits int) *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		panic(err)
	}
	return n
}

// TestMulDiv_FloorAndCeiling verifies on random inputs, including products
// wider than 256 bits, that MulDiv is the exact floor and MulDivRoundingUp
// the exact ceiling of a*b/denominator.
func TestMulDiv_FloorAndCeiling(t *testing.T) {
	for i := 0; i < 1000; i++ {
		a := newRandInt(200)
		b := newRandInt(200)
		denominator := newRandInt(128)
		if denominator.Sign() == 0 {
			denominator.SetInt64(1)
		}

		product := new(big.Int).Mul(a, b)

		floor := new(big.Int)
		err := MulDiv(floor, a, b, denominator)
		if err != nil {
			// 400-bit product over a small denominator can exceed the width.
			assert.ErrorIs(t, err, ErrArithmeticOverflow)
			continue
		}

		// floor*den <= a*b < (floor+1)*den
		lower := new(big.Int).Mul(floor, denominator)
		upper := new(big.Int).Add(lower, denominator)
		assert.True(t, lower.Cmp(product) <= 0)
		assert.True(t, upper.Cmp(product) > 0)

		ceil := new(big.Int)
		require.NoError(t, MulDivRoundingUp(ceil, a, b, denominator))

		diff := new(big.Int).Sub(ceil, floor)
		if new(big.Int).Rem(product, denominator).Sign() == 0 {
			assert.Zero(t, diff.Sign(), "exact division must not round")
		} else {
			assert.Zero(t, diff.Cmp(big.NewInt(1)), "ceiling must exceed floor by one")
		}
	}
}

func TestMulDiv_DivisionByZero(t *testing.T) {
	dest := new(big.Int)
	assert.ErrorIs(t, MulDiv(dest, big.NewInt(1), big.NewInt(1), big.NewInt(0)), ErrDivisionByZero)
	assert.ErrorIs(t, MulDivRoundingUp(dest, big.NewInt(1), big.NewInt(1), big.NewInt(0)), ErrDivisionByZero)
	assert.ErrorIs(t, DivRoundingUp(dest, big.NewInt(1), big.NewInt(0)), ErrDivisionByZero)
}

func TestCheckedAddSub(t *testing.T) {
	dest := new(big.Int)

	require.NoError(t, AddUint256(dest, big.NewInt(2), big.NewInt(3)))
	assert.Equal(t, "5", dest.String())

	assert.ErrorIs(t, AddUint256(dest, MaxUint256, big.NewInt(1)), ErrArithmeticOverflow)

	require.NoError(t, SubUint256(dest, big.NewInt(3), big.NewInt(2)))
	assert.Equal(t, "1", dest.String())

	assert.ErrorIs(t, SubUint256(dest, big.NewInt(2), big.NewInt(3)), ErrArithmeticUnderflow)
}

func TestWidthChecks(t *testing.T) {
	assert.NoError(t, ToUint128(MaxUint128))
	assert.ErrorIs(t, ToUint128(new(big.Int).Add(MaxUint128, big.NewInt(1))), ErrArithmeticOverflow)
	assert.NoError(t, ToUint160(MaxUint160))
	assert.ErrorIs(t, ToUint160(new(big.Int).Add(MaxUint160, big.NewInt(1))), ErrArithmeticOverflow)
}

func TestScaleConversions(t *testing.T) {
	dest := new(big.Int)

	// Wad -> Ray is exact.
	require.NoError(t, WadToRay(dest, Wad))
	assert.Zero(t, dest.Cmp(Ray))

	tests := []struct {
		name    string
		ray     string
		halfUp  string
		floor   string
		ceiling string
	}{
		{"exact", "2000000000", "2", "2", "2"},
		{"below half", "2499999999", "2", "2", "3"},
		{"at half", "2500000000", "3", "2", "3"},
		{"above half", "2500000001", "3", "2", "3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ray, ok := new(big.Int).SetString(tc.ray, 10)
			require.True(t, ok)

			require.NoError(t, RayToWad(dest, ray))
			assert.Equal(t, tc.halfUp, dest.String())

			require.NoError(t, RayToWadFloor(dest, ray))
			assert.Equal(t, tc.floor, dest.String())

			require.NoError(t, RayToWadRoundingUp(dest, ray))
			assert.Equal(t, tc.ceiling, dest.String())
		})
	}
}

// Round-tripping a wad through the ray scale is lossless.
func TestScaleConversions_RoundTrip(t *testing.T) {
	for i := 0; i < 200; i++ {
		wad := newRandInt(120)
		ray := new(big.Int)
		require.NoError(t, WadToRay(ray, wad))

		back := new(big.Int)
		require.NoError(t, RayToWad(back, ray))
		assert.Zero(t, back.Cmp(wad))
	}
}
