package fullmath

import (
	"errors"
	"math/big"
	"sync"
)

var (
	// ErrArithmeticOverflow is returned when a result does not fit the
	// declared width. The emulated environment reverts the whole call on
	// overflow, so callers must treat this as fatal for the operation in
	// progress rather than clamping or wrapping.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	// ErrArithmeticUnderflow is returned when a checked subtraction would
	// produce a negative value in an unsigned slot.
	ErrArithmeticUnderflow = errors.New("arithmetic underflow")
	// ErrDivisionByZero is returned when a denominator is zero.
	ErrDivisionByZero = errors.New("division by zero")

	// MaxUint256 is the largest value representable in the emulated 256-bit width.
	MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	// MaxUint160 bounds sqrt price ratios.
	MaxUint160 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 160), big.NewInt(1))
	// MaxUint128 bounds liquidity values.
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

	// Wad is the 10^18 fixed-point scale, Ray the 10^27 scale.
	Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	Ray = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)

	// wadRayRatio = Ray / Wad = 10^9.
	wadRayRatio     = new(big.Int).Exp(big.NewInt(10), big.NewInt(9), nil)
	halfWadRayRatio = new(big.Int).Rsh(wadRayRatio, 1)

	one = big.NewInt(1)
)

// fullMath holds reusable big.Int objects to avoid memory allocations.
// Instances are managed by a sync.Pool for safe concurrent use.
type fullMath struct {
	product *big.Int
	rem     *big.Int
}

var pool = sync.Pool{
	New: func() any {
		return &fullMath{
			product: new(big.Int),
			rem:     new(big.Int),
		}
	},
}

// MulDiv writes floor(a*b/denominator) into dest. The intermediate product is
// computed at full precision, so a*b exceeding 256 bits does not lose
// anything; only the final quotient is width-checked.
func MulDiv(dest, a, b, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}

	s := pool.Get().(*fullMath)
	defer pool.Put(s)

	s.product.Mul(a, b)
	dest.Div(s.product, denominator)
	if dest.Cmp(MaxUint256) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// MulDivRoundingUp writes ceil(a*b/denominator) into dest.
func MulDivRoundingUp(dest, a, b, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}

	s := pool.Get().(*fullMath)
	defer pool.Put(s)

	s.product.Mul(a, b)
	dest.Div(s.product, denominator)
	if s.rem.Rem(s.product, denominator).Sign() > 0 {
		dest.Add(dest, one)
	}
	if dest.Cmp(MaxUint256) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// DivRoundingUp writes ceil(a/denominator) into dest.
func DivRoundingUp(dest, a, denominator *big.Int) error {
	if denominator.Sign() == 0 {
		return ErrDivisionByZero
	}

	s := pool.Get().(*fullMath)
	defer pool.Put(s)

	dest.Div(a, denominator)
	if s.rem.Rem(a, denominator).Sign() > 0 {
		dest.Add(dest, one)
	}
	return nil
}

// AddUint256 writes a+b into dest, signaling overflow past 2^256-1.
func AddUint256(dest, a, b *big.Int) error {
	dest.Add(a, b)
	if dest.Cmp(MaxUint256) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// SubUint256 writes a-b into dest, signaling underflow below zero.
func SubUint256(dest, a, b *big.Int) error {
	dest.Sub(a, b)
	if dest.Sign() < 0 {
		return ErrArithmeticUnderflow
	}
	return nil
}

// ToUint160 checks that v fits the sqrt price width.
func ToUint160(v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(MaxUint160) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// ToUint128 checks that v fits the liquidity width.
func ToUint128(v *big.Int) error {
	if v.Sign() < 0 || v.Cmp(MaxUint128) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// WadToRay converts a 10^18 fixed-point value to the 10^27 scale.
// The conversion is exact; only the widened result is range-checked.
func WadToRay(dest, wad *big.Int) error {
	dest.Mul(wad, wadRayRatio)
	if dest.Cmp(MaxUint256) > 0 {
		return ErrArithmeticOverflow
	}
	return nil
}

// RayToWad converts a 10^27 fixed-point value to the 10^18 scale,
// rounding half up.
func RayToWad(dest, ray *big.Int) error {
	s := pool.Get().(*fullMath)
	defer pool.Put(s)

	s.product.Add(ray, halfWadRayRatio)
	dest.Div(s.product, wadRayRatio)
	return nil
}

// RayToWadFloor converts with explicit floor rounding.
func RayToWadFloor(dest, ray *big.Int) error {
	dest.Div(ray, wadRayRatio)
	return nil
}

// RayToWadRoundingUp converts with explicit ceiling rounding.
func RayToWadRoundingUp(dest, ray *big.Int) error {
	return DivRoundingUp(dest, ray, wadRayRatio)
}
