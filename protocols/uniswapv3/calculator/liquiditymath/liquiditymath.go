package liquiditymath

import (
	"errors"
	"math/big"

	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/fullmath"
)

var (
	ErrLiquidityOverflow  = errors.New("liquidity overflow")
	ErrLiquidityUnderflow = errors.New("liquidity underflow")
)

// AddDelta adds a signed liquidity delta to an unsigned liquidity value,
// returning an error if the operation leaves the uint128 range instead of
// wrapping.
func AddDelta(dest *big.Int, x *big.Int, y *big.Int) error {
	dest.Add(x, y)

	if dest.Sign() < 0 {
		return ErrLiquidityUnderflow
	}
	if dest.Cmp(fullmath.MaxUint128) > 0 {
		return ErrLiquidityOverflow
	}
	return nil
}
