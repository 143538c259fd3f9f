package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	uniswapv3 "github.com/defistate/amm-replica-go/protocols/uniswapv3"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/swapmath"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickmath"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrTokenMismatch     = errors.New("token mismatch")
	ErrInvalidPriceLimit = errors.New("invalid sqrt price limit")

	// ErrNoLiquidity is returned when the requested amount cannot be filled
	// because the swap ran past the last initialized tick in its direction.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrSwapStepLimit guards against a simulation that fails to make
	// progress; hitting it indicates corrupted tick data.
	ErrSwapStepLimit = errors.New("swap exceeded step limit")

	Q96, _ = new(big.Int).SetString("79228162514264337593543950336", 10)
	Q96F   = new(big.Float).SetInt(Q96)
)

// maxSwapSteps bounds the simulation loop. One iteration consumes at least
// one bitmap word or one initialized tick, so the full tick range fits well
// within this many steps for any spacing.
const maxSwapSteps = 1 << 14

// swapState holds the mutable state of a swap as it progresses, including
// the reusable temporaries, so the hot loop stays allocation-free.
type swapState struct {
	amountSpecifiedRemaining *big.Int
	amountCalculated         *big.Int
	sqrtPriceX96             *big.Int
	tick                     int64
	liquidity                *big.Int

	sqrtPriceStartX96 *big.Int
	sqrtPriceNextX96  *big.Int
	targetPrice       *big.Int
	stepAmountIn      *big.Int
	stepAmountOut     *big.Int
	stepFeeAmount     *big.Int
	tempAmount        *big.Int
	liquidityNet      *big.Int
}

var swapStatePool = sync.Pool{
	New: func() any {
		return &swapState{
			amountSpecifiedRemaining: new(big.Int),
			amountCalculated:         new(big.Int),
			sqrtPriceX96:             new(big.Int),
			liquidity:                new(big.Int),
			sqrtPriceStartX96:        new(big.Int),
			sqrtPriceNextX96:         new(big.Int),
			targetPrice:              new(big.Int),
			stepAmountIn:             new(big.Int),
			stepAmountOut:            new(big.Int),
			stepFeeAmount:            new(big.Int),
			tempAmount:               new(big.Int),
			liquidityNet:             new(big.Int),
		}
	},
}

func (s *swapState) load(pool uniswapv3.Pool, amountSpecified *big.Int) {
	s.amountSpecifiedRemaining.Set(amountSpecified)
	s.amountCalculated.SetInt64(0)
	s.sqrtPriceX96.Set(pool.SqrtPriceX96)
	s.tick = pool.Tick
	s.liquidity.Set(pool.Liquidity)
}

// _swap is the core tick-crossing simulation loop.
//
// The pool's bitmap and ledger are partial: when the scan reaches a word or a
// tick that has not been fetched yet, the corresponding not-loaded error
// propagates out verbatim so the caller can fetch the missing region and
// retry. The pool itself is never mutated; the evolving state lives entirely
// in s.
func _swap(
	ctx context.Context,
	s *swapState,
	pool uniswapv3.Pool,
	sqrtPriceLimitX96 *big.Int,
	zeroForOne bool,
) error {
	if sqrtPriceLimitX96 == nil {
		if zeroForOne {
			sqrtPriceLimitX96 = tickmath.MinSqrtRatio
		} else {
			sqrtPriceLimitX96 = tickmath.MaxSqrtRatio
		}
	}
	if zeroForOne {
		if sqrtPriceLimitX96.Cmp(pool.SqrtPriceX96) >= 0 || sqrtPriceLimitX96.Cmp(tickmath.MinSqrtRatio) < 0 {
			return ErrInvalidPriceLimit
		}
	} else {
		if sqrtPriceLimitX96.Cmp(pool.SqrtPriceX96) <= 0 || sqrtPriceLimitX96.Cmp(tickmath.MaxSqrtRatio) > 0 {
			return ErrInvalidPriceLimit
		}
	}

	exactInput := s.amountSpecifiedRemaining.Sign() > 0

	for steps := 0; s.amountSpecifiedRemaining.Sign() != 0 && s.sqrtPriceX96.Cmp(sqrtPriceLimitX96) != 0; steps++ {
		if steps >= maxSwapSteps {
			return fmt.Errorf("%w: pool %s", ErrSwapStepLimit, pool.ID)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.sqrtPriceStartX96.Set(s.sqrtPriceX96)

		tickNext, initialized, err := pool.TickBitmap.NextInitializedTickWithinOneWord(s.tick, pool.TickSpacing, zeroForOne)
		if err != nil {
			return err
		}
		if tickNext < tickmath.MinTick {
			tickNext = tickmath.MinTick
		} else if tickNext > tickmath.MaxTick {
			tickNext = tickmath.MaxTick
		}

		if err := tickmath.GetSqrtRatioAtTick(s.sqrtPriceNextX96, tickNext); err != nil {
			return err
		}

		if (zeroForOne && s.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) < 0) ||
			(!zeroForOne && s.sqrtPriceNextX96.Cmp(sqrtPriceLimitX96) > 0) {
			s.targetPrice.Set(sqrtPriceLimitX96)
		} else {
			s.targetPrice.Set(s.sqrtPriceNextX96)
		}

		err = swapmath.ComputeSwapStep(
			s.sqrtPriceX96, s.stepAmountIn, s.stepAmountOut, s.stepFeeAmount,
			s.sqrtPriceStartX96,
			s.targetPrice,
			s.liquidity,
			s.amountSpecifiedRemaining,
			s.tempAmount.SetUint64(pool.Fee),
		)
		if err != nil {
			return err
		}

		if exactInput {
			s.amountSpecifiedRemaining.Sub(s.amountSpecifiedRemaining, s.tempAmount.Add(s.stepAmountIn, s.stepFeeAmount))
			s.amountCalculated.Add(s.amountCalculated, s.stepAmountOut)
		} else {
			s.amountSpecifiedRemaining.Add(s.amountSpecifiedRemaining, s.stepAmountOut)
			s.amountCalculated.Add(s.amountCalculated, s.tempAmount.Add(s.stepAmountIn, s.stepFeeAmount))
		}

		if s.sqrtPriceX96.Cmp(s.sqrtPriceNextX96) == 0 {
			// Reached a word or tick boundary. An initialized tick is
			// crossed even when the amount was consumed exactly here, so
			// the post-swap tick always lies past the boundary.
			if initialized {
				liquidityNet, err := pool.Ticks.Cross(tickNext)
				if err != nil {
					return err
				}
				s.liquidityNet.Set(liquidityNet)
				if zeroForOne {
					s.liquidityNet.Neg(s.liquidityNet)
				}
				if err := liquiditymath.AddDelta(s.liquidity, s.liquidity, s.liquidityNet); err != nil {
					return err
				}
			}

			if zeroForOne {
				s.tick = tickNext - 1
			} else {
				s.tick = tickNext
			}

			// Reaching the tick range bound with nothing left to swap against
			// means the pool is drained in this direction. With liquidity
			// still active the price floor or ceiling itself stops the swap
			// and the realized partial amounts are returned.
			if s.amountSpecifiedRemaining.Sign() != 0 && s.liquidity.Sign() == 0 {
				if (zeroForOne && tickNext == tickmath.MinTick) || (!zeroForOne && tickNext == tickmath.MaxTick) {
					return fmt.Errorf("%w: pool %s drained %s", ErrNoLiquidity, pool.ID, direction(zeroForOne))
				}
			}
		} else if s.sqrtPriceX96.Cmp(s.sqrtPriceStartX96) != 0 {
			s.tick, err = tickmath.GetTickAtSqrtRatio(s.sqrtPriceX96)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func direction(zeroForOne bool) string {
	if zeroForOne {
		return "downward"
	}
	return "upward"
}

// newPoolState derives the successor snapshot after a simulated swap. Only
// the price, tick and active liquidity change; the bitmap and ledger are
// untouched by swaps and stay shared with the parent snapshot.
func newPoolState(pool uniswapv3.Pool, s *swapState) uniswapv3.Pool {
	next := pool
	next.SqrtPriceX96 = new(big.Int).Set(s.sqrtPriceX96)
	next.Tick = s.tick
	next.Liquidity = new(big.Int).Set(s.liquidity)
	return next
}

// QuoteExactInput simulates swapping exactly amountIn of tokenIn and returns
// the resulting output amount together with the pool snapshot after the
// swap. A nil sqrtPriceLimitX96 means no limit.
func QuoteExactInput(
	ctx context.Context,
	pool uniswapv3.Pool,
	tokenIn common.Address,
	amountIn *big.Int,
	sqrtPriceLimitX96 *big.Int,
) (amountOut *big.Int, newPool uniswapv3.Pool, err error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, uniswapv3.Pool{}, ErrInvalidAmount
	}

	zeroForOne := tokenIn == pool.Token0
	if !zeroForOne && tokenIn != pool.Token1 {
		return nil, uniswapv3.Pool{}, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, tokenIn, pool.ID)
	}

	state := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(state)

	// Positive remaining selects the exact-input branch of the step math.
	state.load(pool, amountIn)

	if err := _swap(ctx, state, pool, sqrtPriceLimitX96, zeroForOne); err != nil {
		return nil, uniswapv3.Pool{}, err
	}

	return new(big.Int).Set(state.amountCalculated), newPoolState(pool, state), nil
}

// QuoteExactOutput simulates swapping until exactly amountOut of tokenOut has
// been produced and returns the required input amount together with the pool
// snapshot after the swap. A nil sqrtPriceLimitX96 means no limit.
func QuoteExactOutput(
	ctx context.Context,
	pool uniswapv3.Pool,
	tokenOut common.Address,
	amountOut *big.Int,
	sqrtPriceLimitX96 *big.Int,
) (amountIn *big.Int, newPool uniswapv3.Pool, err error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, uniswapv3.Pool{}, ErrInvalidAmount
	}

	zeroForOne := tokenOut == pool.Token1
	if !zeroForOne && tokenOut != pool.Token0 {
		return nil, uniswapv3.Pool{}, fmt.Errorf("%w: token %s is not in pool %s", ErrTokenMismatch, tokenOut, pool.ID)
	}

	state := swapStatePool.Get().(*swapState)
	defer swapStatePool.Put(state)

	// Negative remaining selects the exact-output branch of the step math.
	state.load(pool, new(big.Int).Neg(amountOut))

	if err := _swap(ctx, state, pool, sqrtPriceLimitX96, zeroForOne); err != nil {
		return nil, uniswapv3.Pool{}, err
	}

	// If a price limit stopped the swap early, the returned input pays for
	// the partial output realized up to the limit.
	return new(big.Int).Set(state.amountCalculated), newPoolState(pool, state), nil
}

// GetVirtualReserves derives the virtual reserves implied by the current
// liquidity and price, oriented from tokenIn to tokenOut.
func GetVirtualReserves(tokenIn, tokenOut common.Address, pool uniswapv3.Pool) (reserveIn, reserveOut *big.Int, err error) {
	if !((tokenIn == pool.Token0 && tokenOut == pool.Token1) || (tokenIn == pool.Token1 && tokenOut == pool.Token0)) {
		return nil, nil, fmt.Errorf("%w: provided tokens do not match pool tokens", ErrTokenMismatch)
	}

	// Not on a hot path, so a few allocations are acceptable for clarity.
	reserve0 := new(big.Int).Div(new(big.Int).Lsh(pool.Liquidity, 96), pool.SqrtPriceX96)
	reserve1 := new(big.Int).Div(new(big.Int).Mul(pool.Liquidity, pool.SqrtPriceX96), Q96)

	if tokenIn == pool.Token0 {
		return reserve0, reserve1, nil
	}
	return reserve1, reserve0, nil
}

// GetSpotPrice calculates the spot price of tokenIn in terms of tokenOut,
// adjusted for token decimals. The returned big.Int carries the precision of
// tokenOut: for a 6-decimal tokenOut, 3045123456 means 3045.123456.
func GetSpotPrice(
	tokenIn, tokenOut common.Address,
	decimalsIn, decimalsOut uint8,
	pool uniswapv3.Pool,
) (*big.Int, error) {
	if !((tokenIn == pool.Token0 && tokenOut == pool.Token1) || (tokenIn == pool.Token1 && tokenOut == pool.Token0)) {
		return nil, fmt.Errorf("%w: provided tokens do not match pool tokens", ErrTokenMismatch)
	}

	// SqrtPriceX96 is a Q64.96 fixed-point number: sqrt(token1/token0) * 2^96
	decimalsInF := big.NewFloat(math.Pow(10, float64(decimalsIn)))
	decimalsOutF := big.NewFloat(math.Pow(10, float64(decimalsOut)))

	sqrtPriceX96F := new(big.Float).SetInt(pool.SqrtPriceX96)
	intermediate := sqrtPriceX96F.Quo(sqrtPriceX96F, Q96F)
	price := new(big.Float).Mul(intermediate, intermediate)
	if tokenIn == pool.Token0 {
		spotPrice := new(big.Float).Quo(price, new(big.Float).Quo(decimalsOutF, decimalsInF))
		spotPrice.Mul(spotPrice, decimalsOutF)
		sp, _ := spotPrice.Int(nil)
		return sp, nil
	}

	spotPrice := new(big.Float).Quo(big.NewFloat(1), price)
	spotPrice.Quo(spotPrice, new(big.Float).Quo(decimalsOutF, decimalsInF))
	spotPrice.Mul(spotPrice, decimalsOutF)
	sp, _ := spotPrice.Int(nil)
	return sp, nil
}
