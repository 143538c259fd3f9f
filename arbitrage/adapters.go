package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	uniswapv2 "github.com/defistate/amm-replica-go/protocols/uniswapv2"
	v2calculator "github.com/defistate/amm-replica-go/protocols/uniswapv2/calculator"
	uniswapv3 "github.com/defistate/amm-replica-go/protocols/uniswapv3"
	v3calculator "github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator"
	v3reconciler "github.com/defistate/amm-replica-go/protocols/uniswapv3/reconciler"
)

// UniswapV2Hop quotes against a fixed constant-product snapshot.
type UniswapV2Hop struct {
	Pool uniswapv2.Pool
}

func (h UniswapV2Hop) QuoteExactInput(_ context.Context, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	tokenOut, err := counterpart(tokenIn, h.Pool.Token0, h.Pool.Token1)
	if err != nil {
		return nil, err
	}
	out, err := v2calculator.GetAmountOut(amountIn, tokenIn, tokenOut, h.Pool)
	if err != nil {
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool %s output rounds to zero", ErrNoLiquidity, h.Pool.ID)
	}
	return out, nil
}

// MaxInput bounds the input by the pool's own reserve of tokenIn. Spending a
// full reserve's worth doubles the price, past the point any cycle profits.
func (h UniswapV2Hop) MaxInput(tokenIn common.Address) (*big.Int, error) {
	switch tokenIn {
	case h.Pool.Token0:
		return new(big.Int).Set(h.Pool.Reserve0), nil
	case h.Pool.Token1:
		return new(big.Int).Set(h.Pool.Reserve1), nil
	default:
		return nil, fmt.Errorf("%w: token %s not in pool %s", ErrInvalidPath, tokenIn, h.Pool.ID)
	}
}

// UniswapV3Hop quotes against a fixed concentrated-liquidity snapshot. The
// snapshot must already hold every bitmap word and tick the probed inputs
// traverse; quote through UniswapV3ReplicaHop when lazy fetching is needed.
type UniswapV3Hop struct {
	Pool uniswapv3.Pool
}

func (h UniswapV3Hop) QuoteExactInput(ctx context.Context, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	out, _, err := v3calculator.QuoteExactInput(ctx, h.Pool, tokenIn, amountIn, nil)
	if err != nil {
		if errors.Is(err, v3calculator.ErrNoLiquidity) {
			return nil, fmt.Errorf("%w: %v", ErrNoLiquidity, err)
		}
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool %s output rounds to zero", ErrNoLiquidity, h.Pool.ID)
	}
	return out, nil
}

// MaxInput bounds the input by the current range's virtual reserve of
// tokenIn, the amount that would push the price to the edge of the active
// range if no other liquidity existed.
func (h UniswapV3Hop) MaxInput(tokenIn common.Address) (*big.Int, error) {
	tokenOut, err := counterpart(tokenIn, h.Pool.Token0, h.Pool.Token1)
	if err != nil {
		return nil, err
	}
	reserveIn, _, err := v3calculator.GetVirtualReserves(tokenIn, tokenOut, h.Pool)
	if err != nil {
		return nil, err
	}
	return reserveIn, nil
}

// UniswapV3ReplicaHop quotes through a live replica, so missing bitmap words
// and ticks are fetched on demand as the probes wander across the price range.
type UniswapV3ReplicaHop struct {
	Replica *v3reconciler.Reconciler
}

func (h UniswapV3ReplicaHop) QuoteExactInput(ctx context.Context, tokenIn common.Address, amountIn *big.Int) (*big.Int, error) {
	out, _, err := h.Replica.QuoteExactInput(ctx, tokenIn, amountIn, nil)
	if err != nil {
		if errors.Is(err, v3calculator.ErrNoLiquidity) {
			return nil, fmt.Errorf("%w: %v", ErrNoLiquidity, err)
		}
		return nil, err
	}
	if out.Sign() == 0 {
		return nil, fmt.Errorf("%w: output rounds to zero", ErrNoLiquidity)
	}
	return out, nil
}

func (h UniswapV3ReplicaHop) MaxInput(tokenIn common.Address) (*big.Int, error) {
	return UniswapV3Hop{Pool: h.Replica.Snapshot()}.MaxInput(tokenIn)
}

func counterpart(tokenIn, token0, token1 common.Address) (common.Address, error) {
	switch tokenIn {
	case token0:
		return token1, nil
	case token1:
		return token0, nil
	default:
		return common.Address{}, fmt.Errorf("%w: token %s not in pool", ErrInvalidPath, tokenIn)
	}
}
