package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidPath marks a path that is not a well-formed token cycle.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNoLiquidity means a hop cannot absorb the probed input. The solver
	// treats it as an infeasible point, not a failure.
	ErrNoLiquidity = errors.New("no liquidity")

	// ErrUnprofitable means the path has no input amount with positive profit.
	// It is a normal outcome, not a failure.
	ErrUnprofitable = errors.New("no profitable input amount")
)

// Quoter is the capability a path hop needs from a pool: price one exact-input
// swap against a fixed snapshot, and bound the input the pool can absorb.
//
// Implementations must report exhausted liquidity by wrapping ErrNoLiquidity.
type Quoter interface {
	QuoteExactInput(ctx context.Context, tokenIn common.Address, amountIn *big.Int) (*big.Int, error)

	// MaxInput returns an upper bound on a meaningful input of tokenIn.
	// Inputs beyond it either exhaust the pool or move the price so far the
	// output is worthless; the bound does not have to be tight.
	MaxInput(tokenIn common.Address) (*big.Int, error)
}

// Hop is one swap in a path: spend TokenIn into Pool, receive TokenOut.
type Hop struct {
	Pool     Quoter
	TokenIn  common.Address
	TokenOut common.Address
}

// Path is an ordered sequence of hops forming a token cycle: each hop's
// output token feeds the next hop's input, and the last hop pays back the
// token the first hop spends.
type Path struct {
	Hops []Hop
}

// NewPath validates the hops and wraps them.
func NewPath(hops ...Hop) (Path, error) {
	p := Path{Hops: hops}
	if err := p.Validate(); err != nil {
		return Path{}, err
	}
	return p, nil
}

// Validate checks that the path is a closed cycle of at least two hops with
// continuous tokens.
func (p Path) Validate() error {
	if len(p.Hops) < 2 {
		return fmt.Errorf("%w: need at least 2 hops, got %d", ErrInvalidPath, len(p.Hops))
	}
	for i, hop := range p.Hops {
		if hop.Pool == nil {
			return fmt.Errorf("%w: hop %d has no pool", ErrInvalidPath, i)
		}
		if hop.TokenIn == hop.TokenOut {
			return fmt.Errorf("%w: hop %d swaps %s into itself", ErrInvalidPath, i, hop.TokenIn)
		}
		if i > 0 && hop.TokenIn != p.Hops[i-1].TokenOut {
			return fmt.Errorf("%w: hop %d consumes %s but hop %d produces %s",
				ErrInvalidPath, i, hop.TokenIn, i-1, p.Hops[i-1].TokenOut)
		}
	}
	first, last := p.Hops[0], p.Hops[len(p.Hops)-1]
	if first.TokenIn != last.TokenOut {
		return fmt.Errorf("%w: cycle is open, starts with %s and ends with %s",
			ErrInvalidPath, first.TokenIn, last.TokenOut)
	}
	return nil
}

// QuoteExactInput prices the whole cycle: amountIn of the first hop's input
// token yields the returned amount of the same token after the last hop.
func (p Path) QuoteExactInput(ctx context.Context, amountIn *big.Int) (*big.Int, error) {
	amount := amountIn
	for i, hop := range p.Hops {
		out, err := hop.Pool.QuoteExactInput(ctx, hop.TokenIn, amount)
		if err != nil {
			return nil, fmt.Errorf("hop %d (%s -> %s): %w", i, hop.TokenIn, hop.TokenOut, err)
		}
		amount = out
	}
	return amount, nil
}
