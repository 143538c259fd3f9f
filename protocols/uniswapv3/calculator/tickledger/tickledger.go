package tickledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/fullmath"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/liquiditymath"
)

var (
	// ErrTickDataNotLoaded signals that the tick's liquidity record has not
	// been fetched yet. Like the bitmap's word signal, it requests a fetch
	// from the reconciler rather than reporting a failure.
	ErrTickDataNotLoaded = errors.New("tick data not loaded")
)

// NotLoadedError reports which tick an operation was missing, so a fetcher
// can load exactly that record. It matches ErrTickDataNotLoaded under
// errors.Is.
type NotLoadedError struct {
	Tick int64
}

func (e *NotLoadedError) Error() string { return fmt.Sprintf("tick %d data not loaded", e.Tick) }
func (e *NotLoadedError) Unwrap() error { return ErrTickDataNotLoaded }

// Entry is the liquidity ledger record of a single initialized tick.
// LiquidityNet is the delta applied to active liquidity when price crosses
// the tick moving up; LiquidityGross tracks how many liquidity units still
// reference the boundary, so an emptied tick can be de-initialized.
type Entry struct {
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
}

// Ledger is the sparse, partially loaded per-tick ledger of a single pool.
// Absent entries mean "not yet fetched"; a tick known to be uninitialized is
// stored as a zero entry by the reconciler after a fetch miss.
type Ledger map[int64]Entry

// Clone deep-copies the ledger for a successor snapshot.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for tick, e := range l {
		out[tick] = Entry{
			LiquidityGross: new(big.Int).Set(e.LiquidityGross),
			LiquidityNet:   new(big.Int).Set(e.LiquidityNet),
		}
	}
	return out
}

// Get returns the entry for a tick, or ErrTickDataNotLoaded when it has not
// been fetched.
func (l Ledger) Get(tick int64) (Entry, error) {
	e, ok := l[tick]
	if !ok {
		return Entry{}, &NotLoadedError{Tick: tick}
	}
	return e, nil
}

// Set stores a fetched entry. Nil fields record a genuinely uninitialized
// tick (loaded and empty).
func (l Ledger) Set(tick int64, gross, net *big.Int) {
	if gross == nil {
		gross = new(big.Int)
	}
	if net == nil {
		net = new(big.Int)
	}
	l[tick] = Entry{LiquidityGross: gross, LiquidityNet: net}
}

// Update applies a signed liquidity delta to one boundary tick of a position.
// upper selects which side of the position the tick is, which decides the
// sign of the net contribution. It returns flipped=true when the tick's
// initialized state changed, so the caller can toggle the bitmap bit.
//
// A tick that was never fetched cannot be updated blindly: the caller must
// load it first (ErrTickDataNotLoaded).
func (l Ledger) Update(tick int64, delta *big.Int, upper bool) (flipped bool, err error) {
	e, ok := l[tick]
	if !ok {
		return false, &NotLoadedError{Tick: tick}
	}

	grossBefore := e.LiquidityGross
	grossAfter := new(big.Int)
	if err := liquiditymath.AddDelta(grossAfter, grossBefore, delta); err != nil {
		return false, fmt.Errorf("tick %d: %w", tick, err)
	}

	net := new(big.Int).Set(e.LiquidityNet)
	if upper {
		net.Sub(net, delta)
	} else {
		net.Add(net, delta)
	}
	if err := checkInt128(net); err != nil {
		return false, fmt.Errorf("tick %d: %w", tick, err)
	}

	flipped = (grossAfter.Sign() == 0) != (grossBefore.Sign() == 0)

	if grossAfter.Sign() == 0 {
		// An emptied tick is logically uninitialized; keep a zero entry so
		// the ledger still counts as loaded for this tick.
		l[tick] = Entry{LiquidityGross: grossAfter, LiquidityNet: new(big.Int)}
	} else {
		l[tick] = Entry{LiquidityGross: grossAfter, LiquidityNet: net}
	}
	return flipped, nil
}

// Cross returns the net liquidity delta to apply when price moves up through
// the tick. Callers negate it for downward crossings.
func (l Ledger) Cross(tick int64) (*big.Int, error) {
	e, ok := l[tick]
	if !ok {
		return nil, &NotLoadedError{Tick: tick}
	}
	return new(big.Int).Set(e.LiquidityNet), nil
}

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

func checkInt128(v *big.Int) error {
	if v.Cmp(maxInt128) > 0 || v.Cmp(minInt128) < 0 {
		return fullmath.ErrArithmeticOverflow
	}
	return nil
}
