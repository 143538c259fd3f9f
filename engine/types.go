package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SequenceMarker orders externally observed updates for a single pool.
// Block is the chain height of the observation and Index is the within-block
// ordering position (log index). The zero value precedes every real marker.
type SequenceMarker struct {
	Block uint64 `json:"block"`
	Index uint   `json:"index"`
}

// After reports whether m is strictly later than other.
func (m SequenceMarker) After(other SequenceMarker) bool {
	if m.Block != other.Block {
		return m.Block > other.Block
	}
	return m.Index > other.Index
}

// PoolConfig is the static configuration read once when a pool replica is
// constructed, together with the dynamic fields of the first snapshot.
type PoolConfig struct {
	ID           common.Address `json:"id"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint64         `json:"fee"` // hundredths of a bip (1e6 = 100%)
	TickSpacing  int64          `json:"tickSpacing"`
	Tick         int64          `json:"tick"`
	Liquidity    *big.Int       `json:"liquidity"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Seq          SequenceMarker `json:"seq"`
}

// TickData is the per-tick liquidity record returned by a state source.
type TickData struct {
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
}

// StateSource loads replica state that is not yet cached locally.
//
// Implementations talk to remote infrastructure and must honor the context
// deadline. FetchWord and FetchTick return found=false when the requested
// region is genuinely uninitialized on-chain, which is distinct from an error.
type StateSource interface {
	// LoadPool reads everything needed to construct the first snapshot of a
	// concentrated-liquidity pool.
	LoadPool(ctx context.Context, id common.Address) (PoolConfig, error)

	// FetchWord reads one 256-bit tick bitmap word for the given pool.
	FetchWord(ctx context.Context, pool common.Address, wordIndex int16) (word *uint256.Int, found bool, err error)

	// FetchTick reads the liquidity record of a single tick.
	FetchTick(ctx context.Context, pool common.Address, tick int64) (data TickData, found bool, err error)
}
