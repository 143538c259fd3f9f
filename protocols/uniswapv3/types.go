package uniswapv3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-replica-go/engine"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickledger"
)

// Pool is one immutable snapshot of a concentrated-liquidity pool replica.
//
// TickBitmap and Ticks are partial: absent entries mean "not yet fetched",
// never "empty". Both maps are exclusively owned by this snapshot (or shared
// with a successor snapshot that did not touch them); all mutation goes
// through the reconciler, which clones before writing. Readers may therefore
// share a snapshot across goroutines without locking.
type Pool struct {
	ID          common.Address `json:"id"`
	Token0      common.Address `json:"token0"`
	Token1      common.Address `json:"token1"`
	Fee         uint64         `json:"fee"` // hundredths of a bip (1e6 = 100%)
	TickSpacing int64          `json:"tickSpacing"`

	Tick         int64    `json:"tick"`
	Liquidity    *big.Int `json:"liquidity"`
	SqrtPriceX96 *big.Int `json:"sqrtPriceX96"`

	TickBitmap tickbitmap.Bitmap     `json:"tickBitmap"`
	Ticks      tickledger.Ledger     `json:"ticks"`
	Seq        engine.SequenceMarker `json:"seq"`
}

// NewPool builds the first snapshot from an initial on-chain read.
func NewPool(cfg engine.PoolConfig) Pool {
	return Pool{
		ID:           cfg.ID,
		Token0:       cfg.Token0,
		Token1:       cfg.Token1,
		Fee:          cfg.Fee,
		TickSpacing:  cfg.TickSpacing,
		Tick:         cfg.Tick,
		Liquidity:    new(big.Int).Set(cfg.Liquidity),
		SqrtPriceX96: new(big.Int).Set(cfg.SqrtPriceX96),
		TickBitmap:   make(tickbitmap.Bitmap),
		Ticks:        make(tickledger.Ledger),
		Seq:          cfg.Seq,
	}
}

// Clone creates a successor snapshot with its own memory for every mutable
// field, so applying an update never disturbs concurrent readers of the
// original.
func (p Pool) Clone() Pool {
	next := p
	next.Liquidity = new(big.Int).Set(p.Liquidity)
	next.SqrtPriceX96 = new(big.Int).Set(p.SqrtPriceX96)
	next.TickBitmap = p.TickBitmap.Clone()
	next.Ticks = p.Ticks.Clone()
	return next
}

// ExternalUpdate is an observed on-chain state delta, ordered by its
// sequence marker. The variant set is closed: liquidity-range changes from
// mint/burn events, and absolute price/liquidity sets from swap events.
type ExternalUpdate interface {
	Marker() engine.SequenceMarker
	externalUpdate()
}

// LiquidityChange records a mint (positive Delta) or burn (negative Delta)
// over the half-open tick range [TickLower, TickUpper].
type LiquidityChange struct {
	TickLower int64                 `json:"tickLower"`
	TickUpper int64                 `json:"tickUpper"`
	Delta     *big.Int              `json:"delta"`
	Seq       engine.SequenceMarker `json:"seq"`
}

func (u LiquidityChange) Marker() engine.SequenceMarker { return u.Seq }
func (u LiquidityChange) externalUpdate()               {}

// SwapSync records the absolute price, tick and active liquidity observed
// after a swap event.
type SwapSync struct {
	SqrtPriceX96 *big.Int              `json:"sqrtPriceX96"`
	Tick         int64                 `json:"tick"`
	Liquidity    *big.Int              `json:"liquidity"`
	Seq          engine.SequenceMarker `json:"seq"`
}

func (u SwapSync) Marker() engine.SequenceMarker { return u.Seq }
func (u SwapSync) externalUpdate()               {}
