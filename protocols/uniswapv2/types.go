package uniswapv2

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/defistate/amm-replica-go/engine"
)

// Pool is one immutable snapshot of a constant-product pool replica. Unlike
// the concentrated-liquidity pools there is no lazy state: the two reserves
// are the whole picture.
type Pool struct {
	ID       common.Address        `json:"id"`
	Token0   common.Address        `json:"token0"`
	Token1   common.Address        `json:"token1"`
	Reserve0 *big.Int              `json:"reserve0"`
	Reserve1 *big.Int              `json:"reserve1"`
	FeeBps   uint16                `json:"feeBps"` // i.e 30 for 0.3%
	Seq      engine.SequenceMarker `json:"seq"`
}

// Clone creates a successor snapshot with its own reserve memory.
func (p Pool) Clone() Pool {
	next := p
	next.Reserve0 = new(big.Int).Set(p.Reserve0)
	next.Reserve1 = new(big.Int).Set(p.Reserve1)
	return next
}

// ReserveSync is the absolute reserve pair observed after an on-chain sync
// event, ordered by its sequence marker.
type ReserveSync struct {
	Reserve0 *big.Int              `json:"reserve0"`
	Reserve1 *big.Int              `json:"reserve1"`
	Seq      engine.SequenceMarker `json:"seq"`
}

func (u ReserveSync) Marker() engine.SequenceMarker { return u.Seq }
