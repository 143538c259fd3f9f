package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/defistate/amm-replica-go/engine"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ContractCaller is the slice of an Ethereum client the source needs: read
// calls against contract state and block headers for sequencing.
type ContractCaller interface {
	CallContract(ctx context.Context, msg geth.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Selectors of the concentrated-liquidity pool contract views the source
// reads. Arguments are ABI-encoded by hand; every call takes at most one
// integer argument, so pulling in a full ABI encoder buys nothing.
var (
	selToken0      = [4]byte{0x0d, 0xfe, 0x16, 0x81} // token0()
	selToken1      = [4]byte{0xd2, 0x12, 0x20, 0xa7} // token1()
	selFee         = [4]byte{0xdd, 0xca, 0x3f, 0x43} // fee()
	selTickSpacing = [4]byte{0xd0, 0xc9, 0x3a, 0x7c} // tickSpacing()
	selLiquidity   = [4]byte{0x1a, 0x68, 0x65, 0x02} // liquidity()
	selSlot0       = [4]byte{0x38, 0x50, 0xc7, 0xbd} // slot0()
	selTickBitmap  = [4]byte{0x53, 0x39, 0xc2, 0x96} // tickBitmap(int16)
	selTicks       = [4]byte{0xf3, 0x0d, 0xba, 0x93} // ticks(int24)
)

// Source reads pool state over an Ethereum JSON-RPC endpoint. It implements
// engine.StateSource for concentrated-liquidity pools.
type Source struct {
	caller ContractCaller
	logger Logger
	closer func()
}

// Option configures the Source.
// The interface method is unexported to prevent external modification after Dial.
type Option interface {
	apply(*Source)
}

type funcOption func(*Source)

func (f funcOption) apply(s *Source) {
	f(s)
}

func newOption(f func(*Source)) Option {
	return funcOption(f)
}

// WithCaller substitutes the Ethereum client, which is how tests inject a
// fake endpoint.
func WithCaller(caller ContractCaller) Option {
	return newOption(func(s *Source) {
		s.caller = caller
	})
}

// Dial connects to the endpoint and wraps it as a state source.
func Dial(ctx context.Context, url string, logger Logger, opts ...Option) (*Source, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	s := &Source{logger: logger}
	for _, opt := range opts {
		opt.apply(s)
	}

	if s.caller == nil {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("failed to dial ethereum endpoint: %w", err)
		}
		s.caller = client
		s.closer = client.Close
	}

	s.logger.Info("State source connected", "url", url)
	return s, nil
}

// Close releases the underlying connection, if the source owns one.
func (s *Source) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// LoadPool reads the static configuration and current dynamic state of a
// pool. All reads are pinned to one block so the snapshot is internally
// consistent, and that block becomes the snapshot's sequence marker.
func (s *Source) LoadPool(ctx context.Context, id common.Address) (engine.PoolConfig, error) {
	header, err := s.caller.HeaderByNumber(ctx, nil)
	if err != nil {
		return engine.PoolConfig{}, fmt.Errorf("read chain head: %w", err)
	}
	block := header.Number

	cfg := engine.PoolConfig{
		ID:  id,
		Seq: engine.SequenceMarker{Block: block.Uint64()},
	}

	reads := []struct {
		sel    [4]byte
		name   string
		decode func([]byte) error
	}{
		{selToken0, "token0", func(ret []byte) error {
			addr, err := decodeAddress(ret)
			cfg.Token0 = addr
			return err
		}},
		{selToken1, "token1", func(ret []byte) error {
			addr, err := decodeAddress(ret)
			cfg.Token1 = addr
			return err
		}},
		{selFee, "fee", func(ret []byte) error {
			fee, err := decodeUint(ret)
			if err != nil {
				return err
			}
			cfg.Fee = fee.Uint64()
			return nil
		}},
		{selTickSpacing, "tickSpacing", func(ret []byte) error {
			spacing, err := decodeInt(ret)
			if err != nil {
				return err
			}
			cfg.TickSpacing = spacing.Int64()
			return nil
		}},
		{selLiquidity, "liquidity", func(ret []byte) error {
			liquidity, err := decodeUint(ret)
			cfg.Liquidity = liquidity
			return err
		}},
		{selSlot0, "slot0", func(ret []byte) error {
			if len(ret) < 64 {
				return fmt.Errorf("slot0 returned %d bytes", len(ret))
			}
			price, err := decodeUint(ret[:32])
			if err != nil {
				return err
			}
			cfg.SqrtPriceX96 = price
			tick, err := decodeInt(ret[32:64])
			if err != nil {
				return err
			}
			cfg.Tick = tick.Int64()
			return nil
		}},
	}

	for _, read := range reads {
		ret, err := s.call(ctx, id, read.sel[:], block)
		if err != nil {
			return engine.PoolConfig{}, fmt.Errorf("call %s on %s: %w", read.name, id, err)
		}
		if err := read.decode(ret); err != nil {
			return engine.PoolConfig{}, fmt.Errorf("decode %s from %s: %w", read.name, id, err)
		}
	}

	s.logger.Debug("Loaded pool",
		"pool", id, "block", cfg.Seq.Block,
		"fee", cfg.Fee, "tickSpacing", cfg.TickSpacing, "tick", cfg.Tick)
	return cfg, nil
}

// FetchWord reads one tick bitmap word. The contract stores unset words as
// zero, so a zero word reports found=false: loaded and genuinely empty.
func (s *Source) FetchWord(ctx context.Context, pool common.Address, wordIndex int16) (*uint256.Int, bool, error) {
	data := append(selTickBitmap[:], encodeInt(int64(wordIndex))...)
	ret, err := s.call(ctx, pool, data, nil)
	if err != nil {
		return nil, false, fmt.Errorf("call tickBitmap(%d) on %s: %w", wordIndex, pool, err)
	}
	word, err := decodeUint(ret)
	if err != nil {
		return nil, false, fmt.Errorf("decode tickBitmap(%d) from %s: %w", wordIndex, pool, err)
	}
	if word.Sign() == 0 {
		return nil, false, nil
	}
	bits, overflow := uint256.FromBig(word)
	if overflow {
		return nil, false, fmt.Errorf("tickBitmap(%d) from %s overflows 256 bits", wordIndex, pool)
	}
	return bits, true, nil
}

// FetchTick reads one tick's liquidity record. The contract's initialized
// flag, not a zero check, decides whether the tick exists.
func (s *Source) FetchTick(ctx context.Context, pool common.Address, tick int64) (engine.TickData, bool, error) {
	data := append(selTicks[:], encodeInt(tick)...)
	ret, err := s.call(ctx, pool, data, nil)
	if err != nil {
		return engine.TickData{}, false, fmt.Errorf("call ticks(%d) on %s: %w", tick, pool, err)
	}
	if len(ret) < 8*32 {
		return engine.TickData{}, false, fmt.Errorf("ticks(%d) from %s returned %d bytes", tick, pool, len(ret))
	}

	initialized := ret[8*32-1] != 0
	if !initialized {
		return engine.TickData{}, false, nil
	}

	gross, err := decodeUint(ret[:32])
	if err != nil {
		return engine.TickData{}, false, fmt.Errorf("decode ticks(%d) from %s: %w", tick, pool, err)
	}
	net, err := decodeInt(ret[32:64])
	if err != nil {
		return engine.TickData{}, false, fmt.Errorf("decode ticks(%d) from %s: %w", tick, pool, err)
	}
	return engine.TickData{LiquidityGross: gross, LiquidityNet: net}, true, nil
}

func (s *Source) call(ctx context.Context, to common.Address, data []byte, block *big.Int) ([]byte, error) {
	return s.caller.CallContract(ctx, geth.CallMsg{To: &to, Data: data}, block)
}

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

// encodeInt ABI-encodes a signed integer argument as a 32-byte two's
// complement word.
func encodeInt(v int64) []byte {
	n := big.NewInt(v)
	if n.Sign() < 0 {
		n.Add(n, twoTo256)
	}
	out := make([]byte, 32)
	n.FillBytes(out)
	return out
}

func decodeUint(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, fmt.Errorf("short return of %d bytes", len(ret))
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}

func decodeInt(ret []byte) (*big.Int, error) {
	n, err := decodeUint(ret)
	if err != nil {
		return nil, err
	}
	if n.Bit(255) == 1 {
		n.Sub(n, twoTo256)
	}
	return n, nil
}

func decodeAddress(ret []byte) (common.Address, error) {
	if len(ret) < 32 {
		return common.Address{}, fmt.Errorf("short return of %d bytes", len(ret))
	}
	return common.BytesToAddress(ret[12:32]), nil
}
