package ethereum

import (
	"context"
	"math/big"
	"testing"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPool = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...any) { l.t.Logf("DEBUG %s %v", msg, args) }
func (l testLogger) Info(msg string, args ...any)  { l.t.Logf("INFO  %s %v", msg, args) }
func (l testLogger) Warn(msg string, args ...any)  { l.t.Logf("WARN  %s %v", msg, args) }
func (l testLogger) Error(msg string, args ...any) { l.t.Logf("ERROR %s %v", msg, args) }

// fakeCaller answers contract calls from a canned table keyed by call data.
type fakeCaller struct {
	t       *testing.T
	block   *big.Int
	returns map[string][]byte
}

func (f *fakeCaller) CallContract(_ context.Context, msg geth.CallMsg, _ *big.Int) ([]byte, error) {
	f.t.Helper()
	require.NotNil(f.t, msg.To)
	assert.Equal(f.t, testPool, *msg.To)
	ret, ok := f.returns[common.Bytes2Hex(msg.Data)]
	require.True(f.t, ok, "unexpected call data %x", msg.Data)
	return ret, nil
}

func (f *fakeCaller) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: f.block}, nil
}

func newTestSource(t *testing.T, caller ContractCaller) *Source {
	t.Helper()
	s, err := Dial(context.Background(), "fake://", testLogger{t}, WithCaller(caller))
	require.NoError(t, err)
	return s
}

func word(n *big.Int) []byte {
	out := make([]byte, 32)
	v := new(big.Int).Set(n)
	if v.Sign() < 0 {
		v.Add(v, twoTo256)
	}
	v.FillBytes(out)
	return out
}

func addressWord(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}

func TestLoadPool(t *testing.T) {
	token0 := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	token1 := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	sqrtPrice, _ := new(big.Int).SetString("1331244748433651329827853952649", 10)
	liquidity, _ := new(big.Int).SetString("21921723149964", 10)

	slot0 := word(sqrtPrice)
	slot0 = append(slot0, word(big.NewInt(-34218))...) // current tick, negative
	for i := 0; i < 5; i++ {
		slot0 = append(slot0, word(big.NewInt(0))...)
	}

	caller := &fakeCaller{
		t:     t,
		block: big.NewInt(19_000_000),
		returns: map[string][]byte{
			common.Bytes2Hex(selToken0[:]):      addressWord(token0),
			common.Bytes2Hex(selToken1[:]):      addressWord(token1),
			common.Bytes2Hex(selFee[:]):         word(big.NewInt(3000)),
			common.Bytes2Hex(selTickSpacing[:]): word(big.NewInt(60)),
			common.Bytes2Hex(selLiquidity[:]):   word(liquidity),
			common.Bytes2Hex(selSlot0[:]):       slot0,
		},
	}

	cfg, err := newTestSource(t, caller).LoadPool(context.Background(), testPool)
	require.NoError(t, err)

	assert.Equal(t, testPool, cfg.ID)
	assert.Equal(t, token0, cfg.Token0)
	assert.Equal(t, token1, cfg.Token1)
	assert.Equal(t, uint64(3000), cfg.Fee)
	assert.Equal(t, int64(60), cfg.TickSpacing)
	assert.Equal(t, int64(-34218), cfg.Tick)
	assert.Zero(t, sqrtPrice.Cmp(cfg.SqrtPriceX96))
	assert.Zero(t, liquidity.Cmp(cfg.Liquidity))
	assert.Equal(t, uint64(19_000_000), cfg.Seq.Block)
	assert.Zero(t, cfg.Seq.Index)
}

func TestFetchWord(t *testing.T) {
	bits, _ := new(big.Int).SetString("8000000000000001", 16)

	caller := &fakeCaller{
		t:     t,
		block: big.NewInt(1),
		returns: map[string][]byte{
			common.Bytes2Hex(append(selTickBitmap[:], encodeInt(-58)...)): word(bits),
			common.Bytes2Hex(append(selTickBitmap[:], encodeInt(7)...)):   word(big.NewInt(0)),
		},
	}
	s := newTestSource(t, caller)

	got, found, err := s.FetchWord(context.Background(), testPool, -58)
	require.NoError(t, err)
	require.True(t, found)
	assert.Zero(t, bits.Cmp(got.ToBig()))

	_, found, err = s.FetchWord(context.Background(), testPool, 7)
	require.NoError(t, err)
	assert.False(t, found, "a zero word is loaded-and-empty, not found")
}

func TestFetchTick(t *testing.T) {
	initialized := make([]byte, 0, 8*32)
	initialized = append(initialized, word(big.NewInt(123_456))...) // liquidityGross
	initialized = append(initialized, word(big.NewInt(-98_765))...) // liquidityNet
	for i := 0; i < 5; i++ {
		initialized = append(initialized, word(big.NewInt(0))...)
	}
	initialized = append(initialized, word(big.NewInt(1))...) // initialized flag

	empty := make([]byte, 8*32)

	caller := &fakeCaller{
		t:     t,
		block: big.NewInt(1),
		returns: map[string][]byte{
			common.Bytes2Hex(append(selTicks[:], encodeInt(-887220)...)): initialized,
			common.Bytes2Hex(append(selTicks[:], encodeInt(60)...)):      empty,
		},
	}
	s := newTestSource(t, caller)

	data, found, err := s.FetchTick(context.Background(), testPool, -887220)
	require.NoError(t, err)
	require.True(t, found)
	assert.Zero(t, big.NewInt(123_456).Cmp(data.LiquidityGross))
	assert.Zero(t, big.NewInt(-98_765).Cmp(data.LiquidityNet))

	_, found, err = s.FetchTick(context.Background(), testPool, 60)
	require.NoError(t, err)
	assert.False(t, found, "an uninitialized tick is absent regardless of its zero fields")
}

func TestDial_RequiresLogger(t *testing.T) {
	_, err := Dial(context.Background(), "fake://", nil)
	assert.Error(t, err)
}
