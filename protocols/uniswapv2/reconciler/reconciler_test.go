package reconciler

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defistate/amm-replica-go/engine"
	uniswapv2 "github.com/defistate/amm-replica-go/protocols/uniswapv2"
)

type testLogger struct{ t *testing.T }

func (l testLogger) Debug(msg string, args ...any) { l.t.Logf("DEBUG %s %v", msg, args) }
func (l testLogger) Info(msg string, args ...any)  { l.t.Logf("INFO  %s %v", msg, args) }
func (l testLogger) Warn(msg string, args ...any)  { l.t.Logf("WARN  %s %v", msg, args) }
func (l testLogger) Error(msg string, args ...any) { l.t.Logf("ERROR %s %v", msg, args) }

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	initial := uniswapv2.Pool{
		ID:       common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		Token0:   common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		Token1:   common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Reserve0: big.NewInt(100_000_000),
		Reserve1: big.NewInt(200_000_000),
		FeeBps:   30,
		Seq:      engine.SequenceMarker{Block: 10, Index: 3},
	}
	r, err := New(&Config{Logger: testLogger{t}, Registry: prometheus.NewRegistry()}, initial)
	require.NoError(t, err)
	return r
}

func TestApply_ReplacesReserves(t *testing.T) {
	r := newTestReconciler(t)
	before := r.Snapshot()

	update := uniswapv2.ReserveSync{
		Reserve0: big.NewInt(105_000_000),
		Reserve1: big.NewInt(190_000_000),
		Seq:      engine.SequenceMarker{Block: 11},
	}
	require.NoError(t, r.Apply(update))

	after := r.Snapshot()
	assert.Zero(t, after.Reserve0.Cmp(update.Reserve0))
	assert.Zero(t, after.Reserve1.Cmp(update.Reserve1))
	assert.Equal(t, update.Seq, after.Seq)

	// The earlier snapshot and the update payload must stay independent of
	// the published state.
	assert.Zero(t, before.Reserve0.Cmp(big.NewInt(100_000_000)))
	assert.NotSame(t, update.Reserve0, after.Reserve0)
	assert.NotSame(t, update.Reserve1, after.Reserve1)
}

func TestApply_StaleUpdateIsNoOp(t *testing.T) {
	r := newTestReconciler(t)
	before := r.Snapshot()

	for _, seq := range []engine.SequenceMarker{
		{Block: 10, Index: 3}, // equal
		{Block: 10, Index: 2}, // earlier index
		{Block: 9, Index: 99}, // earlier block
	} {
		err := r.Apply(uniswapv2.ReserveSync{
			Reserve0: big.NewInt(1),
			Reserve1: big.NewInt(1),
			Seq:      seq,
		})
		assert.ErrorIs(t, err, ErrStaleUpdate)
	}

	after := r.Snapshot()
	assert.Zero(t, before.Reserve0.Cmp(after.Reserve0))
	assert.Zero(t, before.Reserve1.Cmp(after.Reserve1))
	assert.Equal(t, before.Seq, after.Seq)
}

func TestApply_RejectsMalformedUpdates(t *testing.T) {
	r := newTestReconciler(t)

	testCases := []struct {
		name   string
		update uniswapv2.ReserveSync
	}{
		{
			name: "nil reserve",
			update: uniswapv2.ReserveSync{
				Reserve0: nil,
				Reserve1: big.NewInt(1),
				Seq:      engine.SequenceMarker{Block: 11},
			},
		},
		{
			name: "negative reserve",
			update: uniswapv2.ReserveSync{
				Reserve0: big.NewInt(-1),
				Reserve1: big.NewInt(1),
				Seq:      engine.SequenceMarker{Block: 11},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := r.Apply(tc.update)
			assert.ErrorIs(t, err, ErrInvalidUpdate)

			after := r.Snapshot()
			assert.Equal(t, engine.SequenceMarker{Block: 10, Index: 3}, after.Seq, "rejected update must not advance the marker")
		})
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(&Config{Registry: prometheus.NewRegistry()}, uniswapv2.Pool{})
	assert.Error(t, err, "missing logger")

	_, err = New(&Config{Logger: testLogger{t}}, uniswapv2.Pool{})
	assert.Error(t, err, "missing registry")

	_, err = New(&Config{Logger: testLogger{t}, Registry: prometheus.NewRegistry()}, uniswapv2.Pool{})
	assert.Error(t, err, "nil reserves")
}
