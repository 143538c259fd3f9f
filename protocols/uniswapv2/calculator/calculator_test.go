package uniswapv2

import (
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uniswapv2 "github.com/defistate/amm-replica-go/protocols/uniswapv2"
)

var (
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	outsider = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	pairAddr = common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
)

// newBigIntFromString is a helper function to create a big.Int from a string,
// which is necessary for numbers larger than a standard int64.
func newBigIntFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("failed to set string for big.Int")
	}
	return n
}

func TestGetAmountOut(t *testing.T) {
	testCases := []struct {
		name           string
		amountIn       *big.Int
		tokenIn        common.Address
		tokenOut       common.Address
		pool           uniswapv2.Pool
		expectedAmount *big.Int
		expectError    bool
		expectedErr    error
	}{
		{
			name:     "Standard Swap (Token0 -> Token1)",
			amountIn: big.NewInt(1_000_000), // 1 USDC (6 decimals)
			tokenIn:  usdc,
			tokenOut: weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),                     // 100 USDC
				Reserve1: newBigIntFromString("50000000000000000000"), // 50 WETH (18 decimals)
				FeeBps:   30,
			},
			expectedAmount: newBigIntFromString("493579017198530649"),
			expectError:    false,
		},
		{
			name:     "Standard Swap (Token1 -> Token0)",
			amountIn: newBigIntFromString("1000000000000000000"), // 1 WETH
			tokenIn:  weth,
			tokenOut: usdc,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(1955016),
			expectError:    false,
		},
		{
			name:     "Swap with Different Fee",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  usdc,
			tokenOut: weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   100, // 1% fee
			},
			expectedAmount: newBigIntFromString("490147539360332706"),
			expectError:    false,
		},
		{
			name:     "Edge Case: Zero Liquidity",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  usdc,
			tokenOut: weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(0), // Zero reserve
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(0),
			expectError:    false,
		},
		{
			name:        "Invalid Input: Nil AmountIn",
			amountIn:    nil,
			tokenIn:     usdc,
			tokenOut:    weth,
			pool:        uniswapv2.Pool{},
			expectError: true,
			expectedErr: ErrNilAmount,
		},
		{
			name:        "Invalid Input: Negative AmountIn",
			amountIn:    big.NewInt(-100),
			tokenIn:     usdc,
			tokenOut:    weth,
			pool:        uniswapv2.Pool{},
			expectError: true,
			expectedErr: ErrInvalidAmount,
		},
		{
			name:     "Invalid Input: Token Mismatch",
			amountIn: big.NewInt(1_000_000),
			tokenIn:  outsider, // This token is not in the pool
			tokenOut: weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
			},
			expectError: true,
			expectedErr: ErrTokenMismatch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountOut, err := GetAmountOut(tc.amountIn, tc.tokenIn, tc.tokenOut, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, amountOut)
				// Use Cmp for reliable big.Int comparison
				assert.Zero(t, tc.expectedAmount.Cmp(amountOut), "Expected %s, but got %s", tc.expectedAmount.String(), amountOut.String())
			}
		})
	}
}

func TestGetAmountIn(t *testing.T) {
	testCases := []struct {
		name           string
		amountOut      *big.Int
		tokenIn        common.Address
		tokenOut       common.Address
		pool           uniswapv2.Pool
		expectedAmount *big.Int
		expectError    bool
		expectedErr    error
	}{
		{
			name:      "Standard Swap (Token0 -> Token1)",
			amountOut: newBigIntFromString("493579017198530649"),
			tokenIn:   usdc,
			tokenOut:  weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: big.NewInt(1000000),
			expectError:    false,
		},
		{
			name:      "Standard Swap (Token1 -> Token0)",
			amountOut: big.NewInt(1955016),
			tokenIn:   weth,
			tokenOut:  usdc,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
				FeeBps:   30,
			},
			expectedAmount: newBigIntFromString("999999498234537320"),
			expectError:    false,
		},
		{
			name:        "Invalid Input: Nil AmountOut",
			amountOut:   nil,
			expectError: true,
			expectedErr: ErrNilAmount,
		},
		{
			name:        "Invalid Input: Negative AmountOut",
			amountOut:   big.NewInt(-100),
			expectError: true,
			expectedErr: ErrInvalidAmount,
		},
		{
			name:      "Invalid State: Insufficient Liquidity",
			amountOut: newBigIntFromString("60000000000000000000"), // Request more than is in the pool
			tokenIn:   usdc,
			tokenOut:  weth,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   usdc,
				Token1:   weth,
				Reserve0: big.NewInt(100_000_000),
				Reserve1: newBigIntFromString("50000000000000000000"),
			},
			expectError: true,
			expectedErr: ErrInsufficientLiquidity,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			amountIn, err := GetAmountIn(tc.amountOut, tc.tokenIn, tc.tokenOut, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				assert.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
				require.NotNil(t, amountIn)
				assert.Zero(t, tc.expectedAmount.Cmp(amountIn), "Expected %s, but got %s", tc.expectedAmount.String(), amountIn.String())
			}
		})
	}
}

func TestSimulateSwap(t *testing.T) {
	pool := uniswapv2.Pool{
		ID:       pairAddr,
		Token0:   usdc,
		Token1:   weth,
		Reserve0: big.NewInt(100_000_000),
		Reserve1: newBigIntFromString("50000000000000000000"),
		FeeBps:   30,
	}
	amountIn := big.NewInt(1_000_000)

	amountOut, newPool, err := SimulateSwap(amountIn, usdc, weth, pool)
	require.NoError(t, err)

	expectedAmountOut := newBigIntFromString("493579017198530649")
	assert.Zero(t, expectedAmountOut.Cmp(amountOut))

	expectedReserve0 := new(big.Int).Add(pool.Reserve0, amountIn)
	expectedReserve1 := new(big.Int).Sub(pool.Reserve1, amountOut)
	assert.Zero(t, expectedReserve0.Cmp(newPool.Reserve0))
	assert.Zero(t, expectedReserve1.Cmp(newPool.Reserve1))
}

// TestSimulateSwap_IdempotencyAndStateIsolation verifies that the simulation
// function does not mutate its inputs and that the returned new state is a
// proper deep copy of its mutable fields, preventing side effects.
func TestSimulateSwap_IdempotencyAndStateIsolation(t *testing.T) {
	originalPool := uniswapv2.Pool{
		ID:       pairAddr,
		Token0:   usdc,
		Token1:   weth,
		Reserve0: big.NewInt(100_000_000),
		Reserve1: newBigIntFromString("50000000000000000000"),
		FeeBps:   30,
	}
	amountIn := big.NewInt(1_000_000)

	amountOut1, newPoolState1, err1 := SimulateSwap(amountIn, usdc, weth, originalPool)
	require.NoError(t, err1, "First simulation should succeed")

	amountOut2, newPoolState2, err2 := SimulateSwap(amountIn, usdc, weth, originalPool)
	require.NoError(t, err2, "Second simulation should succeed")

	t.Run("Idempotency Check", func(t *testing.T) {
		// If the first simulation had mutated originalPool, the second would
		// have started from different reserves and produced different output.
		assert.Equal(t, amountOut1.String(), amountOut2.String(), "Amount out should be identical on consecutive runs")
		assert.True(t, reflect.DeepEqual(newPoolState1, newPoolState2), "The new pool state should be identical on consecutive runs")
	})

	t.Run("Deep Copy Check (Reserves)", func(t *testing.T) {
		assert.NotSame(t, originalPool.Reserve0, newPoolState1.Reserve0, "New state's Reserve0 should be a new big.Int instance")
		assert.NotSame(t, originalPool.Reserve1, newPoolState1.Reserve1, "New state's Reserve1 should be a new big.Int instance")
	})

	t.Run("Result Isolation Check", func(t *testing.T) {
		originalReserve2 := new(big.Int).Set(newPoolState2.Reserve0)

		// Mutate the result of the first simulation
		newPoolState1.Reserve0.Add(newPoolState1.Reserve0, big.NewInt(12345))

		assert.NotEqual(t, newPoolState1.Reserve0.String(), newPoolState2.Reserve0.String(), "Modifying state 1 should not affect state 2")
		assert.Equal(t, originalReserve2.String(), newPoolState2.Reserve0.String(), "State 2's Reserve0 should remain pristine")
	})
}

// --- Benchmarks ---

// result is a package-level variable to ensure the compiler does not optimize away the benchmarked function call.
var result *big.Int
var resultPool uniswapv2.Pool

func BenchmarkGetAmountOut(b *testing.B) {
	pool := uniswapv2.Pool{
		ID:       pairAddr,
		Token0:   usdc,
		Token1:   weth,
		Reserve0: newBigIntFromString("2000000000000"),          // 2,000,000 USDC
		Reserve1: newBigIntFromString("1000000000000000000000"), // 1,000 WETH
		FeeBps:   30,
	}
	amountIn := newBigIntFromString("1000000000000000000") // 1 WETH

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, _ := GetAmountOut(amountIn, weth, usdc, pool)
		result = amountOut
	}
}

func BenchmarkSimulateSwap(b *testing.B) {
	pool := uniswapv2.Pool{
		ID:       pairAddr,
		Token0:   usdc,
		Token1:   weth,
		Reserve0: newBigIntFromString("2000000000000"),
		Reserve1: newBigIntFromString("1000000000000000000000"),
		FeeBps:   30,
	}
	amountIn := newBigIntFromString("1000000000000000000")

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		amountOut, newPool, _ := SimulateSwap(amountIn, weth, usdc, pool)
		result = amountOut
		resultPool = newPool
	}
}

func TestGetExchangeRate(t *testing.T) {
	// Token0 is WETH (18 decimals), Token1 is USDC (6 decimals), priced at
	// 3,000 USDC per WETH.
	reserve0 := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))   // 1,000 WETH
	reserve1 := new(big.Int).Mul(big.NewInt(3000000), new(big.Int).Exp(big.NewInt(10), big.NewInt(6), nil)) // 3,000,000 USDC

	mockPool := uniswapv2.Pool{
		ID:       pairAddr,
		Token0:   weth,
		Token1:   usdc,
		Reserve0: reserve0,
		Reserve1: reserve1,
	}

	testCases := []struct {
		name          string
		tokenIn       common.Address
		tokenOut      common.Address
		decimalsIn    uint8
		pool          uniswapv2.Pool
		expectedPrice string
		expectError   bool
	}{
		{
			name:          "Native Direction: WETH (18) -> USDC (6)",
			tokenIn:       weth,
			tokenOut:      usdc,
			decimalsIn:    18,
			pool:          mockPool,
			expectedPrice: "2970297029", // Represents 2970 USDC (scaled by 6 decimals)
			expectError:   false,
		},
		{
			name:          "Inverse Direction: USDC (6) -> WETH (18)",
			tokenIn:       usdc,
			tokenOut:      weth,
			decimalsIn:    6,
			pool:          mockPool,
			expectedPrice: "330033003300330", // Represents ~0.00033 WETH (scaled by 18 decimals)
			expectError:   false,
		},
		{
			name:        "Mismatched Tokens: Should return an error",
			tokenIn:     outsider,
			tokenOut:    weth,
			decimalsIn:  18,
			pool:        mockPool,
			expectError: true,
		},
		{
			name:       "Edge Case: Zero Reserve in Denominator",
			tokenIn:    weth,
			tokenOut:   usdc,
			decimalsIn: 18,
			pool: uniswapv2.Pool{
				ID:       pairAddr,
				Token0:   weth,
				Token1:   usdc,
				Reserve0: big.NewInt(0),
				Reserve1: reserve1,
			},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			exchangeRate, err := GetExchangeRate(tc.tokenIn, tc.tokenOut, tc.decimalsIn, tc.pool)

			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			expectedBigInt := newBigIntFromString(tc.expectedPrice)
			assert.Zero(t, exchangeRate.Cmp(expectedBigInt), "Expected %s, got %s", expectedBigInt.String(), exchangeRate.String())
		})
	}
}
