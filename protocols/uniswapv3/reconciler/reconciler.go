package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/defistate/amm-replica-go/engine"
	uniswapv3 "github.com/defistate/amm-replica-go/protocols/uniswapv3"
	calculator "github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/liquiditymath"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickbitmap"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickledger"
	"github.com/defistate/amm-replica-go/protocols/uniswapv3/calculator/tickmath"
)

// Config holds the dependencies and settings of a pool reconciler.
type Config struct {
	Source   engine.StateSource
	Logger   Logger
	Registry prometheus.Registerer

	// SwapSyncTolerancePPM bounds the accepted relative disagreement, in
	// parts per million, between a SwapSync's reported liquidity and the
	// locally tracked value when both describe the same tick. Zero demands
	// an exact match.
	SwapSyncTolerancePPM uint64

	// Fetch behavior against the state source. One logical fetch may retry
	// transport errors a bounded number of times before giving up.
	FetchAttempts   int
	FetchRetryDelay time.Duration
	FetchTimeout    time.Duration
}

func (c *Config) validate() error {
	if c.Source == nil {
		return errors.New("config: Source cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

const (
	defaultFetchAttempts   = 3
	defaultFetchRetryDelay = 100 * time.Millisecond
	defaultFetchTimeout    = 5 * time.Second
)

// Reconciler owns the snapshot chain of a single pool. It is the only writer:
// external updates and lazy fetch results both land here, each producing a
// fresh snapshot while readers keep using the one they already hold.
//
// Feeding updates for one pool from more than one goroutine breaks the
// sequence-ordering contract; run one reconciler per pool, one update stream
// per reconciler.
type Reconciler struct {
	source  engine.StateSource
	logger  Logger
	metrics *Metrics

	tolerancePPM    uint64
	fetchAttempts   int
	fetchRetryDelay time.Duration
	fetchTimeout    time.Duration

	mu   sync.RWMutex
	pool uniswapv3.Pool
}

// New wraps an already-constructed first snapshot.
func New(cfg *Config, initial uniswapv3.Pool) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	fetchAttempts := cfg.FetchAttempts
	if fetchAttempts <= 0 {
		fetchAttempts = defaultFetchAttempts
	}
	fetchRetryDelay := cfg.FetchRetryDelay
	if fetchRetryDelay <= 0 {
		fetchRetryDelay = defaultFetchRetryDelay
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}

	return &Reconciler{
		source:          cfg.Source,
		logger:          cfg.Logger,
		metrics:         NewMetrics(cfg.Registry, initial.ID.Hex()),
		tolerancePPM:    cfg.SwapSyncTolerancePPM,
		fetchAttempts:   fetchAttempts,
		fetchRetryDelay: fetchRetryDelay,
		fetchTimeout:    fetchTimeout,
		pool:            initial,
	}, nil
}

// Bootstrap loads a pool's initial state from the source and wraps it.
func Bootstrap(ctx context.Context, cfg *Config, id common.Address) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	poolCfg, err := cfg.Source.LoadPool(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", id, err)
	}
	return New(cfg, uniswapv3.NewPool(poolCfg))
}

// Snapshot returns the current pool snapshot. The returned value shares its
// maps with the reconciler's copy; both are immutable, so readers may hold it
// for as long as they like.
func (r *Reconciler) Snapshot() uniswapv3.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// Apply reconciles one external update into a new snapshot.
//
// An update whose marker is not strictly later than the current snapshot's is
// dropped with ErrStaleUpdate and no state change, which makes redelivery
// idempotent. ErrInconsistentUpdate means local and chain state have diverged
// and the replica needs a full re-sync before it can be trusted again.
func (r *Reconciler) Apply(ctx context.Context, update uniswapv3.ExternalUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	marker := update.Marker()
	if !marker.After(r.pool.Seq) {
		r.metrics.UpdatesTotal.WithLabelValues("stale").Inc()
		r.logger.Debug("Dropping stale update",
			"pool", r.pool.ID,
			"block", marker.Block, "index", marker.Index,
			"snapshotBlock", r.pool.Seq.Block, "snapshotIndex", r.pool.Seq.Index)
		return ErrStaleUpdate
	}

	var (
		next uniswapv3.Pool
		err  error
	)
	switch u := update.(type) {
	case uniswapv3.LiquidityChange:
		next, err = r.applyLiquidityChange(ctx, u)
	case uniswapv3.SwapSync:
		next, err = r.applySwapSync(u)
	default:
		err = fmt.Errorf("%w: unknown update type %T", ErrInvalidUpdate, update)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrInconsistentUpdate):
			r.metrics.UpdatesTotal.WithLabelValues("inconsistent").Inc()
			r.logger.Error("Replica diverged from chain state", "pool", r.pool.ID, "err", err)
		case errors.Is(err, ErrInvalidUpdate):
			r.metrics.UpdatesTotal.WithLabelValues("invalid").Inc()
			r.logger.Warn("Rejected malformed update", "pool", r.pool.ID, "err", err)
		default:
			r.metrics.UpdatesTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	next.Seq = marker
	r.pool = next
	r.metrics.UpdatesTotal.WithLabelValues("applied").Inc()
	r.metrics.SnapshotBlock.WithLabelValues().Set(float64(marker.Block))
	return nil
}

func (r *Reconciler) applyLiquidityChange(ctx context.Context, u uniswapv3.LiquidityChange) (uniswapv3.Pool, error) {
	if u.Delta == nil || u.Delta.Sign() == 0 {
		return uniswapv3.Pool{}, fmt.Errorf("%w: zero liquidity delta", ErrInvalidUpdate)
	}
	if u.TickLower >= u.TickUpper {
		return uniswapv3.Pool{}, fmt.Errorf("%w: tick range [%d, %d)", ErrInvalidUpdate, u.TickLower, u.TickUpper)
	}
	if u.TickLower < tickmath.MinTick || u.TickUpper > tickmath.MaxTick {
		return uniswapv3.Pool{}, fmt.Errorf("%w: tick range [%d, %d) out of bounds", ErrInvalidUpdate, u.TickLower, u.TickUpper)
	}

	next := r.pool.Clone()

	for _, bound := range []struct {
		tick  int64
		upper bool
	}{
		{u.TickLower, false},
		{u.TickUpper, true},
	} {
		if err := r.updateBound(ctx, next, bound.tick, u.Delta, bound.upper); err != nil {
			return uniswapv3.Pool{}, err
		}
	}

	// Liquidity in the active range contributes to the pool's working
	// liquidity immediately.
	if next.Tick >= u.TickLower && next.Tick < u.TickUpper {
		if err := liquiditymath.AddDelta(next.Liquidity, next.Liquidity, u.Delta); err != nil {
			return uniswapv3.Pool{}, fmt.Errorf("%w: active liquidity: %v", ErrInconsistentUpdate, err)
		}
	}

	return next, nil
}

// updateBound applies the delta to one boundary tick, lazily loading the tick
// record and its bitmap word. Each missing region is fetched at most once; a
// repeat miss after a successful fetch means the replica has diverged.
func (r *Reconciler) updateBound(ctx context.Context, next uniswapv3.Pool, tick int64, delta *big.Int, upper bool) error {
	fetchedTick := false
	for {
		flipped, err := next.Ticks.Update(tick, delta, upper)
		if err == nil {
			if flipped {
				return r.flipBit(ctx, next, tick)
			}
			return nil
		}
		if !errors.Is(err, tickledger.ErrTickDataNotLoaded) {
			return fmt.Errorf("%w: %v", ErrInconsistentUpdate, err)
		}
		if fetchedTick {
			return fmt.Errorf("%w: tick %d still missing after fetch", ErrInconsistentUpdate, tick)
		}
		if err := r.loadTick(ctx, next, tick); err != nil {
			return err
		}
		fetchedTick = true
	}
}

func (r *Reconciler) flipBit(ctx context.Context, next uniswapv3.Pool, tick int64) error {
	fetchedWord := false
	for {
		err := next.TickBitmap.FlipTick(tick, next.TickSpacing)
		if err == nil {
			return nil
		}
		var missing *tickbitmap.NotLoadedError
		if !errors.As(err, &missing) {
			return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
		if fetchedWord {
			return fmt.Errorf("%w: word %d still missing after fetch", ErrInconsistentUpdate, missing.Word)
		}
		if err := r.loadWord(ctx, next, missing.Word); err != nil {
			return err
		}
		fetchedWord = true
	}
}

func (r *Reconciler) applySwapSync(u uniswapv3.SwapSync) (uniswapv3.Pool, error) {
	if u.SqrtPriceX96 == nil || u.Liquidity == nil {
		return uniswapv3.Pool{}, fmt.Errorf("%w: missing price or liquidity", ErrInvalidUpdate)
	}
	if u.SqrtPriceX96.Cmp(tickmath.MinSqrtRatio) < 0 || u.SqrtPriceX96.Cmp(tickmath.MaxSqrtRatio) > 0 {
		return uniswapv3.Pool{}, fmt.Errorf("%w: sqrt price %s out of range", ErrInvalidUpdate, u.SqrtPriceX96)
	}
	if u.Liquidity.Sign() < 0 {
		return uniswapv3.Pool{}, fmt.Errorf("%w: negative liquidity", ErrInvalidUpdate)
	}

	// The reported tick must be the one whose boundary price is at or below
	// the reported sqrt price.
	var bound big.Int
	if err := tickmath.GetSqrtRatioAtTick(&bound, u.Tick); err != nil {
		return uniswapv3.Pool{}, fmt.Errorf("%w: tick %d: %v", ErrInvalidUpdate, u.Tick, err)
	}
	if bound.Cmp(u.SqrtPriceX96) > 0 {
		return uniswapv3.Pool{}, fmt.Errorf("%w: tick %d above sqrt price %s", ErrInconsistentUpdate, u.Tick, u.SqrtPriceX96)
	}
	if u.Tick < tickmath.MaxTick {
		if err := tickmath.GetSqrtRatioAtTick(&bound, u.Tick+1); err != nil {
			return uniswapv3.Pool{}, fmt.Errorf("%w: tick %d: %v", ErrInvalidUpdate, u.Tick, err)
		}
		if bound.Cmp(u.SqrtPriceX96) <= 0 {
			return uniswapv3.Pool{}, fmt.Errorf("%w: tick %d below sqrt price %s", ErrInconsistentUpdate, u.Tick, u.SqrtPriceX96)
		}
	}

	// When the tick did not move, no crossings can have happened in between
	// and the reported liquidity must agree with the tracked value.
	if u.Tick == r.pool.Tick && !withinTolerancePPM(u.Liquidity, r.pool.Liquidity, r.tolerancePPM) {
		return uniswapv3.Pool{}, fmt.Errorf("%w: liquidity %s disagrees with tracked %s at tick %d",
			ErrInconsistentUpdate, u.Liquidity, r.pool.Liquidity, u.Tick)
	}

	next := r.pool.Clone()
	next.SqrtPriceX96.Set(u.SqrtPriceX96)
	next.Tick = u.Tick
	next.Liquidity.Set(u.Liquidity)
	return next, nil
}

// withinTolerancePPM reports whether |a-b| <= tolerance/1e6 * b.
func withinTolerancePPM(a, b *big.Int, tolerancePPM uint64) bool {
	diff := new(big.Int).Sub(a, b)
	diff.Abs(diff)
	if diff.Sign() == 0 {
		return true
	}
	if tolerancePPM == 0 {
		return false
	}
	diff.Mul(diff, big.NewInt(1_000_000))
	allowed := new(big.Int).Mul(b, new(big.Int).SetUint64(tolerancePPM))
	return diff.Cmp(allowed) <= 0
}

// QuoteExactInput quotes against the current snapshot, transparently fetching
// any bitmap words or tick records the simulation turns out to need. Each
// missing region is fetched once and the quote retried; a region that is
// still missing after its fetch is a fatal ErrInconsistentUpdate.
func (r *Reconciler) QuoteExactInput(
	ctx context.Context,
	tokenIn common.Address,
	amountIn *big.Int,
	sqrtPriceLimitX96 *big.Int,
) (*big.Int, uniswapv3.Pool, error) {
	var (
		amountOut *big.Int
		newPool   uniswapv3.Pool
	)
	err := r.quoteWithFetch(ctx, func(pool uniswapv3.Pool) error {
		var err error
		amountOut, newPool, err = calculator.QuoteExactInput(ctx, pool, tokenIn, amountIn, sqrtPriceLimitX96)
		return err
	})
	if err != nil {
		return nil, uniswapv3.Pool{}, err
	}
	return amountOut, newPool, nil
}

// QuoteExactOutput is the exact-output counterpart of QuoteExactInput.
func (r *Reconciler) QuoteExactOutput(
	ctx context.Context,
	tokenOut common.Address,
	amountOut *big.Int,
	sqrtPriceLimitX96 *big.Int,
) (*big.Int, uniswapv3.Pool, error) {
	var (
		amountIn *big.Int
		newPool  uniswapv3.Pool
	)
	err := r.quoteWithFetch(ctx, func(pool uniswapv3.Pool) error {
		var err error
		amountIn, newPool, err = calculator.QuoteExactOutput(ctx, pool, tokenOut, amountOut, sqrtPriceLimitX96)
		return err
	})
	if err != nil {
		return nil, uniswapv3.Pool{}, err
	}
	return amountIn, newPool, nil
}

type regionKey struct {
	word int16
	tick int64
	kind string
}

func (r *Reconciler) quoteWithFetch(ctx context.Context, quote func(pool uniswapv3.Pool) error) error {
	fetched := make(map[regionKey]struct{})
	for {
		err := quote(r.Snapshot())
		if err == nil {
			r.metrics.QuotesTotal.WithLabelValues("ok").Inc()
			return nil
		}

		var (
			missingWord *tickbitmap.NotLoadedError
			missingTick *tickledger.NotLoadedError
			key         regionKey
		)
		switch {
		case errors.As(err, &missingWord):
			key = regionKey{kind: "word", word: missingWord.Word}
		case errors.As(err, &missingTick):
			key = regionKey{kind: "tick", tick: missingTick.Tick}
		default:
			if errors.Is(err, calculator.ErrNoLiquidity) {
				r.metrics.QuotesTotal.WithLabelValues("no_liquidity").Inc()
			} else {
				r.metrics.QuotesTotal.WithLabelValues("error").Inc()
			}
			return err
		}

		if _, dup := fetched[key]; dup {
			r.metrics.QuotesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("%w: %s still missing after fetch", ErrInconsistentUpdate, err)
		}
		fetched[key] = struct{}{}

		r.mu.Lock()
		next := r.pool.Clone()
		var loadErr error
		if key.kind == "word" {
			loadErr = r.loadWord(ctx, next, key.word)
		} else {
			loadErr = r.loadTick(ctx, next, key.tick)
		}
		if loadErr == nil {
			r.pool = next
		}
		r.mu.Unlock()
		if loadErr != nil {
			r.metrics.QuotesTotal.WithLabelValues("error").Inc()
			return loadErr
		}
	}
}

// loadWord fetches one bitmap word into the given (unpublished) snapshot. A
// source miss is recorded as a loaded-and-empty word, not an error, so an
// uninitialized region does not trigger repeated fetches.
func (r *Reconciler) loadWord(ctx context.Context, next uniswapv3.Pool, wordPos int16) error {
	timer := prometheus.NewTimer(r.metrics.FetchDuration.WithLabelValues("word"))
	defer timer.ObserveDuration()

	var (
		bits  *uint256.Int
		found bool
	)
	err := r.withRetry(ctx, func(fctx context.Context) error {
		var err error
		bits, found, err = r.source.FetchWord(fctx, next.ID, wordPos)
		return err
	})
	if err != nil {
		r.metrics.FetchesTotal.WithLabelValues("word", "error").Inc()
		return fmt.Errorf("fetch word %d for pool %s: %w", wordPos, next.ID, err)
	}

	if !found {
		r.metrics.FetchesTotal.WithLabelValues("word", "empty").Inc()
		next.TickBitmap.SetWord(wordPos, nil, next.Seq.Block)
		r.logger.Debug("Fetched empty bitmap word", "pool", next.ID, "word", wordPos)
		return nil
	}

	r.metrics.FetchesTotal.WithLabelValues("word", "found").Inc()
	next.TickBitmap.SetWord(wordPos, bits, next.Seq.Block)
	r.logger.Debug("Fetched bitmap word", "pool", next.ID, "word", wordPos)
	return nil
}

// loadTick fetches one tick record into the given (unpublished) snapshot. A
// miss becomes a zero entry with the same loaded-and-empty semantics.
func (r *Reconciler) loadTick(ctx context.Context, next uniswapv3.Pool, tick int64) error {
	timer := prometheus.NewTimer(r.metrics.FetchDuration.WithLabelValues("tick"))
	defer timer.ObserveDuration()

	var (
		data  engine.TickData
		found bool
	)
	err := r.withRetry(ctx, func(fctx context.Context) error {
		var err error
		data, found, err = r.source.FetchTick(fctx, next.ID, tick)
		return err
	})
	if err != nil {
		r.metrics.FetchesTotal.WithLabelValues("tick", "error").Inc()
		return fmt.Errorf("fetch tick %d for pool %s: %w", tick, next.ID, err)
	}

	if !found {
		r.metrics.FetchesTotal.WithLabelValues("tick", "empty").Inc()
		next.Ticks.Set(tick, nil, nil)
		r.logger.Debug("Fetched empty tick", "pool", next.ID, "tick", tick)
		return nil
	}

	r.metrics.FetchesTotal.WithLabelValues("tick", "found").Inc()
	next.Ticks.Set(tick, data.LiquidityGross, data.LiquidityNet)
	r.logger.Debug("Fetched tick", "pool", next.ID, "tick", tick)
	return nil
}

// withRetry runs one logical fetch, retrying transport errors a bounded
// number of times with a fixed delay and a per-attempt timeout.
func (r *Reconciler) withRetry(ctx context.Context, fetch func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.fetchAttempts; attempt++ {
		fctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
		err = fetch(fctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == r.fetchAttempts {
			break
		}
		r.logger.Warn("Fetch attempt failed, retrying", "attempt", attempt, "err", err)
		select {
		case <-time.After(r.fetchRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
