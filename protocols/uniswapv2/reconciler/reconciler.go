package reconciler

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	uniswapv2 "github.com/defistate/amm-replica-go/protocols/uniswapv2"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	// ErrStaleUpdate marks an update whose sequence marker is not strictly
	// later than the current snapshot's. The update is dropped without any
	// state change; redelivery is benign.
	ErrStaleUpdate = errors.New("stale update")

	// ErrInvalidUpdate marks an update that is malformed on its face.
	ErrInvalidUpdate = errors.New("invalid update")
)

// Config holds the dependencies of a constant-product pool reconciler.
type Config struct {
	Logger   Logger
	Registry prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	return nil
}

// Metrics holds the prometheus instruments of a single pool reconciler.
type Metrics struct {
	UpdatesTotal  *prometheus.CounterVec
	SnapshotBlock prometheus.Gauge
}

// NewMetrics creates and registers the reconciler's metrics. The pool address
// is attached as a constant label so one registry can serve many pools.
func NewMetrics(reg prometheus.Registerer, pool string) *Metrics {
	constLabels := prometheus.Labels{"pool": pool}

	m := &Metrics{
		UpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "amm_replica_v2_reconciler_updates_total",
			Help:        "Reserve sync updates by outcome (applied, stale, invalid).",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		SnapshotBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "amm_replica_v2_reconciler_snapshot_block",
			Help:        "Block height of the current pool snapshot.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(m.UpdatesTotal, m.SnapshotBlock)
	return m
}

// Reconciler owns the snapshot chain of a single constant-product pool.
// Reserve syncs carry absolute reserves, so there is nothing to fetch lazily:
// each accepted update fully replaces the dynamic state.
//
// Feeding updates for one pool from more than one goroutine breaks the
// sequence-ordering contract; run one reconciler per pool, one update stream
// per reconciler.
type Reconciler struct {
	logger  Logger
	metrics *Metrics

	mu   sync.RWMutex
	pool uniswapv2.Pool
}

// New wraps an already-constructed first snapshot.
func New(cfg *Config, initial uniswapv2.Pool) (*Reconciler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if initial.Reserve0 == nil || initial.Reserve1 == nil {
		return nil, fmt.Errorf("%w: initial snapshot has nil reserves", ErrInvalidUpdate)
	}
	return &Reconciler{
		logger:  cfg.Logger,
		metrics: NewMetrics(cfg.Registry, initial.ID.Hex()),
		pool:    initial,
	}, nil
}

// Snapshot returns the current pool snapshot. Snapshots are immutable;
// readers may hold one for as long as they like.
func (r *Reconciler) Snapshot() uniswapv2.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pool
}

// Apply reconciles one reserve sync into a new snapshot.
//
// An update whose marker is not strictly later than the current snapshot's is
// dropped with ErrStaleUpdate and no state change, which makes redelivery
// idempotent.
func (r *Reconciler) Apply(update uniswapv2.ReserveSync) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !update.Seq.After(r.pool.Seq) {
		r.metrics.UpdatesTotal.WithLabelValues("stale").Inc()
		r.logger.Debug("Dropping stale reserve sync",
			"pool", r.pool.ID,
			"block", update.Seq.Block, "index", update.Seq.Index,
			"snapshotBlock", r.pool.Seq.Block, "snapshotIndex", r.pool.Seq.Index)
		return ErrStaleUpdate
	}

	if update.Reserve0 == nil || update.Reserve1 == nil {
		r.metrics.UpdatesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: missing reserves", ErrInvalidUpdate)
	}
	if update.Reserve0.Sign() < 0 || update.Reserve1.Sign() < 0 {
		r.metrics.UpdatesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: negative reserves %s/%s", ErrInvalidUpdate, update.Reserve0, update.Reserve1)
	}

	next := r.pool
	next.Reserve0 = new(big.Int).Set(update.Reserve0)
	next.Reserve1 = new(big.Int).Set(update.Reserve1)
	next.Seq = update.Seq
	r.pool = next

	r.metrics.UpdatesTotal.WithLabelValues("applied").Inc()
	r.metrics.SnapshotBlock.Set(float64(update.Seq.Block))
	return nil
}
