package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the dependencies and settings of a cycle solver.
type Config struct {
	Logger   Logger
	Registry prometheus.Registerer

	// TolerancePPM stops the search once the bracket width drops below this
	// fraction, in parts per million, of the current upper bound.
	TolerancePPM uint64

	// MaxIterations caps the number of bracket-shrinking steps per solve.
	MaxIterations int
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

const (
	defaultTolerancePPM  = 100
	defaultMaxIterations = 128

	// feasibilityHalvings bounds the initial search for a quotable upper
	// bound when MaxInput overshoots what the later hops can absorb.
	feasibilityHalvings = 40
)

// Metrics holds the prometheus instruments of a solver.
type Metrics struct {
	SolvesTotal   *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	Iterations    prometheus.Histogram
}

// NewMetrics creates and registers the solver's metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SolvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_replica_solver_solves_total",
			Help: "Solve calls by outcome (ok, unprofitable, invalid, error).",
		}, []string{"outcome"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_replica_solver_solve_duration_seconds",
			Help:    "Wall time per solve.",
			Buckets: prometheus.DefBuckets,
		}),
		Iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "amm_replica_solver_iterations",
			Help:    "Bracket-shrinking iterations per solve.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.SolvesTotal, m.SolveDuration, m.Iterations)
	return m
}

// Result is one solved cycle: spend AmountIn of the start token, receive
// AmountOut of the same token, netting Profit.
type Result struct {
	AmountIn   *big.Int
	AmountOut  *big.Int
	Profit     *big.Int
	Iterations int
}

// Solver finds the input amount maximizing the profit of a token cycle.
//
// Cycle profit as a function of the input is concave on constant-product and
// concentrated-liquidity pools, so a golden-section search over the feasible
// input range converges on the optimum without derivatives.
type Solver struct {
	logger  Logger
	metrics *Metrics

	tolerancePPM  uint64
	maxIterations int
}

// NewSolver builds a solver from the config, filling in defaults.
func NewSolver(cfg *Config) (*Solver, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tolerancePPM := cfg.TolerancePPM
	if tolerancePPM == 0 {
		tolerancePPM = defaultTolerancePPM
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	return &Solver{
		logger:        cfg.Logger,
		metrics:       NewMetrics(cfg.Registry),
		tolerancePPM:  tolerancePPM,
		maxIterations: maxIterations,
	}, nil
}

// Golden ratio conjugate as a rational, good to 15 digits.
var (
	invPhiNum = big.NewInt(618_033_988_749_895)
	invPhiDen = big.NewInt(1_000_000_000_000_000)
)

// probe is one evaluated input point. A nil profit means the point is
// infeasible: some hop ran out of liquidity at that input.
type probe struct {
	x         *big.Int
	amountOut *big.Int
	profit    *big.Int
}

// Solve searches for the profit-maximizing input of the cycle.
//
// ErrUnprofitable is the normal outcome for a path with no positive-profit
// input; the zero-input point always exists, so the search never fails just
// because liquidity is thin. A hop's ErrNoLiquidity marks the probed input
// infeasible and shrinks the bracket instead of propagating.
func (s *Solver) Solve(ctx context.Context, path Path) (Result, error) {
	timer := prometheus.NewTimer(s.metrics.SolveDuration)
	defer timer.ObserveDuration()

	res, err := s.solve(ctx, path)
	switch {
	case err == nil:
		s.metrics.SolvesTotal.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrUnprofitable):
		s.metrics.SolvesTotal.WithLabelValues("unprofitable").Inc()
	case errors.Is(err, ErrInvalidPath):
		s.metrics.SolvesTotal.WithLabelValues("invalid").Inc()
	default:
		s.metrics.SolvesTotal.WithLabelValues("error").Inc()
	}
	if err == nil {
		s.metrics.Iterations.Observe(float64(res.Iterations))
	}
	return res, err
}

func (s *Solver) solve(ctx context.Context, path Path) (Result, error) {
	if err := path.Validate(); err != nil {
		return Result{}, err
	}

	xMax, err := path.Hops[0].Pool.MaxInput(path.Hops[0].TokenIn)
	if err != nil {
		return Result{}, fmt.Errorf("bound input: %w", err)
	}
	if xMax.Sign() <= 0 {
		return Result{}, ErrUnprofitable
	}

	iterations := 0
	eval := func(x *big.Int) (probe, error) {
		if err := ctx.Err(); err != nil {
			return probe{}, err
		}
		if x.Sign() <= 0 {
			return probe{x: x}, nil
		}
		out, err := path.QuoteExactInput(ctx, x)
		if err != nil {
			if errors.Is(err, ErrNoLiquidity) {
				return probe{x: x}, nil
			}
			return probe{}, err
		}
		return probe{x: x, amountOut: out, profit: new(big.Int).Sub(out, x)}, nil
	}

	// The first-hop bound knows nothing about the rest of the cycle; halve it
	// until the upper end of the bracket actually quotes.
	upper, err := eval(xMax)
	if err != nil {
		return Result{}, err
	}
	for i := 0; upper.profit == nil && i < feasibilityHalvings; i++ {
		xMax.Rsh(xMax, 1)
		if xMax.Sign() == 0 {
			return Result{}, ErrUnprofitable
		}
		upper, err = eval(xMax)
		if err != nil {
			return Result{}, err
		}
		iterations++
	}
	if upper.profit == nil {
		return Result{}, ErrUnprofitable
	}

	var (
		a    = big.NewInt(0)
		b    = new(big.Int).Set(xMax)
		best = upper
	)

	// interior(a, b, num) = a + (b-a)*num/invPhiDen
	interior := func(a, b *big.Int, num *big.Int) *big.Int {
		d := new(big.Int).Sub(b, a)
		d.Mul(d, num)
		d.Div(d, invPhiDen)
		return d.Add(d, a)
	}
	// lower interior point uses 1-invphi = invphi^2
	invPhiSqNum := new(big.Int).Sub(invPhiDen, invPhiNum)

	c, err := eval(interior(a, b, invPhiSqNum))
	if err != nil {
		return Result{}, err
	}
	d, err := eval(interior(a, b, invPhiNum))
	if err != nil {
		return Result{}, err
	}
	best = better(best, c)
	best = better(best, d)

	for ; iterations < s.maxIterations; iterations++ {
		if converged(a, b, s.tolerancePPM) {
			break
		}

		switch {
		case d.profit == nil:
			// Infeasibility is monotone in the input, so everything at and
			// above d is out too.
			b.Set(d.x)
			d = c
			c, err = eval(interior(a, b, invPhiSqNum))
		case c.profit == nil:
			// d quoted fine, so c's failure is dust: the input is small
			// enough that some hop's output rounds to zero. Move up.
			a.Set(c.x)
			c = d
			d, err = eval(interior(a, b, invPhiNum))
		case c.profit.Cmp(d.profit) > 0:
			b.Set(d.x)
			d = c
			c, err = eval(interior(a, b, invPhiSqNum))
		default:
			a.Set(c.x)
			c = d
			d, err = eval(interior(a, b, invPhiNum))
		}
		if err != nil {
			return Result{}, err
		}

		best = better(best, c)
		best = better(best, d)
	}

	if best.profit == nil || best.profit.Sign() <= 0 {
		return Result{Iterations: iterations}, ErrUnprofitable
	}

	s.logger.Debug("Solved cycle",
		"amountIn", best.x, "profit", best.profit, "iterations", iterations)
	return Result{
		AmountIn:   new(big.Int).Set(best.x),
		AmountOut:  new(big.Int).Set(best.amountOut),
		Profit:     new(big.Int).Set(best.profit),
		Iterations: iterations,
	}, nil
}

// better picks the probe with the higher profit, treating infeasible probes
// as worse than any feasible one.
func better(x, y probe) probe {
	if y.profit == nil {
		return x
	}
	if x.profit == nil || y.profit.Cmp(x.profit) > 0 {
		return y
	}
	return x
}

// converged reports whether the bracket [a, b] is narrower than the relative
// tolerance, with an absolute floor of one base unit.
func converged(a, b *big.Int, tolerancePPM uint64) bool {
	width := new(big.Int).Sub(b, a)
	if width.Cmp(big.NewInt(1)) <= 0 {
		return true
	}
	width.Mul(width, big.NewInt(1_000_000))
	allowed := new(big.Int).Mul(b, new(big.Int).SetUint64(tolerancePPM))
	return width.Cmp(allowed) <= 0
}
