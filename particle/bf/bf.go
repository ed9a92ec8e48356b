package bf

import (
	"fmt"
	"math"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/particle"
	"github.com/milosgajdos/go-pfcontrol/rand"
	"github.com/milosgajdos/matrix"
	xrand "golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Resampler is particle resampling scheme
type Resampler int

const (
	// Multinomial draws particles i.i.d. proportionally to their weights
	Multinomial Resampler = iota
	// Systematic draws particles using a single random offset and equally spaced pointers
	Systematic
)

// String implements the Stringer interface.
func (r Resampler) String() string {
	switch r {
	case Multinomial:
		return "multinomial"
	case Systematic:
		return "systematic"
	default:
		return fmt.Sprintf("Resampler(%d)", int(r))
	}
}

// Option configures BF
type Option func(*BF)

// WithResampler sets particle resampling scheme. Default is Multinomial.
func WithResampler(r Resampler) Option {
	return func(b *BF) {
		b.resampler = r
	}
}

// WithWorkers sets the number of goroutines propagating and weighting particles.
// Every worker draws from its own generator seeded from the generator passed to Update,
// so the results are reproducible for the same seed and worker count.
func WithWorkers(n int) Option {
	return func(b *BF) {
		b.workers = n
	}
}

// WithRegularization enables regularized resampling: resampled particles are
// perturbed with gaussian noise with the covariance of the particles scaled by alpha.
// If non-positive alpha is given the optimal value for Gaussian kernel is used.
func WithRegularization(alpha float64) Option {
	return func(b *BF) {
		b.regularize = true
		b.alpha = alpha
	}
}

// BF is a Bootstrap Filter a.k.a. SIR Particle Filter.
// For more information about Bootstrap Filter see:
// https://en.wikipedia.org/wiki/Particle_filter#The_bootstrap_filter
//
// BF holds no state besides its configuration: every Update
// produces a new belief from the one passed in.
type BF struct {
	// model is bootstrap filter model
	model filter.Model
	// n is number of filter particles
	n int
	// resampler is particle resampling scheme
	resampler Resampler
	// workers is number of propagation workers
	workers int
	// regularize enables regularized resampling
	regularize bool
	// alpha is regularization parameter
	alpha float64
}

// New creates new Bootstrap Filter (BF) for model m with n particles and returns it.
// New returns error if non-positive number of particles is given or if the model dimensions are invalid.
func New(m filter.Model, n int, opts ...Option) (*BF, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil model", filter.ErrInvalidArg)
	}

	// must have at least one particle; can't be negative
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid particle count: %d", filter.ErrInvalidArg, n)
	}

	nx, _, ny := m.Dims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("%w: invalid model dimensions: [%d x %d]", filter.ErrInvalidArg, nx, ny)
	}

	b := &BF{
		model:     m,
		n:         n,
		resampler: Multinomial,
		workers:   1,
	}

	for _, apply := range opts {
		apply(b)
	}

	if b.resampler != Multinomial && b.resampler != Systematic {
		return nil, fmt.Errorf("%w: unknown resampler: %v", filter.ErrInvalidArg, b.resampler)
	}

	if b.workers <= 0 {
		return nil, fmt.Errorf("%w: invalid worker count: %d", filter.ErrInvalidArg, b.workers)
	}

	return b, nil
}

// Update propagates belief b particles through the model given control input u,
// weights them by the likelihood of measurement y and resamples them.
// It returns a new belief with uniform particle weights.
// It returns error wrapping filter.ErrDegenerateWeights if no particle explains y,
// filter.ErrEmptyBelief if b has no particles and filter.ErrInvalidArg on dimension mismatch.
func (b *BF) Update(bel filter.Belief, u, y mat.Vector, rng *xrand.Rand) (filter.Belief, error) {
	x, w, err := b.Weigh(bel, u, y, rng)
	if err != nil {
		return nil, err
	}

	post, err := b.Resample(x, w, rng)
	if err != nil {
		return nil, err
	}

	return post, nil
}

// Weigh propagates belief particles to the next step and computes their importance weights.
// It returns proposal particles stored in matrix columns and their normalized weights.
func (b *BF) Weigh(bel filter.Belief, u, y mat.Vector, rng *xrand.Rand) (*mat.Dense, []float64, error) {
	if bel == nil || bel.Len() == 0 {
		return nil, nil, filter.ErrEmptyBelief
	}

	if bel.Len() != b.n {
		return nil, nil, fmt.Errorf("%w: invalid particle count: %d != %d", filter.ErrInvalidArg, bel.Len(), b.n)
	}

	// particles are only read
	p := bel.Particles()
	x, ok := p.(*mat.Dense)
	if !ok {
		x = mat.DenseCopyOf(p)
	}

	nx, nu, ny := b.model.Dims()
	if rows, _ := x.Dims(); rows != nx {
		return nil, nil, fmt.Errorf("%w: invalid particle dimension: %d != %d", filter.ErrInvalidArg, rows, nx)
	}

	if u != nil && u.Len() != nu {
		return nil, nil, fmt.Errorf("%w: invalid input vector length: %d != %d", filter.ErrInvalidArg, u.Len(), nu)
	}

	if y == nil || y.Len() != ny {
		return nil, nil, fmt.Errorf("%w: invalid measurement vector", filter.ErrInvalidArg)
	}

	prior := mat.Col(nil, 0, bel.Weights())
	xNext := mat.NewDense(nx, b.n, nil)
	w := make([]float64, b.n)

	if err := b.propagate(x, xNext, w, prior, u, y, rng); err != nil {
		return nil, nil, err
	}

	// no particle explains the measurement
	sum := floats.Sum(w)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, nil, fmt.Errorf("%w: weights sum up to %v", filter.ErrDegenerateWeights, sum)
	}

	// normalize the particle weights so they express probability
	floats.Scale(1/sum, w)

	return xNext, w, nil
}

// propagate fills xNext with propagated particles and w with their unnormalized weights.
func (b *BF) propagate(x, xNext *mat.Dense, w, prior []float64, u, y mat.Vector, rng *xrand.Rand) error {
	workers := b.workers
	if workers > b.n {
		workers = b.n
	}

	if workers == 1 {
		return b.propagateRange(x, xNext, w, prior, u, y, rng, 0, b.n)
	}

	// child generators are derived before fan-out so no generator is shared
	rngs := rand.Split(rng, workers)
	chunk := (b.n + workers - 1) / workers

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		lo, hi := i*chunk, (i+1)*chunk
		if hi > b.n {
			hi = b.n
		}
		r := rngs[i]
		g.Go(func() error {
			return b.propagateRange(x, xNext, w, prior, u, y, r, lo, hi)
		})
	}

	return g.Wait()
}

// propagateRange propagates and weighs particles stored in x columns [lo, hi).
func (b *BF) propagateRange(x, xNext *mat.Dense, w, prior []float64, u, y mat.Vector, rng *xrand.Rand, lo, hi int) error {
	nx, _, _ := b.model.Dims()

	for c := lo; c < hi; c++ {
		xPrev := x.ColView(c)

		xPart, err := b.model.Propagate(xPrev, u, rng)
		if err != nil {
			return fmt.Errorf("particle state propagation failed: %w", err)
		}

		if xPart.Len() != nx {
			return fmt.Errorf("%w: invalid propagated state length: %d", filter.ErrInvalidArg, xPart.Len())
		}

		l, err := b.model.Likelihood(xPrev, u, xPart, y)
		if err != nil {
			return fmt.Errorf("particle likelihood failed: %w", err)
		}

		if l < 0 {
			return fmt.Errorf("%w: negative likelihood: %v", filter.ErrInvalidArg, l)
		}

		xNext.SetCol(c, mat.Col(nil, 0, xPart))
		w[c] = prior[c] * l
	}

	return nil
}

// Resample draws len(w) particles from x columns proportionally to weights w
// and returns them as a new belief with uniform weights.
// It returns error if the particles fail to be sampled.
func (b *BF) Resample(x *mat.Dense, w []float64, rng *xrand.Rand) (*particle.Belief, error) {
	if x == nil || len(w) == 0 {
		return nil, filter.ErrEmptyBelief
	}

	rows, cols := x.Dims()
	if cols != len(w) {
		return nil, fmt.Errorf("%w: weights count %d != particle count %d", filter.ErrInvalidArg, len(w), cols)
	}

	var indices []int
	var err error

	switch b.resampler {
	case Systematic:
		indices, err = rand.SystematicDrawN(w, len(w), rng)
	default:
		indices, err = rand.RouletteDrawN(w, len(w), rng)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to sample filter particles: %w", err)
	}

	xNew := mat.NewDense(rows, cols, nil)
	// length of indices slice is the same as number of columns: number of particles
	for c := range indices {
		xNew.SetCol(c, mat.Col(nil, indices[c], x))
	}

	if b.regularize && cols > 1 {
		if err := b.perturb(xNew, rng); err != nil {
			return nil, err
		}
	}

	return particle.NewFromMatrix(xNew)
}

// perturb adds random perturbations drawn with the particle covariance to x.
func (b *BF) perturb(x *mat.Dense, rng *xrand.Rand) error {
	rows, cols := x.Dims()

	cov, err := matrix.Cov(x, "cols")
	if err != nil {
		return fmt.Errorf("failed to calculate covariance matrix: %w", err)
	}

	// randomly draw values with given particle covariance
	m, err := rand.WithCovN(cov, cols, rng)
	if err != nil {
		return fmt.Errorf("failed to draw random particle perturbations: %w", err)
	}

	// if invalid alpha is given, use the optimal value for Gaussian
	alpha := b.alpha
	if alpha <= 0 {
		alpha = AlphaGauss(rows, cols)
	}

	m.Scale(alpha, m)
	x.Add(x, m)

	return nil
}

// N returns particle count
func (b *BF) N() int {
	return b.n
}

// Model returns filter model
func (b *BF) Model() filter.Model {
	return b.model
}

// AlphaGauss computes optimal regularization parameter for Gaussian kernel and returns it.
func AlphaGauss(r, c int) float64 {
	return math.Pow(4.0/(float64(c)*(float64(r)+2.0)), 1/(float64(r)+4.0))
}
