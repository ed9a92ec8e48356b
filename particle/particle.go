package particle

import (
	"fmt"
	"math"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/estimate"
	"github.com/milosgajdos/go-pfcontrol/matrix"
	"github.com/milosgajdos/go-pfcontrol/rand"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Belief is an immutable set of weighted particles approximating
// a probability distribution over system state.
type Belief struct {
	// x stores particles as column vectors
	x *mat.Dense
	// w stores normalized particle weights
	w []float64
	// uniform is true if all particles have the same weight
	uniform bool
}

// New creates new Belief from states with uniform weights.
// It returns error if no states are given or if the states differ in length.
func New(states []mat.Vector) (*Belief, error) {
	w := make([]float64, len(states))
	for i := range w {
		w[i] = 1
	}

	return NewWeighted(states, w)
}

// NewWeighted creates new Belief from states and their weights.
// Weights are normalized so they sum up to 1.
// It returns error if no states are given, if the states differ in length,
// or if the weights are negative, non-finite or sum up to zero.
func NewWeighted(states []mat.Vector, w []float64) (*Belief, error) {
	if len(states) == 0 {
		return nil, filter.ErrEmptyBelief
	}

	if len(w) != len(states) {
		return nil, fmt.Errorf("%w: weights count %d != particle count %d", filter.ErrInvalidArg, len(w), len(states))
	}

	nx := states[0].Len()
	if nx == 0 {
		return nil, fmt.Errorf("%w: zero length state", filter.ErrInvalidArg)
	}

	x := mat.NewDense(nx, len(states), nil)
	for c, s := range states {
		if s.Len() != nx {
			return nil, fmt.Errorf("%w: invalid state %d length: %d != %d", filter.ErrInvalidArg, c, s.Len(), nx)
		}
		x.SetCol(c, mat.Col(nil, 0, s))
	}

	return newBelief(x, w)
}

// NewFromMatrix creates new Belief with uniform weights from particles stored in x columns.
// x is copied.
func NewFromMatrix(x mat.Matrix) (*Belief, error) {
	if x == nil {
		return nil, filter.ErrEmptyBelief
	}

	if m, ok := x.(*mat.Dense); ok && m.IsEmpty() {
		return nil, filter.ErrEmptyBelief
	}

	_, cols := x.Dims()
	w := make([]float64, cols)
	for i := range w {
		w[i] = 1
	}

	return newBelief(mat.DenseCopyOf(x), w)
}

// NewUniform creates new Belief of n particles drawn uniformly from the box [lo, hi).
func NewUniform(lo, hi []float64, n int, rng *xrand.Rand) (*Belief, error) {
	x, err := rand.UniformN(lo, hi, n, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to generate particles: %w", err)
	}

	return NewFromMatrix(x)
}

// NewGaussian creates new Belief of n particles drawn from a Gaussian
// distribution centered around initial condition state with initial condition covariance.
func NewGaussian(ic filter.InitCond, n int, rng *xrand.Rand) (*Belief, error) {
	// draw particles from distribution with covariance InitCond.Cov()
	x, err := rand.WithCovN(ic.Cov(), n, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to generate particles: %w", err)
	}

	state := ic.State()
	rows, cols := x.Dims()
	if state.Len() != rows {
		return nil, fmt.Errorf("%w: initial state length %d != covariance dimension %d", filter.ErrInvalidArg, state.Len(), rows)
	}

	// center particles around initial state condition
	for c := 0; c < cols; c++ {
		col := x.ColView(c).(*mat.VecDense)
		col.AddVec(col, state)
	}

	return NewFromMatrix(x)
}

// newBelief takes ownership of x and w and normalizes w.
func newBelief(x *mat.Dense, w []float64) (*Belief, error) {
	if len(w) == 0 {
		return nil, filter.ErrEmptyBelief
	}

	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: invalid particle %d weight: %v", filter.ErrInvalidArg, i, v)
		}
	}

	sum := floats.Sum(w)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("%w: particle weights sum up to %v", filter.ErrInvalidArg, sum)
	}

	uniform := true
	for _, v := range w[1:] {
		if v != w[0] {
			uniform = false
			break
		}
	}
	floats.Scale(1/sum, w)

	return &Belief{x: x, w: w, uniform: uniform}, nil
}

// Len returns number of particles
func (b *Belief) Len() int {
	if b == nil {
		return 0
	}

	return len(b.w)
}

// Dim returns particle state dimension
func (b *Belief) Dim() int {
	if b.Len() == 0 {
		return 0
	}

	rows, _ := b.x.Dims()

	return rows
}

// Particles returns a copy of the particles stored as matrix columns
func (b *Belief) Particles() mat.Matrix {
	p := &mat.Dense{}
	if b.Len() > 0 {
		p.CloneFrom(b.x)
	}

	return p
}

// States returns a copy of the particles as a slice of vectors
func (b *Belief) States() []mat.Vector {
	states := make([]mat.Vector, b.Len())
	for c := range states {
		states[c] = mat.NewVecDense(b.Dim(), mat.Col(nil, c, b.x))
	}

	return states
}

// State returns a copy of the i-th particle.
// It panics if i is out of range.
func (b *Belief) State(i int) mat.Vector {
	return mat.NewVecDense(b.Dim(), mat.Col(nil, i, b.x))
}

// Weights returns a vector containing particle weights
func (b *Belief) Weights() mat.Vector {
	data := make([]float64, b.Len())
	copy(data, b.w)

	return mat.NewVecDense(len(data), data)
}

// Mean returns weighted mean of the particles.
// It returns filter.ErrEmptyBelief if the belief has no particles.
func (b *Belief) Mean() (mat.Vector, error) {
	if b.Len() == 0 {
		return nil, filter.ErrEmptyBelief
	}

	return matrix.WeightedColMean(b.x, b.weights()), nil
}

// Cov returns weighted covariance of the particles.
// It returns filter.ErrEmptyBelief if the belief has no particles.
func (b *Belief) Cov() (mat.Symmetric, error) {
	if b.Len() == 0 {
		return nil, filter.ErrEmptyBelief
	}

	return matrix.WeightedColCov(b.x, b.weights()), nil
}

// weights returns the weights for the matrix statistics: nil if they are uniform.
func (b *Belief) weights() []float64 {
	if b.uniform {
		return nil
	}

	return b.w
}

// ESS returns effective sample size of the belief.
// It equals the number of particles when the weights are uniform.
func (b *Belief) ESS() float64 {
	if b.Len() == 0 {
		return 0
	}

	if b.uniform {
		return float64(b.Len())
	}

	return ESS(b.w)
}

// ESS returns effective sample size of normalized weights w: 1/sum(w^2).
// It returns 0 if w is empty.
func ESS(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}

	return 1 / floats.Dot(w, w)
}

// Estimate returns the belief mean and covariance as a filter estimate.
func (b *Belief) Estimate() (filter.Estimate, error) {
	mean, err := b.Mean()
	if err != nil {
		return nil, err
	}

	cov, err := b.Cov()
	if err != nil {
		return nil, err
	}

	return estimate.NewBaseWithCov(mean, cov)
}
