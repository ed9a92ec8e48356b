package rand

import (
	"fmt"
	"math"
	"sort"

	filter "github.com/milosgajdos/go-pfcontrol"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// New returns a new random generator seeded with seed.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}

// Split derives n child generators from rng.
// Child seeds are drawn from rng in order, so the children are reproducible
// for a given state of rng and can be used from separate goroutines.
func Split(rng *rand.Rand, n int) []*rand.Rand {
	rngs := make([]*rand.Rand, n)
	for i := range rngs {
		rngs[i] = New(rng.Uint64())
	}

	return rngs
}

// WithCovN draws n random samples from a zero-mean Normal (aka Gaussian) distribution with covariance cov.
// It returns matrix which contains the randomly generated samples stored in its columns.
// It fails with error if n is non-positive or if SVD factorization of cov fails.
func WithCovN(cov mat.Symmetric, n int, rng *rand.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid number of samples requested: %d", filter.ErrInvalidArg, n)
	}

	// Use SVD instead of Cholesky as Cholesky can be numerically unstable if cov is (almost) singular
	var svd mat.SVD
	ok := svd.Factorize(cov, mat.SVDFull)
	if !ok {
		return nil, fmt.Errorf("SVD factorization failed")
	}

	U := new(mat.Dense)
	svd.UTo(U)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	diag := mat.NewDiagDense(len(vals), vals)
	U.Mul(U, diag)

	rows := cov.SymmetricDim()
	data := make([]float64, rows*n)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	samples := mat.NewDense(rows, n, data)
	samples.Mul(U, samples)

	return samples, nil
}

// UniformN draws n samples uniformly from the box given by lower bounds lo and upper bounds hi.
// It returns matrix which contains the samples stored in its columns.
// It fails with error if n is non-positive or if the bounds are invalid.
func UniformN(lo, hi []float64, n int, rng *rand.Rand) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: invalid number of samples requested: %d", filter.ErrInvalidArg, n)
	}

	if len(lo) == 0 || len(lo) != len(hi) {
		return nil, fmt.Errorf("%w: invalid bounds dimensions: %d != %d", filter.ErrInvalidArg, len(lo), len(hi))
	}

	dists := make([]distuv.Uniform, len(lo))
	for i := range lo {
		if !(lo[i] < hi[i]) {
			return nil, fmt.Errorf("%w: invalid bounds: [%v, %v]", filter.ErrInvalidArg, lo[i], hi[i])
		}
		dists[i] = distuv.Uniform{Min: lo[i], Max: hi[i], Src: rng}
	}

	samples := mat.NewDense(len(lo), n, nil)
	for c := 0; c < n; c++ {
		for r := range dists {
			samples.Set(r, c, dists[r].Rand())
		}
	}

	return samples, nil
}

// RouletteDrawN draws n numbers randomly from a probability mass function (PMF) defined by weights in p.
// RouletteDrawN implements the Roulette Wheel Draw a.k.a. Fitness Proportionate Selection:
// - https://en.wikipedia.org/wiki/Fitness_proportionate_selection
// - http://www.keithschwarz.com/darts-dice-coins/
// Draws are independent and identically distributed.
// It returns a slice of n indices into the vector p.
// It fails with error if p is empty or if p does not define a valid PMF.
func RouletteDrawN(p []float64, n int, rng *rand.Rand) ([]int, error) {
	cdf, err := cumulative(p)
	if err != nil {
		return nil, err
	}
	total := cdf[len(cdf)-1]

	// Generation:
	// 1. Generate a uniformly-random value x in the range [0,total)
	// 2. Using a binary search, find the index of the smallest element in cdf larger than x
	indices := make([]int, n)
	for i := range indices {
		val := rng.Float64() * total
		// Search returns the smallest index i such that cdf[i] > val
		indices[i] = sort.Search(len(cdf), func(i int) bool { return cdf[i] > val })
	}

	return indices, nil
}

// SystematicDrawN draws n numbers from a PMF defined by weights in p
// using systematic (low variance) sampling: a single uniform offset
// is drawn and n equally spaced pointers are walked along the CDF.
// It returns a slice of n non-decreasing indices into the vector p.
// It fails with error if p is empty or if p does not define a valid PMF.
func SystematicDrawN(p []float64, n int, rng *rand.Rand) ([]int, error) {
	cdf, err := cumulative(p)
	if err != nil {
		return nil, err
	}
	total := cdf[len(cdf)-1]

	step := total / float64(n)
	start := rng.Float64() * step

	indices := make([]int, n)
	idx := 0
	for i := range indices {
		target := start + float64(i)*step
		for idx < len(cdf)-1 && cdf[idx] <= target {
			idx++
		}
		indices[i] = idx
	}

	return indices, nil
}

// cumulative returns the discrete CDF of the weights in p.
func cumulative(p []float64) ([]float64, error) {
	if len(p) == 0 {
		return nil, fmt.Errorf("%w: invalid probability weights: %v", filter.ErrInvalidArg, p)
	}

	for _, w := range p {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: invalid probability weight: %v", filter.ErrInvalidArg, w)
		}
	}

	// cdf is sorted in ascending order
	cdf := make([]float64, len(p))
	floats.CumSum(cdf, p)

	if total := cdf[len(cdf)-1]; !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: probability weights sum to %v", filter.ErrInvalidArg, total)
	}

	return cdf, nil
}
