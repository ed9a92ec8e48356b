package noise

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Zero is zero noise i.e. no noise
type Zero struct {
	// mean stores zero mean values
	mean []float64
	// cov is zero covariance matrix
	cov *mat.SymDense
}

// NewZero creates new zero noise i.e. zero mean and zero covariance.
// It returns error if size is non-positive.
func NewZero(size int) (*Zero, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid noise dimension: %d", size)
	}

	return &Zero{
		mean: make([]float64, size),
		cov:  mat.NewSymDense(size, nil),
	}, nil
}

// Sample returns a vector with zero values. It does not consume rng.
func (e *Zero) Sample(rng *rand.Rand) mat.Vector {
	return mat.NewVecDense(len(e.mean), nil)
}

// LogProb returns 0 if x is a zero vector and -Inf otherwise:
// all probability mass of Zero noise is concentrated in the origin.
func (e *Zero) LogProb(x []float64) float64 {
	for _, v := range x {
		if v != 0 {
			return math.Inf(-1)
		}
	}

	return 0
}

// Cov returns empty covariance matrix: symmetric matrix with zero values.
func (e *Zero) Cov() mat.Symmetric {
	cov := mat.NewSymDense(e.cov.SymmetricDim(), nil)
	cov.CopySym(e.cov)

	return cov
}

// Mean returns Zero mean.
func (e *Zero) Mean() []float64 {
	mean := make([]float64, len(e.mean))
	copy(mean, e.mean)

	return mean
}

// String implements the Stringer interface.
func (e *Zero) String() string {
	return fmt.Sprintf("Zero{\nMean=%v\nCov=%v\n}", e.Mean(), mat.Formatted(e.Cov(), mat.Prefix("    "), mat.Squeeze()))
}
