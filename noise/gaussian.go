package noise

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Gaussian is gaussian noise
type Gaussian struct {
	// dist is a multivariate normal distribution
	dist *distmv.Normal
	// chol is Cholesky factorization of cov used for sampling
	chol *mat.Cholesky
	// mean is Gaussian mean
	mean []float64
	// cov is Gaussian covariance
	cov *mat.SymDense
}

// NewGaussian creates new Gaussian noise with given mean and covariance.
// It returns error if the mean and covariance dimensions differ
// or if the covariance matrix is not positive definite.
func NewGaussian(mean []float64, cov mat.Symmetric) (*Gaussian, error) {
	if cov == nil || cov.SymmetricDim() != len(mean) {
		return nil, fmt.Errorf("invalid gaussian dimensions: mean %d", len(mean))
	}

	m := make([]float64, len(mean))
	copy(m, mean)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	dist, ok := distmv.NewNormal(m, c, nil)
	if !ok {
		return nil, fmt.Errorf("failed to create new Gaussian noise")
	}

	chol := new(mat.Cholesky)
	if ok := chol.Factorize(c); !ok {
		return nil, fmt.Errorf("covariance matrix is not positive definite")
	}

	return &Gaussian{
		dist: dist,
		chol: chol,
		mean: m,
		cov:  c,
	}, nil
}

// Sample draws a sample from Gaussian noise using rng and returns it.
func (g *Gaussian) Sample(rng *rand.Rand) mat.Vector {
	r := distmv.NormalRand(nil, g.mean, g.chol, rng)
	return mat.NewVecDense(len(r), r)
}

// LogProb returns log probability density of x.
// It panics if the length of x differs from the noise dimension.
func (g *Gaussian) LogProb(x []float64) float64 {
	return g.dist.LogProb(x)
}

// Cov returns covariance matrix of Gaussian noise.
func (g *Gaussian) Cov() mat.Symmetric {
	cov := mat.NewSymDense(g.cov.SymmetricDim(), nil)
	cov.CopySym(g.cov)

	return cov
}

// Mean returns Gaussian mean.
func (g *Gaussian) Mean() []float64 {
	mean := make([]float64, len(g.mean))
	copy(mean, g.mean)

	return mean
}

// String implements the Stringer interface.
func (g *Gaussian) String() string {
	return fmt.Sprintf("Gaussian{\nMean=%v\nCov=%v\n}", g.mean, mat.Formatted(g.cov, mat.Prefix("    "), mat.Squeeze()))
}
