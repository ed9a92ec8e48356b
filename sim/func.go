package sim

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// PropagateFunc draws the next state given state x and input u
type PropagateFunc func(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error)

// LikelihoodFunc returns relative density of observation y in state xNew
type LikelihoodFunc func(xPrev, u, xNew, y mat.Vector) (float64, error)

// Func is a model built from plain functions.
// It allows to plug arbitrary (nonlinear) dynamics into the filters.
type Func struct {
	nx, nu, ny int
	propagate  PropagateFunc
	likelihood LikelihoodFunc
}

// NewFunc creates a new function based model with state, input and output dimensions nx, nu, ny.
// It returns error if either of the functions is nil or if nx or ny are non-positive.
func NewFunc(nx, nu, ny int, p PropagateFunc, l LikelihoodFunc) (*Func, error) {
	if nx <= 0 || ny <= 0 || nu < 0 {
		return nil, fmt.Errorf("%w: invalid model dimensions: [%d x %d x %d]", filter.ErrInvalidArg, nx, nu, ny)
	}

	if p == nil || l == nil {
		return nil, fmt.Errorf("%w: propagate and likelihood functions must be defined", filter.ErrInvalidArg)
	}

	return &Func{nx: nx, nu: nu, ny: ny, propagate: p, likelihood: l}, nil
}

// Propagate draws the next state of the system given state x and input u.
func (f *Func) Propagate(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error) {
	if x == nil || x.Len() != f.nx {
		return nil, fmt.Errorf("%w: invalid state vector", filter.ErrInvalidArg)
	}

	return f.propagate(x, u, rng)
}

// Likelihood returns relative density of observing y in state xNew.
func (f *Func) Likelihood(xPrev, u, xNew, y mat.Vector) (float64, error) {
	if xNew == nil || xNew.Len() != f.nx {
		return 0, fmt.Errorf("%w: invalid state vector", filter.ErrInvalidArg)
	}

	if y == nil || y.Len() != f.ny {
		return 0, fmt.Errorf("%w: invalid measurement vector", filter.ErrInvalidArg)
	}

	return f.likelihood(xPrev, u, xNew, y)
}

// Dims returns state, input and output dimensions.
func (f *Func) Dims() (nx, nu, ny int) {
	return f.nx, f.nu, f.ny
}
