package sim

import (
	"fmt"
	"math"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/noise"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Discrete is a linear, discrete-time, dynamical system with additive gaussian noise
type Discrete struct {
	System
	// w is state noise a.k.a. process noise
	w filter.Noise
	// v is output noise a.k.a. measurement noise
	v filter.Noise
}

// NewDiscrete creates a linear discrete-time model based on the control theory equations.
//
//	x[n+1] = A*x[n] + B*u[n] + w[n]
//	y[n] = C*x[n] + D*u[n] + v[n]
//
// w and v are state and output noise. Nil noise is replaced by zero noise.
// It returns error if the matrix or noise dimensions are inconsistent.
func NewDiscrete(A, B, C, D mat.Matrix, w, v filter.Noise) (*Discrete, error) {
	sys, err := newSystem(A, B, C, D)
	if err != nil {
		return nil, err
	}

	nx, _, ny := sys.Dims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("%w: invalid model dimensions: [%d x %d]", filter.ErrInvalidArg, nx, ny)
	}

	if w != nil {
		if w.Cov().SymmetricDim() != nx {
			return nil, fmt.Errorf("%w: invalid state noise dimension: %d", filter.ErrInvalidArg, w.Cov().SymmetricDim())
		}
	} else {
		w, _ = noise.NewZero(nx)
	}

	if v != nil {
		if v.Cov().SymmetricDim() != ny {
			return nil, fmt.Errorf("%w: invalid output noise dimension: %d", filter.ErrInvalidArg, v.Cov().SymmetricDim())
		}
	} else {
		v, _ = noise.NewZero(ny)
	}

	return &Discrete{System: sys, w: w, v: v}, nil
}

// Propagate draws the next internal state x of the system given an input vector u.
// Process noise is drawn from rng.
func (d *Discrete) Propagate(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error) {
	next, err := d.Next(x, u)
	if err != nil {
		return nil, err
	}

	out := next.(*mat.VecDense)
	out.AddVec(out, d.w.Sample(rng))

	return out, nil
}

// Observe draws external/observable state given internal state x and input u.
// Measurement noise is drawn from rng.
func (d *Discrete) Observe(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error) {
	y, err := d.Output(x, u)
	if err != nil {
		return nil, err
	}

	out := y.(*mat.VecDense)
	out.AddVec(out, d.v.Sample(rng))

	return out, nil
}

// Likelihood returns the density of measurement noise evaluated at y - (C*xNew + D*u).
// xPrev does not affect the result.
func (d *Discrete) Likelihood(xPrev, u, xNew, y mat.Vector) (float64, error) {
	_, _, ny := d.Dims()
	if y == nil || y.Len() != ny {
		return 0, fmt.Errorf("%w: invalid measurement vector", filter.ErrInvalidArg)
	}

	yPred, err := d.Output(xNew, u)
	if err != nil {
		return 0, err
	}

	inn := make([]float64, ny)
	for i := range inn {
		inn[i] = y.AtVec(i) - yPred.AtVec(i)
	}

	return math.Exp(d.v.LogProb(inn)), nil
}

// StateNoise returns state noise
func (d *Discrete) StateNoise() filter.Noise {
	return d.w
}

// OutputNoise returns output noise
func (d *Discrete) OutputNoise() filter.Noise {
	return d.v
}
