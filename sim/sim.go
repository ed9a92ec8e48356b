package sim

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
)

// InitCond implements filter.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CloneFromVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// NewDoubleIntegrator creates a planar constant velocity model sampled with time step dt.
// The state is [px, py, vx, vy], the input is acceleration [ax, ay]
// and the output is position [px, py]:
//
//	A = [I dt*I; 0 I]
//	B = [dt^2/2*I; dt*I]
//	C = [I 0]
//
// w and v are state and output noise; nil means no noise.
func NewDoubleIntegrator(dt float64, w, v filter.Noise) (*Discrete, error) {
	if !(dt > 0) {
		return nil, fmt.Errorf("%w: invalid time step: %v", filter.ErrInvalidArg, dt)
	}

	eye, err := matrix.NewDenseValIdentity(2, 1.0)
	if err != nil {
		return nil, err
	}

	A := mat.NewDense(4, 4, nil)
	A.Slice(0, 2, 0, 2).(*mat.Dense).Copy(eye)
	A.Slice(2, 4, 2, 4).(*mat.Dense).Copy(eye)
	A.Slice(0, 2, 2, 4).(*mat.Dense).Scale(dt, eye)

	B := mat.NewDense(4, 2, nil)
	B.Slice(0, 2, 0, 2).(*mat.Dense).Scale(dt*dt/2, eye)
	B.Slice(2, 4, 0, 2).(*mat.Dense).Scale(dt, eye)

	C := mat.NewDense(2, 4, nil)
	C.Slice(0, 2, 0, 2).(*mat.Dense).Copy(eye)

	return NewDiscrete(A, B, C, nil, w, v)
}
