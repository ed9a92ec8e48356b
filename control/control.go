package control

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"gonum.org/v1/gonum/mat"
)

// Linear is a linear state feedback controller: u = K*x
type Linear struct {
	k *mat.Dense
}

// NewLinear creates new linear state feedback controller for a system
// with nx states and nu inputs and returns it.
//
// K is either an nu x nx gain matrix or a single row of length nx.
// A gain row k is expanded into nu x nx matrix with K[j][j] = k[j],
// i.e. input j is driven by state j only.
func NewLinear(K mat.Matrix, nx, nu int) (*Linear, error) {
	if K == nil {
		return nil, fmt.Errorf("%w: nil gain", filter.ErrInvalidArg)
	}

	if nx <= 0 || nu <= 0 {
		return nil, fmt.Errorf("%w: invalid dimensions: [%d x %d]", filter.ErrInvalidArg, nu, nx)
	}

	r, c := K.Dims()
	if c != nx {
		return nil, fmt.Errorf("%w: gain columns %d != state dimension %d", filter.ErrInvalidArg, c, nx)
	}

	switch {
	case r == nu:
		return &Linear{k: mat.DenseCopyOf(K)}, nil
	case r == 1:
		if nu > nx {
			return nil, fmt.Errorf("%w: can't expand gain row of length %d to %d inputs", filter.ErrInvalidArg, nx, nu)
		}

		k := mat.NewDense(nu, nx, nil)
		for j := 0; j < nu; j++ {
			k.Set(j, j, K.At(0, j))
		}

		return &Linear{k: k}, nil
	default:
		return nil, fmt.Errorf("%w: gain rows %d != input dimension %d", filter.ErrInvalidArg, r, nu)
	}
}

// Control returns control input for state estimate x.
func (l *Linear) Control(x mat.Vector) (mat.Vector, error) {
	nu, nx := l.k.Dims()
	if x == nil || x.Len() != nx {
		return nil, fmt.Errorf("%w: invalid state vector", filter.ErrInvalidArg)
	}

	u := mat.NewVecDense(nu, nil)
	u.MulVec(l.k, x)

	return u, nil
}

// Gain returns a copy of the gain matrix
func (l *Linear) Gain() mat.Matrix {
	k := &mat.Dense{}
	k.CloneFrom(l.k)

	return k
}
