package sim

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"gonum.org/v1/gonum/mat"
)

// System defines a linear model of a plant using
// traditional matrices of modern control theory.
//
// It contains the System (A), input (B), Observation/Output (C)
// and Feedthrough (D) matrices.
type System struct {
	// System/State matrix A
	A *mat.Dense
	// Control/Input Matrix B
	B *mat.Dense
	// Observation/Output Matrix C
	C *mat.Dense
	// Feedthrough matrix D
	D *mat.Dense
}

func newSystem(A, B, C, D mat.Matrix) (System, error) {
	if A == nil || C == nil {
		return System{}, fmt.Errorf("%w: system and output matrices must be defined", filter.ErrInvalidArg)
	}

	sys := System{A: mat.DenseCopyOf(A), C: mat.DenseCopyOf(C)}
	if B != nil {
		sys.B = mat.DenseCopyOf(B)
	}
	if D != nil {
		sys.D = mat.DenseCopyOf(D)
	}

	nx, nu, ny := sys.Dims()

	if rows, cols := sys.A.Dims(); rows != cols {
		return System{}, fmt.Errorf("%w: invalid system matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
	}

	if sys.B != nil {
		if rows, cols := sys.B.Dims(); rows != nx {
			return System{}, fmt.Errorf("%w: invalid control matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
		}
	}

	if rows, cols := sys.C.Dims(); cols != nx {
		return System{}, fmt.Errorf("%w: invalid output matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
	}

	if sys.D != nil {
		if rows, cols := sys.D.Dims(); rows != ny || cols != nu {
			return System{}, fmt.Errorf("%w: invalid feedthrough matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
		}
	}

	return sys, nil
}

// Dims returns internal state length (nx), input vector length (nu)
// and external/observable/output state length (ny).
func (s System) Dims() (nx, nu, ny int) {
	nx, _ = s.A.Dims()
	if s.B != nil {
		_, nu = s.B.Dims()
	}
	if s.C != nil {
		ny, _ = s.C.Dims()
	}
	return nx, nu, ny
}

// SystemMatrix returns state propagation matrix `A`.
func (s System) SystemMatrix() (A mat.Matrix) { return s.A }

// ControlMatrix returns state propagation control matrix `B`
func (s System) ControlMatrix() (B mat.Matrix) {
	if s.B == nil {
		return nil
	}
	return s.B
}

// OutputMatrix returns observation matrix `C`
func (s System) OutputMatrix() (C mat.Matrix) {
	if s.C == nil {
		return nil
	}
	return s.C
}

// FeedForwardMatrix returns observation control matrix `D`
func (s System) FeedForwardMatrix() (D mat.Matrix) {
	if s.D == nil {
		return nil
	}
	return s.D
}

// checkDims validates state x and input u lengths.
func (s System) checkDims(x, u mat.Vector) error {
	nx, nu, _ := s.Dims()
	if u != nil && u.Len() != nu {
		return fmt.Errorf("%w: invalid input vector length: %d != %d", filter.ErrInvalidArg, u.Len(), nu)
	}

	if x == nil || x.Len() != nx {
		return fmt.Errorf("%w: invalid state vector", filter.ErrInvalidArg)
	}

	return nil
}

// Next returns the noiseless next internal state A*x + B*u.
func (s System) Next(x, u mat.Vector) (mat.Vector, error) {
	if err := s.checkDims(x, u); err != nil {
		return nil, err
	}

	out := new(mat.VecDense)
	out.MulVec(s.A, x)

	if u != nil && s.B != nil {
		outU := new(mat.VecDense)
		outU.MulVec(s.B, u)

		out.AddVec(out, outU)
	}

	return out, nil
}

// Output returns the noiseless output C*x + D*u given internal state x and input u.
func (s System) Output(x, u mat.Vector) (mat.Vector, error) {
	if err := s.checkDims(x, u); err != nil {
		return nil, err
	}

	out := new(mat.VecDense)
	out.MulVec(s.C, x)

	if u != nil && s.D != nil {
		outU := new(mat.VecDense)
		outU.MulVec(s.D, u)

		out.AddVec(out, outU)
	}

	return out, nil
}
