package estimate

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"gonum.org/v1/gonum/mat"
)

// Base is base estimate
type Base struct {
	// val is estimated value
	val *mat.VecDense
	// cov is estimated covariance
	cov *mat.SymDense
}

// NewBaseWithCov returns base estimate given val and covariance cov.
// It returns error if the dimensions of val and cov do not match.
func NewBaseWithCov(val mat.Vector, cov mat.Symmetric) (*Base, error) {
	if val == nil || cov == nil {
		return nil, fmt.Errorf("%w: nil estimate", filter.ErrInvalidArg)
	}

	rv := val.Len()
	rc := cov.SymmetricDim()

	if rv != rc {
		return nil, fmt.Errorf("%w: invalid dimensions. Val: %d, Cov: %d x %d", filter.ErrInvalidArg, rv, rc, rc)
	}

	v := &mat.VecDense{}
	v.CloneFromVec(val)

	c := mat.NewSymDense(rc, nil)
	c.CopySym(cov)

	return &Base{
		val: v,
		cov: c,
	}, nil
}

// Val returns estimated value
func (b *Base) Val() mat.Vector {
	v := &mat.VecDense{}
	v.CloneFromVec(b.val)

	return v
}

// Cov returns covariance estimate
func (b *Base) Cov() mat.Symmetric {
	cov := mat.NewSymDense(b.cov.SymmetricDim(), nil)
	cov.CopySym(b.cov)

	return cov
}
