package estimate

import (
	"errors"
	"testing"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestNewBaseWithCov(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 1.0})
	cov := mat.NewSymDense(2, []float64{1.0, 0.0, 0.0, 1.0})

	b, err := NewBaseWithCov(state, cov)
	assert.NotNil(b)
	assert.NoError(err)

	b, err = NewBaseWithCov(state, mat.NewSymDense(1, []float64{1.0}))
	assert.Nil(b)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	b, err = NewBaseWithCov(nil, cov)
	assert.Nil(b)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	b, err = NewBaseWithCov(state, nil)
	assert.Nil(b)
	assert.True(errors.Is(err, filter.ErrInvalidArg))
}

func TestValCov(t *testing.T) {
	assert := assert.New(t)

	state := mat.NewVecDense(2, []float64{1.0, 2.0})
	cov := mat.NewSymDense(2, []float64{1.0, 2.0, 2.0, 4.0})

	b, err := NewBaseWithCov(state, cov)
	assert.NotNil(b)
	assert.NoError(err)

	v := b.Val()
	assert.True(mat.Equal(state, v))
	// returned value is a copy
	v.(*mat.VecDense).SetVec(0, 100)
	assert.Equal(1.0, b.Val().AtVec(0))

	c := b.Cov()
	r, cols := c.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < cols; j++ {
			assert.Equal(cov.At(i, j), c.At(i, j))
		}
	}
}
