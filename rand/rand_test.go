package rand

import (
	"errors"
	"math"
	"testing"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestWithCovN(t *testing.T) {
	assert := assert.New(t)

	data := []float64{1.0, 0.0, 0.0, 1.0}
	covTest := mat.NewSymDense(2, data)
	covR, _ := covTest.Dims()
	rng := New(1)

	// n must be positive
	res, err := WithCovN(covTest, -3, rng)
	assert.Error(err)
	assert.True(errors.Is(err, filter.ErrInvalidArg))
	assert.Nil(res)

	res, err = WithCovN(covTest, 1, rng)
	assert.NoError(err)
	assert.NotNil(res)

	nTest := 2
	res, err = WithCovN(covTest, nTest, rng)
	assert.NoError(err)
	assert.NotNil(res)
	r, c := res.Dims()
	assert.Equal(r, covR)
	assert.Equal(c, nTest)

	// same seed, same samples
	s1, _ := WithCovN(covTest, 5, New(3))
	s2, _ := WithCovN(covTest, 5, New(3))
	assert.True(mat.Equal(s1, s2))
}

func TestUniformN(t *testing.T) {
	assert := assert.New(t)

	lo := []float64{-2, -2, -2, -2}
	hi := []float64{2, 2, 2, 2}

	res, err := UniformN(lo, hi, 500, New(1))
	assert.NoError(err)
	r, c := res.Dims()
	assert.Equal(4, r)
	assert.Equal(500, c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			assert.True(res.At(i, j) >= -2 && res.At(i, j) < 2)
		}
	}

	for _, test := range []struct {
		lo, hi []float64
		n      int
	}{
		{lo: lo, hi: hi, n: 0},
		{lo: lo, hi: hi[:2], n: 10},
		{lo: nil, hi: nil, n: 10},
		{lo: []float64{1}, hi: []float64{1}, n: 10},
	} {
		res, err := UniformN(test.lo, test.hi, test.n, New(1))
		assert.Nil(res)
		assert.True(errors.Is(err, filter.ErrInvalidArg))
	}
}

func TestRouletteDrawN(t *testing.T) {
	assert := assert.New(t)
	rng := New(1)

	// p can't be nil or empty
	indices, err := RouletteDrawN(nil, 10, rng)
	assert.Error(err)
	assert.Nil(indices)

	p := []float64{0.1, 0.7, 0.3, 0.4}
	n := 10
	indices, err = RouletteDrawN(p, n, rng)
	assert.NoError(err)
	assert.NotNil(indices)
	assert.Equal(n, len(indices))
	for _, i := range indices {
		assert.True(i >= 0 && i < len(p))
	}

	// zero weights are never drawn
	indices, err = RouletteDrawN([]float64{0, 0, 1, 0}, 100, rng)
	assert.NoError(err)
	for _, i := range indices {
		assert.Equal(2, i)
	}

	// draw frequencies follow the weights
	counts := make([]int, 2)
	indices, err = RouletteDrawN([]float64{1, 3}, 40000, New(5))
	assert.NoError(err)
	for _, i := range indices {
		counts[i]++
	}
	assert.InDelta(0.25, float64(counts[0])/40000, 0.01)
}

func TestSystematicDrawN(t *testing.T) {
	assert := assert.New(t)
	rng := New(1)

	indices, err := SystematicDrawN(nil, 10, rng)
	assert.Error(err)
	assert.Nil(indices)

	// uniform weights select every index exactly once
	p := []float64{1, 1, 1, 1, 1}
	indices, err = SystematicDrawN(p, len(p), rng)
	assert.NoError(err)
	assert.Equal([]int{0, 1, 2, 3, 4}, indices)

	// counts differ from expectation by less than one
	p = []float64{0.1, 0.2, 0.3, 0.4}
	n := 100
	indices, err = SystematicDrawN(p, n, rng)
	assert.NoError(err)
	counts := make([]int, len(p))
	for _, i := range indices {
		counts[i]++
	}
	for i := range p {
		assert.InDelta(p[i]*float64(n), float64(counts[i]), 1.0)
	}

	indices, err = SystematicDrawN([]float64{0, 1, 0}, 7, rng)
	assert.NoError(err)
	for _, i := range indices {
		assert.Equal(1, i)
	}
}

func TestInvalidWeights(t *testing.T) {
	assert := assert.New(t)

	for _, p := range [][]float64{
		{0, 0, 0},
		{1, -1},
		{1, math.NaN()},
	} {
		_, err := RouletteDrawN(p, 3, New(1))
		assert.True(errors.Is(err, filter.ErrInvalidArg))
		_, err = SystematicDrawN(p, 3, New(1))
		assert.True(errors.Is(err, filter.ErrInvalidArg))
	}
}

func TestSplit(t *testing.T) {
	assert := assert.New(t)

	a := Split(New(9), 3)
	b := Split(New(9), 3)
	assert.Len(a, 3)
	for i := range a {
		assert.Equal(a[i].Uint64(), b[i].Uint64())
	}
	assert.NotEqual(a[0].Uint64(), a[1].Uint64())
}
