package noise

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

func TestNewGaussian(t *testing.T) {
	assert := assert.New(t)
	for _, test := range []struct {
		mean []float64
		cov  *mat.SymDense
		ok   bool
	}{
		{
			mean: []float64{2, 3},
			cov:  mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1}),
			ok:   true,
		},
		{
			mean: []float64{2},
			cov:  mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1}),
			ok:   false,
		},
		{
			mean: []float64{0, 0},
			cov:  mat.NewSymDense(2, []float64{1, 2, 2, 1}),
			ok:   false,
		},
	} {
		g, err := NewGaussian(test.mean, test.cov)
		if test.ok {
			assert.NotNil(g)
			assert.NoError(err)
			continue
		}
		assert.Nil(g)
		assert.Error(err)
	}
}

func TestMeanCov(t *testing.T) {
	assert := assert.New(t)

	mean := []float64{2, 3}
	cov := mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1})

	g, err := NewGaussian(mean, cov)
	assert.NotNil(g)
	assert.NoError(err)

	gCov := g.Cov()
	assert.Equal(cov.SymmetricDim(), gCov.SymmetricDim())
	assert.True(mat.Equal(cov, gCov))

	gMean := g.Mean()
	assert.EqualValues(mean, gMean)

	// getters return copies
	gMean[0] = 100
	assert.EqualValues(mean, g.Mean())
}

func TestSample(t *testing.T) {
	assert := assert.New(t)

	mean := []float64{2, 3}
	cov := mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1})

	g, err := NewGaussian(mean, cov)
	assert.NoError(err)

	sample := g.Sample(rand.New(rand.NewSource(1)))
	assert.Equal(len(mean), sample.Len())

	// the same seed yields the same sample
	s1 := g.Sample(rand.New(rand.NewSource(42)))
	s2 := g.Sample(rand.New(rand.NewSource(42)))
	assert.True(mat.Equal(s1, s2))

	// sample mean converges to the noise mean
	rng := rand.New(rand.NewSource(7))
	n := 20000
	sum := make([]float64, len(mean))
	for i := 0; i < n; i++ {
		s := g.Sample(rng)
		for j := range sum {
			sum[j] += s.AtVec(j)
		}
	}
	for j := range sum {
		assert.InDelta(mean[j], sum[j]/float64(n), 0.05)
	}
}

func TestLogProb(t *testing.T) {
	assert := assert.New(t)

	g, err := NewGaussian([]float64{0}, mat.NewSymDense(1, []float64{1}))
	assert.NoError(err)

	// standard normal density in 0
	assert.InDelta(-0.5*math.Log(2*math.Pi), g.LogProb([]float64{0}), 1e-9)
	assert.True(g.LogProb([]float64{0}) > g.LogProb([]float64{1}))
}

func TestString(t *testing.T) {
	assert := assert.New(t)

	str := `Gaussian{
Mean=[2 3]
Cov=⎡  1  0.1⎤
    ⎣0.1    1⎦
}`
	mean := []float64{2, 3}
	cov := mat.NewSymDense(2, []float64{1, 0.1, 0.1, 1})

	g, err := NewGaussian(mean, cov)
	assert.NotNil(g)
	assert.NoError(err)
	assert.Equal(str, g.String())
}
