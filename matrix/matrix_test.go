package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
)

func TestRowSums(t *testing.T) {
	assert := assert.New(t)

	m := mat.NewDense(3, 2, []float64{1.2, 3.4, 4.5, 6.7, 8.9, 10.0})

	sums := RowSums(m)
	assert.InDeltaSlice([]float64{4.6, 11.2, 18.9}, sums, 0.001)

	// should panic
	assert.Panics(func() { RowSums(nil) })
}

func TestWeightedColMeanCov(t *testing.T) {
	assert := assert.New(t)
	delta := 1e-9

	// two particles stored in columns
	m := mat.NewDense(2, 2, []float64{
		1, 3,
		2, 6,
	})

	// uniform weights yield arithmetic mean
	mean := WeightedColMean(m, []float64{0.5, 0.5})
	assert.InDeltaSlice([]float64{2, 4}, mean.RawVector().Data, delta)

	cov := WeightedColCov(m, []float64{0.5, 0.5})
	assert.InDelta(1.0, cov.At(0, 0), delta)
	assert.InDelta(2.0, cov.At(0, 1), delta)
	assert.InDelta(4.0, cov.At(1, 1), delta)

	// all the weight on a single column
	mean = WeightedColMean(m, []float64{0, 1})
	assert.InDeltaSlice([]float64{3, 6}, mean.RawVector().Data, delta)
	cov = WeightedColCov(m, []float64{0, 1})
	assert.InDelta(0.0, mat.Sum(cov), delta)

	assert.Panics(func() { WeightedColMean(m, []float64{1}) })
}

func TestEqualWeightColMeanCov(t *testing.T) {
	assert := assert.New(t)
	delta := 1e-9

	m := mat.NewDense(2, 4, []float64{
		1, 3, 5, 7,
		-2, 0, 2, 4,
	})
	w := []float64{0.25, 0.25, 0.25, 0.25}

	mean := WeightedColMean(m, nil)
	assert.InDeltaSlice([]float64{4, 1}, mean.RawVector().Data, delta)
	assert.InDeltaSlice(WeightedColMean(m, w).RawVector().Data, mean.RawVector().Data, delta)

	cov := WeightedColCov(m, nil)
	assert.True(mat.EqualApprox(WeightedColCov(m, w), cov, delta))
	assert.InDelta(5.0, cov.At(0, 0), delta)
}
