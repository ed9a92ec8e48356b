package matrix

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RowSums returns the sum of every row of m.
// The sums of particle matrix rows scaled by 1/N are the mean of equally weighted particles.
// It panics if m is nil.
func RowSums(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	sums := make([]float64, rows)
	for r := range sums {
		sums[r] = floats.Sum(m.RawRowView(r))
	}

	return sums
}

// WeightedColMean returns the weighted mean of m columns.
// Weights in w are expected to sum up to 1. Nil w means equal weights.
// It panics if m is nil or if w is not nil and len(w) differs from the number of m columns.
func WeightedColMean(m *mat.Dense, w []float64) *mat.VecDense {
	rows, cols := m.Dims()
	if w == nil {
		sums := RowSums(m)
		floats.Scale(1/float64(cols), sums)
		return mat.NewVecDense(rows, sums)
	}

	if len(w) != cols {
		panic(mat.ErrShape)
	}

	mean := mat.NewVecDense(rows, nil)
	mean.MulVec(m, mat.NewVecDense(cols, w))

	return mean
}

// WeightedColCov returns the weighted covariance of m columns around their weighted mean.
// Weights in w are expected to sum up to 1; the covariance is not bias corrected.
// Nil w means equal weights.
// It panics if m is nil or if w is not nil and len(w) differs from the number of m columns.
func WeightedColCov(m *mat.Dense, w []float64) *mat.SymDense {
	rows, cols := m.Dims()
	mean := WeightedColMean(m, w)

	cov := mat.NewSymDense(rows, nil)
	diff := mat.NewVecDense(rows, nil)
	for c := 0; c < cols; c++ {
		wc := 1 / float64(cols)
		if w != nil {
			wc = w[c]
		}
		if wc == 0 {
			continue
		}
		diff.SubVec(m.ColView(c), mean)
		cov.SymRankOne(cov, wc, diff)
	}

	return cov
}
