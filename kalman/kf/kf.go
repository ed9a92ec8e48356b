package kf

import (
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/estimate"
	"gonum.org/v1/gonum/mat"
)

// KF is Kalman Filter.
// It is the optimal estimator for linear models with gaussian noise
// and serves as a reference for particle filter estimates.
type KF struct {
	// m is KF system model
	m filter.DiscreteModel
	// q is state noise covariance a.k.a. process noise covariance
	q mat.Symmetric
	// r is output noise covariance a.k.a. measurement noise covariance
	r mat.Symmetric
	// p is the KF covariance matrix
	p *mat.SymDense
	// pNext is the KF predicted covariance matrix
	pNext *mat.SymDense
	// inn is innovation vector
	inn *mat.VecDense
	// k is Kalman gain
	k *mat.Dense
}

// New creates new KF and returns it.
// It accepts the following parameters:
//   - m:      dynamical system model; its state and output noise are used as KF noise
//   - init:   initial condition of the filter
//
// It returns error if either of the following conditions is met:
//   - invalid model is given: model dimensions must be positive integers
//   - initial condition covariance does not match the model state dimension
func New(m filter.DiscreteModel, init filter.InitCond) (*KF, error) {
	// size of the input and output vectors
	nx, _, ny := m.Dims()
	if nx <= 0 || ny <= 0 {
		return nil, fmt.Errorf("%w: invalid model dimensions: [%d x %d]", filter.ErrInvalidArg, nx, ny)
	}

	if init.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("%w: invalid initial covariance dimension: %d", filter.ErrInvalidArg, init.Cov().SymmetricDim())
	}

	rows, cols := m.SystemMatrix().Dims()
	if rows != nx || cols != nx {
		return nil, fmt.Errorf("%w: invalid propagation matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
	}

	rows, cols = m.OutputMatrix().Dims()
	if rows != ny || cols != nx {
		return nil, fmt.Errorf("%w: invalid observation matrix dimensions: [%d x %d]", filter.ErrInvalidArg, rows, cols)
	}

	// initialize covariance matrix to initial condition covariance
	p := mat.NewSymDense(nx, nil)
	p.CopySym(init.Cov())

	return &KF{
		m:     m,
		q:     m.StateNoise().Cov(),
		r:     m.OutputNoise().Cov(),
		p:     p,
		pNext: mat.NewSymDense(nx, nil),
		inn:   mat.NewVecDense(ny, nil),
		k:     mat.NewDense(nx, ny, nil),
	}, nil
}

// Predict calculates the next system state given the state x and input u and returns its estimate.
// It returns error if x or u dimensions do not match the model.
func (k *KF) Predict(x, u mat.Vector) (filter.Estimate, error) {
	xNext, err := affine(k.m.SystemMatrix(), x, k.m.ControlMatrix(), u)
	if err != nil {
		return nil, fmt.Errorf("system state propagation failed: %w", err)
	}

	// P = A*P*A' + Q
	a := k.m.SystemMatrix()
	cov := &mat.Dense{}
	cov.Mul(a, k.p)
	cov.Mul(cov, a.T())
	cov.Add(cov, k.q)

	// update KF predicted covariance matrix
	n := k.pNext.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			k.pNext.SetSym(i, j, cov.At(i, j))
		}
	}

	return estimate.NewBaseWithCov(xNext, k.pNext)
}

// Update corrects state x using the measurement ym, given control input u and returns corrected estimate.
// It must be called after Predict. It returns error if either invalid state or measurement was supplied
// or if the innovation covariance can't be inverted.
func (k *KF) Update(x, u, ym mat.Vector) (filter.Estimate, error) {
	nx, _, ny := k.m.Dims()

	if ym == nil || ym.Len() != ny {
		return nil, fmt.Errorf("%w: invalid measurement supplied", filter.ErrInvalidArg)
	}

	// observe noiseless system output
	yNext, err := affine(k.m.OutputMatrix(), x, k.m.FeedForwardMatrix(), u)
	if err != nil {
		return nil, fmt.Errorf("failed to observe system output: %w", err)
	}

	c := k.m.OutputMatrix()
	pxy := mat.NewDense(nx, ny, nil)
	pyy := mat.NewDense(ny, ny, nil)

	// P*H'
	pxy.Mul(k.pNext, c.T())

	// Note: pxy = P * H' so we reuse the result here
	// H*P*H' + R
	pyy.Mul(c, pxy)
	pyy.Add(pyy, k.r)

	// calculate Kalman gain
	pyyInv := &mat.Dense{}
	if err := pyyInv.Inverse(pyy); err != nil {
		return nil, fmt.Errorf("failed to calculate Pyy inverse: %w", err)
	}
	gain := &mat.Dense{}
	gain.Mul(pxy, pyyInv)

	// innovation vector
	inn := &mat.VecDense{}
	inn.SubVec(ym, yNext)

	// update state x
	xCorr := &mat.VecDense{}
	xCorr.MulVec(gain, inn)
	xCorr.AddVec(x, xCorr)

	// Joseph form update
	eye := mat.NewDiagDense(nx, nil)
	for i := 0; i < nx; i++ {
		eye.SetDiag(i, 1.0)
	}
	a := &mat.Dense{}
	// K*H
	a.Mul(gain, c)
	// eye - K*H
	a.Sub(eye, a)

	// K*R*K'
	kr := &mat.Dense{}
	kr.Mul(gain, k.r)
	pkrk := &mat.Dense{}
	pkrk.Mul(kr, gain.T())

	pCorr := &mat.Dense{}
	pCorr.Mul(a, k.pNext)
	pCorr.Mul(pCorr, a.T())
	pCorr.Add(pCorr, pkrk)

	// update KF innovation vector and gain
	k.inn.CopyVec(inn)
	k.k.Copy(gain)
	// update KF covariance matrix
	for i := 0; i < nx; i++ {
		for j := i; j < nx; j++ {
			k.p.SetSym(i, j, pCorr.At(i, j))
		}
	}

	return estimate.NewBaseWithCov(xCorr, k.p)
}

// Run runs one step of KF for given state x, input u and measurement z.
// It corrects system state x using measurement z and returns new system estimate.
// It returns error if it either fails to propagate or correct state x.
func (k *KF) Run(x, u, z mat.Vector) (filter.Estimate, error) {
	pred, err := k.Predict(x, u)
	if err != nil {
		return nil, err
	}

	est, err := k.Update(pred.Val(), u, z)
	if err != nil {
		return nil, err
	}

	return est, nil
}

// Model returns KF model
func (k *KF) Model() filter.DiscreteModel {
	return k.m
}

// Cov returns KF covariance
func (k *KF) Cov() mat.Symmetric {
	cov := mat.NewSymDense(k.p.SymmetricDim(), nil)
	cov.CopySym(k.p)

	return cov
}

// SetCov sets KF covariance matrix to cov.
// It returns error if either cov is nil or its dimensions are not the same as KF covariance dimensions.
func (k *KF) SetCov(cov mat.Symmetric) error {
	if cov == nil {
		return fmt.Errorf("%w: invalid covariance matrix: %v", filter.ErrInvalidArg, cov)
	}

	if cov.SymmetricDim() != k.p.SymmetricDim() {
		return fmt.Errorf("%w: invalid covariance matrix dims: [%d x %d]", filter.ErrInvalidArg, cov.SymmetricDim(), cov.SymmetricDim())
	}

	k.p.CopySym(cov)

	return nil
}

// Gain returns Kalman gain
func (k *KF) Gain() mat.Matrix {
	gain := &mat.Dense{}
	gain.CloneFrom(k.k)

	return gain
}

// affine returns m*x + n*u; n and u may be nil.
func affine(m mat.Matrix, x mat.Vector, n mat.Matrix, u mat.Vector) (*mat.VecDense, error) {
	_, cols := m.Dims()
	if x == nil || x.Len() != cols {
		return nil, fmt.Errorf("%w: invalid state vector", filter.ErrInvalidArg)
	}

	out := &mat.VecDense{}
	out.MulVec(m, x)

	if n == nil || u == nil {
		return out, nil
	}

	if _, nu := n.Dims(); u.Len() != nu {
		return nil, fmt.Errorf("%w: invalid input vector length: %d != %d", filter.ErrInvalidArg, u.Len(), nu)
	}

	outU := &mat.VecDense{}
	outU.MulVec(n, u)
	out.AddVec(out, outU)

	return out, nil
}
