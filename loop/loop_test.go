package loop

import (
	"context"
	"errors"
	"math"
	"testing"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/control"
	"github.com/milosgajdos/go-pfcontrol/noise"
	"github.com/milosgajdos/go-pfcontrol/particle"
	"github.com/milosgajdos/go-pfcontrol/particle/bf"
	"github.com/milosgajdos/go-pfcontrol/rand"
	"github.com/milosgajdos/go-pfcontrol/sim"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const particles = 1000

var (
	lo = []float64{-2, -2, -2, -2}
	hi = []float64{2, 2, 2, 2}
	x0 = mat.NewVecDense(4, []float64{0, 1, 1, 0})
)

// plant returns the reference double integrator: dt = 0.1, W = 0.01*I, V = I.
func plant(t *testing.T) *sim.Discrete {
	w, err := noise.NewGaussian(make([]float64, 4), diag(4, 0.01))
	require.NoError(t, err)

	v, err := noise.NewGaussian(make([]float64, 2), diag(2, 1))
	require.NoError(t, err)

	m, err := sim.NewDoubleIntegrator(0.1, w, v)
	require.NoError(t, err)

	return m
}

func diag(n int, v float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, v)
	}

	return s
}

func uniformPrior(rng *xrand.Rand) (filter.Belief, error) {
	return particle.NewUniform(lo, hi, particles, rng)
}

func nullLogger() (*logrus.Entry, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	return logrus.NewEntry(log), hook
}

// scenario builds the reference loop with gain row k.
func scenario(t *testing.T, seed uint64, k []float64, opts ...Option) *Loop {
	m := plant(t)

	f, err := bf.New(m, particles)
	require.NoError(t, err)

	ctl, err := control.NewLinear(mat.NewDense(1, 4, k), 4, 2)
	require.NoError(t, err)

	rng := rand.New(seed)
	prior, err := uniformPrior(rng)
	require.NoError(t, err)

	log, _ := nullLogger()
	opts = append([]Option{WithLogger(log)}, opts...)

	l, err := New(m, f, ctl, x0, prior, rng, opts...)
	require.NoError(t, err)

	return l
}

// posNorm returns average norm of the position part of the belief means.
func posNorm(h []Record) float64 {
	var sum float64
	for _, r := range h {
		sum += math.Hypot(r.Mean.AtVec(0), r.Mean.AtVec(1))
	}

	return sum / float64(len(h))
}

type frames struct {
	n      int
	stop   int
	cancel context.CancelFunc
}

func (f *frames) Frame(particles mat.Matrix, truth mat.Vector) error {
	f.n++
	if f.cancel != nil && f.n == f.stop {
		f.cancel()
	}

	return nil
}

// obsPlant is a plant built from plain functions which observes the position.
type obsPlant struct {
	*sim.Func
}

func (p obsPlant) Observe(x, u mat.Vector, rng *xrand.Rand) (mat.Vector, error) {
	return mat.NewVecDense(2, []float64{x.AtVec(0), x.AtVec(1)}), nil
}

func funcPlant(t *testing.T) filter.Plant {
	prop := func(x, u mat.Vector, rng *xrand.Rand) (mat.Vector, error) {
		return mat.VecDenseCopyOf(x), nil
	}
	like := func(xPrev, u, xNew, y mat.Vector) (float64, error) {
		return 1, nil
	}
	m, err := sim.NewFunc(4, 2, 2, prop, like)
	require.NoError(t, err)

	return obsPlant{m}
}

// updateOnly hides everything but Update of the wrapped filter.
type updateOnly struct {
	f filter.Filter
}

func (u updateOnly) Update(b filter.Belief, in, y mat.Vector, rng *xrand.Rand) (filter.Belief, error) {
	return u.f.Update(b, in, y, rng)
}

type failSink struct{}

func (failSink) Frame(particles mat.Matrix, truth mat.Vector) error {
	return errors.New("disk full")
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	m := plant(t)
	f, err := bf.New(m, particles)
	require.NoError(t, err)
	ctl, err := control.NewLinear(mat.NewDense(1, 4, []float64{-1, -1, 0, 0}), 4, 2)
	require.NoError(t, err)
	rng := rand.New(1)
	prior, err := uniformPrior(rng)
	require.NoError(t, err)

	l, err := New(m, f, ctl, x0, prior, rng)
	assert.NoError(err)
	assert.NotNil(l)
	assert.Equal(0, l.Steps())
	assert.True(mat.Equal(x0, l.State()))

	l, err = New(nil, f, ctl, x0, prior, rng)
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, x0, prior, nil)
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, mat.NewVecDense(2, nil), prior, rng)
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, x0, nil, rng)
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrEmptyBelief))

	small, err := particle.NewUniform([]float64{0}, []float64{1}, 10, rng)
	require.NoError(t, err)
	l, err = New(m, f, ctl, x0, small, rng)
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, x0, prior, rng, WithSteps(0))
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, x0, prior, rng, WithRecovery(Reinitialize, nil))
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(m, f, ctl, x0, prior, rng, WithRecovery(Recovery(10), uniformPrior))
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	// kalman initial covariance does not match the state dimension
	l, err = New(m, f, ctl, x0, prior, rng, WithKalman(sim.NewInitCond(x0, diag(2, 1))))
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	// kalman filter requires discrete model
	l, err = New(funcPlant(t), f, ctl, x0, prior, rng, WithKalman(sim.NewInitCond(x0, diag(4, 1))))
	assert.Nil(l)
	assert.True(errors.Is(err, filter.ErrInvalidArg))

	l, err = New(funcPlant(t), f, ctl, x0, prior, rng)
	assert.NoError(err)
	assert.NotNil(l)
}

func TestRecoveryString(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("abort", Abort.String())
	assert.Equal("reinitialize", Reinitialize.String())
	assert.Equal("Recovery(5)", Recovery(5).String())
}

func TestRunClosedLoop(t *testing.T) {
	assert := assert.New(t)

	var closed, open float64
	for _, seed := range []uint64{1, 2, 3} {
		sink := &frames{}
		l := scenario(t, seed, []float64{-1, -1, 0, 0}, WithSink(sink))
		require.NoError(t, l.Run(context.Background()))

		h := l.History()
		assert.Len(h, DefaultSteps)
		assert.Equal(DefaultSteps, l.Steps())
		assert.Equal(DefaultSteps, sink.n)

		var trackErr float64
		for i, r := range h {
			assert.Equal(i+1, r.Step)
			assert.False(r.Recovered)
			assert.Nil(r.Kalman)
			assert.True(r.ESS > 0 && r.ESS <= particles+1e-6)
			for j := 0; j < 4; j++ {
				assert.False(math.IsNaN(r.Mean.AtVec(j)))
				assert.Less(math.Abs(r.Truth.AtVec(j)), 50.0)
			}
			trackErr += math.Hypot(r.Mean.AtVec(0)-r.Truth.AtVec(0), r.Mean.AtVec(1)-r.Truth.AtVec(1))
		}
		assert.Less(trackErr/float64(len(h)), 1.5)

		b := l.Belief()
		assert.Equal(particles, b.Len())
		for i := 0; i < b.Len(); i++ {
			assert.InDelta(1.0/particles, b.Weights().AtVec(i), 1e-12)
		}
		closed += posNorm(h)

		ol := scenario(t, seed, []float64{0, 0, 0, 0})
		require.NoError(t, ol.Run(context.Background()))
		open += posNorm(ol.History())
	}

	assert.Less(closed, open)
}

func TestRunDeterministic(t *testing.T) {
	assert := assert.New(t)

	k := []float64{-1, -1, 0, 0}
	l1 := scenario(t, 42, k, WithSteps(20))
	l2 := scenario(t, 42, k, WithSteps(20))

	require.NoError(t, l1.Run(context.Background()))
	require.NoError(t, l2.Run(context.Background()))

	h1, h2 := l1.History(), l2.History()
	require.Len(t, h1, 20)
	require.Len(t, h2, 20)
	for i := range h1 {
		assert.True(mat.Equal(h1[i].Truth, h2[i].Truth))
		assert.True(mat.Equal(h1[i].Mean, h2[i].Mean))
		assert.Equal(h1[i].ESS, h2[i].ESS)
	}
	assert.True(mat.Equal(l1.Belief().Particles(), l2.Belief().Particles()))
}

func TestRunCancel(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := scenario(t, 1, []float64{-1, -1, 0, 0})
	err := l.Run(ctx)
	assert.True(errors.Is(err, context.Canceled))
	assert.Equal(0, l.Steps())

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	sink := &frames{stop: 5, cancel: cancel}
	l = scenario(t, 1, []float64{-1, -1, 0, 0}, WithSink(sink))
	err = l.Run(ctx)
	assert.True(errors.Is(err, context.Canceled))
	assert.Equal(5, l.Steps())
	assert.Len(l.History(), 5)
}

func TestStepSinkError(t *testing.T) {
	assert := assert.New(t)

	l := scenario(t, 1, []float64{-1, -1, 0, 0}, WithSink(failSink{}))
	prior := l.Belief()

	_, err := l.Step(context.Background())
	assert.Error(err)

	// failed step is not applied
	assert.Equal(0, l.Steps())
	assert.Empty(l.History())
	assert.True(mat.Equal(x0, l.State()))
	assert.True(mat.Equal(prior.Particles(), l.Belief().Particles()))
}

func TestStepESS(t *testing.T) {
	assert := assert.New(t)

	m := plant(t)
	f, err := bf.New(m, particles)
	require.NoError(t, err)
	ctl, err := control.NewLinear(mat.NewDense(1, 4, []float64{-1, -1, 0, 0}), 4, 2)
	require.NoError(t, err)
	rng := rand.New(5)
	prior, err := uniformPrior(rng)
	require.NoError(t, err)
	log, _ := nullLogger()

	// importance weights of the bootstrap filter are not uniform
	l, err := New(m, f, ctl, x0, prior, rng, WithLogger(log))
	require.NoError(t, err)
	rec, err := l.Step(context.Background())
	require.NoError(t, err)
	assert.Less(rec.ESS, float64(particles))
	assert.Greater(rec.ESS, 1.0)

	// without weights the resampled belief reports its own sample size
	l, err = New(m, updateOnly{f}, ctl, x0, prior, rng, WithLogger(log))
	require.NoError(t, err)
	rec, err = l.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(float64(particles), rec.ESS)
}

func TestReset(t *testing.T) {
	assert := assert.New(t)

	l := scenario(t, 7, []float64{-1, -1, 0, 0}, WithSteps(10))
	prior := l.Belief()
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(10, l.Steps())
	assert.False(mat.Equal(x0, l.State()))

	require.NoError(t, l.Reset())
	assert.Equal(0, l.Steps())
	assert.Empty(l.History())
	assert.True(mat.Equal(x0, l.State()))
	assert.True(mat.Equal(prior.Particles(), l.Belief().Particles()))

	// loop can run again after reset
	rec, err := l.Step(context.Background())
	assert.NoError(err)
	assert.Equal(1, rec.Step)
}

func TestDegenerateRecovery(t *testing.T) {
	assert := assert.New(t)

	m := plant(t)

	// filter model which no particle can ever explain
	prop := func(x, u mat.Vector, rng *xrand.Rand) (mat.Vector, error) {
		return mat.VecDenseCopyOf(x), nil
	}
	like := func(xPrev, u, xNew, y mat.Vector) (float64, error) {
		return 0, nil
	}
	fm, err := sim.NewFunc(4, 2, 2, prop, like)
	require.NoError(t, err)

	f, err := bf.New(fm, particles)
	require.NoError(t, err)

	ctl, err := control.NewLinear(mat.NewDense(1, 4, []float64{-1, -1, 0, 0}), 4, 2)
	require.NoError(t, err)

	rng := rand.New(3)
	prior, err := uniformPrior(rng)
	require.NoError(t, err)

	// abort
	log, hook := nullLogger()
	l, err := New(m, f, ctl, x0, prior, rng, WithLogger(log))
	require.NoError(t, err)

	_, err = l.Step(context.Background())
	assert.True(errors.Is(err, filter.ErrDegenerateWeights))
	assert.Equal(0, l.Steps())
	assert.Empty(hook.AllEntries())

	err = l.Run(context.Background())
	assert.True(errors.Is(err, filter.ErrDegenerateWeights))

	// reinitialize
	log, hook = nullLogger()
	l, err = New(m, f, ctl, x0, prior, rng, WithLogger(log), WithSteps(3), WithRecovery(Reinitialize, uniformPrior))
	require.NoError(t, err)

	assert.NoError(l.Run(context.Background()))
	assert.Equal(3, l.Steps())
	for _, r := range l.History() {
		assert.True(r.Recovered)
	}
	assert.Equal(particles, l.Belief().Len())

	warn := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warn++
		}
	}
	assert.Equal(3, warn)
	assert.Equal(logrus.InfoLevel, hook.LastEntry().Level)
	assert.Equal(3, hook.LastEntry().Data["recovered"])
}

func TestKalmanBaseline(t *testing.T) {
	assert := assert.New(t)

	m := plant(t)

	f, err := bf.New(m, particles)
	require.NoError(t, err)

	ctl, err := control.NewLinear(mat.NewDense(1, 4, []float64{-1, -1, 0, 0}), 4, 2)
	require.NoError(t, err)

	// both filters start from the same gaussian prior
	ic := sim.NewInitCond(mat.NewVecDense(4, []float64{0, 0.5, 0.5, 0}), diag(4, 1))

	rng := rand.New(11)
	prior, err := particle.NewGaussian(ic, particles, rng)
	require.NoError(t, err)

	log, _ := nullLogger()
	l, err := New(m, f, ctl, x0, prior, rng, WithLogger(log), WithKalman(ic))
	require.NoError(t, err)

	require.NoError(t, l.Run(context.Background()))
	assert.False(mat.Equal(ic.Cov(), l.kf.Cov()))

	var dist float64
	h := l.History()
	for _, r := range h {
		require.NotNil(t, r.Kalman)
		dist += math.Hypot(r.Mean.AtVec(0)-r.Kalman.AtVec(0), r.Mean.AtVec(1)-r.Kalman.AtVec(1))
	}
	assert.Less(dist/float64(len(h)), 0.5)

	// reset restores the kalman filter
	require.NoError(t, l.Reset())
	assert.True(mat.Equal(ic.Cov(), l.kf.Cov()))
	assert.True(mat.Equal(ic.State(), l.kx))

	rec, err := l.Step(context.Background())
	assert.NoError(err)
	assert.NotNil(rec.Kalman)
}
