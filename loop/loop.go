package loop

import (
	"context"
	"errors"
	"fmt"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/kalman/kf"
	"github.com/milosgajdos/go-pfcontrol/particle"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// DefaultSteps is the default number of steps executed by Run
const DefaultSteps = 100

// Recovery is a policy applied when the filter weights degenerate
type Recovery int

const (
	// Abort stops the loop and returns the filter error
	Abort Recovery = iota
	// Reinitialize replaces the belief with a fresh draw from the prior
	Reinitialize
)

// String implements the Stringer interface.
func (r Recovery) String() string {
	switch r {
	case Abort:
		return "abort"
	case Reinitialize:
		return "reinitialize"
	default:
		return fmt.Sprintf("Recovery(%d)", int(r))
	}
}

// weigher is a filter whose update can be split into weighting and resampling
type weigher interface {
	Weigh(bel filter.Belief, u, y mat.Vector, rng *rand.Rand) (*mat.Dense, []float64, error)
	Resample(x *mat.Dense, w []float64, rng *rand.Rand) (*particle.Belief, error)
}

// PriorFunc draws a fresh belief
type PriorFunc func(rng *rand.Rand) (filter.Belief, error)

// Record is a single step of the control loop
type Record struct {
	// Step is the step number starting from 1
	Step int
	// Truth is the true state after the step
	Truth mat.Vector
	// Observation is the observation of the true state
	Observation mat.Vector
	// Control is the control input applied in the step
	Control mat.Vector
	// Mean is the belief mean after the filter update
	Mean mat.Vector
	// ESS is the effective sample size of the importance weights if the filter
	// exposes them, otherwise of the updated belief if it reports it
	ESS float64
	// Kalman is the Kalman filter estimate; nil unless enabled
	Kalman mat.Vector
	// Recovered is true if the belief was reinitialized in this step
	Recovered bool
}

// Option configures Loop
type Option func(*Loop)

// WithSteps sets the number of steps executed by Run
func WithSteps(n int) Option {
	return func(l *Loop) {
		l.steps = n
	}
}

// WithSink sets the sink receiving particles and the true state after every step
func WithSink(s filter.Sink) Option {
	return func(l *Loop) {
		l.sink = s
	}
}

// WithLogger sets the loop logger
func WithLogger(log *logrus.Entry) Option {
	return func(l *Loop) {
		l.log = log
	}
}

// WithRecovery sets the degenerate weights recovery policy.
// Reinitialize draws the new belief from prior.
func WithRecovery(r Recovery, prior PriorFunc) Option {
	return func(l *Loop) {
		l.recovery = r
		l.prior = prior
	}
}

// WithKalman runs a Kalman filter initialized with ic on the same controls
// and observations as the particle filter. The plant must be a filter.DiscreteModel.
func WithKalman(ic filter.InitCond) Option {
	return func(l *Loop) {
		l.kalmanInit = ic
	}
}

// Loop is a closed loop simulation: the controller drives the plant
// using the mean of the particle belief maintained by the filter.
type Loop struct {
	plant filter.Plant
	f     filter.Filter
	ctl   filter.Controller
	rng   *rand.Rand

	x0 *mat.VecDense
	b0 filter.Belief

	x    *mat.VecDense
	b    filter.Belief
	step int

	kf         *kf.KF
	kalmanInit filter.InitCond
	kx         mat.Vector

	steps    int
	sink     filter.Sink
	log      *logrus.Entry
	recovery Recovery
	prior    PriorFunc
	history  []Record
}

// New creates new control loop and returns it.
// x0 is the initial true state of the plant and prior is the initial belief.
// rng is the only source of randomness used by the loop.
func New(plant filter.Plant, f filter.Filter, ctl filter.Controller, x0 mat.Vector, prior filter.Belief, rng *rand.Rand, opts ...Option) (*Loop, error) {
	if plant == nil || f == nil || ctl == nil {
		return nil, fmt.Errorf("%w: plant, filter and controller must be defined", filter.ErrInvalidArg)
	}

	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", filter.ErrInvalidArg)
	}

	if prior == nil || prior.Len() == 0 {
		return nil, filter.ErrEmptyBelief
	}

	nx, _, _ := plant.Dims()
	if x0 == nil || x0.Len() != nx {
		return nil, fmt.Errorf("%w: invalid initial state", filter.ErrInvalidArg)
	}

	if rows, _ := prior.Particles().Dims(); rows != nx {
		return nil, fmt.Errorf("%w: invalid particle dimension: %d != %d", filter.ErrInvalidArg, rows, nx)
	}

	l := &Loop{
		plant:    plant,
		f:        f,
		ctl:      ctl,
		rng:      rng,
		x0:       mat.VecDenseCopyOf(x0),
		b0:       prior,
		steps:    DefaultSteps,
		log:      logrus.NewEntry(logrus.StandardLogger()),
		recovery: Abort,
	}

	for _, apply := range opts {
		apply(l)
	}

	if l.steps <= 0 {
		return nil, fmt.Errorf("%w: invalid step count: %d", filter.ErrInvalidArg, l.steps)
	}

	switch l.recovery {
	case Abort:
	case Reinitialize:
		if l.prior == nil {
			return nil, fmt.Errorf("%w: reinitialize recovery requires prior", filter.ErrInvalidArg)
		}
	default:
		return nil, fmt.Errorf("%w: unknown recovery: %v", filter.ErrInvalidArg, l.recovery)
	}

	if l.kalmanInit != nil {
		m, ok := plant.(filter.DiscreteModel)
		if !ok {
			return nil, fmt.Errorf("%w: kalman filter requires discrete model", filter.ErrInvalidArg)
		}

		k, err := kf.New(m, l.kalmanInit)
		if err != nil {
			return nil, fmt.Errorf("failed to create kalman filter: %w", err)
		}
		l.kf = k
	}

	if err := l.Reset(); err != nil {
		return nil, err
	}

	return l, nil
}

// Reset restores the initial true state and belief and clears the history.
// It does not rewind the random source.
// It returns error if the Kalman filter covariance fails to be reset.
func (l *Loop) Reset() error {
	if l.kf != nil {
		if err := l.kf.SetCov(l.kalmanInit.Cov()); err != nil {
			return fmt.Errorf("failed to reset kalman filter: %w", err)
		}
		l.kx = l.kalmanInit.State()
	}

	l.x = mat.VecDenseCopyOf(l.x0)
	l.b = l.b0
	l.step = 0
	l.history = nil

	return nil
}

// Step executes a single step of the loop and returns its record:
// it computes the control input from the belief mean, advances the plant,
// observes it and updates the belief.
func (l *Loop) Step(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	mean, err := l.b.Mean()
	if err != nil {
		return Record{}, fmt.Errorf("failed to compute belief mean: %w", err)
	}

	u, err := l.ctl.Control(mean)
	if err != nil {
		return Record{}, fmt.Errorf("failed to compute control: %w", err)
	}

	x, err := l.plant.Propagate(l.x, u, l.rng)
	if err != nil {
		return Record{}, fmt.Errorf("plant propagation failed: %w", err)
	}

	y, err := l.plant.Observe(x, u, l.rng)
	if err != nil {
		return Record{}, fmt.Errorf("plant observation failed: %w", err)
	}

	rec := Record{
		Step:        l.step + 1,
		Truth:       mat.VecDenseCopyOf(x),
		Observation: mat.VecDenseCopyOf(y),
		Control:     mat.VecDenseCopyOf(u),
	}

	b, err := l.update(u, y, &rec)
	if err != nil {
		if !errors.Is(err, filter.ErrDegenerateWeights) || l.recovery != Reinitialize {
			return Record{}, fmt.Errorf("step %d: %w", rec.Step, err)
		}

		l.log.WithFields(logrus.Fields{
			"step":  rec.Step,
			"error": err,
		}).Warn("reinitializing belief")

		b, err = l.prior(l.rng)
		if err != nil {
			return Record{}, fmt.Errorf("failed to reinitialize belief: %w", err)
		}
		rec.Recovered = true
	}

	if rec.Mean, err = b.Mean(); err != nil {
		return Record{}, fmt.Errorf("failed to compute belief mean: %w", err)
	}
	if !(rec.ESS > 0) {
		if e, ok := b.(interface{ ESS() float64 }); ok {
			rec.ESS = e.ESS()
		}
	}

	// the loop state is left untouched if the step fails
	if l.sink != nil {
		if err := l.sink.Frame(b.Particles(), x); err != nil {
			return Record{}, fmt.Errorf("sink failed: %w", err)
		}
	}

	if l.kf != nil {
		est, err := l.kf.Run(l.kx, u, y)
		if err != nil {
			return Record{}, fmt.Errorf("kalman filter failed: %w", err)
		}
		l.kx = est.Val()
		rec.Kalman = mat.VecDenseCopyOf(l.kx)
	}

	l.x = mat.VecDenseCopyOf(x)
	l.b = b
	l.step++
	l.history = append(l.history, rec)

	l.log.WithFields(logrus.Fields{
		"step":  rec.Step,
		"truth": mat.Col(nil, 0, x),
		"obs":   mat.Col(nil, 0, y),
		"u":     mat.Col(nil, 0, u),
		"mean":  mat.Col(nil, 0, rec.Mean),
	}).Debug("step")

	return rec, nil
}

// update updates the belief with control u and observation y.
// If the filter exposes its weights, rec.ESS is set to their effective sample size.
func (l *Loop) update(u, y mat.Vector, rec *Record) (filter.Belief, error) {
	w, ok := l.f.(weigher)
	if !ok {
		return l.f.Update(l.b, u, y, l.rng)
	}

	x, weights, err := w.Weigh(l.b, u, y, l.rng)
	if err != nil {
		return nil, err
	}
	rec.ESS = particle.ESS(weights)

	b, err := w.Resample(x, weights, l.rng)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// Run executes the loop until the configured number of steps
// has been reached or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	recovered := 0
	for l.step < l.steps {
		rec, err := l.Step(ctx)
		if err != nil {
			return err
		}

		if rec.Recovered {
			recovered++
		}
	}

	fields := logrus.Fields{
		"steps":     l.step,
		"recovered": recovered,
	}
	if n := len(l.history); n > 0 {
		fields["truth"] = mat.Col(nil, 0, l.history[n-1].Truth)
		fields["mean"] = mat.Col(nil, 0, l.history[n-1].Mean)
	}
	l.log.WithFields(fields).Info("run finished")

	return nil
}

// Steps returns the number of steps executed so far
func (l *Loop) Steps() int {
	return l.step
}

// State returns a copy of the true plant state
func (l *Loop) State() mat.Vector {
	return mat.VecDenseCopyOf(l.x)
}

// Belief returns current belief
func (l *Loop) Belief() filter.Belief {
	return l.b
}

// History returns records of the executed steps
func (l *Loop) History() []Record {
	h := make([]Record, len(l.history))
	copy(h, l.history)

	return h
}
