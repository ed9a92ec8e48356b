package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	filter "github.com/milosgajdos/go-pfcontrol"
	"github.com/milosgajdos/go-pfcontrol/control"
	"github.com/milosgajdos/go-pfcontrol/loop"
	"github.com/milosgajdos/go-pfcontrol/noise"
	"github.com/milosgajdos/go-pfcontrol/particle"
	"github.com/milosgajdos/go-pfcontrol/particle/bf"
	"github.com/milosgajdos/go-pfcontrol/sim"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const (
	// StateDim is the dimension of the double integrator state
	StateDim = 4
	// InputDim is the dimension of the double integrator input
	InputDim = 2
	// OutputDim is the dimension of the double integrator output
	OutputDim = 2
)

// Cov is a covariance matrix given either by its diagonal or in full.
// Empty Cov means no noise.
type Cov struct {
	Diag []float64   `yaml:"diag,omitempty"`
	Full [][]float64 `yaml:"full,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
// Decoded covariance replaces any previously set value.
func (c *Cov) UnmarshalYAML(value *yaml.Node) error {
	type plain Cov
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*c = Cov(p)

	return nil
}

// Sym returns n x n covariance matrix or nil if c is empty.
func (c Cov) Sym(n int) (*mat.SymDense, error) {
	switch {
	case c.Diag != nil && c.Full != nil:
		return nil, fmt.Errorf("%w: both diagonal and full covariance given", filter.ErrInvalidArg)
	case c.Diag != nil:
		if len(c.Diag) != n {
			return nil, fmt.Errorf("%w: covariance diagonal length %d != %d", filter.ErrInvalidArg, len(c.Diag), n)
		}
		cov := mat.NewSymDense(n, nil)
		for i, v := range c.Diag {
			if v < 0 {
				return nil, fmt.Errorf("%w: negative variance: %v", filter.ErrInvalidArg, v)
			}
			cov.SetSym(i, i, v)
		}
		return cov, nil
	case c.Full != nil:
		if len(c.Full) != n {
			return nil, fmt.Errorf("%w: covariance rows %d != %d", filter.ErrInvalidArg, len(c.Full), n)
		}
		cov := mat.NewSymDense(n, nil)
		for i, row := range c.Full {
			if len(row) != n {
				return nil, fmt.Errorf("%w: covariance row %d length %d != %d", filter.ErrInvalidArg, i, len(row), n)
			}
			for j := i; j < n; j++ {
				if row[j] != c.Full[j][i] {
					return nil, fmt.Errorf("%w: covariance is not symmetric", filter.ErrInvalidArg)
				}
				cov.SetSym(i, j, row[j])
			}
		}
		return cov, nil
	default:
		return nil, nil
	}
}

// Box is an axis aligned box [Lo, Hi)
type Box struct {
	Lo []float64 `yaml:"lo"`
	Hi []float64 `yaml:"hi"`
}

// Output configures simulation outputs
type Output struct {
	// GIF is the path of the particle animation; empty disables it
	GIF string `yaml:"gif"`
	// PNG is the path of the trajectory plot; empty disables it
	PNG string `yaml:"png"`
	// Delay is the delay between animation frames in 100ths of a second
	Delay int `yaml:"delay"`
	// Size is the animation frame width and height in inches
	Size float64 `yaml:"size"`
	// DPI is the animation frame resolution
	DPI int `yaml:"dpi"`
}

// Scenario is a closed loop simulation of a planar double integrator
type Scenario struct {
	// DT is the time step
	DT float64 `yaml:"dt"`
	// W is the process noise covariance
	W Cov `yaml:"w"`
	// V is the observation noise covariance
	V Cov `yaml:"v"`
	// Gain is the feedback gain: a single row of length 4 or a 2 x 4 matrix
	Gain [][]float64 `yaml:"gain"`
	// Particles is the number of filter particles
	Particles int `yaml:"particles"`
	// Steps is the number of simulation steps
	Steps int `yaml:"steps"`
	// Seed seeds the random source
	Seed uint64 `yaml:"seed"`
	// X0 is the initial true state
	X0 []float64 `yaml:"x0"`
	// Prior is the box the initial particles are drawn from
	Prior Box `yaml:"prior"`
	// Resampler is either multinomial or systematic
	Resampler string `yaml:"resampler"`
	// Workers is the number of propagation workers
	Workers int `yaml:"workers"`
	// Regularization enables regularized resampling with the given alpha;
	// non-positive alpha selects the optimal gaussian kernel value
	Regularization *float64 `yaml:"regularization,omitempty"`
	// Recovery is either abort or reinitialize
	Recovery string `yaml:"recovery"`
	// Kalman runs a Kalman filter baseline
	Kalman bool `yaml:"kalman"`
	// Output configures outputs
	Output Output `yaml:"output"`
}

// Default returns the reference scenario: a double integrator steered to the origin by position feedback
func Default() *Scenario {
	return &Scenario{
		DT:        0.1,
		W:         Cov{Diag: []float64{0.01, 0.01, 0.01, 0.01}},
		V:         Cov{Diag: []float64{1, 1}},
		Gain:      [][]float64{{-1, -1, 0, 0}},
		Particles: 1000,
		Steps:     100,
		Seed:      1,
		X0:        []float64{0, 1, 1, 0},
		Prior: Box{
			Lo: []float64{-2, -2, -2, -2},
			Hi: []float64{2, 2, 2, 2},
		},
		Resampler: bf.Multinomial.String(),
		Workers:   1,
		Recovery:  loop.Abort.String(),
		Output: Output{
			Delay: 10,
			Size:  4,
			DPI:   72,
		},
	}
}

// Load reads scenario from YAML file at path.
// Fields missing from the file keep their default values.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse parses YAML encoded scenario and validates it.
// Fields missing from data keep their default values.
func Parse(data []byte) (*Scenario, error) {
	s := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode scenario: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks the scenario is consistent.
// It returns error wrapping filter.ErrInvalidArg otherwise.
func (s *Scenario) Validate() error {
	if !(s.DT > 0) {
		return fmt.Errorf("%w: invalid time step: %v", filter.ErrInvalidArg, s.DT)
	}

	if _, err := s.W.Sym(StateDim); err != nil {
		return fmt.Errorf("invalid process noise: %w", err)
	}

	if _, err := s.V.Sym(OutputDim); err != nil {
		return fmt.Errorf("invalid observation noise: %w", err)
	}

	if _, err := s.gain(); err != nil {
		return err
	}

	if s.Particles <= 0 {
		return fmt.Errorf("%w: invalid particle count: %d", filter.ErrInvalidArg, s.Particles)
	}

	if s.Steps <= 0 {
		return fmt.Errorf("%w: invalid step count: %d", filter.ErrInvalidArg, s.Steps)
	}

	if len(s.X0) != StateDim {
		return fmt.Errorf("%w: invalid initial state length: %d", filter.ErrInvalidArg, len(s.X0))
	}

	if len(s.Prior.Lo) != StateDim || len(s.Prior.Hi) != StateDim {
		return fmt.Errorf("%w: invalid prior box dimensions", filter.ErrInvalidArg)
	}

	for i := range s.Prior.Lo {
		if !(s.Prior.Lo[i] < s.Prior.Hi[i]) {
			return fmt.Errorf("%w: invalid prior box: [%v, %v)", filter.ErrInvalidArg, s.Prior.Lo[i], s.Prior.Hi[i])
		}
	}

	if _, err := s.resampler(); err != nil {
		return err
	}

	if s.Workers < 0 {
		return fmt.Errorf("%w: invalid worker count: %d", filter.ErrInvalidArg, s.Workers)
	}

	if _, err := s.recovery(); err != nil {
		return err
	}

	if s.Output.Delay < 0 || s.Output.Size <= 0 || s.Output.DPI <= 0 {
		return fmt.Errorf("%w: invalid output settings", filter.ErrInvalidArg)
	}

	return nil
}

func (s *Scenario) gain() (*mat.Dense, error) {
	if len(s.Gain) != 1 && len(s.Gain) != InputDim {
		return nil, fmt.Errorf("%w: invalid gain rows: %d", filter.ErrInvalidArg, len(s.Gain))
	}

	k := mat.NewDense(len(s.Gain), StateDim, nil)
	for i, row := range s.Gain {
		if len(row) != StateDim {
			return nil, fmt.Errorf("%w: invalid gain row %d length: %d", filter.ErrInvalidArg, i, len(row))
		}
		k.SetRow(i, row)
	}

	return k, nil
}

func (s *Scenario) resampler() (bf.Resampler, error) {
	switch s.Resampler {
	case bf.Multinomial.String():
		return bf.Multinomial, nil
	case bf.Systematic.String():
		return bf.Systematic, nil
	default:
		return 0, fmt.Errorf("%w: unknown resampler: %q", filter.ErrInvalidArg, s.Resampler)
	}
}

func (s *Scenario) recovery() (loop.Recovery, error) {
	switch s.Recovery {
	case loop.Abort.String():
		return loop.Abort, nil
	case loop.Reinitialize.String():
		return loop.Reinitialize, nil
	default:
		return 0, fmt.Errorf("%w: unknown recovery: %q", filter.ErrInvalidArg, s.Recovery)
	}
}

// Setup holds the simulation components built from Scenario
type Setup struct {
	// Model is both the plant and the filter model
	Model *sim.Discrete
	// Filter is the bootstrap particle filter
	Filter *bf.BF
	// Controller is the state feedback controller
	Controller *control.Linear
	// X0 is the initial true state
	X0 *mat.VecDense
	// Prior draws the initial belief
	Prior loop.PriorFunc
	// Options configures the control loop
	Options []loop.Option
}

// Build builds simulation components from the scenario.
func (s *Scenario) Build() (*Setup, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	w, err := newNoise(s.W, StateDim)
	if err != nil {
		return nil, fmt.Errorf("failed to create process noise: %w", err)
	}

	v, err := newNoise(s.V, OutputDim)
	if err != nil {
		return nil, fmt.Errorf("failed to create observation noise: %w", err)
	}

	m, err := sim.NewDoubleIntegrator(s.DT, w, v)
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	r, _ := s.resampler()
	opts := []bf.Option{bf.WithResampler(r)}
	if s.Workers > 0 {
		opts = append(opts, bf.WithWorkers(s.Workers))
	}
	if s.Regularization != nil {
		opts = append(opts, bf.WithRegularization(*s.Regularization))
	}

	f, err := bf.New(m, s.Particles, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter: %w", err)
	}

	k, _ := s.gain()
	ctl, err := control.NewLinear(k, StateDim, InputDim)
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	lo := append([]float64(nil), s.Prior.Lo...)
	hi := append([]float64(nil), s.Prior.Hi...)
	n := s.Particles
	prior := func(rng *rand.Rand) (filter.Belief, error) {
		return particle.NewUniform(lo, hi, n, rng)
	}

	rec, _ := s.recovery()
	loopOpts := []loop.Option{
		loop.WithSteps(s.Steps),
		loop.WithRecovery(rec, prior),
	}
	if s.Kalman {
		loopOpts = append(loopOpts, loop.WithKalman(s.priorCond()))
	}

	return &Setup{
		Model:      m,
		Filter:     f,
		Controller: ctl,
		X0:         mat.NewVecDense(StateDim, append([]float64(nil), s.X0...)),
		Prior:      prior,
		Options:    loopOpts,
	}, nil
}

func newNoise(c Cov, n int) (filter.Noise, error) {
	cov, err := c.Sym(n)
	if err != nil || cov == nil {
		return nil, err
	}

	g, err := noise.NewGaussian(make([]float64, n), cov)
	if err != nil {
		return nil, err
	}

	return g, nil
}

// priorCond returns gaussian initial condition matching the first two moments of the prior box.
func (s *Scenario) priorCond() *sim.InitCond {
	state := mat.NewVecDense(StateDim, nil)
	cov := mat.NewSymDense(StateDim, nil)
	for i := range s.Prior.Lo {
		lo, hi := s.Prior.Lo[i], s.Prior.Hi[i]
		state.SetVec(i, (lo+hi)/2)
		cov.SetSym(i, i, (hi-lo)*(hi-lo)/12)
	}

	return sim.NewInitCond(state, cov)
}
