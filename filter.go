package filter

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Filter is a sequential state estimator.
type Filter interface {
	// Update incorporates control u and observation y into belief b
	// and returns the posterior belief
	Update(b Belief, u, y mat.Vector, rng *rand.Rand) (Belief, error)
}

// Propagator propagates internal state of the system to the next step
type Propagator interface {
	// Propagate draws the next state of the system given state x and input u
	Propagate(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error)
}

// Observer observes external state (output) of the system
type Observer interface {
	// Observe draws an observation of the system in state x given input u
	Observe(x, u mat.Vector, rng *rand.Rand) (mat.Vector, error)
}

// Likelihood evaluates how well a state explains an observation
type Likelihood interface {
	// Likelihood returns non-negative relative density of observing y in state xNew
	// reached from xPrev by applying input u
	Likelihood(xPrev, u, xNew, y mat.Vector) (float64, error)
}

// Model is a probabilistic model of a dynamical system
type Model interface {
	// Propagator is system propagator
	Propagator
	// Likelihood is observation likelihood
	Likelihood
	// Dims returns state, input and output dimensions of the model
	Dims() (nx, nu, ny int)
}

// Plant is a simulated system which can be both propagated and observed
type Plant interface {
	// Model is a probabilistic model of the system
	Model
	// Observer observes the system
	Observer
}

// DiscreteModel is a dynamical system whose state is driven by
// static propagation and observation dynamics matrices
type DiscreteModel interface {
	// Plant is a simulated system
	Plant
	// SystemMatrix returns state propagation matrix
	SystemMatrix() mat.Matrix
	// ControlMatrix returns state propagation control matrix
	ControlMatrix() mat.Matrix
	// OutputMatrix returns observation matrix
	OutputMatrix() mat.Matrix
	// FeedForwardMatrix returns observation control matrix
	FeedForwardMatrix() mat.Matrix
	// StateNoise returns state noise a.k.a. process noise
	StateNoise() Noise
	// OutputNoise returns output noise a.k.a. measurement noise
	OutputNoise() Noise
}

// Belief is a particle approximation of the state posterior
type Belief interface {
	// Len returns the number of particles
	Len() int
	// Particles returns particles stored as matrix columns
	Particles() mat.Matrix
	// Weights returns particle weights
	Weights() mat.Vector
	// Mean returns weighted mean of the particles
	Mean() (mat.Vector, error)
	// Cov returns weighted covariance of the particles
	Cov() (mat.Symmetric, error)
}

// Controller computes control input from a state estimate
type Controller interface {
	// Control returns control input for state estimate x
	Control(x mat.Vector) (mat.Vector, error)
}

// Sink consumes per-step particle positions and the true state
type Sink interface {
	// Frame records particles and the true state of a single step
	Frame(particles mat.Matrix, truth mat.Vector) error
}

// InitCond is initial state condition of the filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is dynamical system filter estimate
type Estimate interface {
	// Val returns estimate value
	Val() mat.Vector
	// Cov returns estimate covariance
	Cov() mat.Symmetric
}

// Noise is dynamical system noise
type Noise interface {
	// Mean returns noise mean
	Mean() []float64
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Sample returns a sample of the noise drawn from rng
	Sample(rng *rand.Rand) mat.Vector
	// LogProb returns log probability density of x
	LogProb(x []float64) float64
}
