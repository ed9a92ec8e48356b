package filter

import "errors"

var (
	// ErrInvalidArg is returned when vector or matrix dimensions
	// do not match the configured model.
	ErrInvalidArg = errors.New("invalid argument")
	// ErrDegenerateWeights is returned when no particle explains the observation:
	// importance weights sum to zero or to a non-finite value.
	ErrDegenerateWeights = errors.New("degenerate particle weights")
	// ErrEmptyBelief is returned by operations which require at least one particle.
	ErrEmptyBelief = errors.New("empty belief")
)
