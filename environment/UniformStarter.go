package environment

import (
	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
)

// UniformStarter draws environment starting states component-wise
// uniformly from a bounded interval per state feature. A feature that
// always starts at one value uses an interval of width zero.
type UniformStarter struct {
	dist *distmv.Uniform
	dims int
}

// NewUniformStarter returns a UniformStarter drawing states from the
// given per-feature bounds
func NewUniformStarter(bounds []r1.Interval, seed uint64) UniformStarter {
	return UniformStarter{
		dist: distmv.NewUniform(bounds, rand.NewSource(seed)),
		dims: len(bounds),
	}
}

// Start draws a starting state
func (u UniformStarter) Start() mat.Vector {
	return mat.NewVecDense(u.dims, u.dist.Rand(nil))
}
