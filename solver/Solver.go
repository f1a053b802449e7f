// Package solver wraps Gorgonia Solvers so that learning rate
// schedules can rebuild them between training steps.
package solver

import (
	"fmt"

	G "gorgonia.org/gorgonia"
)

// Config describes the hyperparameters of one solver family and
// builds Gorgonia Solvers from them
type Config interface {
	// Create returns the Gorgonia Solver the Config describes
	Create() G.Solver

	// LearnRate returns the step size Solvers will be created with,
	// and WithLearnRate returns a copy of the Config with a new step
	// size
	LearnRate() float64
	WithLearnRate(float64) Config
}

// Solver is a Gorgonia Solver whose learning rate can change mid-run.
// Gorgonia solvers fix their hyperparameters at construction, so
// changing the rate rebuilds the wrapped Solver from its Config.
type Solver struct {
	G.Solver
	config Config
}

func newSolver(c Config) (*Solver, error) {
	if c.LearnRate() <= 0 {
		return nil, fmt.Errorf("newsolver: step size must be positive "+
			"\n\twant(> 0)\n\thave(%v)", c.LearnRate())
	}
	return &Solver{Solver: c.Create(), config: c}, nil
}

// SetLearnRate rebuilds the underlying Gorgonia Solver with a new
// learning rate, keeping all other hyperparameters
func (s *Solver) SetLearnRate(lr float64) {
	s.config = s.config.WithLearnRate(lr)
	s.Solver = s.config.Create()
}

// LearnRate returns the solver's current learning rate
func (s *Solver) LearnRate() float64 {
	return s.config.LearnRate()
}
