// Package mountaincar implements the Mountain Car classic control
// environment
package mountaincar

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"

	env "github.com/samuelfneumann/goseed/environment"
	ts "github.com/samuelfneumann/goseed/timestep"
)

const (
	// Physical constants
	MinPosition float64 = -1.2
	MaxPosition float64 = 0.6
	MaxSpeed    float64 = 0.07
	Power       float64 = 0.0015 // Engine power
	Gravity     float64 = 0.0025

	// GoalPosition is the x position the car must reach
	GoalPosition float64 = 0.45

	// Starting positions are drawn uniformly from
	// [MinStartPosition, MaxStartPosition] with zero velocity
	MinStartPosition float64 = -0.6
	MaxStartPosition float64 = -0.4

	// Discrete Actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 2

	// Dimensions
	ObservationDims int = 2
	NumActions      int = 3
)

// MountainCar implements the classic control environment Mountain
// Car. An underpowered car sits in a valley and must rock back and
// forth to build enough momentum to reach a goal on the right hill.
//
// The state features are continuous and consist of the car's x
// position and velocity. An episode ends when the car reaches
// GoalPosition or when the episode reaches the configured step limit.
// The reward is -1 on every step, so shorter episodes earn higher
// returns.
//
// Actions are discrete and consist of the force applied to the car:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Do nothing
//	  2		Accelerate right
//
// MountainCar auto-resets: a terminal Step returns the next episode's
// first observation, per the environment.Environment contract.
type MountainCar struct {
	position, velocity float64

	episodeID     int64
	episodeStep   int
	episodeReturn float64

	maxEpisodeLen int
	start         env.UniformStarter
	closed        bool
}

// New constructs a new MountainCar environment with episodes capped at
// maxEpisodeLen steps
func New(seed uint64, maxEpisodeLen int) (*MountainCar, error) {
	if maxEpisodeLen <= 0 {
		return nil, fmt.Errorf("new: episodes must have positive length "+
			"\n\twant(> 0)\n\thave(%v)", maxEpisodeLen)
	}

	bounds := []r1.Interval{
		{Min: MinStartPosition, Max: MaxStartPosition},
		{Min: 0, Max: 0},
	}

	car := &MountainCar{
		maxEpisodeLen: maxEpisodeLen,
		start:         env.NewUniformStarter(bounds, seed),
	}
	car.reset()

	return car, nil
}

// Initial returns the first step of a fresh episode
func (m *MountainCar) Initial() ts.TimeStep {
	m.reset()
	return ts.New(m.observation(), 0, true, m.episodeID, m.episodeID, 0, 0)
}

// Step takes one environmental step given a discrete action and
// returns the resulting timestep.TimeStep
func (m *MountainCar) Step(action int) (ts.TimeStep, error) {
	if m.closed {
		return ts.TimeStep{}, fmt.Errorf("step: stepped a closed environment")
	}
	if action < MinDiscreteAction || action > MaxDiscreteAction {
		return ts.TimeStep{}, fmt.Errorf("step: illegal action "+
			"\n\twant(∈ [%v, %v])\n\thave(%v)", MinDiscreteAction,
			MaxDiscreteAction, action)
	}

	force := float64(action) - 1.0

	// Update the velocity, then the position
	m.velocity += force*Power - Gravity*math.Cos(3*m.position)
	m.velocity = clip(m.velocity, -MaxSpeed, MaxSpeed)

	m.position += m.velocity
	m.position = clip(m.position, MinPosition, MaxPosition)

	// The left wall is inelastic
	if m.position <= MinPosition && m.velocity < 0 {
		m.velocity = 0
	}
	m.validateState()

	reward := -1.0
	m.episodeStep++
	m.episodeReturn += reward

	done := m.position >= GoalPosition || m.episodeStep >= m.maxEpisodeLen

	if !done {
		return ts.New(m.observation(), reward, false, m.episodeID,
			m.episodeID, m.episodeStep, m.episodeReturn), nil
	}

	// The episode ended. Report its bookkeeping on this step, but
	// observe the next episode's starting state.
	finishedID := m.episodeID
	finishedStep := m.episodeStep
	finishedReturn := m.episodeReturn

	m.episodeID++
	m.reset()

	return ts.New(m.observation(), reward, true, m.episodeID, finishedID,
		finishedStep, finishedReturn), nil
}

// Spec returns the dimensions of the environment
func (m *MountainCar) Spec() env.Spec {
	return env.Spec{
		ObservationDim: ObservationDims,
		NumActions:     NumActions,
		MaxEpisodeLen:  m.maxEpisodeLen,
	}
}

// Close releases the environment. Further Steps return an error.
func (m *MountainCar) Close() error {
	m.closed = true
	return nil
}

func (m *MountainCar) String() string {
	return fmt.Sprintf("MountainCar | x: %.3f  |  ẋ: %.4f  |  episode: "+
		"%v  |  step: %v", m.position, m.velocity, m.episodeID,
		m.episodeStep)
}

// reset draws a fresh starting state and clears the episode counters.
// The episode ID is left alone; callers bump it when an episode ends.
func (m *MountainCar) reset() {
	state := m.start.Start()
	m.position, m.velocity = state.AtVec(0), state.AtVec(1)
	m.episodeStep = 0
	m.episodeReturn = 0
}

func (m *MountainCar) observation() mat.Vector {
	return mat.NewVecDense(ObservationDims,
		[]float64{m.position, m.velocity})
}

// validateState ensures the physics have not diverged
func (m *MountainCar) validateState() {
	for _, v := range []float64{m.position, m.velocity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("step: state diverged %v", m))
		}
	}
}

func clip(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Spawner builds independently seeded MountainCar environments for a
// single caller
type Spawner struct {
	seed          uint64
	maxEpisodeLen int
}

// NewSpawner returns a new Spawner. Environment i receives seed
// seed + i.
func NewSpawner(seed uint64, maxEpisodeLen int) *Spawner {
	return &Spawner{seed: seed, maxEpisodeLen: maxEpisodeLen}
}

// Spawn builds n environments
func (s *Spawner) Spawn(n int) ([]env.Environment, error) {
	if n <= 0 {
		return nil, fmt.Errorf("spawn: cannot spawn %v environments", n)
	}

	envs := make([]env.Environment, n)
	for i := range envs {
		car, err := New(s.seed+uint64(i), s.maxEpisodeLen)
		if err != nil {
			return nil, fmt.Errorf("spawn: %v", err)
		}
		envs[i] = car
	}
	return envs, nil
}

// Spec returns the dimensions of spawned environments
func (s *Spawner) Spec() env.Spec {
	return env.Spec{
		ObservationDim: ObservationDims,
		NumActions:     NumActions,
		MaxEpisodeLen:  s.maxEpisodeLen,
	}
}
