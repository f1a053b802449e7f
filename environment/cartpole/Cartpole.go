// Package cartpole implements the Cartpole classic control environment
package cartpole

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
	Gravity        float64 = 9.8
	CartMass       float64 = 1.0
	PoleMass       float64 = 0.1
	HalfPoleLength float64 = 0.5  // half of pole length
	ForceMag       float64 = 10.0 // Magnification of force applied
	Dt             float64 = 0.02 // seconds between state updates

	// Episode failure thresholds (+/-)
	FailPosition float64 = 2.4
	FailAngle    float64 = 12.0 * math.Pi / 180.0

	// Starting states are drawn uniformly from
	// [-StartBound, StartBound] in each state dimension
	StartBound float64 = 0.05

	// Discrete Actions
	MinDiscreteAction int = 0
	MaxDiscreteAction int = 2

	// Dimensions
	ObservationDims int = 4
	NumActions      int = 3
)

// Cartpole implements the classic control environment Cartpole. A pole
// is attached to a cart which can move horizontally, and the
// controlling policy must keep the pole upright for as long as
// possible.
//
// The state features are continuous and consist of the cart's x
// position and speed, as well as the pole's angle from the positive
// y-axis and the pole's angular velocity. An episode ends when the
// cart leaves [-FailPosition, FailPosition], when the pole tips
// outside [-FailAngle, FailAngle], or when the episode reaches the
// configured step limit. The reward is +1 on every step.
//
// Actions are discrete and consist of the force applied to the cart:
//
//	Action	Meaning
//	  0		Accelerate left
//	  1		Do nothing
//	  2		Accelerate right
//
// Cartpole auto-resets: a terminal Step returns the next episode's
// first observation, per the environment.Environment contract.
type Cartpole struct {
	x, xDot, theta, thetaDot float64

	episodeID     int64
	episodeStep   int
	episodeReturn float64

	maxEpisodeLen int
	angleBounds   r1.Interval
	start         env.UniformStarter
	closed        bool
}

// New constructs a new Cartpole environment with episodes capped at
// maxEpisodeLen steps
func New(seed uint64, maxEpisodeLen int) (*Cartpole, error) {
	if maxEpisodeLen <= 0 {
		return nil, fmt.Errorf("new: episodes must have positive length "+
			"\n\twant(> 0)\n\thave(%v)", maxEpisodeLen)
	}

	bounds := make([]r1.Interval, ObservationDims)
	for i := range bounds {
		bounds[i] = r1.Interval{Min: -StartBound, Max: StartBound}
	}

	cartpole := &Cartpole{
		maxEpisodeLen: maxEpisodeLen,
		angleBounds:   r1.Interval{Min: -math.Pi, Max: math.Pi},
		start:         env.NewUniformStarter(bounds, seed),
	}
	cartpole.reset()

	return cartpole, nil
}

// Initial returns the first step of a fresh episode
func (c *Cartpole) Initial() ts.TimeStep {
	c.reset()
	return ts.New(c.observation(), 0, true, c.episodeID, c.episodeID, 0, 0)
}

// Step takes one environmental step given a discrete action and
// returns the resulting timestep.TimeStep
func (c *Cartpole) Step(action int) (ts.TimeStep, error) {
	if c.closed {
		return ts.TimeStep{}, fmt.Errorf("step: stepped a closed environment")
	}
	if action < MinDiscreteAction || action > MaxDiscreteAction {
		return ts.TimeStep{}, fmt.Errorf("step: illegal action "+
			"\n\twant(∈ [%v, %v])\n\thave(%v)", MinDiscreteAction,
			MaxDiscreteAction, action)
	}

	// Magnify the action force in the appropriate direction
	var force float64
	switch action {
	case 0:
		force = -ForceMag
	case 2:
		force = ForceMag
	default:
		force = 0.0 // No action taken
	}

	// Calculate physical variables to determine the next state
	cosTheta := math.Cos(c.theta)
	sinTheta := math.Sin(c.theta)

	totalMass := PoleMass + CartMass
	poleMassOverLength := PoleMass / HalfPoleLength

	temp := (force + poleMassOverLength*c.thetaDot*c.thetaDot*sinTheta) /
		totalMass
	thetaAcc := (Gravity*sinTheta - cosTheta*temp) / (HalfPoleLength *
		(4.0/3.0 - PoleMass*cosTheta*cosTheta/totalMass))
	xAcc := temp - poleMassOverLength*thetaAcc*cosTheta/totalMass

	// Update state variables using Euler kinematic integration
	c.x += Dt * c.xDot
	c.xDot += Dt * xAcc
	c.theta = normalizeAngle(c.theta+Dt*c.thetaDot, c.angleBounds)
	c.thetaDot += Dt * thetaAcc
	c.validateState()

	reward := 1.0
	c.episodeStep++
	c.episodeReturn += reward

	failed := math.Abs(c.x) > FailPosition || math.Abs(c.theta) > FailAngle
	done := failed || c.episodeStep >= c.maxEpisodeLen

	if !done {
		return ts.New(c.observation(), reward, false, c.episodeID,
			c.episodeID, c.episodeStep, c.episodeReturn), nil
	}

	// The episode ended. Report its bookkeeping on this step, but
	// observe the next episode's starting state.
	finishedID := c.episodeID
	finishedStep := c.episodeStep
	finishedReturn := c.episodeReturn

	c.episodeID++
	c.reset()

	return ts.New(c.observation(), reward, true, c.episodeID, finishedID,
		finishedStep, finishedReturn), nil
}

// Spec returns the dimensions of the environment
func (c *Cartpole) Spec() env.Spec {
	return env.Spec{
		ObservationDim: ObservationDims,
		NumActions:     NumActions,
		MaxEpisodeLen:  c.maxEpisodeLen,
	}
}

// Close releases the environment. Further Steps return an error.
func (c *Cartpole) Close() error {
	c.closed = true
	return nil
}

func (c *Cartpole) String() string {
	return fmt.Sprintf("Cartpole | x: %.3f  |  θ: %.3f  |  episode: %v  |  "+
		"step: %v", c.x, c.theta, c.episodeID, c.episodeStep)
}

// reset draws a fresh starting state and clears the episode counters.
// The episode ID is left alone; callers bump it when an episode ends.
func (c *Cartpole) reset() {
	state := c.start.Start()
	c.x, c.xDot = state.AtVec(0), state.AtVec(1)
	c.theta, c.thetaDot = state.AtVec(2), state.AtVec(3)
	c.episodeStep = 0
	c.episodeReturn = 0
}

func (c *Cartpole) observation() mat.Vector {
	return mat.NewVecDense(ObservationDims,
		[]float64{c.x, c.xDot, c.theta, c.thetaDot})
}

// validateState ensures the physics have not diverged
func (c *Cartpole) validateState() {
	for _, v := range []float64{c.x, c.xDot, c.theta, c.thetaDot} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			panic(fmt.Sprintf("step: state diverged %v", c))
		}
	}
}

// normalizeAngle normalizes an angle into the interval angleBounds,
// which should span exactly one period
func normalizeAngle(theta float64, angleBounds r1.Interval) float64 {
	span := angleBounds.Max - angleBounds.Min
	for theta > angleBounds.Max {
		theta -= span
	}
	for theta < angleBounds.Min {
		theta += span
	}
	return theta
}

// Spawner builds independently seeded Cartpole environments for a
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
		cartpole, err := New(s.seed+uint64(i), s.maxEpisodeLen)
		if err != nil {
			return nil, fmt.Errorf("spawn: %v", err)
		}
		envs[i] = cartpole
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
