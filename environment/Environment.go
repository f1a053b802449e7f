// Package environment outlines the interfaces needed to implement
// concrete environments that feed observations to a remote learner
package environment

import (
	ts "github.com/samuelfneumann/goseed/timestep"
)

// Spec describes the fixed dimensions of an environment. The learner
// sizes its networks and stores from a Spec, and hands it to callers
// at check-in so that they can verify their environments agree.
type Spec struct {
	ObservationDim int `json:"observation_dim"`
	NumActions     int `json:"num_actions"`
	MaxEpisodeLen  int `json:"max_episode_len"`
}

// Environment is an auto-resetting simulated environment.
//
// Initial returns the first step of a fresh episode. Initial steps
// carry Done == true with EpisodeStep == 0, marking an episode
// boundary that has taken no environmental steps.
//
// Step applies an action and returns the resulting step. When the
// action ends the episode, the returned step carries the finished
// episode's step count and return together with Done == true, but its
// observation is already the first frame of the next episode; the
// environment has reset itself and bumped its episode ID. Step returns
// an error for actions outside the environment's action set and for
// stepping a closed environment.
type Environment interface {
	Initial() ts.TimeStep
	Step(action int) (ts.TimeStep, error)
	Spec() Spec
	Close() error
}

// Spawner builds the environment fleet owned by a single caller. Each
// spawned environment is independently seeded so that sources explore
// different starting states.
type Spawner interface {
	Spawn(n int) ([]Environment, error)
	Spec() Spec
}
