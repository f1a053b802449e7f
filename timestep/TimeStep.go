// Package timestep implements timesteps of the actor-environment
// interaction as they travel from environments to the learner
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// TimeStep packages together a single timestep of an environment. A
// TimeStep is produced by an environment and submitted to the learner
// by the actor that owns the environment.
//
// Environments auto-reset. The step returned by Initial() and the step
// returned when an episode ends both carry Done == true, but they
// differ in meaning: the initial step has EpisodeStep == 0 and its
// observation is the first frame of a fresh episode, while a terminal
// step has EpisodeStep > 0, carries the finished episode's step count
// and return, and its observation is already the first frame of the
// next episode.
type TimeStep struct {
	Observation   mat.Vector
	Reward        float64
	Done          bool
	EpisodeID     int64
	PrevEpisodeID int64
	EpisodeStep   int
	EpisodeReturn float64

	// Metrics holds arbitrary per-call measurements attached by the
	// caller, e.g. the round-trip latency of the previous remote call.
	// Metrics ride along with the step but are never concatenated
	// into inference batches.
	Metrics map[string]float64
}

// New returns a new TimeStep with the given observation and episode
// bookkeeping
func New(obs mat.Vector, reward float64, done bool, episodeID,
	prevEpisodeID int64, episodeStep int, episodeReturn float64) TimeStep {
	return TimeStep{
		Observation:   obs,
		Reward:        reward,
		Done:          done,
		EpisodeID:     episodeID,
		PrevEpisodeID: prevEpisodeID,
		EpisodeStep:   episodeStep,
		EpisodeReturn: episodeReturn,
	}
}

// First returns whether a TimeStep is the artificial first step of a
// fresh episode. First steps carry Done == true but have not taken
// any environmental steps yet.
func (t *TimeStep) First() bool {
	return t.Done && t.EpisodeStep == 0
}

// Terminal returns whether a TimeStep ends an episode
func (t *TimeStep) Terminal() bool {
	return t.Done && t.EpisodeStep > 0
}

// ObsSlice returns the observation as a flat []float64. The returned
// slice is a copy and may be mutated freely.
func (t *TimeStep) ObsSlice() []float64 {
	if t.Observation == nil {
		return nil
	}
	obs := make([]float64, t.Observation.Len())
	for i := range obs {
		obs[i] = t.Observation.AtVec(i)
	}
	return obs
}

func (t TimeStep) String() string {
	str := "TimeStep | Episode: %v  |  Step: %v  |  Reward: %.2f  |  " +
		"Done: %v  |  Return: %.2f"

	return fmt.Sprintf(str, t.EpisodeID, t.EpisodeStep, t.Reward, t.Done,
		t.EpisodeReturn)
}

// EvalStep is a TimeStep after the learner's model has evaluated it.
// It records what the policy saw and produced, together with the
// model version that produced it.
type EvalStep struct {
	TimeStep

	// Action is the action the policy selected for Observation
	Action int

	// Logits are the unnormalized log-probabilities the policy head
	// produced for Observation
	Logits []float64

	// Baseline is the value head's estimate for Observation
	Baseline float64

	// TrainingSteps is the value of the learner's training step
	// counter at the time of evaluation
	TrainingSteps int64
}

// NewEvalStep returns a new EvalStep wrapping t with the model outputs
// for t's observation
func NewEvalStep(t TimeStep, action int, logits []float64, baseline float64,
	trainingSteps int64) EvalStep {
	return EvalStep{
		TimeStep:      t,
		Action:        action,
		Logits:        logits,
		Baseline:      baseline,
		TrainingSteps: trainingSteps,
	}
}
