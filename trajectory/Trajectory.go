// Package trajectory implements fixed-length trajectory accumulation
// for observations arriving from distributed sources, together with
// the drop-off queue that hands completed trajectories to training.
package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goseed/timestep"
)

// Trajectory is a fixed-capacity window of evaluated steps from a
// single source. Step data is stored in flat backing slices of
// capacity * dim elements so that trajectories can be stacked into
// training batches without further copying per field.
//
// Only the first Len() steps hold valid data. A Trajectory handed to
// the drop-off queue is a deep copy and is never mutated again.
type Trajectory struct {
	// Number is the trajectory's global sequence number. Every live
	// slot reset receives a fresh, strictly increasing Number.
	Number int64

	// SourceID is the source whose steps the trajectory holds
	SourceID int

	// Complete marks a dropped trajectory whose final step ended an
	// episode, as opposed to one dropped because it filled
	Complete bool

	Obs            []float64 // capacity * obsDim, row-major
	Logits         []float64 // capacity * numActions, row-major
	Actions        []int
	Rewards        []float64
	Baselines      []float64
	Dones          []bool
	EpisodeIDs     []int64
	PrevEpisodeIDs []int64
	EpisodeSteps   []int
	EpisodeReturns []float64
	TrainingSteps  []int64
	Metrics        []map[string]float64

	obsDim     int
	numActions int
	capacity   int
	length     int
}

func newTrajectory(number int64, sourceID, capacity, obsDim,
	numActions int) *Trajectory {
	return &Trajectory{
		Number:         number,
		SourceID:       sourceID,
		Obs:            make([]float64, capacity*obsDim),
		Logits:         make([]float64, capacity*numActions),
		Actions:        make([]int, capacity),
		Rewards:        make([]float64, capacity),
		Baselines:      make([]float64, capacity),
		Dones:          make([]bool, capacity),
		EpisodeIDs:     make([]int64, capacity),
		PrevEpisodeIDs: make([]int64, capacity),
		EpisodeSteps:   make([]int, capacity),
		EpisodeReturns: make([]float64, capacity),
		TrainingSteps:  make([]int64, capacity),
		Metrics:        make([]map[string]float64, capacity),
		obsDim:         obsDim,
		numActions:     numActions,
		capacity:       capacity,
	}
}

// Len returns the number of valid steps in the trajectory
func (t *Trajectory) Len() int {
	return t.length
}

// Cap returns the number of steps the trajectory holds when full
func (t *Trajectory) Cap() int {
	return t.capacity
}

// ObsDim returns the number of features in each stored observation
func (t *Trajectory) ObsDim() int {
	return t.obsDim
}

// NumActions returns the number of logits stored per step
func (t *Trajectory) NumActions() int {
	return t.numActions
}

// Full returns whether the trajectory has reached capacity
func (t *Trajectory) Full() bool {
	return t.length == t.capacity
}

// add writes step at the current length and advances the cursor
func (t *Trajectory) add(step ts.EvalStep) error {
	if t.Full() {
		return &StoreError{Op: "add", Err: errOverflow}
	}

	obs := step.ObsSlice()
	if len(obs) != t.obsDim {
		return fmt.Errorf("add: invalid observation size "+
			"\n\twant(%v)\n\thave(%v)", t.obsDim, len(obs))
	}
	if len(step.Logits) != t.numActions {
		return fmt.Errorf("add: invalid number of logits "+
			"\n\twant(%v)\n\thave(%v)", t.numActions, len(step.Logits))
	}

	i := t.length
	copy(t.Obs[i*t.obsDim:(i+1)*t.obsDim], obs)
	copy(t.Logits[i*t.numActions:(i+1)*t.numActions], step.Logits)
	t.Actions[i] = step.Action
	t.Rewards[i] = step.Reward
	t.Baselines[i] = step.Baseline
	t.Dones[i] = step.Done
	t.EpisodeIDs[i] = step.EpisodeID
	t.PrevEpisodeIDs[i] = step.PrevEpisodeID
	t.EpisodeSteps[i] = step.EpisodeStep
	t.EpisodeReturns[i] = step.EpisodeReturn
	t.TrainingSteps[i] = step.TrainingSteps
	t.Metrics[i] = step.Metrics

	t.length++
	return nil
}

// reset rewinds the trajectory to empty under a fresh sequence number.
// Backing arrays are kept; the cursor gates every read.
func (t *Trajectory) reset(number int64) {
	t.Number = number
	t.Complete = false
	t.length = 0
}

// Clone returns a deep copy of the trajectory. Mutating the live slot
// after a drop never changes the dropped copy.
func (t *Trajectory) Clone() *Trajectory {
	clone := newTrajectory(t.Number, t.SourceID, t.capacity, t.obsDim,
		t.numActions)
	clone.Complete = t.Complete
	clone.length = t.length

	copy(clone.Obs, t.Obs)
	copy(clone.Logits, t.Logits)
	copy(clone.Actions, t.Actions)
	copy(clone.Rewards, t.Rewards)
	copy(clone.Baselines, t.Baselines)
	copy(clone.Dones, t.Dones)
	copy(clone.EpisodeIDs, t.EpisodeIDs)
	copy(clone.PrevEpisodeIDs, t.PrevEpisodeIDs)
	copy(clone.EpisodeSteps, t.EpisodeSteps)
	copy(clone.EpisodeReturns, t.EpisodeReturns)
	copy(clone.TrainingSteps, t.TrainingSteps)

	for i, metrics := range t.Metrics {
		if metrics == nil {
			continue
		}
		clone.Metrics[i] = make(map[string]float64, len(metrics))
		for k, v := range metrics {
			clone.Metrics[i][k] = v
		}
	}

	return clone
}

// Step reconstructs the i'th stored step
func (t *Trajectory) Step(i int) (ts.EvalStep, error) {
	if i < 0 || i >= t.length {
		return ts.EvalStep{}, fmt.Errorf("step: index out of range "+
			"\n\twant(∈ [0, %v))\n\thave(%v)", t.length, i)
	}

	obs := make([]float64, t.obsDim)
	copy(obs, t.Obs[i*t.obsDim:(i+1)*t.obsDim])
	logits := make([]float64, t.numActions)
	copy(logits, t.Logits[i*t.numActions:(i+1)*t.numActions])

	step := ts.TimeStep{
		Observation:   mat.NewVecDense(t.obsDim, obs),
		Reward:        t.Rewards[i],
		Done:          t.Dones[i],
		EpisodeID:     t.EpisodeIDs[i],
		PrevEpisodeID: t.PrevEpisodeIDs[i],
		EpisodeStep:   t.EpisodeSteps[i],
		EpisodeReturn: t.EpisodeReturns[i],
		Metrics:       t.Metrics[i],
	}
	return ts.NewEvalStep(step, t.Actions[i], logits, t.Baselines[i],
		t.TrainingSteps[i]), nil
}

func (t *Trajectory) String() string {
	return fmt.Sprintf("Trajectory | Number: %v  |  Source: %v  |  "+
		"Length: %v/%v  |  Complete: %v", t.Number, t.SourceID, t.length,
		t.capacity, t.Complete)
}
