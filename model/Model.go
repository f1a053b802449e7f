// Package model implements the policy and value models that drive data
// collection and learn from stacked trajectory batches.
package model

import (
	"io"

	"github.com/samuelfneumann/goseed/trajectory"
)

// Evaluation holds the model outputs for one forward pass over a batch
// of observations. Row i of Logits and entry i of Actions and
// Baselines correspond to the i-th observation passed to Evaluate.
type Evaluation struct {
	Actions    []int
	Logits     []float64 // row-major, one row per observation
	Baselines  []float64
	NumActions int

	// TrainingSteps is the number of gradient updates the model had
	// taken when the evaluation was computed
	TrainingSteps int64
}

// Len returns the number of evaluated observations
func (e *Evaluation) Len() int {
	return len(e.Actions)
}

// LogitsAt returns a copy of the logits for observation i
func (e *Evaluation) LogitsAt(i int) []float64 {
	logits := make([]float64, e.NumActions)
	copy(logits, e.Logits[i*e.NumActions:(i+1)*e.NumActions])
	return logits
}

// TrainMetrics summarizes a single gradient update
type TrainMetrics struct {
	TrainingSteps int64 // gradient updates taken so far
	EnvSteps      int64 // cumulative environment steps trained on

	Loss         float64
	PolicyLoss   float64
	BaselineLoss float64
	EntropyLoss  float64

	BatchSteps int // environment steps in the trained batch
	LearnRate  float64
}

// Model computes actions and state values for observation batches and
// learns from stacked trajectory batches. Implementations must be safe
// for concurrent use; evaluation and training are called from
// different goroutines.
type Model interface {
	// Evaluate runs a forward pass over n observations, laid out
	// row-major in obs, sampling one action per observation
	Evaluate(obs []float64, n int) (*Evaluation, error)

	// TrainStep performs one gradient update on a stacked batch
	TrainStep(batch *trajectory.Batch) (*TrainMetrics, error)

	// TrainingSteps returns the number of gradient updates taken
	TrainingSteps() int64

	// EnvSteps returns the cumulative number of environment steps
	// trained on
	EnvSteps() int64

	// Checkpoint serializes the model weights
	Checkpoint(w io.Writer) error

	// Restore loads model weights written by Checkpoint
	Restore(r io.Reader) error
}
