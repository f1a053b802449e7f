package trajectory

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Batch is a fixed number of trajectories stacked for training. Rows
// are laid out trajectory-major: trajectory i occupies rows
// [i*Rollout, i*Rollout+Lengths[i]), and Mask is 1 exactly on those
// rows. Padding rows are zero.
type Batch struct {
	Size    int // number of trajectories
	Rollout int // rows reserved per trajectory
	N       int // Size * Rollout

	ObsDim     int
	NumActions int

	Obs           *tensor.Dense // shape [N, ObsDim]
	Actions       []int
	Rewards       []float64
	Baselines     []float64
	Dones         []bool
	Mask          []float64
	TrainingSteps []int64

	Lengths []int
	Numbers []int64
}

// Stack stacks trajectories into a Batch. All trajectories must share
// dimensions and fit within rollout rows.
func Stack(trajectories []*Trajectory, rollout int) (*Batch, error) {
	if len(trajectories) == 0 {
		return nil, fmt.Errorf("stack: no trajectories")
	}
	if rollout <= 0 {
		return nil, fmt.Errorf("stack: invalid rollout "+
			"\n\twant(> 0)\n\thave(%v)", rollout)
	}

	obsDim := trajectories[0].ObsDim()
	numActions := trajectories[0].NumActions()

	size := len(trajectories)
	n := size * rollout

	batch := &Batch{
		Size:          size,
		Rollout:       rollout,
		N:             n,
		ObsDim:        obsDim,
		NumActions:    numActions,
		Actions:       make([]int, n),
		Rewards:       make([]float64, n),
		Baselines:     make([]float64, n),
		Dones:         make([]bool, n),
		Mask:          make([]float64, n),
		TrainingSteps: make([]int64, n),
		Lengths:       make([]int, size),
		Numbers:       make([]int64, size),
	}

	obs := make([]float64, n*obsDim)
	for i, traj := range trajectories {
		if traj.ObsDim() != obsDim || traj.NumActions() != numActions {
			return nil, fmt.Errorf("stack: trajectory %v dimensions "+
				"\n\twant(%v obs, %v actions)\n\thave(%v obs, %v actions)",
				i, obsDim, numActions, traj.ObsDim(), traj.NumActions())
		}
		length := traj.Len()
		if length > rollout {
			return nil, fmt.Errorf("stack: trajectory %v longer than "+
				"rollout \n\twant(<= %v)\n\thave(%v)", i, rollout, length)
		}

		row := i * rollout
		copy(obs[row*obsDim:], traj.Obs[:length*obsDim])
		copy(batch.Actions[row:], traj.Actions[:length])
		copy(batch.Rewards[row:], traj.Rewards[:length])
		copy(batch.Baselines[row:], traj.Baselines[:length])
		copy(batch.Dones[row:], traj.Dones[:length])
		copy(batch.TrainingSteps[row:], traj.TrainingSteps[:length])
		for j := 0; j < length; j++ {
			batch.Mask[row+j] = 1.0
		}

		batch.Lengths[i] = length
		batch.Numbers[i] = traj.Number
	}

	batch.Obs = tensor.New(
		tensor.WithShape(n, obsDim),
		tensor.WithBacking(obs),
	)

	return batch, nil
}

// Steps returns the total number of valid environment steps in the
// batch
func (b *Batch) Steps() int {
	steps := 0
	for _, length := range b.Lengths {
		steps += length
	}
	return steps
}

func (b *Batch) String() string {
	return fmt.Sprintf("Batch | Trajectories: %v  |  Steps: %v/%v",
		b.Size, b.Steps(), b.N)
}
