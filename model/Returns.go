package model

import "github.com/samuelfneumann/goseed/trajectory"

// returnsToGo computes the discounted return target for every row of a
// stacked batch.
//
// The reward stored at a row arrived with that row's observation and
// so pays for the action taken at the previous row. The return for the
// action at row t therefore accumulates rewards from row t+1 onward,
// stopping at the first row flagged done, whose reward is the final
// reward of the episode the action belonged to. The last row of each
// trajectory has no following reward, so its target falls back to the
// stored baseline as a bootstrap. Padding rows are left at zero.
func returnsToGo(batch *trajectory.Batch, gamma float64) []float64 {
	returns := make([]float64, batch.N)

	for i := 0; i < batch.Size; i++ {
		base := i * batch.Rollout
		length := batch.Lengths[i]
		if length == 0 {
			continue
		}

		last := base + length - 1
		returns[last] = batch.Baselines[last]
		for t := last - 1; t >= base; t-- {
			future := 0.0
			if !batch.Dones[t+1] {
				future = gamma * returns[t+1]
			}
			returns[t] = batch.Rewards[t+1] + future
		}
	}

	return returns
}
