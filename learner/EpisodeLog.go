package learner

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/goseed/tracker"
	"github.com/samuelfneumann/goseed/trajectory"
)

// episodeLog scans drained trajectories for finished episodes, writes
// an episode row per finish to the tracker, and accumulates the
// aggregates the final report prints.
//
// A row carrying done with a nonzero episode step is the boundary of a
// finished episode and holds that episode's length and return; the
// artificial reset frame at episode step zero is not a finish.
type episodeLog struct {
	track *tracker.Tracker

	mu           sync.Mutex
	episodes     int64
	trajectories int64
	returns      []float64
	latencies    []float64
}

func newEpisodeLog(track *tracker.Tracker) *episodeLog {
	return &episodeLog{track: track}
}

// LogTrajectory satisfies TrajectoryObserver
func (e *episodeLog) LogTrajectory(traj *trajectory.Trajectory) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.trajectories++

	var firstErr error
	for t := 0; t < traj.Len(); t++ {
		if latency, ok := traj.Metrics[t]["latency"]; ok {
			e.latencies = append(e.latencies, latency)
		}

		if !traj.Dones[t] || traj.EpisodeSteps[t] <= 0 {
			continue
		}

		e.episodes++
		e.returns = append(e.returns, traj.EpisodeReturns[t])

		if e.track == nil {
			continue
		}
		err := e.track.TrackEpisode(traj.SourceID, traj.PrevEpisodeIDs[t],
			traj.EpisodeSteps[t], traj.EpisodeReturns[t])
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Episodes returns the number of finished episodes seen
func (e *episodeLog) Episodes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.episodes
}

// Trajectories returns the number of drained trajectories seen
func (e *episodeLog) Trajectories() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.trajectories
}

// MeanReturn returns the mean return over all finished episodes
func (e *episodeLog) MeanReturn() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.returns) == 0 {
		return 0
	}
	return stat.Mean(e.returns, nil)
}

// MeanLatency returns the mean of every latency metric submitted
func (e *episodeLog) MeanLatency() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.latencies) == 0 {
		return 0
	}
	return stat.Mean(e.latencies, nil)
}
