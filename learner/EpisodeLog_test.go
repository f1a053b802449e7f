package learner

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goseed/timestep"
	"github.com/samuelfneumann/goseed/trajectory"
)

func TestEpisodeLogCountsFinishedEpisodes(t *testing.T) {
	dropOff, err := trajectory.NewDropOffQueue(1)
	if err != nil {
		t.Fatalf("could not create drop-off queue: %v", err)
	}
	store, err := trajectory.NewStore([]int{0}, 8, testObsDim,
		testNumActions, dropOff)
	if err != nil {
		t.Fatalf("could not create store: %v", err)
	}

	add := func(reward float64, done bool, episode, prevEpisode int64,
		episodeStep int, episodeReturn, latency float64) {
		t.Helper()
		obs := mat.NewVecDense(testObsDim, []float64{1, 2, 3})
		base := ts.New(obs, reward, done, episode, prevEpisode, episodeStep,
			episodeReturn)
		if latency > 0 {
			base.Metrics = map[string]float64{"latency": latency}
		}
		step := ts.NewEvalStep(base, 0, make([]float64, testNumActions), 0, 0)
		if err := store.Add(0, step); err != nil {
			t.Fatalf("could not add step: %v", err)
		}
	}

	// Episode 0: artificial reset frame, two transitions, then the
	// boundary row holding its final stats alongside episode 1's first
	// observation.
	add(0, true, 0, 0, 0, 0, 0)
	add(1, false, 0, 0, 1, 1, 0.010)
	add(1, false, 0, 0, 2, 2, 0.020)
	add(1, true, 1, 0, 3, 3, 0.030)

	drained := dropOff.TryDrain(1)
	if drained == nil {
		t.Fatal("no trajectory dropped at the episode boundary")
	}

	log := newEpisodeLog(nil)
	if err := log.LogTrajectory(drained[0]); err != nil {
		t.Fatalf("could not log trajectory: %v", err)
	}

	if log.Trajectories() != 1 {
		t.Errorf("trajectories \n\twant(%v)\n\thave(%v)", 1,
			log.Trajectories())
	}
	if log.Episodes() != 1 {
		t.Errorf("episodes \n\twant(%v)\n\thave(%v)", 1, log.Episodes())
	}
	if log.MeanReturn() != 3.0 {
		t.Errorf("mean return \n\twant(%v)\n\thave(%v)", 3.0,
			log.MeanReturn())
	}
	wantLatency := (0.010 + 0.020 + 0.030) / 3
	if math.Abs(log.MeanLatency()-wantLatency) > 1e-12 {
		t.Errorf("mean latency \n\twant(%v)\n\thave(%v)", wantLatency,
			log.MeanLatency())
	}

	// A trajectory that fills mid-episode holds no finished episode
	for step := 1; step <= 8; step++ {
		add(1, false, 1, 0, step, float64(step), 0)
	}
	drained = dropOff.TryDrain(1)
	if drained == nil {
		t.Fatal("no trajectory dropped when the slot filled")
	}
	if err := log.LogTrajectory(drained[0]); err != nil {
		t.Fatalf("could not log trajectory: %v", err)
	}

	if log.Trajectories() != 2 {
		t.Errorf("trajectories \n\twant(%v)\n\thave(%v)", 2,
			log.Trajectories())
	}
	if log.Episodes() != 1 {
		t.Errorf("episodes after mid-episode trajectory "+
			"\n\twant(%v)\n\thave(%v)", 1, log.Episodes())
	}
	if log.MeanReturn() != 3.0 {
		t.Errorf("mean return \n\twant(%v)\n\thave(%v)", 3.0,
			log.MeanReturn())
	}
}

func TestEpisodeLogEmptyAggregates(t *testing.T) {
	log := newEpisodeLog(nil)

	if log.MeanReturn() != 0 {
		t.Errorf("mean return with no episodes \n\twant(%v)\n\thave(%v)",
			0.0, log.MeanReturn())
	}
	if log.MeanLatency() != 0 {
		t.Errorf("mean latency with no episodes \n\twant(%v)\n\thave(%v)",
			0.0, log.MeanLatency())
	}
}
