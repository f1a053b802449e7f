package cartpole

import (
	"math"
	"testing"
)

func TestInitialIsBoundaryFrame(t *testing.T) {
	cartpole, err := New(14, 500)
	if err != nil {
		t.Fatal(err)
	}

	first := cartpole.Initial()
	if !first.First() {
		t.Errorf("initial step is not a boundary frame: %v", first)
	}
	if first.Terminal() {
		t.Errorf("initial step should never be terminal: %v", first)
	}
	if first.Observation.Len() != ObservationDims {
		t.Errorf("observation dims \n\twant(%v)\n\thave(%v)",
			ObservationDims, first.Observation.Len())
	}
	for i := 0; i < first.Observation.Len(); i++ {
		if math.Abs(first.Observation.AtVec(i)) > StartBound {
			t.Errorf("start state feature %v out of bounds: %v", i,
				first.Observation.AtVec(i))
		}
	}
}

func TestStepBookkeeping(t *testing.T) {
	cartpole, err := New(14, 500)
	if err != nil {
		t.Fatal(err)
	}
	cartpole.Initial()

	for i := 1; i <= 3; i++ {
		step, err := cartpole.Step(1)
		if err != nil {
			t.Fatal(err)
		}
		if step.Done {
			t.Fatalf("episode ended after %v balanced steps", i)
		}
		if step.EpisodeStep != i {
			t.Errorf("episode step \n\twant(%v)\n\thave(%v)", i,
				step.EpisodeStep)
		}
		if step.Reward != 1.0 {
			t.Errorf("reward \n\twant(%v)\n\thave(%v)", 1.0, step.Reward)
		}
		if step.EpisodeReturn != float64(i) {
			t.Errorf("episode return \n\twant(%v)\n\thave(%v)", float64(i),
				step.EpisodeReturn)
		}
		if step.EpisodeID != 0 || step.PrevEpisodeID != 0 {
			t.Errorf("mid-episode IDs changed: %v", step)
		}
	}
}

func TestTerminalStepAutoResets(t *testing.T) {
	cartpole, err := New(14, 500)
	if err != nil {
		t.Fatal(err)
	}
	cartpole.Initial()

	// A constant push left must eventually tip the pole or drive the
	// cart out of bounds.
	var terminal bool
	var steps int
	for i := 1; i <= 600; i++ {
		step, err := cartpole.Step(0)
		if err != nil {
			t.Fatal(err)
		}
		if step.Done {
			terminal = true
			steps = i

			if !step.Terminal() {
				t.Errorf("done step with %v episode steps is not terminal",
					step.EpisodeStep)
			}
			if step.EpisodeStep != i {
				t.Errorf("finished episode length \n\twant(%v)\n\thave(%v)",
					i, step.EpisodeStep)
			}
			if step.EpisodeReturn != float64(i) {
				t.Errorf("finished episode return \n\twant(%v)\n\thave(%v)",
					float64(i), step.EpisodeReturn)
			}
			if step.PrevEpisodeID != 0 {
				t.Errorf("previous episode ID \n\twant(%v)\n\thave(%v)",
					0, step.PrevEpisodeID)
			}
			if step.EpisodeID != 1 {
				t.Errorf("new episode ID \n\twant(%v)\n\thave(%v)",
					1, step.EpisodeID)
			}

			// The observation belongs to the next episode already
			for j := 0; j < step.Observation.Len(); j++ {
				if math.Abs(step.Observation.AtVec(j)) > StartBound {
					t.Errorf("terminal observation feature %v is not a "+
						"start state: %v", j, step.Observation.AtVec(j))
				}
			}
			break
		}
	}
	if !terminal {
		t.Fatal("constant push never ended the episode")
	}
	if steps > 100 {
		t.Errorf("constant push took unexpectedly long to fail: %v steps",
			steps)
	}

	// The next step continues the fresh episode
	step, err := cartpole.Step(1)
	if err != nil {
		t.Fatal(err)
	}
	if step.EpisodeStep != 1 || step.EpisodeID != 1 {
		t.Errorf("post-reset step bookkeeping wrong: %v", step)
	}
}

func TestStepLimitEndsEpisode(t *testing.T) {
	cartpole, err := New(14, 5)
	if err != nil {
		t.Fatal(err)
	}
	cartpole.Initial()

	for i := 1; i <= 4; i++ {
		step, err := cartpole.Step(1)
		if err != nil {
			t.Fatal(err)
		}
		if step.Done {
			t.Fatalf("episode ended at step %v before the limit", i)
		}
	}

	step, err := cartpole.Step(1)
	if err != nil {
		t.Fatal(err)
	}
	if !step.Done || step.EpisodeStep != 5 {
		t.Errorf("step limit did not end the episode: %v", step)
	}
}

func TestStepErrors(t *testing.T) {
	cartpole, err := New(14, 500)
	if err != nil {
		t.Fatal(err)
	}
	cartpole.Initial()

	if _, err := cartpole.Step(3); err == nil {
		t.Error("illegal action did not error")
	}
	if _, err := cartpole.Step(-1); err == nil {
		t.Error("illegal action did not error")
	}

	if err := cartpole.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := cartpole.Step(1); err == nil {
		t.Error("stepping a closed environment did not error")
	}
}

func TestNewValidatesEpisodeLength(t *testing.T) {
	if _, err := New(14, 0); err == nil {
		t.Error("zero-length episodes did not error")
	}
}

func TestSpawner(t *testing.T) {
	spawner := NewSpawner(42, 500)

	envs, err := spawner.Spawn(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(envs) != 3 {
		t.Fatalf("spawned \n\twant(%v)\n\thave(%v)", 3, len(envs))
	}
	for _, e := range envs {
		spec := e.Spec()
		if spec.ObservationDim != ObservationDims ||
			spec.NumActions != NumActions {
			t.Errorf("spawned env spec wrong: %+v", spec)
		}
	}

	if _, err := spawner.Spawn(0); err == nil {
		t.Error("spawning zero environments did not error")
	}
}
