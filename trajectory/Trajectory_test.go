package trajectory

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/samuelfneumann/goseed/timestep"
)

const (
	testObsDim     = 2
	testNumActions = 3
)

// testStep builds an evaluated step whose observation features are
// (v, -v)
func testStep(v float64, done bool, episodeStep int) ts.EvalStep {
	step := ts.New(
		mat.NewVecDense(testObsDim, []float64{v, -v}),
		1.0,
		done,
		0,
		0,
		episodeStep,
		float64(episodeStep),
	)
	step.Metrics = map[string]float64{"latency": v}
	return ts.NewEvalStep(step, 1, []float64{0.1, 0.2, 0.3}, 0.5, 7)
}

func TestTrajectoryAddBookkeeping(t *testing.T) {
	traj := newTrajectory(0, 9, 4, testObsDim, testNumActions)

	for i := 1; i <= 4; i++ {
		if err := traj.add(testStep(float64(i), false, i)); err != nil {
			t.Fatal(err)
		}
		if traj.Len() != i {
			t.Errorf("length after add %v \n\twant(%v)\n\thave(%v)", i, i,
				traj.Len())
		}
	}
	if !traj.Full() {
		t.Error("trajectory at capacity is not full")
	}

	step, err := traj.Step(2)
	if err != nil {
		t.Fatal(err)
	}
	if step.Observation.AtVec(0) != 3.0 || step.Observation.AtVec(1) != -3.0 {
		t.Errorf("stored observation \n\twant(%v)\n\thave(%v, %v)",
			[]float64{3, -3}, step.Observation.AtVec(0),
			step.Observation.AtVec(1))
	}
	if step.Action != 1 || step.Baseline != 0.5 || step.TrainingSteps != 7 {
		t.Errorf("stored model outputs wrong: %+v", step)
	}
}

func TestTrajectoryAddOverflows(t *testing.T) {
	traj := newTrajectory(0, 9, 2, testObsDim, testNumActions)

	for i := 1; i <= 2; i++ {
		if err := traj.add(testStep(float64(i), false, i)); err != nil {
			t.Fatal(err)
		}
	}

	err := traj.add(testStep(3, false, 3))
	if err == nil {
		t.Fatal("adding past capacity did not error")
	}
	if !IsOverflow(err) {
		t.Errorf("error is not an overflow: %v", err)
	}
}

func TestTrajectoryAddValidatesDimensions(t *testing.T) {
	traj := newTrajectory(0, 9, 4, testObsDim, testNumActions)

	bad := testStep(1, false, 1)
	bad.Logits = []float64{0.1}
	if err := traj.add(bad); err == nil {
		t.Error("wrong logit count did not error")
	}

	bad = testStep(1, false, 1)
	bad.Observation = mat.NewVecDense(5, nil)
	if err := traj.add(bad); err == nil {
		t.Error("wrong observation size did not error")
	}
}

func TestTrajectoryCloneIsDeep(t *testing.T) {
	traj := newTrajectory(4, 9, 4, testObsDim, testNumActions)
	for i := 1; i <= 3; i++ {
		if err := traj.add(testStep(float64(i), false, i)); err != nil {
			t.Fatal(err)
		}
	}

	clone := traj.Clone()
	if clone.Len() != 3 || clone.Number != 4 || clone.SourceID != 9 {
		t.Fatalf("clone header wrong: %v", clone)
	}

	// Mutating the original must not reach the clone
	traj.reset(5)
	if err := traj.add(testStep(-100, false, 1)); err != nil {
		t.Fatal(err)
	}
	traj.Metrics[0]["latency"] = -100

	if clone.Obs[0] != 1.0 {
		t.Errorf("clone observation changed \n\twant(%v)\n\thave(%v)",
			1.0, clone.Obs[0])
	}
	if clone.Metrics[0]["latency"] != 1.0 {
		t.Errorf("clone metrics changed \n\twant(%v)\n\thave(%v)",
			1.0, clone.Metrics[0]["latency"])
	}
	if clone.Len() != 3 {
		t.Errorf("clone length changed \n\twant(%v)\n\thave(%v)", 3,
			clone.Len())
	}
}

func TestTrajectoryStepOutOfRange(t *testing.T) {
	traj := newTrajectory(0, 9, 4, testObsDim, testNumActions)
	if err := traj.add(testStep(1, false, 1)); err != nil {
		t.Fatal(err)
	}

	if _, err := traj.Step(1); err == nil {
		t.Error("reading past the cursor did not error")
	}
	if _, err := traj.Step(-1); err == nil {
		t.Error("negative index did not error")
	}
}
