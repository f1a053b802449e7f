package learner

import (
	"sync"
	"testing"
	"time"

	env "github.com/samuelfneumann/goseed/environment"
)

func testSpec() env.Spec {
	return env.Spec{
		ObservationDim: testObsDim,
		NumActions:     testNumActions,
		MaxEpisodeLen:  100,
	}
}

// A full run: an actor checks in, submits through enough trajectories
// to train MaxEpochs batches, is told to shut down on a subsequent
// submit, and checks out cleanly.
func TestLearnerRunsAndShutsDownCooperatively(t *testing.T) {
	m := newStubModel(testObsDim, testNumActions)
	config := Config{
		Addr:            "127.0.0.1:0",
		NumActors:       1,
		EnvsPerActor:    2,
		BatchInference:  2,
		BatchTraining:   2,
		Rollout:         2,
		FlushInterval:   10 * time.Millisecond,
		PrefetchWait:    time.Millisecond,
		PopWait:         5 * time.Millisecond,
		DeadThreshold:   1000,
		MaxEpochs:       2,
		CheckoutTimeout: 5 * time.Second,
	}

	learner, err := New(config, testSpec(), m, nil)
	if err != nil {
		t.Fatalf("could not create learner: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- learner.Run()
	}()

	checkIn, err := learner.CheckIn("actor-0", 0)
	if err != nil {
		t.Fatalf("check-in failed: %v", err)
	}
	if checkIn.Token == "" {
		t.Errorf("check-in issued no token")
	}
	if len(checkIn.SourceIDs) != 2 {
		t.Fatalf("assigned sources \n\twant(2)\n\thave(%v)",
			len(checkIn.SourceIDs))
	}
	if checkIn.ObsDim != testObsDim || checkIn.NumActions != testNumActions {
		t.Errorf("advertised spec \n\twant(%v, %v)\n\thave(%v, %v)",
			testObsDim, testNumActions, checkIn.ObsDim, checkIn.NumActions)
	}

	var workers sync.WaitGroup
	for _, source := range checkIn.SourceIDs {
		workers.Add(1)
		go func(source int) {
			defer workers.Done()
			for step := 1; ; step++ {
				response, err := learner.Submit(submitRequest(source, step))
				if err != nil {
					t.Errorf("submit from source %v failed: %v", source, err)
					return
				}
				if response.SourceID != source {
					t.Errorf("response source \n\twant(%v)\n\thave(%v)",
						source, response.SourceID)
					return
				}
				if response.Shutdown {
					return
				}
			}
		}(source)
	}
	workers.Wait()

	if err := learner.CheckOut("actor-0"); err != nil {
		t.Errorf("check-out failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("learner never stopped")
	}

	if state := learner.State(); state != Stopped {
		t.Errorf("final state \n\twant(%v)\n\thave(%v)", Stopped, state)
	}
	if epochs := learner.epochs.Load(); epochs < config.MaxEpochs {
		t.Errorf("training epochs \n\twant(>= %v)\n\thave(%v)",
			config.MaxEpochs, epochs)
	}
	if trajectories := learner.episodes.Trajectories(); trajectories < 4 {
		t.Errorf("drained trajectories \n\twant(>= 4)\n\thave(%v)",
			trajectories)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) < 2 {
		t.Fatalf("trained batches \n\twant(>= 2)\n\thave(%v)",
			len(m.batches))
	}
	for i, batch := range m.batches {
		if batch.Size != config.BatchTraining {
			t.Errorf("batch %v size \n\twant(%v)\n\thave(%v)", i,
				config.BatchTraining, batch.Size)
		}
		if batch.Rollout != config.Rollout {
			t.Errorf("batch %v rollout \n\twant(%v)\n\thave(%v)", i,
				config.Rollout, batch.Rollout)
		}
	}
}

// A run with no data flowing anywhere is detected by the watchdog and
// shut down on its own
func TestLearnerWatchdogStopsDeadRun(t *testing.T) {
	m := newStubModel(testObsDim, testNumActions)
	config := Config{
		Addr:            "127.0.0.1:0",
		NumActors:       1,
		EnvsPerActor:    1,
		BatchInference:  1,
		BatchTraining:   1,
		Rollout:         4,
		PopWait:         time.Millisecond,
		DeadThreshold:   5,
		CheckoutTimeout: 50 * time.Millisecond,
	}

	learner, err := New(config, testSpec(), m, nil)
	if err != nil {
		t.Fatalf("could not create learner: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- learner.Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("watchdog never fired")
	}

	if state := learner.State(); state != Stopped {
		t.Errorf("final state \n\twant(%v)\n\thave(%v)", Stopped, state)
	}
	if trained := m.trainingSteps.Load(); trained != 0 {
		t.Errorf("training steps on a dead run \n\twant(0)\n\thave(%v)",
			trained)
	}
	if stalls := learner.watchdog.Stalls(); stalls != config.DeadThreshold+1 {
		t.Errorf("stalls at shutdown \n\twant(%v)\n\thave(%v)",
			config.DeadThreshold+1, stalls)
	}

	// The registry no longer accepts check-ins
	if _, err := learner.CheckIn("late-actor", 0); err == nil {
		t.Errorf("stopped learner accepted a check-in")
	}
}

func TestLearnerRejectsImpossibleBatchConfig(t *testing.T) {
	m := newStubModel(testObsDim, testNumActions)
	config := Config{
		Addr:           "127.0.0.1:0",
		NumActors:      1,
		EnvsPerActor:   2,
		BatchInference: 2,
		BatchTraining:  3, // more than 2 sources can ever hold
		Rollout:        2,
	}

	if _, err := New(config, testSpec(), m, nil); err == nil {
		t.Errorf("accepted a training batch larger than the source " +
			"capacity")
	}
}

func TestStateString(t *testing.T) {
	states := map[State]string{
		Idle:         "Idle",
		Training:     "Training",
		ShuttingDown: "ShuttingDown",
		Stopped:      "Stopped",
	}
	for state, want := range states {
		if have := state.String(); have != want {
			t.Errorf("state string \n\twant(%v)\n\thave(%v)", want, have)
		}
	}
}
