package learner

import (
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/model"
	"github.com/samuelfneumann/goseed/seedrpc"
	"github.com/samuelfneumann/goseed/trajectory"
)

// stubModel counts calls and hands out deterministic evaluations
type stubModel struct {
	obsDim     int
	numActions int

	evals         atomic.Int64
	trainingSteps atomic.Int64
	envSteps      atomic.Int64

	mu      sync.Mutex
	batches []*trajectory.Batch
}

func newStubModel(obsDim, numActions int) *stubModel {
	return &stubModel{obsDim: obsDim, numActions: numActions}
}

func (m *stubModel) Evaluate(obs []float64, n int) (*model.Evaluation,
	error) {
	if len(obs) != n*m.obsDim {
		return nil, fmt.Errorf("evaluate: observation size "+
			"\n\twant(%v)\n\thave(%v)", n*m.obsDim, len(obs))
	}
	m.evals.Inc()

	eval := &model.Evaluation{
		Actions:       make([]int, n),
		Logits:        make([]float64, n*m.numActions),
		Baselines:     make([]float64, n),
		NumActions:    m.numActions,
		TrainingSteps: m.trainingSteps.Load(),
	}
	for i := 0; i < n; i++ {
		eval.Actions[i] = i % m.numActions
		eval.Logits[i*m.numActions] = 1
	}
	return eval, nil
}

func (m *stubModel) TrainStep(batch *trajectory.Batch) (*model.TrainMetrics,
	error) {
	m.mu.Lock()
	m.batches = append(m.batches, batch)
	m.mu.Unlock()

	steps := m.trainingSteps.Inc()
	envSteps := m.envSteps.Add(int64(batch.Steps()))

	return &model.TrainMetrics{
		TrainingSteps: steps,
		EnvSteps:      envSteps,
		Loss:          1.0 / float64(steps),
		BatchSteps:    batch.Steps(),
		LearnRate:     0.0006,
	}, nil
}

func (m *stubModel) TrainingSteps() int64 { return m.trainingSteps.Load() }
func (m *stubModel) EnvSteps() int64      { return m.envSteps.Load() }

func (m *stubModel) Checkpoint(w io.Writer) error {
	_, err := w.Write([]byte("stub weights"))
	return err
}

func (m *stubModel) Restore(r io.Reader) error { return nil }

// submitRequest returns a mid-episode submit from sourceID
func submitRequest(sourceID, step int) *seedrpc.SubmitRequest {
	obs := make([]float64, testObsDim)
	for i := range obs {
		obs[i] = float64(sourceID)
	}
	return &seedrpc.SubmitRequest{
		SourceID:    sourceID,
		Obs:         obs,
		Reward:      1,
		EpisodeID:   1,
		EpisodeStep: step,
	}
}

type batcherRig struct {
	model    *stubModel
	sessions *Sessions
	dropOff  *trajectory.DropOffQueue
	batcher  *Batcher
	shutdown *atomic.Bool
}

// newBatcherRig wires a started Batcher over stub collaborators. The
// caller stops it.
func newBatcherRig(t *testing.T, numActors, envsPerActor, batchSize int,
	flushInterval time.Duration) *batcherRig {
	t.Helper()

	numSources := numActors * envsPerActor
	sources := make([]int, numSources)
	for i := range sources {
		sources[i] = i
	}

	dropOff, err := trajectory.NewDropOffQueue(numSources)
	if err != nil {
		t.Fatalf("could not create drop-off queue: %v", err)
	}
	store, err := trajectory.NewStore(sources, 8, testObsDim,
		testNumActions, dropOff)
	if err != nil {
		t.Fatalf("could not create store: %v", err)
	}
	sessions, err := NewSessions(numActors, envsPerActor)
	if err != nil {
		t.Fatalf("could not create sessions: %v", err)
	}

	m := newStubModel(testObsDim, testNumActions)
	shutdown := atomic.NewBool(false)
	spec := env.Spec{
		ObservationDim: testObsDim,
		NumActions:     testNumActions,
		MaxEpisodeLen:  100,
	}

	batcher, err := NewBatcher(m, store, sessions, spec, batchSize,
		flushInterval, shutdown)
	if err != nil {
		t.Fatalf("could not create batcher: %v", err)
	}
	batcher.Start()

	return &batcherRig{
		model:    m,
		sessions: sessions,
		dropOff:  dropOff,
		batcher:  batcher,
		shutdown: shutdown,
	}
}

// Every response identifies the source it answers, and one full batch
// costs one model evaluation.
func TestBatcherEchoesSourceID(t *testing.T) {
	rig := newBatcherRig(t, 1, 2, 2, time.Hour)
	defer rig.batcher.Stop()

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	type result struct {
		source   int
		response *seedrpc.SubmitResponse
		err      error
	}
	results := make(chan result, 2)
	for source := 0; source < 2; source++ {
		go func(source int) {
			response, err := rig.batcher.Submit(submitRequest(source, 1))
			results <- result{source: source, response: response, err: err}
		}(source)
	}

	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("submit from source %v failed: %v", r.source, r.err)
		}
		if r.response.SourceID != r.source {
			t.Errorf("response source \n\twant(%v)\n\thave(%v)", r.source,
				r.response.SourceID)
		}
		if r.response.Shutdown {
			t.Errorf("source %v told to shut down mid-run", r.source)
		}
		if r.response.Action < 0 || r.response.Action >= testNumActions {
			t.Errorf("source %v action out of range: %v", r.source,
				r.response.Action)
		}
	}

	if evals := rig.model.evals.Load(); evals != 1 {
		t.Errorf("model evaluations \n\twant(1)\n\thave(%v)", evals)
	}
	if inFlight := rig.batcher.InFlight(); inFlight != 0 {
		t.Errorf("in-flight submits \n\twant(0)\n\thave(%v)", inFlight)
	}
}

// A short batch flushes once the oldest submit has waited a full flush
// interval
func TestBatcherFlushesStragglers(t *testing.T) {
	const flushInterval = 30 * time.Millisecond
	rig := newBatcherRig(t, 1, 2, 2, flushInterval)
	defer rig.batcher.Stop()

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	start := time.Now()
	response, err := rig.batcher.Submit(submitRequest(0, 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if waited := time.Since(start); waited < flushInterval {
		t.Errorf("straggler answered before the flush interval "+
			"\n\twant(>= %v)\n\thave(%v)", flushInterval, waited)
	}
	if response.SourceID != 0 {
		t.Errorf("response source \n\twant(0)\n\thave(%v)",
			response.SourceID)
	}
}

// The batch size is bounded by the number of live sources, so a small
// fleet never waits out the flush interval
func TestBatcherBoundsBatchByLiveSources(t *testing.T) {
	rig := newBatcherRig(t, 2, 1, 4, 2*time.Second)
	defer rig.batcher.Stop()

	for rank := 0; rank < 2; rank++ {
		caller := fmt.Sprintf("actor-%v", rank)
		if _, err := rig.sessions.CheckIn(caller, rank); err != nil {
			t.Fatalf("check-in failed: %v", err)
		}
	}

	start := time.Now()
	var workers sync.WaitGroup
	for source := 0; source < 2; source++ {
		workers.Add(1)
		go func(source int) {
			defer workers.Done()
			if _, err := rig.batcher.Submit(submitRequest(source, 1)); err != nil {
				t.Errorf("submit from source %v failed: %v", source, err)
			}
		}(source)
	}
	workers.Wait()

	if waited := time.Since(start); waited >= time.Second {
		t.Errorf("two live sources waited for a batch of four "+
			"\n\twant(< 1s)\n\thave(%v)", waited)
	}
}

// Submits arriving after shutdown get an immediate placeholder answer
// and never touch the model
func TestBatcherAnswersShutdownWithPlaceholder(t *testing.T) {
	rig := newBatcherRig(t, 1, 1, 1, time.Hour)
	defer rig.batcher.Stop()

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	rig.model.trainingSteps.Store(7)
	rig.shutdown.Store(true)

	response, err := rig.batcher.Submit(submitRequest(0, 1))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !response.Shutdown {
		t.Errorf("placeholder response does not carry shutdown")
	}
	if response.SourceID != 0 {
		t.Errorf("placeholder source \n\twant(0)\n\thave(%v)",
			response.SourceID)
	}
	if response.TrainingSteps != 7 {
		t.Errorf("placeholder training steps \n\twant(7)\n\thave(%v)",
			response.TrainingSteps)
	}
	if evals := rig.model.evals.Load(); evals != 0 {
		t.Errorf("model evaluations \n\twant(0)\n\thave(%v)", evals)
	}
}

func TestBatcherRejectsUnknownSource(t *testing.T) {
	rig := newBatcherRig(t, 1, 1, 1, time.Hour)
	defer rig.batcher.Stop()

	_, err := rig.batcher.Submit(submitRequest(0, 1))
	if !seedrpc.IsUnknownSession(err) {
		t.Errorf("submit without a session \n\twant(unknown session)"+
			"\n\thave(%v)", err)
	}
}

func TestBatcherRejectsWrongObservationSize(t *testing.T) {
	rig := newBatcherRig(t, 1, 1, 1, time.Hour)
	defer rig.batcher.Stop()

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	request := submitRequest(0, 1)
	request.Obs = request.Obs[:1]
	if _, err := rig.batcher.Submit(request); err == nil {
		t.Errorf("short observation accepted")
	}
}

// A source can have at most one submit awaiting evaluation
func TestBatcherRejectsDoubleInFlight(t *testing.T) {
	rig := newBatcherRig(t, 1, 2, 2, time.Hour)
	defer rig.batcher.Stop()

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	first := make(chan error, 1)
	go func() {
		_, err := rig.batcher.Submit(submitRequest(0, 1))
		first <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for rig.batcher.InFlight() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first submit never parked")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := rig.batcher.Submit(submitRequest(0, 2)); err == nil {
		t.Errorf("second in-flight submit for source 0 accepted")
	}

	// A submit from the other source completes the batch
	if _, err := rig.batcher.Submit(submitRequest(1, 1)); err != nil {
		t.Fatalf("submit from source 1 failed: %v", err)
	}
	if err := <-first; err != nil {
		t.Errorf("parked submit failed: %v", err)
	}
}

// Stop answers parked submits instead of stranding their callers
func TestBatcherStopAnswersParked(t *testing.T) {
	rig := newBatcherRig(t, 1, 2, 2, time.Hour)

	if _, err := rig.sessions.CheckIn("actor-0", 0); err != nil {
		t.Fatalf("check-in failed: %v", err)
	}

	type result struct {
		response *seedrpc.SubmitResponse
		err      error
	}
	parked := make(chan result, 1)
	go func() {
		response, err := rig.batcher.Submit(submitRequest(0, 1))
		parked <- result{response: response, err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for rig.batcher.InFlight() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("submit never parked")
		}
		time.Sleep(time.Millisecond)
	}

	rig.batcher.Stop()

	select {
	case r := <-parked:
		if r.err != nil {
			t.Fatalf("parked submit failed: %v", r.err)
		}
		if !r.response.Shutdown {
			t.Errorf("drained response does not carry shutdown")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("parked submit never answered after stop")
	}

	// Fresh submits after stop get placeholders too
	response, err := rig.batcher.Submit(submitRequest(1, 1))
	if err != nil {
		t.Fatalf("submit after stop failed: %v", err)
	}
	if !response.Shutdown {
		t.Errorf("post-stop response does not carry shutdown")
	}
}
