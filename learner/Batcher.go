package learner

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/model"
	"github.com/samuelfneumann/goseed/seedrpc"
	ts "github.com/samuelfneumann/goseed/timestep"
	"github.com/samuelfneumann/goseed/trajectory"
)

// pendingSubmit is one parked submit waiting for its inference batch
type pendingSubmit struct {
	request *seedrpc.SubmitRequest
	step    ts.TimeStep
	reply   chan submitResult
	parked  time.Time
}

type submitResult struct {
	response *seedrpc.SubmitResponse
	err      error
}

// Batcher parks submitted timesteps until enough have arrived to fill
// an inference batch, evaluates the batch on the model, records every
// evaluated step in the trajectory store, and answers each caller with
// its action.
//
// A batch seals once pending submits reach the inference batch size
// bounded by the number of live sources, or once the oldest pending
// submit has waited a full flush interval. Bounding by live sources
// keeps dispatch alive as callers check out; without it the last
// submits of a draining fleet would hang forever.
type Batcher struct {
	model    model.Model
	store    *trajectory.Store
	sessions *Sessions
	spec     env.Spec

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[int]*pendingSubmit
	order   []int
	stopped bool

	inFlight atomic.Int64
	shutdown *atomic.Bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewBatcher returns a Batcher evaluating batches of up to batchSize
// pending submits on m. The shutdown flag is shared with the learner;
// once it is set, responses carry it and fresh submits are answered
// with a placeholder action instead of being parked.
func NewBatcher(m model.Model, store *trajectory.Store, sessions *Sessions,
	spec env.Spec, batchSize int, flushInterval time.Duration,
	shutdown *atomic.Bool) (*Batcher, error) {
	if m == nil || store == nil || sessions == nil || shutdown == nil {
		return nil, fmt.Errorf("newBatcher: missing collaborator")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("newBatcher: batch size \n\twant(> 0)"+
			"\n\thave(%v)", batchSize)
	}
	if flushInterval <= 0 {
		return nil, fmt.Errorf("newBatcher: flush interval \n\twant(> 0)"+
			"\n\thave(%v)", flushInterval)
	}

	return &Batcher{
		model:         m,
		store:         store,
		sessions:      sessions,
		spec:          spec,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		pending:       map[int]*pendingSubmit{},
		shutdown:      shutdown,
		wake:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop
func (b *Batcher) Start() {
	go b.dispatch()
}

// Stop winds down the dispatch loop, answering any still-parked
// submits with placeholder shutdown responses.
func (b *Batcher) Stop() {
	close(b.stop)
	<-b.done
}

// InFlight returns the number of submits currently awaiting a response
func (b *Batcher) InFlight() int64 {
	return b.inFlight.Load()
}

// Submit parks one submitted timestep and blocks until its inference
// batch has been evaluated. The response echoes the request's source
// id.
func (b *Batcher) Submit(request *seedrpc.SubmitRequest) (
	*seedrpc.SubmitResponse, error) {
	if len(request.Obs) != b.spec.ObservationDim {
		return nil, fmt.Errorf("submit: observation size \n\twant(%v)"+
			"\n\thave(%v)", b.spec.ObservationDim, len(request.Obs))
	}
	if !b.sessions.Owns(request.SourceID) {
		return nil, seedrpc.NewUnknownSession("submit")
	}
	if b.shutdown.Load() {
		return b.placeholder(request.SourceID), nil
	}

	pending := &pendingSubmit{
		request: request,
		step:    request.TimeStep(),
		reply:   make(chan submitResult, 1),
		parked:  time.Now(),
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return b.placeholder(request.SourceID), nil
	}
	if _, ok := b.pending[request.SourceID]; ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("submit: source %v already has a submit "+
			"in flight", request.SourceID)
	}
	b.pending[request.SourceID] = pending
	b.order = append(b.order, request.SourceID)
	b.mu.Unlock()

	b.inFlight.Inc()
	select {
	case b.wake <- struct{}{}:
	default:
	}

	result := <-pending.reply
	b.inFlight.Dec()
	return result.response, result.err
}

// placeholder answers a submit without evaluating, carrying the
// shutdown flag
func (b *Batcher) placeholder(sourceID int) *seedrpc.SubmitResponse {
	return &seedrpc.SubmitResponse{
		SourceID:      sourceID,
		Action:        0,
		Shutdown:      true,
		TrainingSteps: b.model.TrainingSteps(),
	}
}

// dispatch seals and evaluates batches until stopped
func (b *Batcher) dispatch() {
	defer close(b.done)

	for {
		if sealed := b.seal(); sealed != nil {
			b.evaluate(sealed)
			continue
		}

		select {
		case <-b.stop:
			b.drainParked()
			return
		case <-b.wake:
		case <-time.After(b.nextFlush()):
		}
	}
}

// seal removes and returns every pending submit in arrival order once
// the batch is ready, or nil.
func (b *Batcher) seal() []*pendingSubmit {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.order)
	if n == 0 {
		return nil
	}

	effective := b.batchSize
	if live := b.sessions.NumSources(); live < effective {
		effective = live
	}
	if effective < 1 {
		effective = 1
	}

	oldest := b.pending[b.order[0]].parked
	if n < effective && time.Since(oldest) < b.flushInterval {
		return nil
	}

	sealed := make([]*pendingSubmit, 0, n)
	for _, source := range b.order {
		sealed = append(sealed, b.pending[source])
		delete(b.pending, source)
	}
	b.order = b.order[:0]
	return sealed
}

// nextFlush returns how long dispatch may sleep before the oldest
// pending submit must flush
func (b *Batcher) nextFlush() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return b.flushInterval
	}

	wait := time.Until(b.pending[b.order[0]].parked.Add(b.flushInterval))
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

// evaluate runs one sealed batch through the model, stores every
// evaluated step, and completes the callers' waits.
func (b *Batcher) evaluate(sealed []*pendingSubmit) {
	n := len(sealed)
	obs := make([]float64, 0, n*b.spec.ObservationDim)
	for _, pending := range sealed {
		obs = append(obs, pending.request.Obs...)
	}

	eval, err := b.model.Evaluate(obs, n)
	if err != nil {
		log.Fatalf("batcher: could not evaluate model: %v", err)
	}

	shutdown := b.shutdown.Load()
	for i, pending := range sealed {
		evalStep := ts.NewEvalStep(pending.step, eval.Actions[i],
			eval.LogitsAt(i), eval.Baselines[i], eval.TrainingSteps)

		if err := b.store.Add(pending.request.SourceID, evalStep); err != nil {
			pending.reply <- submitResult{err: err}
			continue
		}

		pending.reply <- submitResult{response: &seedrpc.SubmitResponse{
			SourceID:      pending.request.SourceID,
			Action:        eval.Actions[i],
			Shutdown:      shutdown,
			TrainingSteps: eval.TrainingSteps,
		}}
	}
}

// drainParked answers every still-parked submit with a placeholder
// shutdown response so no caller is left waiting
func (b *Batcher) drainParked() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true
	for _, source := range b.order {
		pending := b.pending[source]
		delete(b.pending, source)
		pending.reply <- submitResult{response: b.placeholder(source)}
	}
	b.order = b.order[:0]
}
