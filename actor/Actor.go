// Package actor implements the data collection process of a
// distributed run. An actor checks in with a remote learner, spawns
// one environment per source it is assigned, and submits every
// timestep for evaluation, applying the actions it receives until the
// learner signals shutdown.
package actor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/seedrpc"
)

// Caller issues remote calls to the learner. A *seedrpc.Client
// satisfies Caller.
type Caller interface {
	CheckIn(caller string, rank int) (*seedrpc.CheckInResponse, error)
	Submit(request *seedrpc.SubmitRequest) (*seedrpc.SubmitResponse, error)
	CheckOut(caller string) error
}

// Actor drives one caller's environment fleet against a remote
// learner. Each environment runs on its own goroutine with at most one
// submit in flight, so the learner sees one pending observation per
// source.
type Actor struct {
	name    string
	rank    int
	caller  Caller
	spawner env.Spawner

	steps atomic.Int64
}

// New returns an Actor collecting under name with the given rank
func New(name string, rank int, caller Caller,
	spawner env.Spawner) (*Actor, error) {
	if name == "" {
		return nil, fmt.Errorf("new: actor must be named")
	}
	if rank < 0 {
		return nil, fmt.Errorf("new: rank \n\twant(>= 0)\n\thave(%v)", rank)
	}
	if caller == nil || spawner == nil {
		return nil, fmt.Errorf("new: missing collaborator")
	}

	return &Actor{
		name:    name,
		rank:    rank,
		caller:  caller,
		spawner: spawner,
	}, nil
}

// Steps returns the number of environment steps taken so far
func (a *Actor) Steps() int64 {
	return a.steps.Load()
}

// Run checks in, collects until the learner signals shutdown on every
// source, and checks out. It blocks for the life of the collection.
func (a *Actor) Run() error {
	checkIn, err := a.caller.CheckIn(a.name, a.rank)
	if err != nil {
		return fmt.Errorf("run: could not check in: %v", err)
	}

	spec := a.spawner.Spec()
	if checkIn.ObsDim != spec.ObservationDim ||
		checkIn.NumActions != spec.NumActions {
		return fmt.Errorf("run: learner and environment specs disagree "+
			"\n\twant(%v observations, %v actions)\n\thave(%v observations, "+
			"%v actions)", spec.ObservationDim, spec.NumActions,
			checkIn.ObsDim, checkIn.NumActions)
	}

	environments, err := a.spawner.Spawn(len(checkIn.SourceIDs))
	if err != nil {
		return fmt.Errorf("run: could not spawn environments: %v", err)
	}

	log.Printf("actor %v: collecting on sources %v", a.name,
		checkIn.SourceIDs)

	var workers sync.WaitGroup
	for i, source := range checkIn.SourceIDs {
		workers.Add(1)
		go func(source int, environment env.Environment) {
			defer workers.Done()
			defer environment.Close()
			a.collect(source, environment)
		}(source, environments[i])
	}
	workers.Wait()

	if err := a.caller.CheckOut(a.name); err != nil {
		if seedrpc.IsUnknownSession(err) {
			log.Printf("actor %v: session already gone at check-out",
				a.name)
			return nil
		}
		return fmt.Errorf("run: could not check out: %v", err)
	}

	log.Printf("actor %v: checked out after %v environment steps", a.name,
		a.steps.Load())
	return nil
}

// collect runs one source's environment until the learner signals
// shutdown. Each submit carries the round-trip latency of the one
// before it.
func (a *Actor) collect(source int, environment env.Environment) {
	step := environment.Initial()
	var latency float64

	for {
		request := seedrpc.NewSubmitRequest(source, step)
		if latency > 0 {
			request.Metrics = map[string]float64{"latency": latency}
		}

		sent := time.Now()
		response, err := a.caller.Submit(request)
		if err != nil {
			log.Fatalf("actor %v: submit from source %v failed: %v",
				a.name, source, err)
		}
		latency = time.Since(sent).Seconds()

		if response.SourceID != source {
			log.Fatalf("actor %v: response source \n\twant(%v)\n\thave(%v)",
				a.name, source, response.SourceID)
		}
		if response.Shutdown {
			return
		}

		step, err = environment.Step(response.Action)
		if err != nil {
			log.Fatalf("actor %v: could not step source %v: %v", a.name,
				source, err)
		}
		a.steps.Inc()
	}
}
