package learner

import (
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/samuelfneumann/goseed/trajectory"
)

// TrajectoryObserver consumes dropped trajectories as they are drained
// for training, e.g. for episode logging or rendering. Observer
// failures are reported and never interrupt batch assembly.
type TrajectoryObserver interface {
	LogTrajectory(*trajectory.Trajectory) error
}

// Prefetcher assembles training batches. Each assembler goroutine
// drains exactly one training batch worth of trajectories from the
// drop-off queue, or nothing, under a mutex shared by all assemblers;
// observers run on the drained trajectories inside that lock, stacking
// runs outside it.
//
// Enqueueing on the training queue retries a bounded number of times
// and then drops the assembled batch. Dropping the new batch, rather
// than evicting a queued one, keeps the queue's oldest batches
// flowing to training in collection order.
type Prefetcher struct {
	mu        sync.Mutex
	dropOff   *trajectory.DropOffQueue
	queue     chan *trajectory.Batch
	observers []TrajectoryObserver

	batchSize int
	rollout   int
	wait      time.Duration
	maxTries  int

	dropped atomic.Int64

	stop    chan struct{}
	workers sync.WaitGroup
}

// NewPrefetcher returns a Prefetcher draining dropOff into queue in
// batches of batchSize trajectories
func NewPrefetcher(dropOff *trajectory.DropOffQueue,
	queue chan *trajectory.Batch, batchSize, rollout int,
	wait time.Duration, maxTries int,
	observers ...TrajectoryObserver) (*Prefetcher, error) {
	if dropOff == nil || queue == nil {
		return nil, fmt.Errorf("newPrefetcher: missing collaborator")
	}
	if batchSize <= 0 || rollout <= 0 {
		return nil, fmt.Errorf("newPrefetcher: batch size and rollout "+
			"\n\twant(> 0)\n\thave(%v, %v)", batchSize, rollout)
	}
	if wait <= 0 || maxTries <= 0 {
		return nil, fmt.Errorf("newPrefetcher: wait and max tries "+
			"\n\twant(> 0)\n\thave(%v, %v)", wait, maxTries)
	}

	return &Prefetcher{
		dropOff:   dropOff,
		queue:     queue,
		observers: observers,
		batchSize: batchSize,
		rollout:   rollout,
		wait:      wait,
		maxTries:  maxTries,
		stop:      make(chan struct{}),
	}, nil
}

// Start launches n assembler goroutines
func (p *Prefetcher) Start(n int) {
	for i := 0; i < n; i++ {
		p.workers.Add(1)
		go p.run()
	}
}

// Stop winds down every assembler and waits for them to exit
func (p *Prefetcher) Stop() {
	close(p.stop)
	p.workers.Wait()
}

// Dropped returns the number of assembled batches lost to a full
// training queue
func (p *Prefetcher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Prefetcher) run() {
	defer p.workers.Done()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		trajectories := p.drain()
		if trajectories == nil {
			select {
			case <-p.stop:
				return
			case <-time.After(p.wait):
			}
			continue
		}

		batch, err := trajectory.Stack(trajectories, p.rollout)
		if err != nil {
			log.Printf("prefetch: could not stack trajectories: %v", err)
			p.dropped.Inc()
			continue
		}

		p.enqueue(batch)
	}
}

// drain pops exactly one training batch worth of trajectories, or
// nothing, running the observers on each inside the shared lock.
func (p *Prefetcher) drain() []*trajectory.Trajectory {
	p.mu.Lock()
	defer p.mu.Unlock()

	trajectories := p.dropOff.TryDrain(p.batchSize)
	for _, traj := range trajectories {
		for _, observer := range p.observers {
			if err := observer.LogTrajectory(traj); err != nil {
				log.Printf("prefetch: could not log trajectory %v: %v",
					traj.Number, err)
			}
		}
	}
	return trajectories
}

// enqueue offers the batch to the training queue, retrying while it is
// full and dropping the batch after the final try.
func (p *Prefetcher) enqueue(batch *trajectory.Batch) {
	for try := 0; ; try++ {
		select {
		case p.queue <- batch:
			return
		default:
		}

		if try+1 >= p.maxTries {
			p.dropped.Inc()
			return
		}

		select {
		case <-p.stop:
			p.dropped.Inc()
			return
		case <-time.After(p.wait):
		}
	}
}
