// Package learner implements the learner process of a distributed
// data collection run. A single Learner owns the model. Remote actors
// check in, submit environment timesteps for evaluation, and receive
// actions back; the learner batches inference, accumulates evaluated
// steps into fixed-length trajectories, assembles training batches,
// and trains until a shutdown condition fires.
package learner

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/atomic"

	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/model"
	"github.com/samuelfneumann/goseed/seedrpc"
	"github.com/samuelfneumann/goseed/tracker"
	"github.com/samuelfneumann/goseed/trajectory"
)

// State describes where a Learner is in its lifecycle
type State int32

// Lifecycle states, in order
const (
	Idle State = iota
	Training
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Training:
		return "Training"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopped:
		return "Stopped"
	}
	return fmt.Sprintf("State(%v)", int32(s))
}

// Learner coordinates collection and training. It implements
// seedrpc.Callee, answering the remote calls of checked-in actors.
type Learner struct {
	config Config
	spec   env.Spec
	model  model.Model
	track  *tracker.Tracker

	sessions   *Sessions
	store      *trajectory.Store
	dropOff    *trajectory.DropOffQueue
	queue      chan *trajectory.Batch
	batcher    *Batcher
	prefetcher *Prefetcher
	watchdog   *Watchdog
	episodes   *episodeLog
	server     *seedrpc.Server

	shutdown   atomic.Bool
	state      atomic.Int32
	epochs     atomic.Int64
	iterations atomic.Int64
	start      time.Time
}

// New wires a Learner from its collaborators. The tracker may be nil,
// disabling metric files. Extra observers run on every drained
// trajectory alongside the episode log.
func New(config Config, spec env.Spec, m model.Model,
	track *tracker.Tracker,
	observers ...TrajectoryObserver) (*Learner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	if m == nil {
		return nil, fmt.Errorf("new: no model")
	}

	numSources := config.NumActors * config.EnvsPerActor
	sources := make([]int, numSources)
	for i := range sources {
		sources[i] = i
	}

	dropOff, err := trajectory.NewDropOffQueue(numSources)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	store, err := trajectory.NewStore(sources, config.Rollout,
		spec.ObservationDim, spec.NumActions, dropOff)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	sessions, err := NewSessions(config.NumActors, config.EnvsPerActor)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	learner := &Learner{
		config:   config,
		spec:     spec,
		model:    m,
		track:    track,
		sessions: sessions,
		store:    store,
		dropOff:  dropOff,
		queue:    make(chan *trajectory.Batch, config.MaxQueuedBatches),
		watchdog: NewWatchdog(config.DeadThreshold),
		episodes: newEpisodeLog(track),
	}

	learner.batcher, err = NewBatcher(m, store, sessions, spec,
		config.BatchInference, config.FlushInterval, &learner.shutdown)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	observerList := append([]TrajectoryObserver{learner.episodes},
		observers...)
	learner.prefetcher, err = NewPrefetcher(dropOff, learner.queue,
		config.BatchTraining, config.Rollout, config.PrefetchWait,
		config.PrefetchMaxTries, observerList...)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	learner.server, err = seedrpc.NewServer(config.Addr, learner)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	return learner, nil
}

// State returns the Learner's lifecycle state
func (l *Learner) State() State {
	return State(l.state.Load())
}

// CheckIn satisfies seedrpc.Callee
func (l *Learner) CheckIn(caller string, rank int) (*seedrpc.CheckInResponse,
	error) {
	sess, err := l.sessions.CheckIn(caller, rank)
	if err != nil {
		return nil, err
	}

	return &seedrpc.CheckInResponse{
		Token:        sess.token,
		SourceIDs:    sess.sources,
		ObsDim:       l.spec.ObservationDim,
		NumActions:   l.spec.NumActions,
		EnvsPerActor: l.config.EnvsPerActor,
	}, nil
}

// Submit satisfies seedrpc.Callee
func (l *Learner) Submit(request *seedrpc.SubmitRequest) (
	*seedrpc.SubmitResponse, error) {
	return l.batcher.Submit(request)
}

// CheckOut satisfies seedrpc.Callee
func (l *Learner) CheckOut(caller string) error {
	return l.sessions.CheckOut(caller)
}

// Run collects and trains until a shutdown condition fires, then winds
// the system down and prints the final report. It blocks for the life
// of the run.
func (l *Learner) Run() error {
	l.start = time.Now()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- l.server.Serve()
	}()

	l.batcher.Start()
	l.prefetcher.Start(l.config.NumPrefetchers)
	l.state.Store(int32(Training))
	log.Printf("learner: serving %v sources on %v",
		l.config.NumActors*l.config.EnvsPerActor, l.config.Addr)

	reason, err := l.trainLoop(serveErr)
	l.windDown(reason)
	l.report(reason)
	return err
}

// trainLoop runs training epochs until a shutdown condition fires,
// returning the reason.
func (l *Learner) trainLoop(serveErr <-chan error) (string, error) {
	for {
		if reason := l.stopReason(); reason != "" {
			return reason, nil
		}

		progressed := false
		select {
		case err := <-serveErr:
			return "remote call server failed", err
		case batch := <-l.queue:
			l.train(batch)
			progressed = true
		case <-time.After(l.config.PopWait):
		}

		iteration := l.iterations.Inc()
		dead := l.watchdog.Observe(len(l.queue), l.dropOff.Len(),
			l.batcher.InFlight(), progressed)
		if dead {
			return fmt.Sprintf("watchdog: queues dead for %v iterations",
				l.watchdog.Stalls()), nil
		}

		if iteration%l.config.SystemInterval == 0 {
			l.logSystem(iteration)
		}
	}
}

// train runs one training epoch on a batch
func (l *Learner) train(batch *trajectory.Batch) {
	metrics, err := l.model.TrainStep(batch)
	if err != nil {
		log.Fatalf("learner: could not train on batch: %v", err)
	}
	epoch := l.epochs.Inc()

	if l.track != nil {
		if err := l.track.TrackTraining(metrics); err != nil {
			log.Printf("learner: could not log training metrics: %v", err)
		}
	}

	if l.config.Verbose && epoch%l.config.PrintInterval == 0 {
		log.Printf("learner: epoch %v  |  training steps %v  |  env "+
			"steps %v  |  loss %.4f  |  lr %.2e", epoch,
			metrics.TrainingSteps, metrics.EnvSteps, metrics.Loss,
			metrics.LearnRate)
	}
}

// stopReason returns why the run should stop, or ""
func (l *Learner) stopReason() string {
	if max := l.config.MaxEpochs; max > 0 && l.epochs.Load() >= max {
		return fmt.Sprintf("trained %v epochs", l.epochs.Load())
	}
	if max := l.config.TotalSteps; max > 0 && l.model.EnvSteps() >= max {
		return fmt.Sprintf("trained on %v environment steps",
			l.model.EnvSteps())
	}
	if max := l.config.MaxTime; max > 0 && time.Since(l.start) >= max {
		return fmt.Sprintf("ran for %v",
			time.Since(l.start).Round(time.Second))
	}
	return ""
}

// logSystem writes one system metrics row
func (l *Learner) logSystem(iteration int64) {
	if l.track == nil {
		return
	}

	sample := tracker.SystemSample{
		Iteration:      iteration,
		TrainingQueue:  len(l.queue),
		DropOff:        l.dropOff.Len(),
		InFlight:       l.batcher.InFlight(),
		Stalls:         l.watchdog.Stalls(),
		Evicted:        l.dropOff.Evicted(),
		BatchesDropped: l.prefetcher.Dropped(),
		Sessions:       l.sessions.Count(),
	}
	if err := l.track.TrackSystem(sample); err != nil {
		log.Printf("learner: could not log system metrics: %v", err)
	}

	// Push buffered rows to disk so the run can be watched live
	if err := l.track.Flush(); err != nil {
		log.Printf("learner: could not flush trackers: %v", err)
	}
}

// windDown stops collection cooperatively: the shutdown flag rides on
// every subsequent submit response, sessions get a bounded window to
// check out, and only then do the workers and the server stop.
func (l *Learner) windDown(reason string) {
	log.Printf("learner: shutting down: %v", reason)
	l.state.Store(int32(ShuttingDown))
	l.shutdown.Store(true)
	l.sessions.Close()

	if !l.sessions.AwaitEmpty(l.config.CheckoutTimeout) {
		log.Printf("learner: abandoning %v sessions that never checked "+
			"out", l.sessions.Count())
	}

	l.batcher.Stop()
	l.prefetcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.server.Stop(ctx); err != nil {
		log.Printf("learner: could not stop server: %v", err)
	}

	l.snapshot()
	if l.track != nil {
		if err := l.track.Close(); err != nil {
			log.Printf("learner: could not close trackers: %v", err)
		}
	}

	l.state.Store(int32(Stopped))
}

// snapshot writes the final model weights
func (l *Learner) snapshot() {
	if l.config.OutDir == "" {
		return
	}

	path := filepath.Join(l.config.OutDir, "model.bin")
	file, err := os.Create(path)
	if err != nil {
		log.Printf("learner: could not snapshot model: %v", err)
		return
	}
	defer file.Close()

	if err := l.model.Checkpoint(file); err != nil {
		log.Printf("learner: could not snapshot model: %v", err)
		return
	}
	log.Printf("learner: wrote model snapshot to %v", path)
}

// report prints the final run summary. It prints on every run,
// including runs that never trained.
func (l *Learner) report(reason string) {
	fmt.Printf(`
==========================================================
Run complete: %v
----------------------------------------------------------
    Runtime                 %v
    Training epochs         %v
    Training steps          %v
    Environment steps       %v
    Trajectories seen       %v
    Episodes seen           %v
    Mean episode return     %.2f
    Mean submit latency     %.4fs
    Drop-off evictions      %v
    Batches dropped         %v
==========================================================
`,
		reason,
		time.Since(l.start).Round(time.Millisecond),
		l.epochs.Load(),
		l.model.TrainingSteps(),
		l.model.EnvSteps(),
		l.episodes.Trajectories(),
		l.episodes.Episodes(),
		l.episodes.MeanReturn(),
		l.episodes.MeanLatency(),
		l.dropOff.Evicted(),
		l.prefetcher.Dropped())
}
