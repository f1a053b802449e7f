// Command goseed runs distributed data collection and training on
// classic control environments. One binary serves every role:
//
//	goseed -role learner	serve the model, batch inference, and train
//	goseed -role actor	collect against a remote learner
//	goseed -role all	run a learner and its actors in one process
//
// Actors submit every environment timestep to the learner over HTTP
// and step with the actions they get back, so the policy never leaves
// the learner. The -env flag selects the environment family; every
// process in a run must agree on it.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samuelfneumann/goseed/actor"
	env "github.com/samuelfneumann/goseed/environment"
	"github.com/samuelfneumann/goseed/environment/cartpole"
	"github.com/samuelfneumann/goseed/environment/mountaincar"
	"github.com/samuelfneumann/goseed/initwfn"
	"github.com/samuelfneumann/goseed/learner"
	"github.com/samuelfneumann/goseed/model"
	"github.com/samuelfneumann/goseed/network"
	"github.com/samuelfneumann/goseed/progress"
	"github.com/samuelfneumann/goseed/recorder"
	"github.com/samuelfneumann/goseed/seedrpc"
	"github.com/samuelfneumann/goseed/solver"
	"github.com/samuelfneumann/goseed/tracker"
)

type settings struct {
	role    string
	addr    string
	name    string
	rank    int
	envName string

	actors         int
	envs           int
	batchInference int
	batchTraining  int
	rollout        int
	maxEpisodeLen  int

	learnRate    float64
	gamma        float64
	entropyCost  float64
	baselineCost float64

	maxEpochs  int64
	totalSteps int64
	maxTime    time.Duration

	seed    uint64
	outDir  string
	record  bool
	verbose bool
}

func main() {
	var s settings
	flag.StringVar(&s.role, "role", "all", "Role to run: learner, actor, or all")
	flag.StringVar(&s.addr, "addr", envOr("GOSEED_ADDR", "localhost:5001"),
		"Learner address")
	flag.StringVar(&s.name, "name", "", "Caller name (actor role, defaults to actor-<rank>)")
	flag.IntVar(&s.rank, "rank", 0, "Caller rank (actor role)")
	flag.StringVar(&s.envName, "env", "cartpole", "Environment: cartpole or mountaincar")

	flag.IntVar(&s.actors, "actors", 2, "Number of actors")
	flag.IntVar(&s.envs, "envs", 2, "Environments per actor")
	flag.IntVar(&s.batchInference, "batch-inference", 2, "Observations per inference batch")
	flag.IntVar(&s.batchTraining, "batch-training", 4, "Trajectories per training batch")
	flag.IntVar(&s.rollout, "rollout", 64, "Steps per trajectory")
	flag.IntVar(&s.maxEpisodeLen, "max-episode-steps", 500, "Step limit per episode")

	flag.Float64Var(&s.learnRate, "lr", 0.0006, "Learning rate")
	flag.Float64Var(&s.gamma, "gamma", 0.99, "Reward discount")
	flag.Float64Var(&s.entropyCost, "entropy-cost", 0.0006, "Entropy regularization scale")
	flag.Float64Var(&s.baselineCost, "baseline-cost", 0.5, "Value loss scale")

	flag.Int64Var(&s.maxEpochs, "epochs", 0, "Training epochs before shutdown (0 = unlimited)")
	flag.Int64Var(&s.totalSteps, "total-steps", 500_000, "Environment steps before shutdown (0 = unlimited)")
	flag.DurationVar(&s.maxTime, "max-time", 0, "Wall clock limit (0 = unlimited)")

	flag.Uint64Var(&s.seed, "seed", 192382, "Seed for environments and weights")
	flag.StringVar(&s.outDir, "out", envOr("GOSEED_OUT", "results"),
		"Output directory root")
	flag.BoolVar(&s.record, "record", false, "Render best episodes to GIF")
	flag.BoolVar(&s.verbose, "verbose", false, "Print a training summary every few epochs")
	flag.Parse()

	switch s.role {
	case "learner":
		runLearner(s)
	case "actor":
		runActor(s)
	case "all":
		runAll(s)
	default:
		log.Fatalf("unknown role %q: want learner, actor, or all", s.role)
	}
}

// runLearner serves the model until a shutdown condition fires
func runLearner(s settings) {
	l, _ := buildLearner(s)
	if err := l.Run(); err != nil {
		log.Fatalf("learner failed: %v", err)
	}
}

// runActor collects against a remote learner until told to shut down
func runActor(s settings) {
	name := s.name
	if name == "" {
		name = fmt.Sprintf("actor-%v", s.rank)
	}

	a, err := actor.New(name, s.rank, seedrpc.NewClient("http://"+s.addr),
		makeSpawner(s, actorSeed(s, s.rank)))
	if err != nil {
		log.Fatalf("could not create %v: %v", name, err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("%v failed: %v", name, err)
	}
}

// runAll runs a learner and its full actor fleet in one process,
// talking over loopback HTTP exactly as separate processes would
func runAll(s settings) {
	l, m := buildLearner(s)

	learnerDone := make(chan error, 1)
	go func() {
		learnerDone <- l.Run()
	}()

	if err := awaitServer(s.addr, 10*time.Second); err != nil {
		log.Fatalf("run: %v", err)
	}

	stopBar := startProgress(s, m)

	var fleet sync.WaitGroup
	for rank := 0; rank < s.actors; rank++ {
		fleet.Add(1)
		go func(rank int) {
			defer fleet.Done()

			name := fmt.Sprintf("actor-%v", rank)
			a, err := actor.New(name, rank,
				seedrpc.NewClient("http://"+s.addr),
				makeSpawner(s, actorSeed(s, rank)))
			if err != nil {
				log.Fatalf("run: could not create %v: %v", name, err)
			}
			if err := a.Run(); err != nil {
				log.Printf("run: %v failed: %v", name, err)
			}
		}(rank)
	}

	fleet.Wait()
	err := <-learnerDone
	stopBar()
	if err != nil {
		log.Fatalf("run: learner failed: %v", err)
	}
}

// buildLearner wires the model, trackers, and learner for this run
func buildLearner(s settings) (*learner.Learner, *model.ActorCritic) {
	dir := makeRunDir(s.outDir)
	spec := makeSpawner(s, s.seed).Spec()
	m := buildModel(spec, s)

	track, err := tracker.New(dir)
	if err != nil {
		log.Fatalf("could not create trackers: %v", err)
	}

	var observers []learner.TrajectoryObserver
	if s.record {
		gifs, err := recorder.New(dir, makeRenderer(s))
		if err != nil {
			log.Fatalf("could not create recorder: %v", err)
		}
		observers = append(observers, gifs)
	}

	config := learner.Config{
		Addr:           s.addr,
		NumActors:      s.actors,
		EnvsPerActor:   s.envs,
		BatchInference: s.batchInference,
		BatchTraining:  s.batchTraining,
		Rollout:        s.rollout,
		MaxEpochs:      s.maxEpochs,
		TotalSteps:     s.totalSteps,
		MaxTime:        s.maxTime,
		Verbose:        s.verbose,
		OutDir:         dir,
	}

	l, err := learner.New(config, spec, m, track, observers...)
	if err != nil {
		log.Fatalf("could not create learner: %v", err)
	}

	log.Printf("writing results to %v", dir)
	return l, m
}

// buildModel constructs the actor-critic with the run's
// hyperparameters
func buildModel(spec env.Spec, s settings) *model.ActorCritic {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		log.Fatalf("could not create weight initializer: %v", err)
	}

	// Losses are summed over the batch, so the solver takes raw
	// gradients
	rmsProp, err := solver.NewRMSProp(s.learnRate, 0.01, 0.99, 1, -1.0)
	if err != nil {
		log.Fatalf("could not create solver: %v", err)
	}

	config := model.ActorCriticConfig{
		Layers:      []int{64, 64},
		Biases:      []bool{true, true},
		Activations: []*network.Activation{network.ReLU(), network.ReLU()},
		InitWFn:     init,
		Solver:      rmsProp,

		EvalBatch:         s.actors * s.envs,
		BatchTrajectories: s.batchTraining,
		Rollout:           s.rollout,

		Gamma:        s.gamma,
		EntropyCost:  s.entropyCost,
		BaselineCost: s.baselineCost,

		TotalEnvSteps: s.totalSteps,
	}

	m, err := model.NewActorCritic(spec, config, s.seed)
	if err != nil {
		log.Fatalf("could not create model: %v", err)
	}
	return m
}

// envOr returns the value of the environment variable key, or fallback
// when it is unset
func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// actorSeed spreads environment seeds so no two sources in the fleet
// share one
func actorSeed(s settings, rank int) uint64 {
	return s.seed + uint64(rank*s.envs)
}

// makeSpawner builds the requested environment family, seeded for one
// caller
func makeSpawner(s settings, seed uint64) env.Spawner {
	switch s.envName {
	case "cartpole":
		return cartpole.NewSpawner(seed, s.maxEpisodeLen)
	case "mountaincar":
		return mountaincar.NewSpawner(seed, s.maxEpisodeLen)
	default:
		log.Fatalf("unknown environment %q: want cartpole or mountaincar",
			s.envName)
		return nil
	}
}

// makeRenderer picks the episode renderer matching the environment
func makeRenderer(s settings) recorder.Renderer {
	if s.envName == "mountaincar" {
		return recorder.NewMountainCar()
	}
	return recorder.NewCartPole()
}

// makeRunDir creates a fresh uniquely-named directory for this run's
// results
func makeRunDir(root string) string {
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		log.Fatalf("could not create run directory %v: %v", dir, err)
	}
	return dir
}

// awaitServer blocks until the learner's server accepts connections
func awaitServer(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("await server: %v never answered: %v", addr,
				err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// startProgress draws environment step progress unless verbose
// training summaries are on. The returned stop function draws the
// final state.
func startProgress(s settings, m *model.ActorCritic) (stop func()) {
	if s.totalSteps <= 0 || s.verbose {
		return func() {}
	}

	bar := progress.NewBar(40, s.totalSteps, time.Second)
	bar.Start()

	stopPolling := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopPolling:
				return
			case <-time.After(250 * time.Millisecond):
				bar.Set(m.EnvSteps())
			}
		}
	}()

	return func() {
		close(stopPolling)
		bar.Set(m.EnvSteps())
		bar.Stop()
	}
}
