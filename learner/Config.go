package learner

import (
	"fmt"
	"time"
)

// Config describes a Learner. Zero durations, counts, and intervals
// fall back to the defaults below; the shutdown bounds MaxEpochs,
// TotalSteps, and MaxTime are unlimited when zero, leaving the
// watchdog as the only stop condition.
type Config struct {
	// Addr is the address the remote call server listens on
	Addr string

	// NumActors and EnvsPerActor fix the source capacity. Source ids
	// run over [0, NumActors*EnvsPerActor).
	NumActors    int
	EnvsPerActor int

	// BatchInference is the number of pending submits the batcher
	// waits for before evaluating, bounded by the number of live
	// sources. BatchTraining is the number of trajectories per
	// training batch, each Rollout steps long.
	BatchInference int
	BatchTraining  int
	Rollout        int

	// FlushInterval bounds how long a pending submit waits for an
	// inference batch to fill
	FlushInterval time.Duration

	// PrefetchWait is the sleep between assembler polls and between
	// enqueue retries; PrefetchMaxTries bounds the retries before an
	// assembled batch is dropped.
	PrefetchWait     time.Duration
	PrefetchMaxTries int
	NumPrefetchers   int

	// MaxQueuedBatches caps the training queue
	MaxQueuedBatches int

	// DeadThreshold is the number of consecutive stalled iterations
	// after which the watchdog shuts the system down. PopWait bounds
	// each wait for a training batch so the watchdog always runs.
	DeadThreshold int
	PopWait       time.Duration

	// Shutdown predicates, unlimited when zero
	MaxEpochs  int64
	TotalSteps int64
	MaxTime    time.Duration

	// CheckoutTimeout bounds the shutdown wait for sessions to drain
	CheckoutTimeout time.Duration

	// SystemInterval is the number of loop iterations between system
	// metric rows; PrintInterval the number of epochs between verbose
	// summaries when Verbose is set.
	SystemInterval int64
	PrintInterval  int64
	Verbose        bool

	// OutDir receives metric files and the final model snapshot
	OutDir string
}

// Validate returns an error describing why the Config cannot run
func (c Config) Validate() error {
	if c.NumActors <= 0 {
		return fmt.Errorf("config: actors \n\twant(> 0)\n\thave(%v)",
			c.NumActors)
	}
	if c.EnvsPerActor <= 0 {
		return fmt.Errorf("config: envs per actor \n\twant(> 0)\n\thave(%v)",
			c.EnvsPerActor)
	}
	if c.BatchInference <= 0 {
		return fmt.Errorf("config: inference batch size \n\twant(> 0)"+
			"\n\thave(%v)", c.BatchInference)
	}
	if c.BatchTraining <= 0 {
		return fmt.Errorf("config: training batch size \n\twant(> 0)"+
			"\n\thave(%v)", c.BatchTraining)
	}
	if c.Rollout <= 0 {
		return fmt.Errorf("config: rollout length \n\twant(> 0)\n\thave(%v)",
			c.Rollout)
	}

	// The drop-off ring holds at most one trajectory per source, so a
	// training batch larger than the source capacity can never
	// assemble.
	sources := c.NumActors * c.EnvsPerActor
	if c.BatchTraining > sources {
		return fmt.Errorf("config: training batch size \n\twant(<= %v "+
			"sources)\n\thave(%v)", sources, c.BatchTraining)
	}

	return nil
}

// withDefaults fills the unset tuning knobs
func (c Config) withDefaults() Config {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	if c.PrefetchWait <= 0 {
		c.PrefetchWait = 100 * time.Millisecond
	}
	if c.PrefetchMaxTries <= 0 {
		c.PrefetchMaxTries = 5
	}
	if c.NumPrefetchers <= 0 {
		c.NumPrefetchers = 1
	}
	if c.MaxQueuedBatches <= 0 {
		c.MaxQueuedBatches = 128
	}
	if c.DeadThreshold <= 0 {
		c.DeadThreshold = 100
	}
	if c.PopWait <= 0 {
		c.PopWait = 100 * time.Millisecond
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = 30 * time.Second
	}
	if c.SystemInterval <= 0 {
		c.SystemInterval = 100
	}
	if c.PrintInterval <= 0 {
		c.PrintInterval = 10
	}
	return c
}
