// Package tracker records run data as it is produced. A Tracker
// appends to three CSV streams in a run directory: episode results,
// training updates, and system health samples.
package tracker

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/samuelfneumann/goseed/model"
)

// SystemSample is one reading of the collection pipeline's health
// gauges.
type SystemSample struct {
	Iteration      int64 // training loop iteration
	TrainingQueue  int   // batches waiting to be trained on
	DropOff        int   // trajectories waiting to be assembled
	InFlight       int64 // submissions being evaluated
	Stalls         int   // consecutive iterations with no gauge movement
	Evicted        int64 // trajectories evicted from the drop-off queue
	BatchesDropped int64 // assembled batches dropped at capacity
	Sessions       int   // sources currently checked in
}

// Tracker writes run data to CSV files under a run directory. Methods
// are safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	episodes *stream
	training *stream
	system   *stream
	start    time.Time
}

// New returns a Tracker writing episodes.csv, training.csv and
// system.csv under dir, which must exist.
func New(dir string) (*Tracker, error) {
	episodes, err := newStream(
		filepath.Join(dir, "episodes.csv"),
		[]string{"time", "source", "episode", "steps", "return"},
	)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	training, err := newStream(
		filepath.Join(dir, "training.csv"),
		[]string{"time", "training_steps", "env_steps", "loss",
			"policy_loss", "baseline_loss", "entropy_loss", "learn_rate",
			"batch_steps"},
	)
	if err != nil {
		episodes.close()
		return nil, fmt.Errorf("new: %v", err)
	}

	system, err := newStream(
		filepath.Join(dir, "system.csv"),
		[]string{"time", "iteration", "training_queue", "drop_off",
			"in_flight", "stalls", "evicted", "batches_dropped", "sessions"},
	)
	if err != nil {
		episodes.close()
		training.close()
		return nil, fmt.Errorf("new: %v", err)
	}

	return &Tracker{
		episodes: episodes,
		training: training,
		system:   system,
		start:    time.Now(),
	}, nil
}

// TrackEpisode records one finished episode
func (t *Tracker) TrackEpisode(source int, episode int64, steps int,
	episodeReturn float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.episodes.write([]string{
		t.elapsed(),
		strconv.Itoa(source),
		strconv.FormatInt(episode, 10),
		strconv.Itoa(steps),
		formatFloat(episodeReturn),
	})
}

// TrackTraining records one gradient update
func (t *Tracker) TrackTraining(metrics *model.TrainMetrics) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.training.write([]string{
		t.elapsed(),
		strconv.FormatInt(metrics.TrainingSteps, 10),
		strconv.FormatInt(metrics.EnvSteps, 10),
		formatFloat(metrics.Loss),
		formatFloat(metrics.PolicyLoss),
		formatFloat(metrics.BaselineLoss),
		formatFloat(metrics.EntropyLoss),
		formatFloat(metrics.LearnRate),
		strconv.Itoa(metrics.BatchSteps),
	})
}

// TrackSystem records one pipeline health sample
func (t *Tracker) TrackSystem(sample SystemSample) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.system.write([]string{
		t.elapsed(),
		strconv.FormatInt(sample.Iteration, 10),
		strconv.Itoa(sample.TrainingQueue),
		strconv.Itoa(sample.DropOff),
		strconv.FormatInt(sample.InFlight, 10),
		strconv.Itoa(sample.Stalls),
		strconv.FormatInt(sample.Evicted, 10),
		strconv.FormatInt(sample.BatchesDropped, 10),
		strconv.Itoa(sample.Sessions),
	})
}

// Flush forces buffered rows of all streams to disk
func (t *Tracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range []*stream{t.episodes, t.training, t.system} {
		if err := s.flush(); err != nil {
			return fmt.Errorf("flush: %v", err)
		}
	}
	return nil
}

// Close flushes and closes all streams
func (t *Tracker) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var firstErr error
	for _, s := range []*stream{t.episodes, t.training, t.system} {
		if err := s.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// elapsed returns the seconds since the Tracker was created
func (t *Tracker) elapsed() string {
	return strconv.FormatFloat(time.Since(t.start).Seconds(), 'f', 3, 64)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// stream is one CSV file of run data
type stream struct {
	file   *os.File
	writer *csv.Writer
}

func newStream(path string, header []string) (*stream, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("newstream: could not create %v: %v", path,
			err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		return nil, fmt.Errorf("newstream: could not write header of %v: %v",
			path, err)
	}

	return &stream{file: file, writer: writer}, nil
}

func (s *stream) write(record []string) error {
	return s.writer.Write(record)
}

func (s *stream) flush() error {
	s.writer.Flush()
	return s.writer.Error()
}

func (s *stream) close() error {
	if err := s.flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
