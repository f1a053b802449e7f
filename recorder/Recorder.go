// Package recorder renders finished episodes to animated GIFs. Because
// rendering is expensive relative to collection, only episodes that
// beat the best return seen so far are recorded, and at most one
// render runs at a time.
package recorder

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"log"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/atomic"

	"github.com/samuelfneumann/goseed/trajectory"
)

// Renderer draws a single observation as an image
type Renderer interface {
	// Frame renders one observation
	Frame(obs []float64) (image.Image, error)

	// Delay returns the GIF frame delay in hundredths of a second
	Delay() int
}

// Recorder buffers the observations of each source's current episode.
// When a trajectory shows an episode finishing with a new best return,
// the buffered frames are rendered to a GIF in the background.
//
// Frames lost to drop-off eviction leave an episode's buffer
// incomplete; such episodes are detected by length and never rendered.
type Recorder struct {
	mu       sync.Mutex
	dir      string
	renderer Renderer

	episodes map[int]*episodeBuffer
	best     float64
	haveBest bool

	rendering atomic.Bool
	skipped   atomic.Int64
	rendered  atomic.Int64
}

// episodeBuffer holds the frames of one source's current episode
type episodeBuffer struct {
	episode int64
	frames  [][]float64
}

// New returns a Recorder writing GIFs into dir, which must exist
func New(dir string, renderer Renderer) (*Recorder, error) {
	if renderer == nil {
		return nil, fmt.Errorf("new: no renderer")
	}

	return &Recorder{
		dir:      dir,
		renderer: renderer,
		episodes: map[int]*episodeBuffer{},
	}, nil
}

// LogTrajectory feeds a finished trajectory's rows into the source's
// episode buffer, rendering any episode the rows complete.
func (r *Recorder) LogTrajectory(traj *trajectory.Trajectory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffer := r.episodes[traj.SourceID]
	if buffer == nil {
		buffer = &episodeBuffer{episode: -1}
		r.episodes[traj.SourceID] = buffer
	}

	obsDim := traj.ObsDim()
	for t := 0; t < traj.Len(); t++ {
		// A row carrying done with nonzero episode steps is the first
		// observation of a new episode; the buffered frames belong to
		// the episode that just ended.
		if traj.Dones[t] && traj.EpisodeSteps[t] > 0 {
			r.finish(traj.SourceID, buffer, traj.PrevEpisodeIDs[t],
				traj.EpisodeSteps[t], traj.EpisodeReturns[t])
		}

		if traj.EpisodeIDs[t] != buffer.episode {
			buffer.episode = traj.EpisodeIDs[t]
			buffer.frames = buffer.frames[:0]
		}
		frame := make([]float64, obsDim)
		copy(frame, traj.Obs[t*obsDim:(t+1)*obsDim])
		buffer.frames = append(buffer.frames, frame)
	}

	return nil
}

// Rendered returns the number of episodes rendered to GIFs
func (r *Recorder) Rendered() int64 {
	return r.rendered.Load()
}

// Skipped returns the number of best episodes that went unrecorded
// because a render was already running.
func (r *Recorder) Skipped() int64 {
	return r.skipped.Load()
}

// finish renders the buffered frames if they form a complete episode
// with a new best return.
func (r *Recorder) finish(source int, buffer *episodeBuffer, episode int64,
	length int, episodeReturn float64) {
	if buffer.episode != episode || len(buffer.frames) != length {
		// Frames went missing, so the recording would be misleading
		return
	}
	if r.haveBest && episodeReturn <= r.best {
		return
	}
	r.best = episodeReturn
	r.haveBest = true

	if !r.rendering.CAS(false, true) {
		r.skipped.Inc()
		return
	}

	frames := buffer.frames
	buffer.frames = nil
	path := filepath.Join(r.dir, fmt.Sprintf(
		"source_%v_episode_%v_return_%.1f.gif", source, episode,
		episodeReturn))

	go func() {
		defer r.rendering.Store(false)
		if err := r.render(frames, path); err != nil {
			log.Printf("recorder: could not render episode %v of source "+
				"%v: %v", episode, source, err)
			return
		}
		r.rendered.Inc()
	}()
}

// render draws each frame and encodes the animation
func (r *Recorder) render(frames [][]float64, path string) error {
	anim := &gif.GIF{}
	for _, obs := range frames {
		frame, err := r.renderer.Frame(obs)
		if err != nil {
			return fmt.Errorf("render: %v", err)
		}

		bounds := frame.Bounds()
		paletted := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(paletted, bounds, frame, image.Point{})

		anim.Image = append(anim.Image, paletted)
		anim.Delay = append(anim.Delay, r.renderer.Delay())
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("render: %v", err)
	}
	defer file.Close()

	if err := gif.EncodeAll(file, anim); err != nil {
		return fmt.Errorf("render: could not encode %v: %v", path, err)
	}
	return nil
}
