// Package progress implements a terminal progress readout for
// long-running collection and training runs
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Bar draws a terminal progress bar on its own goroutine. Producers
// hand it the latest progress value with Set; the draw loop redraws on
// a fixed cadence so a stalled producer still shows elapsed time
// moving.
type Bar struct {
	width int
	max   int64
	out   io.Writer

	updates chan int64
	stop    chan struct{}
	done    chan struct{}

	redrawEvery time.Duration
	start       time.Time
}

// NewBar returns a Bar that is width characters wide and full at max
func NewBar(width int, max int64, redrawEvery time.Duration) *Bar {
	return &Bar{
		width:       width,
		max:         max,
		out:         os.Stdout,
		updates:     make(chan int64, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		redrawEvery: redrawEvery,
	}
}

// Start launches the draw loop
func (b *Bar) Start() {
	b.start = time.Now()
	go b.run()
}

// Set hands the draw loop the latest progress value. Set never blocks;
// when updates outpace redraws only the newest value is kept.
func (b *Bar) Set(progress int64) {
	for {
		select {
		case b.updates <- progress:
			return
		default:
		}

		select {
		case <-b.updates:
		default:
		}
	}
}

// Stop draws the final state and stops the draw loop
func (b *Bar) Stop() {
	close(b.stop)
	<-b.done
}

func (b *Bar) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.redrawEvery)
	defer ticker.Stop()

	var progress int64
	b.draw(progress)
	for {
		select {
		case progress = <-b.updates:
		case <-ticker.C:
			b.draw(progress)
		case <-b.stop:
			select {
			case progress = <-b.updates:
			default:
			}
			b.draw(progress)
			fmt.Fprintln(b.out)
			return
		}
	}
}

func (b *Bar) draw(progress int64) {
	fraction := float64(progress) / float64(b.max)
	if fraction > 1 {
		fraction = 1
	}

	filled := int(fraction * float64(b.width))
	var bar strings.Builder
	bar.WriteByte('|')
	for i := 0; i < filled; i++ {
		bar.WriteRune('█')
	}
	for i := filled; i < b.width; i++ {
		bar.WriteByte(' ')
	}

	fmt.Fprintf(b.out, "\r%v| %v/%v [%.1f%% | elapsed: %v]", bar.String(),
		progress, b.max, fraction*100,
		time.Since(b.start).Truncate(time.Second))
}
