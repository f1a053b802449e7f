package learner

// Watchdog detects a dead collection pipeline. Every loop iteration it
// observes three liveness gauges: the training queue depth, the
// drop-off queue depth, and the number of in-flight submits. An
// iteration in which all three are unchanged and no batch was trained
// counts as a stall; any change or progress resets the count.
//
// A system that never moves at all, with every gauge flat at zero,
// stalls from its very first observation.
type Watchdog struct {
	deadThreshold int
	stalls        int
	last          [3]int64
}

// NewWatchdog returns a Watchdog firing after more than deadThreshold
// consecutive stalls
func NewWatchdog(deadThreshold int) *Watchdog {
	return &Watchdog{deadThreshold: deadThreshold}
}

// Observe records one iteration's gauges and reports whether the
// pipeline is dead. With threshold T, T stalled iterations leave the
// watchdog armed and iteration T+1 fires it.
func (w *Watchdog) Observe(queued, dropOff int, inFlight int64,
	progressed bool) bool {
	now := [3]int64{int64(queued), int64(dropOff), inFlight}

	if progressed || now != w.last {
		w.stalls = 0
		w.last = now
	} else {
		w.stalls++
	}

	return w.stalls > w.deadThreshold
}

// Stalls returns the current consecutive stall count
func (w *Watchdog) Stalls() int {
	return w.stalls
}
