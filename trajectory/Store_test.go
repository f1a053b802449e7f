package trajectory

import (
	"testing"
)

func newTestStore(t *testing.T, sources []int, capacity int) (*Store,
	*DropOffQueue) {
	t.Helper()

	dropOff, err := NewDropOffQueue(len(sources))
	if err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(sources, capacity, testObsDim, testNumActions,
		dropOff)
	if err != nil {
		t.Fatal(err)
	}
	return store, dropOff
}

func TestStoreNewValidates(t *testing.T) {
	dropOff, err := NewDropOffQueue(1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(nil, 4, testObsDim, testNumActions,
		dropOff); err == nil {
		t.Error("empty source list did not error")
	}
	if _, err := NewStore([]int{1, 1}, 4, testObsDim, testNumActions,
		dropOff); err == nil {
		t.Error("duplicate source did not error")
	}
	if _, err := NewStore([]int{1}, 0, testObsDim, testNumActions,
		dropOff); err == nil {
		t.Error("zero capacity did not error")
	}
	if _, err := NewStore([]int{1}, 4, testObsDim, testNumActions,
		nil); err == nil {
		t.Error("nil drop-off queue did not error")
	}
}

func TestStoreUnknownSource(t *testing.T) {
	store, _ := newTestStore(t, []int{1}, 4)

	err := store.Add(2, testStep(1, false, 1))
	if err == nil {
		t.Fatal("unknown source did not error")
	}
	if !IsUnknownSource(err) {
		t.Errorf("error is not an unknown source: %v", err)
	}
}

// TestStoreResetFrameNeverCompletes checks that the boundary frame an
// environment emits on reset, which carries done with episode step 0,
// does not count as a finished episode.
func TestStoreResetFrameNeverCompletes(t *testing.T) {
	store, dropOff := newTestStore(t, []int{1}, 4)

	if err := store.Add(1, testStep(0, true, 0)); err != nil {
		t.Fatal(err)
	}

	if dropOff.Len() != 0 {
		t.Errorf("reset frame finished a trajectory \n\twant(%v)\n\thave(%v)",
			0, dropOff.Len())
	}
	length, err := store.Length(1)
	if err != nil {
		t.Fatal(err)
	}
	if length != 1 {
		t.Errorf("length after reset frame \n\twant(%v)\n\thave(%v)", 1,
			length)
	}
}

// TestStoreEpisodeAcrossTrajectories runs a single source through one
// 9-step episode with 4-step trajectories. The store should hand off two
// full partial trajectories mid-episode, then a short final one when the
// episode ends, resetting the live slot each time.
func TestStoreEpisodeAcrossTrajectories(t *testing.T) {
	store, dropOff := newTestStore(t, []int{1}, 4)

	// Boundary frame, then 9 environment transitions with the episode
	// finishing on the last one.
	if err := store.Add(1, testStep(0, true, 0)); err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 9; i++ {
		done := i == 9
		if err := store.Add(1, testStep(float64(i), done, i)); err != nil {
			t.Fatal(err)
		}
	}

	if dropOff.Len() != 3 {
		t.Fatalf("finished trajectories \n\twant(%v)\n\thave(%v)", 3,
			dropOff.Len())
	}
	length, err := store.Length(1)
	if err != nil {
		t.Fatal(err)
	}
	if length != 0 {
		t.Errorf("live slot length after terminal \n\twant(%v)\n\thave(%v)",
			0, length)
	}
	number, err := store.Number(1)
	if err != nil {
		t.Fatal(err)
	}
	if number != 3 {
		t.Errorf("live slot number after three drops \n\twant(%v)\n\thave(%v)",
			3, number)
	}

	finished := dropOff.TryDrain(3)
	if finished == nil {
		t.Fatal("could not drain three finished trajectories")
	}

	// First two filled up mid-episode
	for i, traj := range finished[:2] {
		if !traj.Full() || traj.Complete {
			t.Errorf("mid-episode trajectory %v: full=%v complete=%v", i,
				traj.Full(), traj.Complete)
		}
		if traj.Number != int64(i) {
			t.Errorf("trajectory number \n\twant(%v)\n\thave(%v)", i,
				traj.Number)
		}
	}

	// The last holds the episode tail
	last := finished[2]
	if !last.Complete {
		t.Error("terminal trajectory not marked complete")
	}
	if last.Len() != 2 {
		t.Errorf("terminal trajectory length \n\twant(%v)\n\thave(%v)", 2,
			last.Len())
	}
	if !last.Dones[last.Len()-1] {
		t.Error("terminal trajectory does not end with done")
	}
}

// TestStoreExactFitCompletesOnce checks that an episode ending exactly as
// the trajectory fills produces a single complete trajectory.
func TestStoreExactFitCompletesOnce(t *testing.T) {
	store, dropOff := newTestStore(t, []int{1}, 2)

	if err := store.Add(1, testStep(1, false, 1)); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(1, testStep(2, true, 2)); err != nil {
		t.Fatal(err)
	}

	if dropOff.Len() != 1 {
		t.Fatalf("finished trajectories \n\twant(%v)\n\thave(%v)", 1,
			dropOff.Len())
	}
	finished := dropOff.TryDrain(1)
	if !finished[0].Complete {
		t.Error("exact-fit episode end not marked complete")
	}
	if !finished[0].Full() {
		t.Error("exact-fit trajectory not full")
	}
}

func TestStoreNumbersSlotsInSortedOrder(t *testing.T) {
	store, _ := newTestStore(t, []int{5, 3}, 4)

	sources := store.Sources()
	if len(sources) != 2 || sources[0] != 3 || sources[1] != 5 {
		t.Fatalf("sources not sorted: %v", sources)
	}

	number, err := store.Number(3)
	if err != nil {
		t.Fatal(err)
	}
	if number != 0 {
		t.Errorf("first slot number \n\twant(%v)\n\thave(%v)", 0, number)
	}
	number, err = store.Number(5)
	if err != nil {
		t.Fatal(err)
	}
	if number != 1 {
		t.Errorf("second slot number \n\twant(%v)\n\thave(%v)", 1, number)
	}

	// A drop takes the next global number
	if err := store.Add(3, testStep(1, true, 1)); err != nil {
		t.Fatal(err)
	}
	number, err = store.Number(3)
	if err != nil {
		t.Fatal(err)
	}
	if number != 2 {
		t.Errorf("slot number after drop \n\twant(%v)\n\thave(%v)", 2, number)
	}
}

func TestStoreDroppedTrajectoryIsIndependent(t *testing.T) {
	store, dropOff := newTestStore(t, []int{1}, 2)

	if err := store.Add(1, testStep(1, false, 1)); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(1, testStep(2, false, 2)); err != nil {
		t.Fatal(err)
	}

	finished := dropOff.TryDrain(1)
	if finished == nil {
		t.Fatal("full trajectory was not dropped")
	}

	// Refill the live slot and make sure the drop kept its own data
	if err := store.Add(1, testStep(-1, false, 3)); err != nil {
		t.Fatal(err)
	}
	if finished[0].Obs[0] != 1.0 {
		t.Errorf("dropped observation changed \n\twant(%v)\n\thave(%v)",
			1.0, finished[0].Obs[0])
	}
}
