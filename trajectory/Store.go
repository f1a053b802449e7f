package trajectory

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"

	ts "github.com/samuelfneumann/goseed/timestep"
)

// Store accumulates evaluated steps into one fixed-length trajectory
// per source. When a source's trajectory completes, a deep copy is
// handed to the drop-off queue and the live slot is reset in place
// under a fresh sequence number.
//
// A trajectory completes when its final step ends an episode or when
// it reaches capacity. Auto-resetting environments emit an artificial
// first frame carrying Done with zero episode steps; such frames never
// complete a trajectory.
//
// Each source has its own slot lock, so sources never contend with one
// another.
type Store struct {
	slots      map[int]*slot
	capacity   int
	obsDim     int
	numActions int
	counter    atomic.Int64
	dropOff    *DropOffQueue
}

type slot struct {
	mu   sync.Mutex
	traj *Trajectory
}

// NewStore returns a new Store with one trajectory slot per source.
// Completed trajectories are pushed to dropOff.
func NewStore(sources []int, capacity, obsDim, numActions int,
	dropOff *DropOffQueue) (*Store, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("newstore: no sources")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("newstore: invalid trajectory capacity "+
			"\n\twant(> 0)\n\thave(%v)", capacity)
	}
	if obsDim <= 0 || numActions <= 0 {
		return nil, fmt.Errorf("newstore: invalid dimensions "+
			"\n\twant(> 0, > 0)\n\thave(%v, %v)", obsDim, numActions)
	}
	if dropOff == nil {
		return nil, fmt.Errorf("newstore: no drop-off queue")
	}

	store := &Store{
		slots:      make(map[int]*slot, len(sources)),
		capacity:   capacity,
		obsDim:     obsDim,
		numActions: numActions,
		dropOff:    dropOff,
	}

	ordered := make([]int, len(sources))
	copy(ordered, sources)
	sort.Ints(ordered)

	for _, id := range ordered {
		if _, ok := store.slots[id]; ok {
			return nil, fmt.Errorf("newstore: duplicate source %v", id)
		}
		number := store.counter.Inc() - 1
		store.slots[id] = &slot{
			traj: newTrajectory(number, id, capacity, obsDim, numActions),
		}
	}

	return store, nil
}

// Add appends an evaluated step to the source's trajectory. If the
// step completes the trajectory, a deep copy is dropped off and the
// live slot resets to length zero.
func (s *Store) Add(sourceID int, step ts.EvalStep) error {
	sl, ok := s.slots[sourceID]
	if !ok {
		return &StoreError{Op: "add", Err: errUnknownSource}
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if err := sl.traj.add(step); err != nil {
		return err
	}

	complete := step.Terminal()
	if complete || sl.traj.Full() {
		dropped := sl.traj.Clone()
		dropped.Complete = complete
		s.dropOff.Push(dropped)
		sl.traj.reset(s.counter.Inc() - 1)
	}

	return nil
}

// Length returns the number of valid steps in the source's live
// trajectory
func (s *Store) Length(sourceID int) (int, error) {
	sl, ok := s.slots[sourceID]
	if !ok {
		return 0, &StoreError{Op: "length", Err: errUnknownSource}
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.traj.Len(), nil
}

// Number returns the sequence number of the source's live trajectory
func (s *Store) Number(sourceID int) (int64, error) {
	sl, ok := s.slots[sourceID]
	if !ok {
		return 0, &StoreError{Op: "number", Err: errUnknownSource}
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.traj.Number, nil
}

// Sources returns the store's source IDs in ascending order
func (s *Store) Sources() []int {
	sources := make([]int, 0, len(s.slots))
	for id := range s.slots {
		sources = append(sources, id)
	}
	sort.Ints(sources)
	return sources
}

// Capacity returns the fixed trajectory length
func (s *Store) Capacity() int {
	return s.capacity
}
