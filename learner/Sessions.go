package learner

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samuelfneumann/goseed/seedrpc"
)

// session records one caller's live registration
type session struct {
	caller    string
	rank      int
	token     string
	sources   []int
	checkedIn time.Time
}

// Sessions registers callers and owns the mapping from source ids to
// live sessions. A caller has at most one live session and the source
// ids of live sessions are disjoint.
type Sessions struct {
	mu           sync.Mutex
	numActors    int
	envsPerActor int
	byCaller     map[string]*session
	bySource     map[int]*session
	closed       bool
}

// NewSessions returns an empty registry for numActors callers with
// envsPerActor sources each
func NewSessions(numActors, envsPerActor int) (*Sessions, error) {
	if numActors <= 0 || envsPerActor <= 0 {
		return nil, fmt.Errorf("newSessions: actors and envs per actor "+
			"\n\twant(> 0)\n\thave(%v, %v)", numActors, envsPerActor)
	}

	return &Sessions{
		numActors:    numActors,
		envsPerActor: envsPerActor,
		byCaller:     map[string]*session{},
		bySource:     map[int]*session{},
	}, nil
}

// CheckIn registers a session for caller. The caller's rank determines
// which source ids it owns.
func (s *Sessions) CheckIn(caller string, rank int) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("checkIn: learner is shutting down")
	}
	if caller == "" {
		return nil, fmt.Errorf("checkIn: caller must be named")
	}
	if rank < 0 || rank >= s.numActors {
		return nil, fmt.Errorf("checkIn: rank \n\twant(0 <= rank < %v)"+
			"\n\thave(%v)", s.numActors, rank)
	}
	if _, ok := s.byCaller[caller]; ok {
		return nil, seedrpc.NewDuplicateSession("checkIn")
	}

	sources := make([]int, s.envsPerActor)
	for i := range sources {
		sources[i] = rank*s.envsPerActor + i
	}
	for _, source := range sources {
		if other, ok := s.bySource[source]; ok {
			return nil, fmt.Errorf("checkIn: source %v already owned by %v",
				source, other.caller)
		}
	}

	sess := &session{
		caller:    caller,
		rank:      rank,
		token:     uuid.NewString(),
		sources:   sources,
		checkedIn: time.Now(),
	}
	s.byCaller[caller] = sess
	for _, source := range sources {
		s.bySource[source] = sess
	}

	log.Printf("sessions: %v checked in with rank %v owning sources %v",
		caller, rank, sources)
	return sess, nil
}

// CheckOut removes caller's session
func (s *Sessions) CheckOut(caller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byCaller[caller]
	if !ok {
		return seedrpc.NewUnknownSession("checkOut")
	}

	delete(s.byCaller, caller)
	for _, source := range sess.sources {
		delete(s.bySource, source)
	}

	log.Printf("sessions: %v checked out after %v", caller,
		time.Since(sess.checkedIn).Round(time.Millisecond))
	return nil
}

// Owns returns whether a live session owns the source
func (s *Sessions) Owns(sourceID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.bySource[sourceID]
	return ok
}

// Count returns the number of live sessions
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byCaller)
}

// NumSources returns the number of sources owned by live sessions
func (s *Sessions) NumSources() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.bySource)
}

// Close stops the registry accepting new check-ins
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// AwaitEmpty waits up to timeout for every session to check out,
// reporting whether the registry drained.
func (s *Sessions) AwaitEmpty(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for s.Count() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
	return true
}
