package room

import (
	"sync"
	"time"
)

// advanceRetryDelay is how long the scheduler waits before retrying an
// auto-advance that hit a persistence failure.
const advanceRetryDelay = 5 * time.Second

// scheduler owns the single auto-advance timer of one room. Arming always
// replaces any prior timer, and every arming bumps a generation counter;
// a fired timer carries its generation, so a fire that lost a race with a
// cancel or a re-arm is detectably stale and the actor drops it.
//
// The timer callback never touches room state: it only submits an
// autoAdvance command into the room's mailbox via fire.
type scheduler struct {
	mu    sync.Mutex
	gen   uint64
	timer *time.Timer
	fire  func(gen uint64)
}

func newScheduler(fire func(gen uint64)) *scheduler {
	return &scheduler{fire: fire}
}

// arm schedules an auto-advance after d, canceling any prior timer.
func (s *scheduler) arm(d time.Duration) {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	g := s.gen
	s.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.gen == g {
			s.timer = nil
		}
		s.mu.Unlock()
		s.fire(g)
	})
	s.mu.Unlock()
}

// cancel stops any pending timer. A callback that already started
// running will see a newer generation and no-op.
func (s *scheduler) cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
}

// armed reports whether a timer is pending.
func (s *scheduler) armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// current returns the live generation for staleness checks.
func (s *scheduler) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}
