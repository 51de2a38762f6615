package loop

import (
	"sync"
	"time"

	"github.com/tuxx/fancysaver/internal/clock"
)

// Source is a scheduled callback owned by whoever created it. Removing it
// invalidates the handle: a dispatch that was already queued when Remove
// ran is discarded on the loop instead of calling the callback.
type Source struct {
	loop *Loop

	mu      sync.Mutex
	timer   *clock.Timer
	removed bool
}

// arm schedules the first expiration. A non-zero interval makes the
// source periodic; the next expiration is scheduled from the timer
// goroutine so a busy loop does not stretch the period.
func (s *Source) arm(d time.Duration, fn func() bool, interval time.Duration) {
	var fire func()
	fire = func() {
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			return
		}
		if interval > 0 {
			s.timer = s.loop.clock.AfterFunc(interval, fire)
		}
		s.mu.Unlock()

		s.loop.Post(func() {
			if !s.Active() {
				return
			}
			if !fn() || interval == 0 {
				s.Remove()
			}
		})
	}

	if d <= 0 {
		fire()
		return
	}

	// Holding mu across AfterFunc keeps a fast first expiration from
	// racing the assignment below.
	s.mu.Lock()
	s.timer = s.loop.clock.AfterFunc(d, fire)
	s.mu.Unlock()
}

// Remove cancels the source. Safe to call more than once and on a source
// that already fired.
func (s *Source) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Active reports whether the source can still fire.
func (s *Source) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.removed
}
