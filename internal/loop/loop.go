// Package loop is the single cooperative event loop every state transition
// of the saver runs on. Window-system events, timer expirations and D-Bus
// calls are all turned into functions posted onto one queue and executed
// one at a time, so handlers never observe a half-updated state.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/tuxx/fancysaver/internal/clock"
)

// Loop serializes work onto a single goroutine.
type Loop struct {
	clock clock.Clock

	mu     sync.Mutex
	queue  []func()
	wake   chan struct{}
	quit   chan struct{}
	closed bool
}

// New creates a loop whose timeouts are measured with c.
func New(c clock.Clock) *Loop {
	if c == nil {
		c = clock.Real()
	}
	return &Loop{
		clock: c,
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
	}
}

// Clock returns the time source of the loop.
func (l *Loop) Clock() clock.Clock {
	return l.clock
}

// Post queues fn for execution on the loop. It never blocks and may be
// called from any goroutine. Work posted after Quit is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Iterate runs everything queued at the time of the call, plus anything
// those functions post, until the queue is empty. It returns the number of
// functions executed. Iterate must not be called concurrently with Run.
func (l *Loop) Iterate() int {
	n := 0
	for {
		fn := l.pop()
		if fn == nil {
			return n
		}
		fn()
		n++
	}
}

func (l *Loop) pop() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// Run executes posted work until ctx is cancelled or Quit is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Iterate()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.quit:
			return nil
		case <-l.wake:
		}
	}
}

// Quit stops Run and drops any work still queued. Idempotent.
func (l *Loop) Quit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.queue = nil
	close(l.quit)
}

// Invoke runs fn on the loop and waits for it to finish. It must not be
// called from the loop goroutine itself.
func (l *Loop) Invoke(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-l.quit:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTimeout runs fn once on the loop after d.
func (l *Loop) AddTimeout(d time.Duration, fn func()) *Source {
	s := &Source{loop: l}
	s.arm(d, func() bool {
		fn()
		return false
	}, 0)
	return s
}

// AddTick runs fn on the loop every interval for as long as it returns
// true. The first call happens one interval after AddTick. Panics if
// interval is not positive.
func (l *Loop) AddTick(interval time.Duration, fn func() bool) *Source {
	if interval <= 0 {
		panic("loop: non-positive interval for AddTick")
	}
	s := &Source{loop: l}
	s.arm(interval, fn, interval)
	return s
}
