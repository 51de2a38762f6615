// Package fade ramps the screen from full brightness to dark before the
// saver windows appear.
package fade

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
)

// StepInterval is the period of the ramp ticks.
const StepInterval = time.Second / 30

// DefaultTimeout is the ramp duration used until SetTimeout is called.
const DefaultTimeout = 3 * time.Second

// State of the ramp.
type State int

const (
	Idle State = iota
	Fading
	Faded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fading:
		return "fading"
	case Faded:
		return "faded"
	default:
		return "unknown"
	}
}

// Dimmer applies a brightness level between 0 (dark) and 1 (untouched).
type Dimmer interface {
	SetLevel(level float64) error
}

type listener struct {
	id int
	fn func()
}

// Fade drives a Dimmer from the event loop. All methods must be called on
// the loop.
type Fade struct {
	loop   *loop.Loop
	dimmer Dimmer
	log    *zerolog.Logger

	enabled bool
	timeout time.Duration

	state    State
	applied  bool
	start    time.Time
	fraction float64
	tick     *loop.Source

	listeners []listener
	nextID    int
}

// New creates an enabled Fade. dimmer may be nil, in which case only the
// timing and the faded notification are produced.
func New(l *loop.Loop, dimmer Dimmer) *Fade {
	return &Fade{
		loop:    l,
		dimmer:  dimmer,
		log:     logger.WithComponent("fade"),
		enabled: true,
		timeout: DefaultTimeout,
	}
}

// Enabled reports whether fading is enabled.
func (f *Fade) Enabled() bool { return f.enabled }

// SetEnabled turns the ramp on or off. Disabling cancels a running ramp.
func (f *Fade) SetEnabled(enabled bool) {
	if f.enabled == enabled {
		return
	}
	if !enabled {
		f.Reset()
	}
	f.enabled = enabled
}

// Timeout returns the ramp duration.
func (f *Fade) Timeout() time.Duration { return f.timeout }

// SetTimeout sets the duration of subsequent ramps. Zero fades instantly.
func (f *Fade) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.timeout = d
}

// State returns the ramp state.
func (f *Fade) State() State { return f.state }

// Active reports whether a dim level is currently applied.
func (f *Fade) Active() bool { return f.applied }

// OnFaded registers fn to run when a ramp completes.
func (f *Fade) OnFaded(fn func()) (cancel func()) {
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listener{id: id, fn: fn})

	return func() {
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// Now starts a ramp to dark, restarting from full brightness if one is
// already running. Every call that is not cancelled by Reset or a later
// Now emits faded exactly once. When disabled, faded is emitted before
// Now returns.
func (f *Fade) Now() {
	if !f.enabled {
		f.emit()
		return
	}

	f.stopTick()
	f.start = f.loop.Clock().Now()
	f.fraction = 0
	f.state = Fading

	if f.timeout == 0 {
		f.finish()
		return
	}

	f.log.Debug().Dur("timeout", f.timeout).Msg("Starting fade")
	f.setLevel(1)
	f.tick = f.loop.AddTick(StepInterval, f.step)
}

// Reset cancels a running ramp and restores full brightness. A no-op when
// disabled or when nothing is applied.
func (f *Fade) Reset() {
	if !f.enabled {
		return
	}

	f.stopTick()
	if f.applied {
		f.log.Debug().Msg("Resetting fade")
		f.setLevel(1)
	}
	f.applied = false
	f.fraction = 0
	f.state = Idle
}

func (f *Fade) step() bool {
	elapsed := f.loop.Clock().Now().Sub(f.start)

	fraction := float64(elapsed) / float64(f.timeout)
	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}
	if fraction < f.fraction {
		fraction = f.fraction
	}
	f.fraction = fraction

	if fraction >= 1 {
		f.tick = nil
		f.finish()
		return false
	}

	f.setLevel(1 - fraction)
	return true
}

func (f *Fade) finish() {
	f.fraction = 1
	f.setLevel(0)
	f.state = Faded
	f.log.Debug().Msg("Fade finished")
	f.emit()
}

func (f *Fade) stopTick() {
	if f.tick != nil {
		f.tick.Remove()
		f.tick = nil
	}
}

func (f *Fade) setLevel(level float64) {
	f.applied = level < 1
	if f.dimmer == nil {
		return
	}
	if err := f.dimmer.SetLevel(level); err != nil {
		f.log.Warn().Err(err).Float64("level", level).Msg("Failed to set dim level")
	}
}

func (f *Fade) emit() {
	for _, l := range append([]listener(nil), f.listeners...) {
		l.fn()
	}
}
