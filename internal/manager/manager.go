// Package manager decides when the saver is shown. It owns the input grab,
// one window per monitor, and the two escalation timers that turn an idle
// display into a greeter request and a blanked display into a lock
// request.
//
// A Manager is not safe for concurrent use. Every method, and every
// callback it registers, runs on the event loop it was created with.
package manager

import (
	"image"
	"image/draw"
	"time"

	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/content"
	"github.com/tuxx/fancysaver/internal/grab"
	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
	"github.com/tuxx/fancysaver/internal/winsys"
)

const (
	// DefaultSwitchGreeterDelay is how long the saver stays up on the
	// visible session before the greeter is requested.
	DefaultSwitchGreeterDelay = 10 * time.Second

	// DefaultLockAfter is how long a blanked, inactive display waits
	// before a lock is requested.
	DefaultLockAfter = 5 * time.Second
)

// Listener receives the upward notifications. Nil fields are skipped.
type Listener struct {
	// Activated fires once per activation, when the first window maps.
	Activated func()
	// SwitchGreeter fires when the greeter escalation delay elapses.
	SwitchGreeter func()
	// Lock fires when the lock_after deadline elapses.
	Lock func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithRenderer sets the content drawn after ShowContent.
func WithRenderer(r content.Renderer) Option {
	return func(m *Manager) { m.renderer = r }
}

// WithLockAfter sets the initial lock delay. Zero disables auto-lock.
func WithLockAfter(d time.Duration) Option {
	return func(m *Manager) { m.lockAfter = d }
}

// WithSwitchDelay overrides DefaultSwitchGreeterDelay.
func WithSwitchDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.switchDelay = d
		}
	}
}

// WithHideCursor controls whether the pointer is hidden once the grab
// moves onto a saver window.
func WithHideCursor(hide bool) Option {
	return func(m *Manager) { m.hideCursor = hide }
}

type saverWindow struct {
	window winsys.Window
	sub    winsys.SubscriptionID
}

type subscriber struct {
	id int
	l  Listener
}

// Manager is the saver state machine.
type Manager struct {
	display  winsys.Display
	grab     *grab.Grab
	loop     *loop.Loop
	log      *zerolog.Logger
	renderer content.Renderer

	windows         []*saverWindow
	monitorsCancels []func()

	active      bool
	visible     bool
	blank       bool
	lidClosed   bool
	showContent bool
	announced   bool
	disposed    bool

	lockAfter   time.Duration
	switchDelay time.Duration
	hideCursor  bool

	switchTimer *loop.Source
	lockTimer   *loop.Source

	subscribers []subscriber
	nextSubID   int
}

// New creates an inactive Manager that assumes it runs on the visible
// session.
func New(display winsys.Display, g *grab.Grab, l *loop.Loop, opts ...Option) *Manager {
	m := &Manager{
		display:     display,
		grab:        g,
		loop:        l,
		log:         logger.WithComponent("manager"),
		visible:     true,
		lockAfter:   DefaultLockAfter,
		switchDelay: DefaultSwitchGreeterDelay,
		hideCursor:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers l for notifications.
func (m *Manager) Subscribe(l Listener) (cancel func()) {
	m.nextSubID++
	id := m.nextSubID
	m.subscribers = append(m.subscribers, subscriber{id: id, l: l})

	return func() {
		for i, s := range m.subscribers {
			if s.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) emit(pick func(Listener) func()) {
	for _, s := range append([]subscriber(nil), m.subscribers...) {
		if fn := pick(s.l); fn != nil {
			fn()
		}
	}
}

// SetActive shows (true) or hides (false) the saver. It returns false when
// the request does not apply to the current state, or when the input grab
// is refused on activation.
func (m *Manager) SetActive(active bool) bool {
	if m.disposed {
		m.log.Debug().Msg("Ignoring SetActive on a closed manager")
		return false
	}
	if active {
		return m.activate()
	}
	return m.deactivate()
}

// Active reports whether the saver is shown.
func (m *Manager) Active() bool { return m.active }

func (m *Manager) activate() bool {
	if m.active {
		m.log.Debug().Msg("Trying to activate manager when already active")
		return false
	}

	if !m.grab.GrabRoot(false) {
		m.log.Info().Msg("Activation aborted, input grab refused")
		return false
	}

	if len(m.windows) == 0 {
		m.createWindows()
	}
	if len(m.windows) == 0 {
		m.log.Error().Msg("Activation aborted, no saver window could be created")
		m.grab.Release()
		m.destroyWindows()
		return false
	}

	m.active = true
	m.announced = false

	for _, sw := range m.windows {
		sw.window.Show()
	}

	if m.visible && !m.blank && !m.lidClosed {
		m.startSwitch()
	}
	m.stopLock()

	m.log.Info().Int("windows", len(m.windows)).Msg("Saver activated")
	return true
}

func (m *Manager) deactivate() bool {
	if !m.active {
		m.log.Debug().Msg("Trying to deactivate a screensaver that is not active")
		return false
	}

	m.grab.Release()
	m.destroyWindows()
	m.stopSwitch()

	if m.blank {
		m.startLock()
	}

	m.active = false
	m.showContent = false

	m.log.Info().Msg("Saver deactivated")
	return true
}

// SetSessionVisible records whether this session is in the foreground.
func (m *Manager) SetSessionVisible(visible bool) {
	m.visible = visible

	if m.active && visible && !m.blank && !m.lidClosed {
		m.startSwitch()
	} else {
		m.stopSwitch()
	}
}

// SessionVisible reports whether this session is in the foreground.
func (m *Manager) SessionVisible() bool { return m.visible }

// SetBlankScreen records whether power management blanked the display.
func (m *Manager) SetBlankScreen(blank bool) {
	m.blank = blank

	if !m.active && blank {
		m.startLock()
		return
	}

	m.stopLock()
	if m.active && m.visible && !m.lidClosed {
		m.startSwitch()
	}
}

// BlankScreen reports whether the display is blanked.
func (m *Manager) BlankScreen() bool { return m.blank }

// SetLidClosed records the laptop lid state.
func (m *Manager) SetLidClosed(closed bool) {
	m.lidClosed = closed

	if m.active && m.visible && !m.blank && !closed {
		m.startSwitch()
	} else {
		m.stopSwitch()
	}
}

// LidClosed reports the laptop lid state.
func (m *Manager) LidClosed() bool { return m.lidClosed }

// SetLockAfter changes the lock delay. A lock timer that is already
// running keeps its original deadline.
func (m *Manager) SetLockAfter(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.lockAfter = d
}

// LockAfter returns the lock delay.
func (m *Manager) LockAfter() time.Duration { return m.lockAfter }

// SwitchDelay returns the greeter escalation delay.
func (m *Manager) SwitchDelay() time.Duration { return m.switchDelay }

// ShowContent switches the windows from plain black to rendered content
// until the next deactivation. Ignored while inactive.
func (m *Manager) ShowContent() {
	if m.showContent {
		return
	}
	if !m.active {
		m.log.Debug().Msg("Not showing content on an inactive saver")
		return
	}

	m.showContent = true
	for _, sw := range m.windows {
		sw.window.QueueDraw()
	}
}

// ContentShown reports whether content is drawn instead of plain black.
func (m *Manager) ContentShown() bool { return m.showContent }

// SwitchPending reports whether the greeter timer is running.
func (m *Manager) SwitchPending() bool { return m.switchTimer != nil }

// LockPending reports whether the lock timer is running.
func (m *Manager) LockPending() bool { return m.lockTimer != nil }

// Windows returns a snapshot of the saver windows.
func (m *Manager) Windows() []winsys.Window {
	out := make([]winsys.Window, 0, len(m.windows))
	for _, sw := range m.windows {
		out = append(out, sw.window)
	}
	return out
}

// Close tears the Manager down: the grab is released, windows destroyed
// and both timers stopped. Safe to call more than once.
func (m *Manager) Close() {
	if m.disposed {
		return
	}

	m.grab.Release()
	m.destroyWindows()
	m.active = false
	m.showContent = false
	m.stopSwitch()
	m.stopLock()
	m.disposed = true
}

func (m *Manager) startSwitch() {
	if m.switchTimer != nil {
		m.log.Debug().Msg("Trying to start an active switch to greeter timer")
		return
	}

	m.log.Debug().Dur("delay", m.switchDelay).Msg("Start switch to greeter timer")
	m.switchTimer = m.loop.AddTimeout(m.switchDelay, m.onSwitchTimeout)
}

func (m *Manager) stopSwitch() {
	if m.switchTimer == nil {
		return
	}
	m.log.Debug().Msg("Stop switch to greeter timer")
	m.switchTimer.Remove()
	m.switchTimer = nil
}

func (m *Manager) onSwitchTimeout() {
	m.switchTimer = nil
	m.log.Debug().Msg("Switch to greeter timeout")
	m.emit(func(l Listener) func() { return l.SwitchGreeter })
}

func (m *Manager) startLock() {
	if m.lockAfter == 0 {
		m.log.Debug().Msg("Lock after disabled")
		return
	}
	if m.lockTimer != nil {
		m.log.Debug().Msg("Trying to start an active lock timer")
		return
	}

	m.log.Debug().Dur("delay", m.lockAfter).Msg("Start lock timer")
	m.lockTimer = m.loop.AddTimeout(m.lockAfter, m.onLockTimeout)
}

func (m *Manager) stopLock() {
	if m.lockTimer == nil {
		return
	}
	m.log.Debug().Msg("Stop lock timer")
	m.lockTimer.Remove()
	m.lockTimer = nil
}

func (m *Manager) onLockTimeout() {
	m.lockTimer = nil
	m.log.Debug().Msg("Lock timeout")
	m.emit(func(l Listener) func() { return l.Lock })
}

// paint fills the canvas black and draws content on top when enabled.
func (m *Manager) paint(canvas draw.Image) {
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	if m.showContent && m.renderer != nil {
		m.renderer.Draw(canvas)
	}
}
