// Package winsys describes what the saver needs from the window system:
// screens and their monitors, one full-screen window per monitor, the
// pointer position, and a server-wide critical section. All callbacks
// registered through these interfaces are delivered on the event loop.
package winsys

import (
	"fmt"
	"image/draw"
)

// Rect is a monitor or window geometry in root-window coordinates.
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

func (r Rect) String() string {
	return fmt.Sprintf("[%d,%d] (%dx%d)", r.X, r.Y, r.Width, r.Height)
}

// Screen is one screen of the display. Monitors are indexed from 0.
type Screen interface {
	Number() int
	Monitors() int
	MonitorGeometry(monitor int) Rect
	// MonitorAt returns the monitor containing the point, or the
	// nearest one when the point falls in a gap.
	MonitorAt(x, y int) int
}

// Surface is the drawable backing a window, also used as a grab target.
type Surface interface {
	ID() uint32
}

// SubscriptionID identifies a set of handlers registered on a Window.
type SubscriptionID uint64

// WindowHandlers are the events a saver window forwards upward. Nil
// fields are ignored.
type WindowHandlers struct {
	// OnMapped fires when the window becomes viewable.
	OnMapped func()
	// OnDestroyed fires once when the window is destroyed.
	OnDestroyed func()
	// OnGrabBroken fires when the environment revokes the keyboard
	// (keyboard == true) or pointer grab held on this window.
	OnGrabBroken func(keyboard bool)
	// OnDraw is asked to paint the window contents.
	OnDraw func(canvas draw.Image)
}

// Window is a full-screen surface bound to one monitor of one screen.
type Window interface {
	Screen() Screen
	Monitor() int
	Surface() Surface

	// Show maps the window.
	Show()
	// Destroy unmaps and frees the window. OnDestroyed handlers run
	// before Destroy returns.
	Destroy()
	// QueueResize re-reads the monitor geometry and redraws.
	QueueResize()
	// QueueDraw schedules a redraw.
	QueueDraw()

	Subscribe(h WindowHandlers) SubscriptionID
	Unsubscribe(id SubscriptionID)
}

// Display is the connection to the window system.
type Display interface {
	Screens() []Screen
	NewWindow(screen Screen, monitor int) (Window, error)

	// Pointer returns the screen the pointer is on and its position.
	Pointer() (screen Screen, x, y int, err error)

	// GrabServer and UngrabServer bracket a section during which no
	// other client's requests are processed.
	GrabServer()
	UngrabServer()
	Flush()

	// OnMonitorsChanged registers fn for monitor topology changes on
	// screen. The returned func removes the registration.
	OnMonitorsChanged(screen Screen, fn func(Screen)) (cancel func())
}
