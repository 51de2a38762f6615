package x11

import (
	"image"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"

	"github.com/tuxx/fancysaver/internal/winsys"
)

const windowName = "FancySaver"

// Window is an override-redirect window covering one monitor.
type Window struct {
	display *Display
	screen  *Screen
	monitor int
	id      xproto.Window
	gc      xproto.Gcontext
	rect    winsys.Rect

	handlers map[winsys.SubscriptionID]winsys.WindowHandlers
	nextSub  winsys.SubscriptionID

	drawPending bool
	destroyed   bool
}

// ID implements winsys.Surface.
func (w *Window) ID() uint32 { return uint32(w.id) }

// Screen returns the screen the window lives on.
func (w *Window) Screen() winsys.Screen { return w.screen }

// Monitor returns the index of the monitor the window covers.
func (w *Window) Monitor() int { return w.monitor }

// Surface returns the window itself as a grab target.
func (w *Window) Surface() winsys.Surface { return w }

// NewWindow creates an unmapped black window over monitor of screen.
func (d *Display) NewWindow(screen winsys.Screen, monitor int) (winsys.Window, error) {
	s, err := d.screenFor(screen)
	if err != nil {
		return nil, err
	}
	rect := s.MonitorGeometry(monitor)

	wid, err := xproto.NewWindowId(d.conn)
	if err != nil {
		return nil, errors.Wrap(err, "allocate window id")
	}

	mask := uint32(xproto.CwBackPixel | xproto.CwOverrideRedirect | xproto.CwEventMask)
	values := []uint32{
		0x000000,
		1,
		uint32(xproto.EventMaskExposure |
			xproto.EventMaskStructureNotify |
			xproto.EventMaskFocusChange |
			xproto.EventMaskLeaveWindow),
	}

	err = xproto.CreateWindowChecked(
		d.conn,
		s.depth,
		wid,
		s.root,
		int16(rect.X), int16(rect.Y),
		uint16(rect.Width), uint16(rect.Height),
		0,
		xproto.WindowClassInputOutput,
		s.visual,
		mask,
		values,
	).Check()
	if err != nil {
		return nil, errors.Wrapf(err, "create window for monitor %d", monitor)
	}

	xproto.ChangeProperty(d.conn, xproto.PropModeReplace, wid,
		xproto.AtomWmName, xproto.AtomString, 8, uint32(len(windowName)), []byte(windowName))

	gc, err := xproto.NewGcontextId(d.conn)
	if err != nil {
		xproto.DestroyWindow(d.conn, wid)
		return nil, errors.Wrap(err, "allocate graphics context id")
	}
	err = xproto.CreateGCChecked(d.conn, gc, xproto.Drawable(wid),
		xproto.GcForeground|xproto.GcBackground,
		[]uint32{0xffffff, 0x000000},
	).Check()
	if err != nil {
		xproto.DestroyWindow(d.conn, wid)
		return nil, errors.Wrap(err, "create graphics context")
	}

	w := &Window{
		display:  d,
		screen:   s,
		monitor:  monitor,
		id:       wid,
		gc:       gc,
		rect:     rect,
		handlers: make(map[winsys.SubscriptionID]winsys.WindowHandlers),
	}
	d.windows[wid] = w

	d.log.Debug().Uint32("window", uint32(wid)).Int("monitor", monitor).Stringer("geometry", rect).Msg("Window created")
	return w, nil
}

// Show maps the window above everything else.
func (w *Window) Show() {
	if w.destroyed {
		return
	}
	xproto.MapWindow(w.display.conn, w.id)
	xproto.ConfigureWindow(w.display.conn, w.id, xproto.ConfigWindowStackMode,
		[]uint32{xproto.StackModeAbove})
}

// Destroy frees the window. OnDestroyed handlers run before it returns.
func (w *Window) Destroy() {
	if w.destroyed {
		return
	}
	w.destroyed = true

	d := w.display
	delete(d.windows, w.id)
	xproto.FreeGC(d.conn, w.gc)
	xproto.DestroyWindow(d.conn, w.id)

	for _, h := range w.snapshot() {
		if h.OnDestroyed != nil {
			h.OnDestroyed()
		}
	}
}

// QueueResize moves the window back onto its monitor and redraws.
func (w *Window) QueueResize() {
	if w.destroyed {
		return
	}
	rect := w.screen.MonitorGeometry(w.monitor)
	if rect != w.rect {
		w.rect = rect
		xproto.ConfigureWindow(w.display.conn, w.id,
			xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
			[]uint32{uint32(int32(rect.X)), uint32(int32(rect.Y)), uint32(rect.Width), uint32(rect.Height)})
	}
	w.QueueDraw()
}

// QueueDraw schedules one redraw on the loop. Requests made before it runs
// are coalesced.
func (w *Window) QueueDraw() {
	if w.destroyed || w.drawPending {
		return
	}
	w.drawPending = true
	w.display.loop.Post(w.redraw)
}

func (w *Window) redraw() {
	w.drawPending = false
	if w.destroyed || w.rect.Width <= 0 || w.rect.Height <= 0 {
		return
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w.rect.Width, w.rect.Height))
	for _, h := range w.snapshot() {
		if h.OnDraw != nil {
			h.OnDraw(canvas)
		}
	}

	if err := w.display.putImage(w.id, w.gc, w.screen, canvas); err != nil {
		w.display.log.Warn().Err(err).Uint32("window", uint32(w.id)).Msg("Failed to draw window")
	}
}

// Subscribe registers h and returns its id.
func (w *Window) Subscribe(h winsys.WindowHandlers) winsys.SubscriptionID {
	w.nextSub++
	w.handlers[w.nextSub] = h
	return w.nextSub
}

// Unsubscribe drops the handlers registered under id.
func (w *Window) Unsubscribe(id winsys.SubscriptionID) {
	delete(w.handlers, id)
}

// snapshot returns the handlers in subscription order so they may
// unsubscribe while being called.
func (w *Window) snapshot() []winsys.WindowHandlers {
	out := make([]winsys.WindowHandlers, 0, len(w.handlers))
	for id := winsys.SubscriptionID(1); id <= w.nextSub; id++ {
		if h, ok := w.handlers[id]; ok {
			out = append(out, h)
		}
	}
	return out
}

func (w *Window) mapped() {
	for _, h := range w.snapshot() {
		if h.OnMapped != nil {
			h.OnMapped()
		}
	}
}

func (w *Window) grabBroken(keyboard bool) {
	for _, h := range w.snapshot() {
		if h.OnGrabBroken != nil {
			h.OnGrabBroken(keyboard)
		}
	}
}
