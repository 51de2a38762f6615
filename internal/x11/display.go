// Package x11 implements the window-system side of the saver on top of
// the X protocol: screens and monitors, saver windows, input grabs, a
// RandR gamma dimmer and a DPMS blank watcher.
package x11

import (
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
	"github.com/tuxx/fancysaver/internal/winsys"
)

// Display is a connection to the X server. Apart from Open and Close,
// its methods must be called on the loop.
type Display struct {
	conn  *xgb.Conn
	setup *xproto.SetupInfo
	loop  *loop.Loop
	log   *zerolog.Logger

	xinerama bool
	randr    bool
	xfixes   bool

	screens []*Screen
	windows map[xproto.Window]*Window

	monitorHandlers map[int]map[int]func(winsys.Screen)
	nextHandler     int

	blankCursor   xproto.Cursor
	cursorHidden  bool
	serverGrabbed int

	// keyboardOn and pointerOn are the current grab windows, zero when the
	// device is not grabbed by us.
	keyboardOn xproto.Window
	pointerOn  xproto.Window

	closeOnce sync.Once
	done      chan struct{}
}

// Open connects to the X server named by $DISPLAY and starts delivering
// its events onto l.
func Open(l *loop.Loop) (*Display, error) {
	log := logger.WithComponent("x11")
	log.Info().Msg("Connecting to X server")

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, errors.Wrap(err, "connect to X server")
	}

	d := &Display{
		conn:            conn,
		setup:           xproto.Setup(conn),
		loop:            l,
		log:             log,
		windows:         make(map[xproto.Window]*Window),
		monitorHandlers: make(map[int]map[int]func(winsys.Screen)),
		done:            make(chan struct{}),
	}

	d.initExtensions()

	for i, info := range d.setup.Roots {
		s := &Screen{
			number: i,
			root:   info.Root,
			depth:  info.RootDepth,
			visual: info.RootVisual,
			width:  int(info.WidthInPixels),
			height: int(info.HeightInPixels),
		}
		s.monitors = d.queryMonitors(s)
		d.screens = append(d.screens, s)

		if d.randr {
			err := randr.SelectInputChecked(conn, info.Root, randr.NotifyMaskScreenChange).Check()
			if err != nil {
				log.Warn().Err(err).Int("screen", i).Msg("Failed to select RandR screen change events")
			}
		}

		log.Info().Int("screen", i).Int("monitors", len(s.monitors)).Msg("Screen detected")
		for m, r := range s.monitors {
			log.Debug().Int("screen", i).Int("monitor", m).Stringer("geometry", r).Msg("Monitor")
		}
	}

	if err := d.createBlankCursor(); err != nil {
		log.Warn().Err(err).Msg("Failed to create invisible cursor")
	}

	go d.pump()
	return d, nil
}

func (d *Display) initExtensions() {
	if err := xinerama.Init(d.conn); err != nil {
		d.log.Warn().Err(err).Msg("Xinerama not available, assuming one monitor per screen")
	} else {
		d.xinerama = true
	}

	if err := randr.Init(d.conn); err != nil {
		d.log.Warn().Err(err).Msg("RandR not available, monitor changes will not be tracked")
	} else if _, err := randr.QueryVersion(d.conn, 1, 3).Reply(); err != nil {
		d.log.Warn().Err(err).Msg("RandR version query failed")
	} else {
		d.randr = true
	}

	if err := xfixes.Init(d.conn); err != nil {
		d.log.Warn().Err(err).Msg("XFixes not available")
	} else if _, err := xfixes.QueryVersion(d.conn, 4, 0).Reply(); err != nil {
		d.log.Warn().Err(err).Msg("XFixes version query failed")
	} else {
		d.xfixes = true
	}
}

// Conn exposes the underlying connection for the dimmer and blank watcher.
func (d *Display) Conn() *xgb.Conn { return d.conn }

// Close stops event delivery and disconnects. Windows still open are
// destroyed by the server.
func (d *Display) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
		d.conn.Close()
	})
}

// pump reads events off the connection and hands them to the loop.
func (d *Display) pump() {
	for {
		ev, xerr := d.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			select {
			case <-d.done:
			default:
				d.log.Error().Msg("X connection closed")
			}
			return
		}
		if xerr != nil {
			d.log.Debug().Str("error", xerr.Error()).Msg("X error")
			continue
		}
		d.loop.Post(func() { d.handle(ev) })
	}
}

func (d *Display) handle(ev xgb.Event) {
	switch e := ev.(type) {
	case xproto.MapNotifyEvent:
		if w := d.windows[e.Window]; w != nil {
			w.mapped()
		}
	case xproto.ExposeEvent:
		if w := d.windows[e.Window]; w != nil && e.Count == 0 {
			w.QueueDraw()
		}
	case xproto.UnmapNotifyEvent:
		// An unviewable grab window loses its grabs without a FocusOut in
		// grab mode.
		if e.Window == d.keyboardOn {
			d.keyboardBroken(e.Window)
		}
		if e.Window == d.pointerOn {
			d.pointerBroken(e.Window)
		}
	case xproto.FocusOutEvent:
		if e.Mode == xproto.NotifyModeGrab ||
			(e.Mode == xproto.NotifyModeUngrab && e.Event == d.keyboardOn) {
			d.keyboardBroken(e.Event)
		}
	case xproto.LeaveNotifyEvent:
		if e.Mode == xproto.NotifyModeGrab ||
			(e.Mode == xproto.NotifyModeUngrab && e.Event == d.pointerOn) {
			d.pointerBroken(e.Event)
		}
	case randr.ScreenChangeNotifyEvent:
		d.screenChanged(e.Root, int(e.Width), int(e.Height))
	}
}

func (d *Display) keyboardBroken(id xproto.Window) {
	if id == d.keyboardOn {
		d.keyboardOn = 0
	}
	if w := d.windows[id]; w != nil {
		w.grabBroken(true)
	}
}

func (d *Display) pointerBroken(id xproto.Window) {
	if id == d.pointerOn {
		d.pointerOn = 0
	}
	if w := d.windows[id]; w != nil {
		w.grabBroken(false)
	}
}

func (d *Display) screenChanged(root xproto.Window, width, height int) {
	for _, s := range d.screens {
		if s.root != root {
			continue
		}
		s.width, s.height = width, height
		s.monitors = d.queryMonitors(s)
		d.log.Info().Int("screen", s.number).Int("monitors", len(s.monitors)).Msg("Screen layout changed")

		for _, fn := range d.handlersFor(s.number) {
			fn(s)
		}
	}
}

func (d *Display) handlersFor(screen int) []func(winsys.Screen) {
	out := make([]func(winsys.Screen), 0, len(d.monitorHandlers[screen]))
	for id := 1; id <= d.nextHandler; id++ {
		if fn, ok := d.monitorHandlers[screen][id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Screens returns every screen of the display.
func (d *Display) Screens() []winsys.Screen {
	out := make([]winsys.Screen, len(d.screens))
	for i, s := range d.screens {
		out[i] = s
	}
	return out
}

// OnMonitorsChanged registers fn for layout changes of screen.
func (d *Display) OnMonitorsChanged(screen winsys.Screen, fn func(winsys.Screen)) func() {
	n := screen.Number()
	if d.monitorHandlers[n] == nil {
		d.monitorHandlers[n] = make(map[int]func(winsys.Screen))
	}
	d.nextHandler++
	id := d.nextHandler
	d.monitorHandlers[n][id] = fn

	return func() { delete(d.monitorHandlers[n], id) }
}

// Pointer returns the screen under the pointer and its root coordinates.
func (d *Display) Pointer() (winsys.Screen, int, int, error) {
	for _, s := range d.screens {
		reply, err := xproto.QueryPointer(d.conn, s.root).Reply()
		if err != nil {
			return nil, 0, 0, errors.Wrap(err, "query pointer")
		}
		if reply.SameScreen {
			return s, int(reply.RootX), int(reply.RootY), nil
		}
	}
	return nil, 0, 0, errors.New("pointer is on no known screen")
}

// GrabServer suspends processing of other clients' requests. Calls nest.
func (d *Display) GrabServer() {
	if d.serverGrabbed == 0 {
		xproto.GrabServer(d.conn)
	}
	d.serverGrabbed++
}

// UngrabServer ends the section started by the matching GrabServer.
func (d *Display) UngrabServer() {
	if d.serverGrabbed == 0 {
		return
	}
	d.serverGrabbed--
	if d.serverGrabbed == 0 {
		xproto.UngrabServer(d.conn)
		d.conn.Sync()
	}
}

// Flush waits until the server has processed every request sent so far.
func (d *Display) Flush() { d.conn.Sync() }

func (d *Display) screenFor(s winsys.Screen) (*Screen, error) {
	if s == nil {
		return nil, errors.New("nil screen")
	}
	n := s.Number()
	if n < 0 || n >= len(d.screens) {
		return nil, errors.Errorf("no screen %d", n)
	}
	return d.screens[n], nil
}
