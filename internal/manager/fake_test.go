package manager

import (
	"errors"
	"image/draw"
	"testing"
	"time"

	"github.com/tuxx/fancysaver/internal/clock"
	"github.com/tuxx/fancysaver/internal/grab"
	"github.com/tuxx/fancysaver/internal/loop"
	"github.com/tuxx/fancysaver/internal/winsys"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const monitorWidth = 100

type fakeScreen struct {
	number   int
	monitors int
}

func (s *fakeScreen) Number() int { return s.number }
func (s *fakeScreen) Monitors() int { return s.monitors }

func (s *fakeScreen) MonitorGeometry(i int) winsys.Rect {
	return winsys.Rect{X: i * monitorWidth, Width: monitorWidth, Height: 100}
}

func (s *fakeScreen) MonitorAt(x, y int) int {
	i := x / monitorWidth
	if i >= s.monitors {
		i = s.monitors - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

type surfaceID uint32

func (s surfaceID) ID() uint32 { return uint32(s) }

type fakeWindow struct {
	display *fakeDisplay
	screen  *fakeScreen
	monitor int
	surface surfaceID

	shown     bool
	destroyed bool
	resizes   int
	draws     int

	handlers map[winsys.SubscriptionID]winsys.WindowHandlers
	nextSub  winsys.SubscriptionID
}

func (w *fakeWindow) Screen() winsys.Screen { return w.screen }
func (w *fakeWindow) Monitor() int { return w.monitor }
func (w *fakeWindow) Surface() winsys.Surface { return w.surface }

// Show maps the window; the map event arrives on the loop like it would
// from a real server.
func (w *fakeWindow) Show() {
	if w.shown {
		return
	}
	w.shown = true
	w.display.loop.Post(func() {
		if w.destroyed {
			return
		}
		for _, h := range w.snapshot() {
			if h.OnMapped != nil {
				h.OnMapped()
			}
		}
	})
}

func (w *fakeWindow) Destroy() {
	if w.destroyed {
		return
	}
	w.destroyed = true
	w.shown = false
	if w.display.serverGrabbed {
		w.display.destroyedUnderGrab++
	}
	for _, h := range w.snapshot() {
		if h.OnDestroyed != nil {
			h.OnDestroyed()
		}
	}
}

func (w *fakeWindow) QueueResize() { w.resizes++ }
func (w *fakeWindow) QueueDraw() { w.draws++ }

func (w *fakeWindow) Subscribe(h winsys.WindowHandlers) winsys.SubscriptionID {
	w.nextSub++
	w.handlers[w.nextSub] = h
	return w.nextSub
}

func (w *fakeWindow) Unsubscribe(id winsys.SubscriptionID) {
	delete(w.handlers, id)
}

func (w *fakeWindow) snapshot() []winsys.WindowHandlers {
	out := make([]winsys.WindowHandlers, 0, len(w.handlers))
	for _, h := range w.handlers {
		out = append(out, h)
	}
	return out
}

func (w *fakeWindow) draw(canvas draw.Image) {
	for _, h := range w.snapshot() {
		if h.OnDraw != nil {
			h.OnDraw(canvas)
		}
	}
}

func (w *fakeWindow) breakGrab(keyboard bool) {
	for _, h := range w.snapshot() {
		if h.OnGrabBroken != nil {
			h.OnGrabBroken(keyboard)
		}
	}
}

type fakeDisplay struct {
	loop    *loop.Loop
	screens []*fakeScreen
	windows []*fakeWindow
	nextID  surfaceID

	pointerScreen int
	pointerX      int
	pointerY      int

	// failing holds monitor indices whose window creation errors.
	failing map[int]bool

	serverGrabbed      bool
	serverGrabs        int
	destroyedUnderGrab int

	monitorHandlers map[int]map[int]func(winsys.Screen)
	nextHandler     int
}

func newFakeDisplay(l *loop.Loop, monitorsPerScreen ...int) *fakeDisplay {
	d := &fakeDisplay{
		loop:            l,
		nextID:          100,
		failing:         make(map[int]bool),
		monitorHandlers: make(map[int]map[int]func(winsys.Screen)),
	}
	for i, n := range monitorsPerScreen {
		d.screens = append(d.screens, &fakeScreen{number: i, monitors: n})
	}
	return d
}

func (d *fakeDisplay) Screens() []winsys.Screen {
	out := make([]winsys.Screen, len(d.screens))
	for i, s := range d.screens {
		out[i] = s
	}
	return out
}

func (d *fakeDisplay) NewWindow(screen winsys.Screen, monitor int) (winsys.Window, error) {
	s, ok := screen.(*fakeScreen)
	if !ok {
		return nil, errors.New("foreign screen")
	}
	if d.failing[monitor] {
		return nil, errors.New("BadAlloc")
	}
	d.nextID++
	w := &fakeWindow{
		display:  d,
		screen:   s,
		monitor:  monitor,
		surface:  d.nextID,
		handlers: make(map[winsys.SubscriptionID]winsys.WindowHandlers),
	}
	d.windows = append(d.windows, w)
	return w, nil
}

func (d *fakeDisplay) Pointer() (winsys.Screen, int, int, error) {
	return d.screens[d.pointerScreen], d.pointerX, d.pointerY, nil
}

func (d *fakeDisplay) GrabServer() {
	d.serverGrabbed = true
	d.serverGrabs++
}

func (d *fakeDisplay) UngrabServer() { d.serverGrabbed = false }
func (d *fakeDisplay) Flush() {}

func (d *fakeDisplay) OnMonitorsChanged(screen winsys.Screen, fn func(winsys.Screen)) func() {
	n := screen.Number()
	if d.monitorHandlers[n] == nil {
		d.monitorHandlers[n] = make(map[int]func(winsys.Screen))
	}
	d.nextHandler++
	id := d.nextHandler
	d.monitorHandlers[n][id] = fn
	return func() { delete(d.monitorHandlers[n], id) }
}

func (d *fakeDisplay) handlerCount() int {
	n := 0
	for _, hs := range d.monitorHandlers {
		n += len(hs)
	}
	return n
}

// setMonitors changes the topology of a screen and notifies on the loop.
func (d *fakeDisplay) setMonitors(screen, n int) {
	s := d.screens[screen]
	s.monitors = n
	for _, fn := range d.monitorHandlers[screen] {
		fn := fn
		d.loop.Post(func() { fn(s) })
	}
	d.loop.Iterate()
}

func (d *fakeDisplay) live() []*fakeWindow {
	var out []*fakeWindow
	for _, w := range d.windows {
		if !w.destroyed {
			out = append(out, w)
		}
	}
	return out
}

type fakeBackend struct {
	refuse   bool
	keyboard uint32
	pointer  uint32
	ungrabs  int
}

func (b *fakeBackend) DefaultScreen() winsys.Screen { return &fakeScreen{} }
func (b *fakeBackend) Root(winsys.Screen) winsys.Surface { return surfaceID(1) }
func (b *fakeBackend) Flush() {}

func (b *fakeBackend) GrabKeyboard(target winsys.Surface) error {
	if b.refuse {
		return errors.New("AlreadyGrabbed")
	}
	b.keyboard = target.ID()
	return nil
}

func (b *fakeBackend) GrabPointer(target winsys.Surface, hideCursor bool) error {
	if b.refuse {
		return errors.New("AlreadyGrabbed")
	}
	b.pointer = target.ID()
	return nil
}

func (b *fakeBackend) UngrabKeyboard() error {
	b.keyboard = 0
	b.ungrabs++
	return nil
}

func (b *fakeBackend) UngrabPointer() error {
	b.pointer = 0
	b.ungrabs++
	return nil
}

type notifications struct {
	activated     int
	switchGreeter int
	lock          int
}

type harness struct {
	clock   *clock.FakeClock
	loop    *loop.Loop
	display *fakeDisplay
	backend *fakeBackend
	grab    *grab.Grab
	manager *Manager
	got     *notifications
}

func newHarness(t *testing.T, monitorsPerScreen []int, opts ...Option) *harness {
	t.Helper()

	c := clock.Fake(epoch)
	l := loop.New(c)
	d := newFakeDisplay(l, monitorsPerScreen...)
	b := &fakeBackend{}
	g := grab.New(b)
	m := New(d, g, l, opts...)

	got := &notifications{}
	m.Subscribe(Listener{
		Activated:     func() { got.activated++ },
		SwitchGreeter: func() { got.switchGreeter++ },
		Lock:          func() { got.lock++ },
	})

	t.Cleanup(m.Close)

	return &harness{clock: c, loop: l, display: d, backend: b, grab: g, manager: m, got: got}
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.loop.Iterate()
}

func (h *harness) activate(t *testing.T) {
	t.Helper()
	if !h.manager.SetActive(true) {
		t.Fatal("SetActive(true) = false")
	}
	h.loop.Iterate()
}
