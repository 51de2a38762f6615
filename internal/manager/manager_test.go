package manager

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/tuxx/fancysaver/internal/content"
)

func TestWindowsFollowActiveState(t *testing.T) {
	h := newHarness(t, []int{2})

	steps := []struct {
		active bool
		want   bool
	}{
		{true, true},
		{true, false},
		{false, true},
		{false, false},
		{true, true},
		{false, true},
	}

	for i, step := range steps {
		if got := h.manager.SetActive(step.active); got != step.want {
			t.Fatalf("step %d: SetActive(%v) = %v, want %v", i, step.active, got, step.want)
		}
		h.loop.Iterate()

		windows := len(h.manager.Windows())
		if h.manager.Active() != (windows > 0) {
			t.Fatalf("step %d: active=%v with %d windows", i, h.manager.Active(), windows)
		}
	}
}

func TestActivateCreatesVisibleWindowPerMonitor(t *testing.T) {
	h := newHarness(t, []int{2, 1})
	h.activate(t)

	live := h.display.live()
	if len(live) != 3 {
		t.Fatalf("%d windows, want 3", len(live))
	}
	for _, w := range live {
		if !w.shown {
			t.Fatalf("window on screen %d monitor %d not shown", w.screen.number, w.monitor)
		}
	}
	if !h.grab.KeyboardGrabbed() || !h.grab.MouseGrabbed() {
		t.Fatal("activation did not grab input")
	}
}

func TestActivateTwiceFails(t *testing.T) {
	h := newHarness(t, []int{2})
	h.activate(t)

	if h.manager.SetActive(true) {
		t.Fatal("second SetActive(true) = true")
	}
	h.loop.Iterate()

	if !h.manager.Active() {
		t.Fatal("second activation changed the state")
	}
	if n := len(h.display.windows); n != 2 {
		t.Fatalf("%d windows created, want 2", n)
	}
}

func TestDeactivateWhenInactiveFails(t *testing.T) {
	h := newHarness(t, []int{1})

	if h.manager.SetActive(false) {
		t.Fatal("SetActive(false) on a fresh manager = true")
	}
	if h.backend.ungrabs != 0 {
		t.Fatalf("%d ungrab calls, want 0", h.backend.ungrabs)
	}
	if h.manager.LockPending() || h.manager.SwitchPending() {
		t.Fatal("failed deactivation started a timer")
	}
}

func TestGrabRefusedAbortsActivation(t *testing.T) {
	h := newHarness(t, []int{2})
	h.backend.refuse = true

	if h.manager.SetActive(true) {
		t.Fatal("SetActive(true) = true with grab refused")
	}
	if h.manager.Active() {
		t.Fatal("manager active after refused grab")
	}
	if len(h.display.windows) != 0 {
		t.Fatal("windows created after refused grab")
	}
	if h.manager.SwitchPending() {
		t.Fatal("switch timer started after refused grab")
	}

	// The caller retries once the other client lets go.
	h.backend.refuse = false
	h.activate(t)
}

func TestActivationWithoutWindowsIsAborted(t *testing.T) {
	h := newHarness(t, []int{1})
	h.display.failing[0] = true

	if h.manager.SetActive(true) {
		t.Fatal("SetActive(true) = true with no window created")
	}
	if h.manager.Active() {
		t.Fatal("manager active without windows")
	}
	if len(h.manager.Windows()) != 0 {
		t.Fatal("window set not empty after aborted activation")
	}
	if h.backend.keyboard != 0 || h.backend.pointer != 0 {
		t.Fatalf("grab kept after aborted activation: keyboard=%d pointer=%d", h.backend.keyboard, h.backend.pointer)
	}
	if h.manager.SwitchPending() {
		t.Fatal("switch timer started after aborted activation")
	}
	if h.display.handlerCount() != 0 {
		t.Fatal("monitors-changed handler left connected")
	}

	h.display.failing[0] = false
	h.activate(t)
	if len(h.manager.Windows()) != 1 {
		t.Fatalf("%d windows after retry, want 1", len(h.manager.Windows()))
	}
}

func TestActivationWithSomeWindowsProceeds(t *testing.T) {
	h := newHarness(t, []int{2})
	h.display.failing[1] = true

	h.activate(t)
	if n := len(h.manager.Windows()); n != 1 {
		t.Fatalf("%d windows, want 1", n)
	}
}

func TestActivatedEmittedOncePerActivation(t *testing.T) {
	h := newHarness(t, []int{3})

	h.activate(t)
	if h.got.activated != 1 {
		t.Fatalf("activated = %d after first activation, want 1", h.got.activated)
	}

	h.manager.SetActive(false)
	h.activate(t)
	if h.got.activated != 2 {
		t.Fatalf("activated = %d after second activation, want 2", h.got.activated)
	}
}

func TestMappedWindowUnderPointerTakesGrab(t *testing.T) {
	h := newHarness(t, []int{3})
	h.display.pointerX = 2*monitorWidth + 10

	h.activate(t)

	var want uint32
	for _, w := range h.display.live() {
		if w.monitor == 2 {
			want = w.surface.ID()
		}
	}
	if h.backend.keyboard != want || h.backend.pointer != want {
		t.Fatalf("grab on keyboard=%d pointer=%d, want %d", h.backend.keyboard, h.backend.pointer, want)
	}
	if !h.grab.CursorHidden() {
		t.Fatal("cursor not hidden on the saver window")
	}
}

func TestGrabBrokenResetsHalf(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)
	w := h.display.live()[0]

	w.breakGrab(true)
	if h.grab.KeyboardGrabbed() {
		t.Fatal("keyboard still marked grabbed")
	}
	if !h.grab.MouseGrabbed() {
		t.Fatal("pointer grab lost on a keyboard break")
	}

	w.breakGrab(false)
	if h.grab.MouseGrabbed() {
		t.Fatal("pointer still marked grabbed")
	}
}

func TestDestroyedWindowDropsHandlers(t *testing.T) {
	h := newHarness(t, []int{2})
	h.activate(t)
	windows := h.display.live()

	h.manager.SetActive(false)

	for _, w := range windows {
		if !w.destroyed {
			t.Fatal("window survived deactivation")
		}
		if len(w.handlers) != 0 {
			t.Fatalf("%d handlers left on a destroyed window", len(w.handlers))
		}
	}
}

func TestSwitchTimerStartIsIdempotent(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)

	if !h.manager.SwitchPending() {
		t.Fatal("switch timer not started on activation")
	}

	h.manager.SetSessionVisible(true)
	h.manager.SetLidClosed(false)
	h.manager.SetBlankScreen(false)

	if n := h.clock.Pending(); n != 1 {
		t.Fatalf("%d timers pending, want 1", n)
	}

	h.manager.SetSessionVisible(false)
	if n := h.clock.Pending(); n != 0 {
		t.Fatalf("%d timers pending after one stop, want 0", n)
	}

	h.advance(time.Minute)
	if h.got.switchGreeter != 0 {
		t.Fatal("stopped switch timer fired")
	}
}

func TestSwitchGreeterFires(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)

	h.advance(DefaultSwitchGreeterDelay - time.Second)
	if h.got.switchGreeter != 0 {
		t.Fatal("switch-greeter fired early")
	}

	h.advance(time.Second)
	if h.got.switchGreeter != 1 {
		t.Fatalf("switchGreeter = %d, want 1", h.got.switchGreeter)
	}
	if h.manager.SwitchPending() {
		t.Fatal("timer handle not cleared after firing")
	}

	h.advance(time.Minute)
	if h.got.switchGreeter != 1 {
		t.Fatal("switch-greeter fired again")
	}
}

func TestNoSwitchTimerWhenNotVisible(t *testing.T) {
	h := newHarness(t, []int{1})
	h.manager.SetSessionVisible(false)
	h.activate(t)

	if h.manager.SwitchPending() {
		t.Fatal("switch timer started on a background session")
	}

	h.manager.SetSessionVisible(true)
	if !h.manager.SwitchPending() {
		t.Fatal("switch timer not started when the session came back")
	}
}

func TestLidClosedRestartsSwitchTimer(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)

	h.advance(3 * time.Second)
	h.manager.SetLidClosed(true)
	if h.manager.SwitchPending() {
		t.Fatal("switch timer survived lid close")
	}

	h.advance(2 * time.Second)
	h.manager.SetLidClosed(false)
	if !h.manager.SwitchPending() {
		t.Fatal("switch timer not restarted on lid open")
	}

	// A fresh window: the three seconds before the lid closed do not count.
	h.advance(DefaultSwitchGreeterDelay - time.Second)
	if h.got.switchGreeter != 0 {
		t.Fatal("switch-greeter fired before a full delay after lid open")
	}
	h.advance(time.Second)
	if h.got.switchGreeter != 1 {
		t.Fatalf("switchGreeter = %d, want 1", h.got.switchGreeter)
	}
}

func TestBlankStartsLockTimer(t *testing.T) {
	h := newHarness(t, []int{1}, WithLockAfter(5*time.Second))

	h.manager.SetBlankScreen(true)
	if !h.manager.LockPending() {
		t.Fatal("lock timer not started")
	}

	h.advance(4 * time.Second)
	if h.got.lock != 0 {
		t.Fatal("lock fired early")
	}
	h.advance(time.Second)
	if h.got.lock != 1 {
		t.Fatalf("lock = %d, want 1", h.got.lock)
	}
	h.advance(time.Minute)
	if h.got.lock != 1 {
		t.Fatal("lock fired twice")
	}
}

func TestUnblankCancelsLockTimer(t *testing.T) {
	h := newHarness(t, []int{1}, WithLockAfter(5*time.Second))

	h.manager.SetBlankScreen(true)
	h.advance(3 * time.Second)
	h.manager.SetBlankScreen(false)
	h.advance(time.Minute)

	if h.got.lock != 0 {
		t.Fatal("lock fired after unblank")
	}
	if h.clock.Pending() != 0 {
		t.Fatal("timer still pending after unblank")
	}
}

func TestLockAfterZeroDisablesLock(t *testing.T) {
	h := newHarness(t, []int{1}, WithLockAfter(0))

	h.manager.SetBlankScreen(true)
	h.advance(time.Hour)

	if h.manager.LockPending() || h.got.lock != 0 {
		t.Fatal("lock timer ran with lock_after = 0")
	}
}

func TestDeactivateWhileBlankStartsLock(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)
	h.manager.SetBlankScreen(true)
	if h.manager.LockPending() {
		t.Fatal("lock timer started while active")
	}

	h.manager.SetActive(false)
	if !h.manager.LockPending() {
		t.Fatal("deactivating a blanked display did not start the lock timer")
	}

	// Activation stops it again.
	h.activate(t)
	if h.manager.LockPending() {
		t.Fatal("lock timer survived activation")
	}
}

func TestSetLockAfterAffectsNextTimerOnly(t *testing.T) {
	h := newHarness(t, []int{1}, WithLockAfter(5*time.Second))

	h.manager.SetBlankScreen(true)
	h.manager.SetLockAfter(time.Minute)

	h.advance(5 * time.Second)
	if h.got.lock != 1 {
		t.Fatalf("running timer was rescheduled: lock = %d", h.got.lock)
	}

	h.manager.SetBlankScreen(false)
	h.manager.SetBlankScreen(true)
	h.advance(5 * time.Second)
	if h.got.lock != 1 {
		t.Fatal("new timer did not pick up the new delay")
	}
	h.advance(55 * time.Second)
	if h.got.lock != 2 {
		t.Fatalf("lock = %d, want 2", h.got.lock)
	}
}

func TestMonitorsGrowCreatesShownWindows(t *testing.T) {
	h := newHarness(t, []int{2})
	h.activate(t)
	before := h.display.live()

	h.display.setMonitors(0, 4)

	live := h.display.live()
	if len(live) != 4 || len(h.manager.Windows()) != 4 {
		t.Fatalf("%d live windows, manager has %d, want 4", len(live), len(h.manager.Windows()))
	}
	if len(h.display.windows) != 4 {
		t.Fatalf("%d windows ever created, want 4", len(h.display.windows))
	}
	seen := map[int]bool{}
	for _, w := range live {
		if !w.shown {
			t.Fatalf("new window on monitor %d not shown", w.monitor)
		}
		seen[w.monitor] = true
	}
	for i := 0; i < 4; i++ {
		if !seen[i] {
			t.Fatalf("no window on monitor %d", i)
		}
	}
	for _, w := range before {
		if w.resizes == 0 {
			t.Fatal("existing window not asked to revalidate its geometry")
		}
	}
}

func TestMonitorsShrinkDestroysOutOfRange(t *testing.T) {
	h := newHarness(t, []int{4})
	h.activate(t)
	before := h.display.live()

	h.display.setMonitors(0, 2)

	live := h.display.live()
	if len(live) != 2 {
		t.Fatalf("%d live windows, want 2", len(live))
	}
	for _, w := range before {
		if w.monitor < 2 && w.destroyed {
			t.Fatalf("in-range window on monitor %d destroyed", w.monitor)
		}
		if w.monitor >= 2 && !w.destroyed {
			t.Fatalf("window on monitor %d survived", w.monitor)
		}
	}
	for i, w := range h.manager.Windows() {
		if w != before[i] {
			t.Fatal("remaining windows were replaced")
		}
	}
	if h.display.destroyedUnderGrab != 2 {
		t.Fatalf("%d windows destroyed under the server grab, want 2", h.display.destroyedUnderGrab)
	}
	if h.display.serverGrabbed {
		t.Fatal("server left grabbed")
	}
}

func TestMonitorsShrinkFillsGaps(t *testing.T) {
	h := newHarness(t, []int{3})
	h.display.failing[1] = true
	h.activate(t)
	h.display.failing[1] = false

	h.display.setMonitors(0, 2)

	covered := make(map[int]bool)
	for _, w := range h.display.live() {
		covered[w.monitor] = true
		if !w.shown {
			t.Fatalf("window on monitor %d not shown", w.monitor)
		}
	}
	if len(covered) != 2 || !covered[0] || !covered[1] {
		t.Fatalf("covered monitors %v, want 0 and 1", covered)
	}
	if h.display.serverGrabbed {
		t.Fatal("server left grabbed")
	}
}

func TestMonitorsUnchangedCountFillsGaps(t *testing.T) {
	h := newHarness(t, []int{2})
	h.display.failing[0] = true
	h.activate(t)
	h.display.failing[0] = false

	h.display.setMonitors(0, 2)

	if n := len(h.display.live()); n != 2 {
		t.Fatalf("%d live windows, want 2", n)
	}
	if h.display.serverGrabs != 0 {
		t.Fatal("server grabbed with nothing to remove")
	}
}

func TestMonitorsChangedCountsPerScreen(t *testing.T) {
	h := newHarness(t, []int{2, 1})
	h.activate(t)

	h.display.setMonitors(1, 2)

	onScreen1 := 0
	for _, w := range h.display.live() {
		if w.screen.number == 1 {
			onScreen1++
		}
	}
	if onScreen1 != 2 {
		t.Fatalf("%d windows on screen 1, want 2", onScreen1)
	}
	if n := len(h.display.live()); n != 4 {
		t.Fatalf("%d windows in total, want 4", n)
	}
}

func TestMonitorsChangedWhileInactiveIsDetached(t *testing.T) {
	h := newHarness(t, []int{1})
	h.activate(t)
	if h.display.handlerCount() != 1 {
		t.Fatalf("%d monitors-changed handlers, want 1", h.display.handlerCount())
	}

	h.manager.SetActive(false)
	if h.display.handlerCount() != 0 {
		t.Fatal("monitors-changed handler left connected")
	}

	h.display.setMonitors(0, 3)
	if len(h.display.live()) != 0 {
		t.Fatal("inactive manager created windows")
	}
}

func TestShowContent(t *testing.T) {
	rendered := 0
	r := content.RendererFunc(func(canvas draw.Image) {
		rendered++
		canvas.Set(0, 0, color.White)
	})
	h := newHarness(t, []int{2}, WithRenderer(r))

	h.manager.ShowContent()
	if h.manager.ContentShown() {
		t.Fatal("content shown while inactive")
	}

	h.activate(t)
	w := h.display.live()[0]

	canvas := image.NewRGBA(image.Rect(0, 0, 4, 4))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	w.draw(canvas)
	if rendered != 0 {
		t.Fatal("renderer called before ShowContent")
	}
	if canvas.RGBAAt(1, 1) != (color.RGBA{A: 0xff}) {
		t.Fatalf("canvas not painted black: %v", canvas.RGBAAt(1, 1))
	}

	h.manager.ShowContent()
	h.manager.ShowContent()
	for _, w := range h.display.live() {
		if w.draws != 1 {
			t.Fatalf("%d redraws queued, want 1", w.draws)
		}
	}

	w.draw(canvas)
	if rendered != 1 {
		t.Fatalf("rendered = %d, want 1", rendered)
	}

	h.manager.SetActive(false)
	if h.manager.ContentShown() {
		t.Fatal("deactivation kept content shown")
	}
}

func TestCloseTearsDown(t *testing.T) {
	h := newHarness(t, []int{2})
	h.activate(t)
	windows := h.display.live()

	h.manager.Close()
	h.manager.Close()

	if h.manager.Active() {
		t.Fatal("manager still active after Close")
	}
	for _, w := range windows {
		if !w.destroyed {
			t.Fatal("window survived Close")
		}
	}
	if h.grab.KeyboardGrabbed() || h.grab.MouseGrabbed() {
		t.Fatal("grab held after Close")
	}
	if h.clock.Pending() != 0 {
		t.Fatal("timers pending after Close")
	}
	if h.display.handlerCount() != 0 {
		t.Fatal("monitors-changed handler left connected")
	}
	if h.manager.SetActive(true) {
		t.Fatal("closed manager activated")
	}
}

func TestSubscribeCancel(t *testing.T) {
	h := newHarness(t, []int{1})
	extra := 0
	cancel := h.manager.Subscribe(Listener{Activated: func() { extra++ }})

	h.activate(t)
	cancel()
	h.manager.SetActive(false)
	h.activate(t)

	if extra != 1 {
		t.Fatalf("cancelled listener saw %d activations, want 1", extra)
	}
}
