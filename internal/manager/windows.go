package manager

import (
	"github.com/tuxx/fancysaver/internal/winsys"
)

func (m *Manager) createWindows() {
	for _, screen := range m.display.Screens() {
		cancel := m.display.OnMonitorsChanged(screen, m.onMonitorsChanged)
		m.monitorsCancels = append(m.monitorsCancels, cancel)

		m.createWindowsForScreen(screen)
	}
}

func (m *Manager) createWindowsForScreen(screen winsys.Screen) {
	n := screen.Monitors()
	m.log.Debug().Int("screen", screen.Number()).Int("count", n).Msg("Creating windows for screen")

	for i := 0; i < n; i++ {
		m.createWindowForMonitor(screen, i)
	}
}

func (m *Manager) createWindowForMonitor(screen winsys.Screen, monitor int) {
	rect := screen.MonitorGeometry(monitor)
	m.log.Debug().
		Int("screen", screen.Number()).
		Int("monitor", monitor).
		Stringer("geometry", rect).
		Msg("Creating window for monitor")

	window, err := m.display.NewWindow(screen, monitor)
	if err != nil {
		m.log.Error().Err(err).Int("monitor", monitor).Msg("Failed to create saver window")
		return
	}

	sw := &saverWindow{window: window}
	sw.sub = window.Subscribe(winsys.WindowHandlers{
		OnMapped:     func() { m.onWindowMapped(sw) },
		OnDestroyed:  func() { window.Unsubscribe(sw.sub) },
		OnGrabBroken: m.onGrabBroken,
		OnDraw:       m.paint,
	})
	m.windows = append(m.windows, sw)

	if m.active {
		window.Show()
	}
}

func (m *Manager) destroyWindows() {
	for _, cancel := range m.monitorsCancels {
		cancel()
	}
	m.monitorsCancels = nil

	if len(m.windows) == 0 {
		return
	}

	windows := m.windows
	m.windows = nil
	for _, sw := range windows {
		sw.window.Destroy()
	}
}

func (m *Manager) onWindowMapped(sw *saverWindow) {
	m.log.Debug().Uint32("window", sw.window.Surface().ID()).Msg("Handling window map event")

	if !m.announced {
		m.announced = true
		m.emit(func(l Listener) func() { return l.Activated })
	}

	m.maybeGrabWindow(sw.window)
}

// maybeGrabWindow moves the grab onto window when the pointer is on its
// monitor.
func (m *Manager) maybeGrabWindow(window winsys.Window) bool {
	screen, x, y, err := m.display.Pointer()
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to query pointer position")
		return false
	}
	monitor := screen.MonitorAt(x, y)
	m.display.Flush()

	if window.Screen().Number() != screen.Number() || window.Monitor() != monitor {
		return false
	}

	m.log.Debug().Uint32("window", window.Surface().ID()).Msg("Moving grab to window")
	m.grab.MoveToWindow(window.Surface(), window.Screen(), m.hideCursor)
	return true
}

func (m *Manager) onGrabBroken(keyboard bool) {
	m.log.Debug().Bool("keyboard", keyboard).Msg("Grab broken")
	if keyboard {
		m.grab.KeyboardReset()
	} else {
		m.grab.MouseReset()
	}
}

// onMonitorsChanged brings the windows on screen in line with its current
// monitor count.
func (m *Manager) onMonitorsChanged(screen winsys.Screen) {
	n := screen.Monitors()

	present := make(map[int]bool)
	for _, sw := range m.windows {
		if sw.window.Screen().Number() == screen.Number() {
			present[sw.window.Monitor()] = true
		}
	}

	m.log.Debug().
		Int("screen", screen.Number()).
		Int("monitors", n).
		Int("windows", len(present)).
		Msg("Monitors changed")

	for monitor := range present {
		if monitor >= n {
			m.removeExtraWindows(screen, n)
			break
		}
	}
	// Gaps left by an earlier failed creation are filled on every change.
	for i := 0; i < n; i++ {
		if !present[i] {
			m.createWindowForMonitor(screen, i)
		}
	}

	for _, sw := range m.windows {
		if sw.window.Screen().Number() == screen.Number() {
			sw.window.QueueResize()
		}
	}
}

// removeExtraWindows destroys the windows whose monitor disappeared. The
// server is grabbed for the duration so none of them sees a stray event
// while half torn down.
func (m *Manager) removeExtraWindows(screen winsys.Screen, monitors int) {
	m.display.GrabServer()
	defer m.display.UngrabServer()

	kept := m.windows[:0]
	for _, sw := range m.windows {
		if sw.window.Screen().Number() == screen.Number() && sw.window.Monitor() >= monitors {
			sw.window.Destroy()
			continue
		}
		kept = append(kept, sw)
	}
	for i := len(kept); i < len(m.windows); i++ {
		m.windows[i] = nil
	}
	m.windows = kept

	m.display.Flush()
}
