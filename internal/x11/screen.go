package x11

import (
	"github.com/BurntSushi/xgb/xinerama"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/tuxx/fancysaver/internal/winsys"
)

// Screen is one X screen and the monitors laid out on it.
type Screen struct {
	number   int
	root     xproto.Window
	depth    byte
	visual   xproto.Visualid
	width    int
	height   int
	monitors []winsys.Rect
}

func (s *Screen) Number() int { return s.number }

func (s *Screen) Monitors() int { return len(s.monitors) }

// MonitorGeometry returns the geometry of monitor i, or the whole screen
// when i is out of range.
func (s *Screen) MonitorGeometry(i int) winsys.Rect {
	if i < 0 || i >= len(s.monitors) {
		return winsys.Rect{Width: s.width, Height: s.height}
	}
	return s.monitors[i]
}

func (s *Screen) MonitorAt(x, y int) int {
	return monitorAt(s.monitors, x, y)
}

// Root returns the root window of the screen.
func (s *Screen) Root() xproto.Window { return s.root }

// monitorAt returns the monitor containing the point, or the one whose
// edge is closest.
func monitorAt(monitors []winsys.Rect, x, y int) int {
	best, bestDist := 0, -1
	for i, m := range monitors {
		if m.Contains(x, y) {
			return i
		}
		dx := distance(x, m.X, m.X+m.Width-1)
		dy := distance(y, m.Y, m.Y+m.Height-1)
		if d := dx*dx + dy*dy; bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func distance(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo - v
	case v > hi:
		return v - hi
	default:
		return 0
	}
}

// queryMonitors asks Xinerama for the monitor layout. Only the first X
// screen can span monitors; everything else is one monitor the size of
// the screen.
func (d *Display) queryMonitors(s *Screen) []winsys.Rect {
	whole := []winsys.Rect{{Width: s.width, Height: s.height}}
	if !d.xinerama || s.number != 0 {
		return whole
	}

	active, err := xinerama.IsActive(d.conn).Reply()
	if err != nil || active.State == 0 {
		return whole
	}

	reply, err := xinerama.QueryScreens(d.conn).Reply()
	if err != nil {
		d.log.Warn().Err(err).Msg("Failed to query Xinerama screens")
		return whole
	}

	monitors := dedupeMonitors(reply.ScreenInfo)
	if len(monitors) == 0 {
		return whole
	}
	return monitors
}

// dedupeMonitors converts the Xinerama layout and drops mirrored outputs,
// which show up as identical rectangles.
func dedupeMonitors(infos []xinerama.ScreenInfo) []winsys.Rect {
	var out []winsys.Rect
	seen := make(map[winsys.Rect]bool)
	for _, info := range infos {
		r := winsys.Rect{
			X:      int(info.XOrg),
			Y:      int(info.YOrg),
			Width:  int(info.Width),
			Height: int(info.Height),
		}
		if r.Width == 0 || r.Height == 0 || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
