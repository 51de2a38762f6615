package x11

import (
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"
)

type gammaRamp struct {
	crtc             randr.Crtc
	red, green, blue []uint16
}

// GammaDimmer fades the screen by scaling every CRTC's gamma ramp. The
// ramps in place when it was created are treated as full brightness.
type GammaDimmer struct {
	conn *xgb.Conn

	mu    sync.Mutex
	ramps []gammaRamp
	level float64
}

// NewGammaDimmer saves the current gamma ramps of every CRTC on root.
func NewGammaDimmer(conn *xgb.Conn, root xproto.Window) (*GammaDimmer, error) {
	resources, err := randr.GetScreenResourcesCurrent(conn, root).Reply()
	if err != nil {
		return nil, errors.Wrap(err, "get screen resources")
	}

	g := &GammaDimmer{conn: conn, level: 1}
	for _, crtc := range resources.Crtcs {
		reply, err := randr.GetCrtcGamma(conn, crtc).Reply()
		if err != nil {
			return nil, errors.Wrapf(err, "get gamma of crtc %d", crtc)
		}
		if reply.Size == 0 {
			continue
		}
		g.ramps = append(g.ramps, gammaRamp{
			crtc:  crtc,
			red:   reply.Red,
			green: reply.Green,
			blue:  reply.Blue,
		})
	}
	if len(g.ramps) == 0 {
		return nil, errors.New("no CRTC with a gamma ramp")
	}
	return g, nil
}

// Dimmer returns a gamma dimmer for the first screen of the display.
func (d *Display) Dimmer() (*GammaDimmer, error) {
	if !d.randr {
		return nil, errors.New("RandR not available")
	}
	return NewGammaDimmer(d.conn, d.screens[0].root)
}

// SetLevel scales the saved ramps by level, clamped to [0, 1].
func (g *GammaDimmer) SetLevel(level float64) error {
	switch {
	case level < 0:
		level = 0
	case level > 1:
		level = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if level == g.level {
		return nil
	}
	for _, r := range g.ramps {
		err := randr.SetCrtcGammaChecked(g.conn, r.crtc, uint16(len(r.red)),
			scaleRamp(r.red, level), scaleRamp(r.green, level), scaleRamp(r.blue, level),
		).Check()
		if err != nil {
			return errors.Wrapf(err, "set gamma of crtc %d", r.crtc)
		}
	}
	g.level = level
	return nil
}

// Restore puts the saved ramps back.
func (g *GammaDimmer) Restore() error {
	return g.SetLevel(1)
}

func scaleRamp(ramp []uint16, level float64) []uint16 {
	out := make([]uint16, len(ramp))
	for i, v := range ramp {
		out[i] = uint16(float64(v) * level)
	}
	return out
}
