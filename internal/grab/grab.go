// Package grab owns the exclusive keyboard and pointer capture that keeps
// input away from everything below the saver windows.
//
// Acquisition is best effort: every operation reports success or failure
// immediately and never retries. Retrying is the caller's decision.
package grab

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/winsys"
)

// Backend performs the actual grabs against the window system.
type Backend interface {
	DefaultScreen() winsys.Screen
	Root(screen winsys.Screen) winsys.Surface

	GrabKeyboard(target winsys.Surface) error
	GrabPointer(target winsys.Surface, hideCursor bool) error
	UngrabKeyboard() error
	UngrabPointer() error
	Flush()
}

// holder records which surface a sub-grab is bound to.
type holder struct {
	surface winsys.Surface
	screen  winsys.Screen
}

func (h holder) held() bool { return h.surface != nil }

func (h holder) on(surface winsys.Surface) bool {
	return h.surface != nil && surface != nil && h.surface.ID() == surface.ID()
}

// Grab tracks the keyboard and pointer sub-grabs independently, since the
// environment can break either one on its own.
type Grab struct {
	backend Backend
	log     *zerolog.Logger

	keyboard   holder
	mouse      holder
	hideCursor bool
}

// New creates a Grab that holds nothing yet.
func New(backend Backend) *Grab {
	return &Grab{
		backend: backend,
		log:     logger.WithComponent("grab"),
	}
}

// KeyboardGrabbed reports whether the keyboard grab is held.
func (g *Grab) KeyboardGrabbed() bool { return g.keyboard.held() }

// MouseGrabbed reports whether the pointer grab is held.
func (g *Grab) MouseGrabbed() bool { return g.mouse.held() }

// Window returns the surface the keyboard grab is bound to, or nil.
func (g *Grab) Window() winsys.Surface { return g.keyboard.surface }

// CursorHidden reports whether the pointer grab hides the cursor.
func (g *Grab) CursorHidden() bool { return g.mouse.held() && g.hideCursor }

func (g *Grab) grabKeyboard(surface winsys.Surface, screen winsys.Screen) bool {
	if err := g.backend.GrabKeyboard(surface); err != nil {
		g.log.Debug().Err(errors.Wrapf(err, "keyboard grab on %#x", surface.ID())).Msg("Couldn't grab keyboard")
		return false
	}
	g.keyboard = holder{surface: surface, screen: screen}
	g.log.Debug().Uint32("window", surface.ID()).Msg("Grabbed keyboard")
	return true
}

func (g *Grab) grabMouse(surface winsys.Surface, screen winsys.Screen, hideCursor bool) bool {
	if err := g.backend.GrabPointer(surface, hideCursor); err != nil {
		g.log.Debug().Err(errors.Wrapf(err, "pointer grab on %#x", surface.ID())).Msg("Couldn't grab pointer")
		return false
	}
	g.mouse = holder{surface: surface, screen: screen}
	g.hideCursor = hideCursor
	g.log.Debug().Uint32("window", surface.ID()).Bool("hide_cursor", hideCursor).Msg("Grabbed pointer")
	return true
}

func (g *Grab) releaseKeyboard() {
	if !g.keyboard.held() {
		return
	}
	if err := g.backend.UngrabKeyboard(); err != nil {
		g.log.Warn().Err(err).Msg("Failed to ungrab keyboard")
	}
	g.keyboard = holder{}
}

func (g *Grab) releaseMouse() {
	if !g.mouse.held() {
		return
	}
	if err := g.backend.UngrabPointer(); err != nil {
		g.log.Warn().Err(err).Msg("Failed to ungrab pointer")
	}
	g.mouse = holder{}
	g.hideCursor = false
}

// GrabRoot takes the keyboard and then the pointer on the root window of
// the default screen. If the pointer cannot be taken the keyboard is let
// go again and false is returned.
func (g *Grab) GrabRoot(hideCursor bool) bool {
	screen := g.backend.DefaultScreen()
	root := g.backend.Root(screen)

	g.log.Debug().Uint32("root", root.ID()).Msg("Grabbing the root window")

	if !g.keyboard.on(root) && !g.grabKeyboard(root, screen) {
		g.log.Warn().Msg("Couldn't grab keyboard on the root window")
		return false
	}

	if !(g.mouse.on(root) && g.hideCursor == hideCursor) && !g.grabMouse(root, screen, hideCursor) {
		g.log.Warn().Msg("Couldn't grab pointer on the root window, releasing keyboard")
		g.releaseKeyboard()
		g.backend.Flush()
		return false
	}

	g.backend.Flush()
	return true
}

// MoveToWindow retargets the grabs to surface. When one half cannot be
// moved the previous keyboard target is restored and false is returned.
func (g *Grab) MoveToWindow(surface winsys.Surface, screen winsys.Screen, hideCursor bool) bool {
	g.log.Debug().Uint32("window", surface.ID()).Msg("Moving grab")

	previous := g.keyboard

	if !g.keyboard.on(surface) && !g.grabKeyboard(surface, screen) {
		g.backend.Flush()
		return false
	}

	if !(g.mouse.on(surface) && g.hideCursor == hideCursor) && !g.grabMouse(surface, screen, hideCursor) {
		if previous.held() && !previous.on(surface) {
			if !g.grabKeyboard(previous.surface, previous.screen) {
				g.releaseKeyboard()
			}
		}
		g.backend.Flush()
		return false
	}

	g.backend.Flush()
	return true
}

// Release lets go of whatever is held. Safe when nothing is held.
func (g *Grab) Release() {
	if !g.keyboard.held() && !g.mouse.held() {
		return
	}

	g.log.Debug().Msg("Releasing all grabs")
	g.releaseMouse()
	g.releaseKeyboard()
	g.backend.Flush()
}

// KeyboardReset forgets the keyboard grab after the environment broke it.
func (g *Grab) KeyboardReset() {
	g.log.Debug().Msg("Keyboard grab reset")
	g.keyboard = holder{}
}

// MouseReset forgets the pointer grab after the environment broke it.
func (g *Grab) MouseReset() {
	g.log.Debug().Msg("Pointer grab reset")
	g.mouse = holder{}
	g.hideCursor = false
}
