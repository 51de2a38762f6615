package x11

import (
	"github.com/BurntSushi/xgb/xfixes"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/pkg/errors"

	"github.com/tuxx/fancysaver/internal/winsys"
)

// ErrGrabRefused is returned when the server answers a grab request with
// anything but GrabStatusSuccess, usually because another client holds
// the device.
var ErrGrabRefused = errors.New("grab refused")

type rootSurface xproto.Window

func (r rootSurface) ID() uint32 { return uint32(r) }

// DefaultScreen returns the screen named in $DISPLAY.
func (d *Display) DefaultScreen() winsys.Screen {
	n := d.conn.DefaultScreen
	if n < 0 || n >= len(d.screens) {
		n = 0
	}
	return d.screens[n]
}

// Root returns the root window of screen as a grab target.
func (d *Display) Root(screen winsys.Screen) winsys.Surface {
	s, err := d.screenFor(screen)
	if err != nil {
		s = d.screens[0]
	}
	return rootSurface(s.root)
}

func grabStatus(status byte) string {
	switch status {
	case xproto.GrabStatusAlreadyGrabbed:
		return "AlreadyGrabbed"
	case xproto.GrabStatusInvalidTime:
		return "InvalidTime"
	case xproto.GrabStatusNotViewable:
		return "NotViewable"
	case xproto.GrabStatusFrozen:
		return "Frozen"
	default:
		return "Unknown"
	}
}

// GrabKeyboard takes the keyboard for target.
func (d *Display) GrabKeyboard(target winsys.Surface) error {
	reply, err := xproto.GrabKeyboard(
		d.conn,
		false,
		xproto.Window(target.ID()),
		xproto.TimeCurrentTime,
		xproto.GrabModeAsync,
		xproto.GrabModeAsync,
	).Reply()
	if err != nil {
		return errors.Wrap(err, "grab keyboard")
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return errors.Wrapf(ErrGrabRefused, "keyboard: %s", grabStatus(reply.Status))
	}
	d.keyboardOn = xproto.Window(target.ID())
	return nil
}

// GrabPointer takes the pointer for target, optionally with an invisible
// cursor.
func (d *Display) GrabPointer(target winsys.Surface, hideCursor bool) error {
	cursor := xproto.Cursor(xproto.CursorNone)
	if hideCursor && d.blankCursor != 0 {
		cursor = d.blankCursor
	}

	reply, err := xproto.GrabPointer(
		d.conn,
		false,
		xproto.Window(target.ID()),
		xproto.EventMaskButtonPress|xproto.EventMaskButtonRelease|xproto.EventMaskPointerMotion,
		xproto.GrabModeAsync,
		xproto.GrabModeAsync,
		xproto.WindowNone,
		cursor,
		xproto.TimeCurrentTime,
	).Reply()
	if err != nil {
		return errors.Wrap(err, "grab pointer")
	}
	if reply.Status != xproto.GrabStatusSuccess {
		return errors.Wrapf(ErrGrabRefused, "pointer: %s", grabStatus(reply.Status))
	}

	d.pointerOn = xproto.Window(target.ID())
	d.setCursorHidden(hideCursor)
	return nil
}

// UngrabKeyboard releases the keyboard.
func (d *Display) UngrabKeyboard() error {
	d.keyboardOn = 0
	return errors.Wrap(xproto.UngrabKeyboardChecked(d.conn, xproto.TimeCurrentTime).Check(), "ungrab keyboard")
}

// UngrabPointer releases the pointer and shows the cursor again.
func (d *Display) UngrabPointer() error {
	d.pointerOn = 0
	d.setCursorHidden(false)
	return errors.Wrap(xproto.UngrabPointerChecked(d.conn, xproto.TimeCurrentTime).Check(), "ungrab pointer")
}

// setCursorHidden hides the cursor server-wide through XFixes on top of
// the invisible grab cursor, which some clients bypass.
func (d *Display) setCursorHidden(hidden bool) {
	if !d.xfixes || d.cursorHidden == hidden {
		return
	}
	root := d.screens[0].root
	if hidden {
		xfixes.HideCursor(d.conn, root)
	} else {
		xfixes.ShowCursor(d.conn, root)
	}
	d.cursorHidden = hidden
}

// createBlankCursor builds a cursor from an empty 1x1 bitmap.
func (d *Display) createBlankCursor() error {
	root := d.screens[0].root

	cursor, err := xproto.NewCursorId(d.conn)
	if err != nil {
		return errors.Wrap(err, "allocate cursor id")
	}
	pixmap, err := xproto.NewPixmapId(d.conn)
	if err != nil {
		return errors.Wrap(err, "allocate pixmap id")
	}

	if err := xproto.CreatePixmapChecked(d.conn, 1, pixmap, xproto.Drawable(root), 1, 1).Check(); err != nil {
		return errors.Wrap(err, "create pixmap")
	}
	defer xproto.FreePixmap(d.conn, pixmap)

	err = xproto.CreateCursorChecked(d.conn, cursor, pixmap, pixmap,
		0, 0, 0,
		0, 0, 0,
		0, 0,
	).Check()
	if err != nil {
		return errors.Wrap(err, "create cursor")
	}

	d.blankCursor = cursor
	return nil
}
