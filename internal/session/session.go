// Package session follows the systemd-logind view of this login session:
// whether it is the foreground session, whether the lid is closed, and
// lock/unlock requests. It also publishes the session's LockedHint.
package session

import (
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
)

const (
	login1Dest        = "org.freedesktop.login1"
	login1Path        = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface      = "org.freedesktop.login1.Manager"
	sessionIface      = "org.freedesktop.login1.Session"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// Handlers receive session changes on the loop. Nil fields are skipped.
type Handlers struct {
	ActiveChanged    func(active bool)
	LidClosedChanged func(closed bool)
	LockRequested    func()
	UnlockRequested  func()
}

// Watcher listens to logind on the system bus.
type Watcher struct {
	conn        *dbus.Conn
	session     dbus.BusObject
	sessionPath dbus.ObjectPath
	loop        *loop.Loop
	handlers    Handlers
	log         *zerolog.Logger

	signals   chan *dbus.Signal
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher finds this process's session and subscribes to its signals.
// The current Active and LidClosed values are delivered once on l.
func NewWatcher(l *loop.Loop, h Handlers) (*Watcher, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to system bus")
	}

	w := &Watcher{
		conn:     conn,
		loop:     l,
		handlers: h,
		log:      logger.WithComponent("session"),
		signals:  make(chan *dbus.Signal, 16),
		done:     make(chan struct{}),
	}

	path, err := w.findSession()
	if err != nil {
		conn.Close()
		return nil, err
	}
	w.sessionPath = path
	w.session = conn.Object(login1Dest, path)
	w.log.Info().Str("path", string(path)).Msg("Tracking login session")

	if err := w.subscribe(); err != nil {
		conn.Close()
		return nil, err
	}

	conn.Signal(w.signals)
	go w.dispatch()

	w.deliverInitial()
	return w, nil
}

func (w *Watcher) findSession() (dbus.ObjectPath, error) {
	manager := w.conn.Object(login1Dest, login1Path)

	var path dbus.ObjectPath
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		err := manager.Call(managerIface+".GetSession", 0, id).Store(&path)
		if err == nil {
			return path, nil
		}
		w.log.Debug().Err(err).Str("id", id).Msg("GetSession failed, falling back to PID lookup")
	}

	err := manager.Call(managerIface+".GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	if err != nil {
		return "", errors.Wrap(err, "find login session")
	}
	return path, nil
}

func (w *Watcher) subscribe() error {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchObjectPath(w.sessionPath),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(login1Path),
			dbus.WithMatchInterface(propertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchObjectPath(w.sessionPath),
			dbus.WithMatchInterface(sessionIface),
			dbus.WithMatchMember("Lock"),
		},
		{
			dbus.WithMatchObjectPath(w.sessionPath),
			dbus.WithMatchInterface(sessionIface),
			dbus.WithMatchMember("Unlock"),
		},
	}
	for _, opts := range matches {
		opts = append(opts, dbus.WithMatchSender(login1Dest))
		if err := w.conn.AddMatchSignal(opts...); err != nil {
			return errors.Wrap(err, "add logind signal match")
		}
	}
	return nil
}

func (w *Watcher) deliverInitial() {
	if v, err := w.session.GetProperty(sessionIface + ".Active"); err == nil {
		if active, ok := v.Value().(bool); ok {
			w.post(w.handlers.ActiveChanged, active)
		}
	} else {
		w.log.Warn().Err(err).Msg("Failed to read session Active")
	}

	manager := w.conn.Object(login1Dest, login1Path)
	if v, err := manager.GetProperty(managerIface + ".LidClosed"); err == nil {
		if closed, ok := v.Value().(bool); ok {
			w.post(w.handlers.LidClosedChanged, closed)
		}
	} else {
		w.log.Debug().Err(err).Msg("Failed to read LidClosed")
	}
}

func (w *Watcher) dispatch() {
	for {
		select {
		case <-w.done:
			return
		case sig, ok := <-w.signals:
			if !ok {
				return
			}
			w.handleSignal(sig)
		}
	}
}

func (w *Watcher) handleSignal(sig *dbus.Signal) {
	switch {
	case sig.Name == propertiesChanged:
		iface, changed, ok := parsePropertiesChanged(sig)
		if !ok {
			return
		}
		switch {
		case sig.Path == w.sessionPath && iface == sessionIface:
			if active, ok := boolProperty(changed, "Active"); ok {
				w.log.Debug().Bool("active", active).Msg("Session active changed")
				w.post(w.handlers.ActiveChanged, active)
			}
		case sig.Path == login1Path && iface == managerIface:
			if closed, ok := boolProperty(changed, "LidClosed"); ok {
				w.log.Debug().Bool("closed", closed).Msg("Lid state changed")
				w.post(w.handlers.LidClosedChanged, closed)
			}
		}
	case sig.Path == w.sessionPath && sig.Name == sessionIface+".Lock":
		w.log.Info().Msg("Lock requested by logind")
		w.postFunc(w.handlers.LockRequested)
	case sig.Path == w.sessionPath && sig.Name == sessionIface+".Unlock":
		w.log.Info().Msg("Unlock requested by logind")
		w.postFunc(w.handlers.UnlockRequested)
	}
}

func (w *Watcher) post(fn func(bool), v bool) {
	if fn == nil {
		return
	}
	w.loop.Post(func() { fn(v) })
}

func (w *Watcher) postFunc(fn func()) {
	if fn == nil {
		return
	}
	w.loop.Post(fn)
}

// parsePropertiesChanged splits an org.freedesktop.DBus.Properties
// PropertiesChanged body.
func parsePropertiesChanged(sig *dbus.Signal) (string, map[string]dbus.Variant, bool) {
	if len(sig.Body) < 2 {
		return "", nil, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return iface, changed, true
}

func boolProperty(props map[string]dbus.Variant, name string) (bool, bool) {
	v, ok := props[name]
	if !ok {
		return false, false
	}
	b, ok := v.Value().(bool)
	return b, ok
}

// SetLockedHint tells logind whether the session is locked.
func (w *Watcher) SetLockedHint(locked bool) error {
	err := w.session.Call(sessionIface+".SetLockedHint", 0, locked).Err
	return errors.Wrap(err, "set locked hint")
}

// Close stops signal delivery and disconnects.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.conn.RemoveSignal(w.signals)
		err = w.conn.Close()
	})
	return err
}
