// Package service exports the saver's control surface on the session bus.
package service

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
	"github.com/tuxx/fancysaver/internal/manager"
)

const (
	// DefaultName is the well-known bus name requested when none is configured.
	DefaultName = "org.fancysaver.ScreenSaver"
	// ObjectPath is where the control object lives.
	ObjectPath = dbus.ObjectPath("/org/fancysaver/ScreenSaver")
	// Interface is the control interface name.
	Interface = "org.fancysaver.ScreenSaver"

	callTimeout = 5 * time.Second
)

// ErrNameTaken is returned when another process owns the bus name.
var ErrNameTaken = errors.New("bus name already owned")

// Saver is what the exported methods drive. All calls happen on the loop.
type Saver interface {
	SetActive(active bool) bool
	Active() bool
	ShowContent()
	SetLockAfter(d time.Duration)
}

// Service owns the bus name and the exported object.
type Service struct {
	conn *dbus.Conn
	name string
	obj  *object
	log  *zerolog.Logger
}

// New connects to the session bus, claims name and exports s at ObjectPath.
func New(name string, l *loop.Loop, s Saver) (*Service, error) {
	if name == "" {
		name = DefaultName
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to session bus")
	}

	reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "request name %s", name)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errors.Wrap(ErrNameTaken, name)
	}

	svc := &Service{
		conn: conn,
		name: name,
		obj:  newObject(l, s),
		log:  logger.WithComponent("service"),
	}

	if err := conn.Export(svc.obj, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "export control object")
	}
	intro := introspect.NewIntrospectable(introspection(svc.obj))
	if err := conn.Export(intro, ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "export introspection")
	}

	svc.log.Info().Str("name", name).Str("path", string(ObjectPath)).Msg("D-Bus service ready")
	return svc, nil
}

// Listener returns manager callbacks that re-emit the notifications as
// signals.
func (s *Service) Listener() manager.Listener {
	return manager.Listener{
		Activated:     func() { s.emit("Activated") },
		SwitchGreeter: func() { s.emit("SwitchGreeter") },
		Lock:          func() { s.emit("Lock") },
	}
}

func (s *Service) emit(signal string) {
	if err := s.conn.Emit(ObjectPath, Interface+"."+signal); err != nil {
		s.log.Warn().Err(err).Str("signal", signal).Msg("Failed to emit signal")
		return
	}
	s.log.Debug().Str("signal", signal).Msg("Emitted signal")
}

// Close gives up the bus name and disconnects.
func (s *Service) Close() error {
	if _, err := s.conn.ReleaseName(s.name); err != nil {
		s.log.Debug().Err(err).Msg("Failed to release bus name")
	}
	return s.conn.Close()
}

func introspection(obj *object) *introspect.Node {
	return &introspect.Node{
		Name: string(ObjectPath),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(obj),
				Signals: []introspect.Signal{
					{Name: "Activated"},
					{Name: "SwitchGreeter"},
					{Name: "Lock"},
				},
			},
		},
	}
}

// object is the exported value. Its exported methods are the bus methods.
type object struct {
	loop    *loop.Loop
	saver   Saver
	timeout time.Duration
}

func newObject(l *loop.Loop, s Saver) *object {
	return &object{loop: l, saver: s, timeout: callTimeout}
}

func (o *object) call(fn func()) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.loop.Invoke(ctx, fn); err != nil {
		return dbus.MakeFailedError(errors.Wrap(err, "saver loop unavailable"))
	}
	return nil
}

// SetActive activates or deactivates the saver and reports whether the
// state changed.
func (o *object) SetActive(active bool) (bool, *dbus.Error) {
	var changed bool
	if err := o.call(func() { changed = o.saver.SetActive(active) }); err != nil {
		return false, err
	}
	return changed, nil
}

// GetActive reports whether the saver is up.
func (o *object) GetActive() (bool, *dbus.Error) {
	var active bool
	if err := o.call(func() { active = o.saver.Active() }); err != nil {
		return false, err
	}
	return active, nil
}

// ShowContent turns on the content renderer for the current activation.
func (o *object) ShowContent() *dbus.Error {
	return o.call(o.saver.ShowContent)
}

// SetLockAfter sets the blank-to-lock delay in seconds.
func (o *object) SetLockAfter(seconds uint32) *dbus.Error {
	d := time.Duration(seconds) * time.Second
	return o.call(func() { o.saver.SetLockAfter(d) })
}
