// Package media pauses MPRIS media players while the saver is up and
// resumes them afterwards.
package media

import (
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
)

const (
	mprisPrefix     = "org.mpris.MediaPlayer2."
	mprisPath       = dbus.ObjectPath("/org/mpris/MediaPlayer2")
	mprisPlayer     = "org.mpris.MediaPlayer2.Player"
	statusPlaying   = "Playing"
	statusPaused    = "Paused"
	propertiesGet   = "org.freedesktop.DBus.Properties.Get"
	listNamesMethod = "org.freedesktop.DBus.ListNames"
)

// bus is the part of the session bus the controller talks to.
type bus interface {
	ListNames() ([]string, error)
	PlaybackStatus(name string) (string, error)
	Call(name, method string) error
	Close() error
}

type sessionBus struct {
	conn *dbus.Conn
}

func (b *sessionBus) ListNames() ([]string, error) {
	var names []string
	err := b.conn.BusObject().Call(listNamesMethod, 0).Store(&names)
	return names, errors.Wrap(err, "list D-Bus names")
}

func (b *sessionBus) PlaybackStatus(name string) (string, error) {
	var status string
	err := b.conn.Object(name, mprisPath).
		Call(propertiesGet, 0, mprisPlayer, "PlaybackStatus").
		Store(&status)
	return status, errors.Wrapf(err, "playback status of %s", name)
}

func (b *sessionBus) Call(name, method string) error {
	call := b.conn.Object(name, mprisPath).Call(mprisPlayer+"."+method, 0)
	return errors.Wrapf(call.Err, "%s on %s", method, name)
}

func (b *sessionBus) Close() error { return b.conn.Close() }

// Controller pauses playing players and later resumes the ones it paused.
type Controller struct {
	bus bus
	log *zerolog.Logger

	mu     sync.Mutex
	paused map[string]bool
}

// NewController connects to the session bus.
func NewController() (*Controller, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect to session bus")
	}
	return newController(&sessionBus{conn: conn}), nil
}

func newController(b bus) *Controller {
	return &Controller{
		bus:    b,
		log:    logger.WithComponent("media"),
		paused: make(map[string]bool),
	}
}

// Close closes the D-Bus connection.
func (c *Controller) Close() error {
	return c.bus.Close()
}

func (c *Controller) players() ([]string, error) {
	names, err := c.bus.ListNames()
	if err != nil {
		return nil, err
	}

	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, mprisPrefix) {
			players = append(players, name)
		}
	}
	c.log.Debug().Int("players", len(players)).Msg("Found MPRIS players")
	return players, nil
}

// PauseAll pauses every player that is currently playing and returns how
// many were paused.
func (c *Controller) PauseAll() (int, error) {
	players, err := c.players()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for _, name := range players {
		status, err := c.bus.PlaybackStatus(name)
		if err != nil {
			c.log.Debug().Err(err).Str("player", name).Msg("Skipping player")
			continue
		}
		if status != statusPlaying {
			continue
		}
		if err := c.bus.Call(name, "Pause"); err != nil {
			c.log.Warn().Err(err).Str("player", name).Msg("Failed to pause player")
			continue
		}
		c.paused[name] = true
		count++
	}

	c.log.Debug().Int("paused", count).Msg("Paused media players")
	return count, nil
}

// ResumeAll resumes the players paused by PauseAll that are still paused.
// Players the user paused themselves are left alone.
func (c *Controller) ResumeAll() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for name := range c.paused {
		delete(c.paused, name)

		status, err := c.bus.PlaybackStatus(name)
		if err != nil {
			c.log.Debug().Err(err).Str("player", name).Msg("Player went away")
			continue
		}
		if status != statusPaused {
			continue
		}
		if err := c.bus.Call(name, "Play"); err != nil {
			c.log.Warn().Err(err).Str("player", name).Msg("Failed to resume player")
			continue
		}
		count++
	}

	c.log.Debug().Int("resumed", count).Msg("Resumed media players")
	return count, nil
}
