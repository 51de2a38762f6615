package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tuxx/fancysaver/internal/clock"
	"github.com/tuxx/fancysaver/internal/config"
	"github.com/tuxx/fancysaver/internal/content"
	"github.com/tuxx/fancysaver/internal/fade"
	"github.com/tuxx/fancysaver/internal/grab"
	"github.com/tuxx/fancysaver/internal/helper"
	"github.com/tuxx/fancysaver/internal/instance"
	"github.com/tuxx/fancysaver/internal/journal"
	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
	"github.com/tuxx/fancysaver/internal/manager"
	"github.com/tuxx/fancysaver/internal/service"
	"github.com/tuxx/fancysaver/internal/session"
	"github.com/tuxx/fancysaver/internal/x11"
)

const (
	contentRefreshInterval = time.Second
	hookTimeout            = 30 * time.Second
)

// lockHinter publishes whether the session is locked.
type lockHinter interface {
	SetLockedHint(locked bool) error
}

// daemon owns every component and runs their glue on the loop. Side
// effects that may block go through the helper's queue.
type daemon struct {
	cfg  config.Configuration
	loop *loop.Loop
	log  *zerolog.Logger

	display *x11.Display
	manager *manager.Manager
	fade    *fade.Fade
	dimmer  *x11.GammaDimmer
	face    *content.ClockFace
	blank   *x11.BlankWatcher
	session *session.Watcher
	hint    lockHinter
	service *service.Service
	journal *journal.Journal
	helper  *helper.Helper

	locked      bool
	lastMinute  int
	refresh     *loop.Source
	cancels     []func()
	cancelFaded func()
}

func runDaemon(cmd *cobra.Command) error {
	loader := newLoader(cmd)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger.Init(level, pretty)
	if path := loader.ConfigFile(); path != "" {
		logger.Info("Using config file: %s", path)
	}

	if err := instance.CheckUserPermissions(); err != nil {
		return err
	}
	lock, err := instance.Acquire("")
	if err != nil {
		return err
	}
	defer lock.Release()

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	loader.Watch(func(cfg config.Configuration) {
		d.loop.Post(func() { d.applyConfig(cfg) })
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d.log.Info().Msg("FancySaver running")
	if err := d.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.log.Info().Msg("Shutting down")
	return nil
}

func newDaemon(cfg config.Configuration) (*daemon, error) {
	d := &daemon{
		cfg:        cfg,
		loop:       loop.New(clock.Real()),
		log:        logger.WithComponent("daemon"),
		lastMinute: -1,
	}

	display, err := x11.Open(d.loop)
	if err != nil {
		return nil, err
	}
	d.display = display

	face, err := content.NewClockFace(d.loop.Clock())
	if err != nil {
		display.Close()
		return nil, err
	}
	d.face = face

	d.manager = manager.New(display, grab.New(display), d.loop,
		manager.WithRenderer(face),
		manager.WithLockAfter(cfg.LockAfterDuration()),
		manager.WithSwitchDelay(cfg.SwitchGreeterDelayDuration()),
		manager.WithHideCursor(cfg.HideCursor),
	)
	d.cancels = append(d.cancels, d.manager.Subscribe(manager.Listener{
		Activated:     d.onActivated,
		SwitchGreeter: func() { d.log.Info().Msg("Switch to greeter requested") },
		Lock:          d.onLock,
	}))

	d.setupFade(cfg)
	d.helper = helper.New(cfg)

	if cfg.JournalEnabled {
		j, err := journal.Open(cfg.JournalPath, d.loop.Clock())
		if err != nil {
			d.log.Warn().Err(err).Msg("Journal disabled")
		} else {
			d.journal = j
			d.cancels = append(d.cancels, d.manager.Subscribe(j.Listener(func(err error) {
				d.log.Warn().Err(err).Msg("Failed to write journal")
			})))
		}
	}

	if blank, err := x11.NewBlankWatcher(display.Conn(), d.loop, x11.DefaultBlankPollInterval, d.manager.SetBlankScreen); err != nil {
		d.log.Warn().Err(err).Msg("DPMS unavailable, blanking will not arm the lock timer")
	} else {
		d.blank = blank
		blank.Start()
	}

	watcher, err := session.NewWatcher(d.loop, session.Handlers{
		ActiveChanged:    d.manager.SetSessionVisible,
		LidClosedChanged: d.manager.SetLidClosed,
		LockRequested:    d.requestActivate,
		UnlockRequested:  d.onUnlock,
	})
	if err != nil {
		d.log.Warn().Err(err).Msg("logind unavailable, session tracking disabled")
	} else {
		d.session = watcher
		d.hint = watcher
	}

	svc, err := service.New(cfg.DBusName, d.loop, d)
	if err != nil {
		d.close()
		return nil, err
	}
	d.service = svc
	d.cancels = append(d.cancels, d.manager.Subscribe(svc.Listener()))

	d.refresh = d.loop.AddTick(contentRefreshInterval, d.refreshContent)
	return d, nil
}

func (d *daemon) setupFade(cfg config.Configuration) {
	if dimmer, err := d.display.Dimmer(); err != nil {
		d.log.Warn().Err(err).Msg("Gamma fading unavailable")
		d.fade = fade.New(d.loop, nil)
	} else {
		d.dimmer = dimmer
		d.fade = fade.New(d.loop, dimmer)
	}
	d.fade.SetTimeout(cfg.FadeTimeoutDuration())
	d.fade.SetEnabled(cfg.FadeEnabled)
	d.cancelFaded = d.fade.OnFaded(d.onFaded)
}

// requestActivate fades out and then raises the saver.
func (d *daemon) requestActivate() {
	if d.manager.Active() {
		return
	}
	d.fade.Now()
}

func (d *daemon) onFaded() {
	if !d.SetActive(true) {
		d.fade.Reset()
	}
}

// SetActive is the entry point for the bus and for logind. Deactivation
// also undoes the fade and the lock side effects.
func (d *daemon) SetActive(active bool) bool {
	if !active && !d.manager.Active() {
		d.fade.Reset()
		return false
	}
	if !d.manager.SetActive(active) {
		if active {
			d.log.Warn().Msg("Activation failed")
		}
		return false
	}
	if !active {
		d.onDeactivated()
	}
	return true
}

func (d *daemon) Active() bool { return d.manager.Active() }

func (d *daemon) ShowContent() { d.manager.ShowContent() }

func (d *daemon) SetLockAfter(delay time.Duration) { d.manager.SetLockAfter(delay) }

func (d *daemon) onActivated() {
	d.log.Info().Msg("Saver active")
	if d.cfg.ShowContentOnActivate {
		d.manager.ShowContent()
	}
	d.helper.Queue(func() {
		if err := d.helper.PauseMediaIfEnabled(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to pause media")
		}
	})
}

func (d *daemon) onLock() {
	d.log.Info().Msg("Lock requested")
	d.locked = true
	d.helper.Queue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := d.helper.RunPreLockCommand(ctx); err != nil {
			d.log.Warn().Err(err).Msg("Pre-lock command failed")
		}
		d.setLockedHint(true)
	})
}

// onUnlock handles a logind unlock request. The lock can fire while the
// saver is down, so the lock state is cleared even when there is nothing
// to deactivate.
func (d *daemon) onUnlock() {
	if d.manager.Active() {
		d.SetActive(false)
		return
	}
	d.fade.Reset()
	if d.locked {
		d.locked = false
		d.queueUnlocked()
	}
}

// queueUnlocked runs the post-lock hook and clears the locked hint.
func (d *daemon) queueUnlocked() {
	d.helper.Queue(func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		if err := d.helper.RunPostLockCommand(ctx); err != nil {
			d.log.Warn().Err(err).Msg("Post-lock command failed")
		}
		d.setLockedHint(false)
	})
}

func (d *daemon) setLockedHint(locked bool) {
	if d.hint == nil {
		return
	}
	if err := d.hint.SetLockedHint(locked); err != nil {
		d.log.Warn().Err(err).Bool("locked", locked).Msg("Failed to update locked hint")
	}
}

func (d *daemon) onDeactivated() {
	d.log.Info().Msg("Saver inactive")
	d.fade.Reset()
	if d.journal != nil {
		if err := d.journal.Record(journal.KindDeactivated); err != nil {
			d.log.Warn().Err(err).Msg("Failed to write journal")
		}
	}

	d.lastMinute = -1
	d.helper.Queue(func() {
		if err := d.helper.UnpauseMediaIfEnabled(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to resume media")
		}
	})
	if d.locked {
		d.locked = false
		d.queueUnlocked()
	}
}

// refreshContent redraws the clock when the minute changes.
func (d *daemon) refreshContent() bool {
	if !d.manager.Active() || !d.manager.ContentShown() {
		return true
	}
	minute := d.loop.Clock().Now().Minute()
	if minute == d.lastMinute {
		return true
	}
	d.lastMinute = minute
	for _, w := range d.manager.Windows() {
		w.QueueDraw()
	}
	return true
}

func (d *daemon) applyConfig(cfg config.Configuration) {
	d.cfg = cfg
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	d.manager.SetLockAfter(cfg.LockAfterDuration())
	d.fade.SetTimeout(cfg.FadeTimeoutDuration())
	d.fade.SetEnabled(cfg.FadeEnabled)
	d.helper.SetConfig(cfg)
	d.log.Debug().Int("lock_after", cfg.LockAfter).Bool("fade", cfg.FadeEnabled).Msg("Applied configuration")
}

func (d *daemon) close() {
	if d.refresh != nil {
		d.refresh.Remove()
	}
	for _, cancel := range d.cancels {
		cancel()
	}
	d.cancels = nil
	if d.cancelFaded != nil {
		d.cancelFaded()
	}

	if d.helper != nil {
		d.helper.Close()
	}
	if d.service != nil {
		d.service.Close()
	}
	if d.session != nil {
		d.session.Close()
	}
	if d.blank != nil {
		d.blank.Stop()
	}
	if d.manager != nil {
		d.manager.Close()
	}
	if d.fade != nil {
		d.fade.Reset()
	}
	if d.dimmer != nil {
		d.dimmer.Restore()
	}
	if d.journal != nil {
		d.journal.Close()
	}
	if d.face != nil {
		d.face.Close()
	}
	d.display.Close()
}
