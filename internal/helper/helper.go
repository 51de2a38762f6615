// Package helper runs the side effects around a saver activation: user
// hook commands and media player pausing.
package helper

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/config"
	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/media"
)

type mediaController interface {
	PauseAll() (int, error)
	ResumeAll() (int, error)
	Close() error
}

// Helper carries the configured hooks and the media controller.
type Helper struct {
	log *zerolog.Logger

	mu        sync.Mutex
	config    config.Configuration
	mediaCtrl mediaController
	run       func(ctx context.Context, cmd string) error

	// queue holds side effects waiting for the worker. At most one worker
	// drains it, so they run in the order they were queued.
	qmu     sync.Mutex
	idle    *sync.Cond
	queue   []func()
	running bool
	closed  bool
}

// New creates a helper. The media controller is only connected when media
// pausing or resuming is enabled; failing to connect disables it.
func New(cfg config.Configuration) *Helper {
	h := &Helper{
		log:    logger.WithComponent("helper"),
		config: cfg,
		run:    runShellCommand,
	}
	h.idle = sync.NewCond(&h.qmu)

	if cfg.LockPauseMedia || cfg.UnlockUnpauseMedia {
		h.log.Debug().Msg("Media control is enabled, initializing media controller")
		ctrl, err := media.NewController()
		if err != nil {
			h.log.Error().Err(err).Msg("Failed to initialize media controller")
		} else {
			h.mediaCtrl = ctrl
		}
	} else {
		h.log.Debug().Msg("Media control is disabled, skipping media controller initialization")
	}

	return h
}

// SetConfig swaps in a reloaded configuration. The media controller is
// kept as it is.
func (h *Helper) SetConfig(cfg config.Configuration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.config = cfg
}

func (h *Helper) snapshot() (config.Configuration, mediaController) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.config, h.mediaCtrl
}

// RunPreLockCommand runs the configured pre-lock command (if any)
func (h *Helper) RunPreLockCommand(ctx context.Context) error {
	cfg, _ := h.snapshot()
	if cfg.PreLockCommand == "" {
		return nil
	}
	h.log.Debug().Str("command", cfg.PreLockCommand).Msg("Running pre-lock command")
	return errors.Wrap(h.run(ctx, cfg.PreLockCommand), "pre-lock command")
}

// RunPostLockCommand runs the configured post-lock command (if any)
func (h *Helper) RunPostLockCommand(ctx context.Context) error {
	cfg, _ := h.snapshot()
	if cfg.PostLockCommand == "" {
		return nil
	}
	h.log.Debug().Str("command", cfg.PostLockCommand).Msg("Running post-lock command")
	return errors.Wrap(h.run(ctx, cfg.PostLockCommand), "post-lock command")
}

// PauseMediaIfEnabled pauses all media if enabled in config
func (h *Helper) PauseMediaIfEnabled() error {
	cfg, ctrl := h.snapshot()
	if !cfg.LockPauseMedia {
		return nil
	}
	if ctrl == nil {
		h.log.Error().Msg("LockPauseMedia is enabled but media controller is not initialized")
		return nil
	}

	n, err := ctrl.PauseAll()
	if err != nil {
		return errors.Wrap(err, "pause media")
	}
	h.log.Debug().Int("players", n).Msg("Paused media")
	return nil
}

// UnpauseMediaIfEnabled resumes what PauseMediaIfEnabled paused, if enabled
// in config
func (h *Helper) UnpauseMediaIfEnabled() error {
	cfg, ctrl := h.snapshot()
	if !cfg.UnlockUnpauseMedia {
		return nil
	}
	if ctrl == nil {
		h.log.Error().Msg("UnlockUnpauseMedia is enabled but media controller is not initialized")
		return nil
	}

	n, err := ctrl.ResumeAll()
	if err != nil {
		return errors.Wrap(err, "resume media")
	}
	h.log.Debug().Int("players", n).Msg("Resumed media")
	return nil
}

// Queue runs fn off the caller's goroutine. Queued functions run one at a
// time in submission order, so a resume never overtakes the pause queued
// before it. Functions queued after Close are dropped.
func (h *Helper) Queue(fn func()) {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	if h.closed {
		return
	}
	h.queue = append(h.queue, fn)
	if !h.running {
		h.running = true
		go h.drain()
	}
}

func (h *Helper) drain() {
	for {
		h.qmu.Lock()
		if len(h.queue) == 0 {
			h.running = false
			h.idle.Broadcast()
			h.qmu.Unlock()
			return
		}
		fn := h.queue[0]
		h.queue[0] = nil
		h.queue = h.queue[1:]
		h.qmu.Unlock()

		fn()
	}
}

// Wait blocks until every queued function has run.
func (h *Helper) Wait() {
	h.qmu.Lock()
	defer h.qmu.Unlock()
	for h.running {
		h.idle.Wait()
	}
}

// Close waits for queued work, then cleans up resources
func (h *Helper) Close() {
	h.qmu.Lock()
	h.closed = true
	h.qmu.Unlock()
	h.Wait()

	_, ctrl := h.snapshot()
	if ctrl != nil {
		ctrl.Close()
	}
}

// runShellCommand executes a shell command string
func runShellCommand(ctx context.Context, cmd string) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", strings.TrimSpace(cmd)).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%q failed: %s", cmd, strings.TrimSpace(string(out)))
	}
	return nil
}
