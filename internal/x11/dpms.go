package x11

import (
	"time"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/dpms"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tuxx/fancysaver/internal/logger"
	"github.com/tuxx/fancysaver/internal/loop"
)

// DefaultBlankPollInterval is how often the DPMS state is sampled.
const DefaultBlankPollInterval = time.Second

// BlankWatcher reports DPMS power-state transitions. The server sends no
// event for them, so the state is polled.
type BlankWatcher struct {
	conn     *xgb.Conn
	loop     *loop.Loop
	log      *zerolog.Logger
	interval time.Duration
	onChange func(blank bool)

	stopChan chan struct{}
	blank    bool
}

// NewBlankWatcher prepares a watcher calling onChange on l whenever the
// display enters or leaves a DPMS power-saving mode.
func NewBlankWatcher(conn *xgb.Conn, l *loop.Loop, interval time.Duration, onChange func(blank bool)) (*BlankWatcher, error) {
	if err := dpms.Init(conn); err != nil {
		return nil, errors.Wrap(err, "initialize DPMS extension")
	}
	if interval <= 0 {
		interval = DefaultBlankPollInterval
	}
	return &BlankWatcher{
		conn:     conn,
		loop:     l,
		log:      logger.WithComponent("dpms"),
		interval: interval,
		onChange: onChange,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins polling in the background.
func (w *BlankWatcher) Start() {
	go w.watch()
}

// Stop ends polling. Must be called at most once.
func (w *BlankWatcher) Stop() {
	close(w.stopChan)
}

func (w *BlankWatcher) watch() {
	w.log.Debug().Dur("interval", w.interval).Msg("Blank watcher started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			w.log.Debug().Msg("Blank watcher stopped")
			return
		case <-ticker.C:
			info, err := dpms.Info(w.conn).Reply()
			if err != nil {
				w.log.Warn().Err(err).Msg("Error querying DPMS state")
				continue
			}

			blank := isBlank(info.State, info.PowerLevel)
			if blank == w.blank {
				continue
			}
			w.blank = blank
			w.log.Info().Bool("blank", blank).Uint16("power_level", info.PowerLevel).Msg("Display power state changed")
			w.loop.Post(func() { w.onChange(blank) })
		}
	}
}

// isBlank reports whether DPMS has turned the outputs off or put them in a
// low-power mode.
func isBlank(enabled bool, powerLevel uint16) bool {
	return enabled && powerLevel != dpms.DPMSModeOn
}
