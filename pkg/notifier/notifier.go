// Package notifier provides rebuild notification functionality
package notifier

import (
	"fmt"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/cobble/cobble/pkg/logger"
)

// Sender delivers one desktop notification
type Sender func(title, message string) error

// Config represents notification configuration
type Config struct {
	Enabled bool
	// Sound beeps after a failure notification.
	Sound bool
}

// Notifier reports rebuild outcomes on the desktop
type Notifier struct {
	enabled bool
	sound   bool
	send    Sender
	beep    func() error
	logger  logger.Logger
}

// New creates a notifier backed by beeep
func New(config Config, log logger.Logger) *Notifier {
	return NewWithSender(config, log, func(title, message string) error {
		return beeep.Notify(title, message, "")
	})
}

// NewWithSender creates a notifier delivering through send
func NewWithSender(config Config, log logger.Logger, send Sender) *Notifier {
	if log == nil {
		log = logger.Nop()
	}
	return &Notifier{
		enabled: config.Enabled,
		sound:   config.Sound,
		send:    send,
		beep: func() error {
			return beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration)
		},
		logger: log,
	}
}

// NotifyRebuildStart notifies that a rebuild has started
func (n *Notifier) NotifyRebuildStart(target string) {
	n.notify("cobble", fmt.Sprintf("Rebuilding %s...", target))
}

// NotifyRebuildSuccess notifies that a rebuild succeeded
func (n *Notifier) NotifyRebuildSuccess(target string, duration time.Duration) {
	n.notify("Rebuild Succeeded", fmt.Sprintf("%s built in %s", target, formatDuration(duration)))
}

// NotifyRebuildFailure notifies that a rebuild failed
func (n *Notifier) NotifyRebuildFailure(target string, err error) {
	if !n.notify("Rebuild Failed", fmt.Sprintf("%s: %v", target, err)) || !n.sound {
		return
	}
	if err := n.beep(); err != nil {
		n.logger.Debug("Failed to play sound", logger.WithField("error", err))
	}
}

func (n *Notifier) notify(title, message string) bool {
	if n == nil || !n.enabled {
		return false
	}
	if err := n.send(title, message); err != nil {
		n.logger.Debug("Failed to send notification", logger.WithField("error", err))
		return false
	}
	return true
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}
