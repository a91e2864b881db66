// Package systemd reports daemon state to systemd and reads unit state over
// D-Bus. Outside a systemd service every call is a harmless no-op.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskloop/pkg/logx"
)

// Notifier sends sd_notify messages when enabled.
type Notifier struct {
	enabled bool
	log     logx.Logger
	send    func(state string) (bool, error)
}

func NewNotifier(enabled bool, log logx.Logger) *Notifier {
	return &Notifier{
		enabled: enabled,
		log:     log,
		send:    func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *Notifier) Enabled() bool { return n != nil && n.enabled }

func (n *Notifier) Ready() { n.notify(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

func (n *Notifier) Reloading() { n.notify(daemon.SdNotifyReloading) }

func (n *Notifier) Watchdog() { n.notify(daemon.SdNotifyWatchdog) }

// Status sets the free-form status line shown by systemctl status.
func (n *Notifier) Status(msg string) { n.notify("STATUS=" + msg) }

func (n *Notifier) notify(state string) {
	if !n.Enabled() {
		return
	}
	sent, err := n.send(state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if !sent {
		n.log.Trace("sd_notify skipped; no notify socket", logx.String("state", state))
	}
}

// WatchdogInterval returns how often the service must ping the watchdog:
// half of WatchdogSec, or 0 when the watchdog is off for this process.
func (n *Notifier) WatchdogInterval() time.Duration {
	if !n.Enabled() {
		return 0
	}
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		n.log.Warn("watchdog check failed", logx.Err(err))
		return 0
	}
	return d / 2
}
