// Package systemd reports service state to systemd over the notify socket.
// Every call is a no-op when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

const (
	StateReady     = daemon.SdNotifyReady
	StateStopping  = daemon.SdNotifyStopping
	StateReloading = daemon.SdNotifyReloading
	StateWatchdog  = daemon.SdNotifyWatchdog
)

// Notify sends state (e.g. StateReady). sent is false outside systemd.
func Notify(state string) (sent bool, err error) {
	return daemon.SdNotify(false, state)
}

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) {
	return Notify("STATUS=" + msg)
}

// Watchdog pings the service manager at half the configured WatchdogSec
// until ctx is done. It returns immediately when no watchdog is configured.
func Watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return err
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := Notify(StateWatchdog); err != nil {
				return err
			}
		}
	}
}
