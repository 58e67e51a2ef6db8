package app

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "taskq/pkg/logx"
)

// notifySystemd sends state to the service manager. Outside systemd
// (no NOTIFY_SOCKET) it is a no-op.
func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings the systemd watchdog at half the configured interval and
// refreshes the status line with queue counters. It returns immediately
// when the watchdog is not enabled.
func (a *App) watchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if interval <= 0 {
		return nil
	}
	tick := interval / 2
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s := a.queue.Snapshot()
			a.notifySystemd(daemon.SdNotifyWatchdog)
			a.notifySystemd(fmt.Sprintf("STATUS=pending=%d running=%d paused=%t done=%d failed=%d",
				s.Pending, s.Running, s.Paused, s.Succeeded, s.Failed))
		}
	}
}
